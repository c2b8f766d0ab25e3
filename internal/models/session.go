package models

import "time"

// Session is a server-side session record bound to an opaque token. A session
// is valid iff the row exists; deletion is revocation. Absolute expiry, if
// any, is enforced by the outer signed envelope, not here.
type Session struct {
	ID         string
	UserID     string
	Token      string // opaque, unguessable; the only external handle
	DeviceType string // "desktop", "mobile", "tablet", "unknown"
	Browser    string
	OS         string
	IPAddress  string
	LastActive time.Time
	CreatedAt  time.Time
}

// DeviceMeta is the classification derived from request metadata.
type DeviceMeta struct {
	DeviceType string
	Browser    string
	OS         string
}
