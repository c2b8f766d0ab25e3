package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Audit actions (closed enumeration)
const (
	AuditActionLoginSuccess     = "login_success"
	AuditActionLoginFailed      = "login_failed"
	AuditActionAccountLocked    = "account_locked"
	AuditActionLogout           = "logout"
	AuditActionSessionCreated   = "session_created"
	AuditActionSessionRevoked   = "session_revoked"
	AuditActionSessionsRevoked  = "sessions_revoked_all"
	AuditActionTwoFactorEnabled = "two_factor_enabled"
	AuditActionTwoFactorDisabled = "two_factor_disabled"
	AuditActionTwoFactorFailed  = "two_factor_failed"
	AuditActionAccountBlocked   = "account_blocked"
	AuditActionAccountUnblocked = "account_unblocked"
	AuditActionAccountDeleted   = "account_deleted"
	AuditActionAccountRestored  = "account_restored"
	AuditActionSecurityAlert    = "security_alert"
	AuditActionAlertAcknowledged = "alert_acknowledged"
	AuditActionUserRegistered   = "user_registered"
	AuditActionRoleChanged      = "role_changed"
)

// AuditLog is an append-only record of a security-relevant event. UserID is
// nil for pre-authentication failures where no account could be attributed.
type AuditLog struct {
	ID            uuid.UUID
	UserID        *uuid.UUID
	Action        string
	Success       bool
	FailureReason *string
	IPAddress     *string
	UserAgent     *string
	Metadata      AuditMetadata
	CreatedAt     time.Time
}

// AuditFilter describes an administrative query over the audit log. Zero
// fields are ignored.
type AuditFilter struct {
	UserID  *uuid.UUID
	Action  string
	IP      string
	Success *bool
	Since   *time.Time
	Until   *time.Time
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(am)
}

// MarshalJSON implements json.Marshaler
func (am AuditMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(am))
}

// UnmarshalJSON implements json.Unmarshaler
func (am *AuditMetadata) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}
