package http

import "strings"

// DeviceInfo is the coarse classification derived from a User-Agent header.
type DeviceInfo struct {
	DeviceType string // "desktop", "mobile", "tablet", "unknown"
	Browser    string
	OS         string
}

// ClassifyUserAgent derives {deviceType, browser, os} from a raw User-Agent
// string. A best-effort keyword scan is enough here: the result is shown to
// users on their session list, never used for security decisions.
func ClassifyUserAgent(userAgent string) DeviceInfo {
	ua := strings.ToLower(userAgent)
	info := DeviceInfo{DeviceType: "unknown", Browser: "Unknown", OS: "Unknown"}
	if ua == "" {
		return info
	}

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		info.DeviceType = "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		info.DeviceType = "mobile"
	default:
		info.DeviceType = "desktop"
	}

	switch {
	case strings.Contains(ua, "edg/"):
		info.Browser = "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		info.Browser = "Opera"
	case strings.Contains(ua, "chrome"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "safari"):
		info.Browser = "Safari"
	case strings.Contains(ua, "firefox"):
		info.Browser = "Firefox"
	}

	switch {
	case strings.Contains(ua, "windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
		info.OS = "iOS"
	case strings.Contains(ua, "mac os"):
		info.OS = "macOS"
	case strings.Contains(ua, "android"):
		info.OS = "Android"
	case strings.Contains(ua, "linux"):
		info.OS = "Linux"
	}

	return info
}
