package chat

import (
	"strings"
	"time"
)

// UserStatus 表示会话当前是否允许发送消息。
type UserStatus string

const (
	StatusActive    UserStatus = "ACTIVE"
	StatusWarned    UserStatus = "WARNED"
	StatusSuspended UserStatus = "SUSPENDED"
)

// SafetyStatus 是安全分类器的三种结论。
type SafetyStatus string

const (
	SafetySafe      SafetyStatus = "SAFE"
	SafetyUnsafe    SafetyStatus = "UNSAFE"
	SafetyTampering SafetyStatus = "TAMPERING"
)

// ParseSafetyStatus normalizes a classifier verdict. Unknown values report false.
func ParseSafetyStatus(raw string) (SafetyStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(SafetySafe):
		return SafetySafe, true
	case string(SafetyUnsafe):
		return SafetyUnsafe, true
	case string(SafetyTampering):
		return SafetyTampering, true
	default:
		return "", false
	}
}

// SafetyCheckResult is the transient outcome of a safety check.
type SafetyCheckResult struct {
	Status SafetyStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// Snapshot 是提供给渲染层的只读会话视图。
type Snapshot struct {
	Status            UserStatus `json:"status"`
	SuspensionEndTime int64      `json:"suspensionEndTime,omitempty"`
	Countdown         string     `json:"countdown,omitempty"`
	Messages          []Message  `json:"messages"`
	TranslatingID     string     `json:"translatingId,omitempty"`
	SynthesizingID    string     `json:"synthesizingId,omitempty"`
}

// SuspendedUntil returns the suspension deadline, zero when not suspended.
func (s Snapshot) SuspendedUntil() time.Time {
	if s.SuspensionEndTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.SuspensionEndTime)
}

// Suspended screen copy.
const (
	SuspendedTitle = "Access Suspended"
	SuspendedBody  = "Your access has been temporarily suspended due to a violation of our security and integrity policies (tampering detected)."
)
