package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
)

// ErrCorruptState marks persisted data that cannot be decoded.
var ErrCorruptState = errors.New("corrupt persisted state")

// Keys are the storage keys of one session.
type Keys struct {
	Suspension string
	History    string
}

const (
	suspensionKey = "nur_al_ilm_suspension"
	historyKey    = "nur_al_ilm_chat_history"
)

// KeysFor namespaces the storage keys by device. An empty namespace yields the bare keys.
func KeysFor(namespace string) Keys {
	prefix := ""
	if namespace != "" {
		prefix = namespace + ":"
	}
	return Keys{
		Suspension: prefix + suspensionKey,
		History:    prefix + historyKey,
	}
}

// EncodeLog serializes a message log.
func EncodeLog(messages []chat.Message) (string, error) {
	if messages == nil {
		messages = []chat.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	return string(data), nil
}

// DecodeLog parses a persisted log. Optional fields may be missing; a record
// without id or with an unknown role makes the whole log corrupt.
func DecodeLog(raw string) ([]chat.Message, error) {
	var messages []chat.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	for i := range messages {
		msg := &messages[i]
		if strings.TrimSpace(msg.ID) == "" {
			return nil, fmt.Errorf("%w: message %d has no id", ErrCorruptState, i)
		}
		switch msg.Role {
		case chat.RoleUser, chat.RoleBot, chat.RoleError, chat.RoleSystem:
		default:
			return nil, fmt.Errorf("%w: message %s has role %q", ErrCorruptState, msg.ID, msg.Role)
		}

		label := msg.SelectedLanguage()
		if _, ok := msg.Translations[label]; label != chat.LanguageOriginal && !ok {
			label = chat.LanguageOriginal
		}
		msg.DisplayLanguage = label
	}
	return messages, nil
}

// EncodeDeadline formats a deadline as epoch milliseconds.
func EncodeDeadline(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// DecodeDeadline parses an epoch-millisecond deadline.
func DecodeDeadline(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: deadline %q", ErrCorruptState, raw)
	}
	return time.UnixMilli(ms), nil
}

// FormatCountdown renders the remaining time as "Xh Ym Zs", floor-divided.
func FormatCountdown(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	ms := remaining.Milliseconds()
	hours := ms / (60 * 60 * 1000)
	minutes := (ms % (60 * 60 * 1000)) / (60 * 1000)
	seconds := (ms % (60 * 1000)) / 1000
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
