package chat

import (
	"encoding/json"
	"time"
)

// Role 标识消息在会话中的来源。
type Role string

const (
	RoleUser   Role = "USER"
	RoleBot    Role = "BOT"
	RoleError  Role = "ERROR"
	RoleSystem Role = "SYSTEM"
)

// Source 是回答引用的出处。
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// UnmarshalJSON accepts both {title, uri} objects and bare strings, which
// older persisted logs used for sources.
func (s *Source) UnmarshalJSON(data []byte) error {
	var title string
	if err := json.Unmarshal(data, &title); err == nil {
		*s = Source{Title: title}
		return nil
	}

	type plain Source
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*s = Source(decoded)
	return nil
}

// Message 是会话日志中的一条记录。
//
// The JSON layout matches the persisted history format: the role is stored
// under "type" and every field beyond id/type/content/timestamp may be absent.
type Message struct {
	ID              string            `json:"id"`
	Role            Role              `json:"type"`
	Content         string            `json:"content"`
	Timestamp       int64             `json:"timestamp"`
	Sources         []Source          `json:"sources,omitempty"`
	Translations    map[string]string `json:"translations,omitempty"`
	DisplayLanguage string            `json:"displayLanguage,omitempty"`
	AudioData       string            `json:"audioData,omitempty"`
	AudioLanguage   string            `json:"audioLanguage,omitempty"`
}

// CreatedAt 返回消息时间戳对应的时间。
func (m Message) CreatedAt() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}

// SelectedLanguage 返回当前展示语言，空值视为 Original。
func (m Message) SelectedLanguage() string {
	if m.DisplayLanguage == "" {
		return LanguageOriginal
	}
	return m.DisplayLanguage
}

// DisplayContent 返回当前展示语言下的文本。
func (m Message) DisplayContent() string {
	label := m.SelectedLanguage()
	if label == LanguageOriginal {
		return m.Content
	}
	if text, ok := m.Translations[label]; ok {
		return text
	}
	return m.Content
}

// CachedAudio returns the cached audio if it was rendered for the currently
// displayed language.
func (m Message) CachedAudio() (string, bool) {
	if m.AudioData == "" {
		return "", false
	}
	rendered := m.AudioLanguage
	if rendered == "" {
		rendered = LanguageOriginal
	}
	if rendered != m.SelectedLanguage() {
		return "", false
	}
	return m.AudioData, true
}

// Clone 深拷贝消息，避免调用方修改内部状态。
func (m Message) Clone() Message {
	out := m
	if m.Sources != nil {
		out.Sources = append([]Source(nil), m.Sources...)
	}
	if m.Translations != nil {
		out.Translations = make(map[string]string, len(m.Translations))
		for k, v := range m.Translations {
			out.Translations[k] = v
		}
	}
	return out
}
