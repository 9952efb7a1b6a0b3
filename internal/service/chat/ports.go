package chat

import (
	"context"
	"time"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
)

// SafetyClassifier classifies raw user text.
type SafetyClassifier interface {
	Check(ctx context.Context, text string) (chat.SafetyCheckResult, error)
}

// Answer 是回答生成器的成功结果。
type Answer struct {
	Text    string
	Sources []chat.Source
}

// AnswerGenerator produces an answer for a prompt that passed the safety check.
type AnswerGenerator interface {
	Generate(ctx context.Context, prompt string) (Answer, error)
}

// StreamingAnswerGenerator is implemented by generators that can emit partial text.
// onDelta receives each chunk in order; the returned Answer carries the full text.
type StreamingAnswerGenerator interface {
	AnswerGenerator
	GenerateStream(ctx context.Context, prompt string, onDelta func(string)) (Answer, error)
}

// Translator renders text in the target language label.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// SpeechSynthesizer returns base64 encoded little-endian int16 mono PCM at
// 24 kHz. An empty string means no audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// SubmitResult 描述一次提交的结果。
type SubmitResult struct {
	// Accepted is false when the session was not ACTIVE and nothing happened.
	Accepted       bool              `json:"accepted"`
	Verdict        chat.SafetyStatus `json:"verdict,omitempty"`
	Status         chat.UserStatus   `json:"status"`
	SuspendedUntil time.Time         `json:"suspendedUntil,omitzero"`
	Appended       []chat.Message    `json:"appended"`
}

// SubmitOption customises a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	onDelta func(string)
}

// WithDeltas streams answer chunks to fn when the generator supports streaming.
func WithDeltas(fn func(string)) SubmitOption {
	return func(o *submitOptions) {
		o.onDelta = fn
	}
}

// TickResult 是一次定时检查的结果。
type TickResult struct {
	Status    chat.UserStatus
	Countdown string
	// Expired is true when this tick lifted a suspension.
	Expired bool
}
