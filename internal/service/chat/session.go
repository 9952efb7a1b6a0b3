package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/persona"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/observability"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/storage"
)

// DefaultSuspension is how long a tampering attempt locks the session.
const DefaultSuspension = 3 * time.Hour

// Fixed notices appended by the session.
const (
	WarningText      = "⚠️ **WARNING:** Your message contains inappropriate content. Please maintain respect."
	ServiceErrorText = "I encountered a temporary issue connecting to the service. Please try again."
)

// Greeting message ids.
const (
	welcomeID = "welcome"
	resetID   = "reset-welcome"
	clearedID = "welcome-new"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrSessionNotLoaded = errors.New("session not loaded")
	ErrMissingStorage   = errors.New("session requires a store")
)

// Options 是构造会话所需的依赖。
type Options struct {
	Store      storage.Store
	Keys       Keys
	Safety     SafetyClassifier
	Answers    AnswerGenerator
	Translator Translator
	Speech     SpeechSynthesizer
	Persona    persona.Persona
	// SuspendFor defaults to DefaultSuspension.
	SuspendFor time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Session is the moderation state machine of one device. It gates every
// submission through the safety classifier and owns the message log.
type Session struct {
	// sendMu serializes submissions so each answer follows its question.
	sendMu sync.Mutex

	mu             sync.Mutex
	status         chat.UserStatus
	suspendedUntil time.Time
	countdown      string
	loaded         bool

	messages   *MessageStore
	store      storage.Store
	keys       Keys
	safety     SafetyClassifier
	answers    AnswerGenerator
	persona    persona.Persona
	suspendFor time.Duration
	now        func() time.Time

	// lastUsed is the unix-nano time of the last caller-driven access.
	lastUsed atomic.Int64
}

// NewSession constructs a session. Call Load before use.
func NewSession(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, ErrMissingStorage
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SuspendFor <= 0 {
		opts.SuspendFor = DefaultSuspension
	}
	if opts.Keys == (Keys{}) {
		opts.Keys = KeysFor("")
	}
	if opts.Persona.ID == "" {
		opts.Persona = persona.Seed()[0]
	}

	sess := &Session{
		status:     chat.StatusActive,
		messages:   newMessageStore(opts.Store, opts.Keys.History, opts.Now, opts.Translator, opts.Speech),
		store:      opts.Store,
		keys:       opts.Keys,
		safety:     opts.Safety,
		answers:    opts.Answers,
		persona:    opts.Persona,
		suspendFor: opts.SuspendFor,
		now:        opts.Now,
	}
	sess.touch()
	return sess, nil
}

func (s *Session) touch() {
	s.lastUsed.Store(s.now().UnixNano())
}

// idleSince reports whether nothing but the sweeper used s after cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	return s.lastUsed.Load() < cutoff.UnixNano()
}

// Load restores the persisted deadline and history. A past or unreadable
// deadline is discarded; an unreadable history becomes a fresh welcome.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = chat.StatusActive
	s.suspendedUntil = time.Time{}
	s.countdown = ""

	raw, err := s.store.Get(ctx, s.keys.Suspension)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load suspension: %w", err)
	default:
		deadline, parseErr := DecodeDeadline(raw)
		if parseErr == nil && s.now().Before(deadline) {
			s.status = chat.StatusSuspended
			s.suspendedUntil = deadline
			s.countdown = FormatCountdown(deadline.Sub(s.now()))
		} else {
			if parseErr != nil {
				log.Printf("[session] discarding unreadable deadline %s: %v", s.keys.Suspension, parseErr)
			}
			if err := s.store.Remove(ctx, s.keys.Suspension); err != nil {
				log.Printf("[session] failed to clear deadline %s: %v", s.keys.Suspension, err)
			}
		}
	}

	history, err := s.store.Get(ctx, s.keys.History)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.messages.replace([]chat.Message{s.greeting(welcomeID, s.persona.OpeningLine)})
	case err != nil:
		return fmt.Errorf("load history: %w", err)
	default:
		messages, decodeErr := DecodeLog(history)
		if decodeErr != nil || len(messages) == 0 {
			if decodeErr != nil {
				log.Printf("[session] discarding unreadable history %s: %v", s.keys.History, decodeErr)
			}
			if err := s.store.Remove(ctx, s.keys.History); err != nil {
				log.Printf("[session] failed to clear history %s: %v", s.keys.History, err)
			}
			messages = []chat.Message{s.greeting(welcomeID, s.persona.OpeningLine)}
		}
		s.messages.replace(messages)
	}

	s.loaded = true
	return nil
}

// Messages exposes the message store for translation and audio requests.
func (s *Session) Messages() *MessageStore {
	return s.messages
}

// Submit runs one user turn. It is a no-op unless the session is ACTIVE.
func (s *Session) Submit(ctx context.Context, text string, opts ...SubmitOption) (SubmitResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SubmitResult{}, ErrEmptyMessage
	}

	var options submitOptions
	for _, opt := range opts {
		opt(&options)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return SubmitResult{}, ErrSessionNotLoaded
	}
	s.expireLocked(ctx)
	if s.status != chat.StatusActive {
		result := SubmitResult{Status: s.status, SuspendedUntil: s.suspendedUntil}
		s.mu.Unlock()
		observability.RecordSubmission("gated")
		return result, nil
	}
	s.mu.Unlock()

	result := SubmitResult{Accepted: true, Status: chat.StatusActive}
	result.Appended = append(result.Appended, s.messages.Append(ctx, s.messages.NewMessage(chat.RoleUser, text)))

	check, err := s.checkSafety(ctx, text)
	if err != nil {
		log.Printf("[session] safety check failed: %v", err)
		result.Appended = append(result.Appended, s.appendNotice(ctx, chat.RoleError, ServiceErrorText))
		observability.RecordSubmission("failed")
		return result, nil
	}
	result.Verdict = check.Status

	switch check.Status {
	case chat.SafetyTampering:
		deadline := s.suspend(ctx)
		log.Printf("[session] %s suspended until %s (%s)", s.keys.Suspension, deadline.UTC().Format(time.RFC3339), check.Reason)
		result.Status = chat.StatusSuspended
		result.SuspendedUntil = deadline
		observability.RecordSubmission("suspended")

	case chat.SafetyUnsafe:
		result.Appended = append(result.Appended, s.appendNotice(ctx, chat.RoleError, WarningText))
		s.transition(chat.StatusWarned)
		result.Status = chat.StatusWarned
		observability.RecordSubmission("warned")

	default:
		answer, err := s.generate(ctx, text, options.onDelta)
		if err != nil {
			log.Printf("[session] answer generation failed: %v", err)
			result.Appended = append(result.Appended, s.appendNotice(ctx, chat.RoleError, ServiceErrorText))
			observability.RecordSubmission("failed")
			return result, nil
		}
		bot := s.messages.NewMessage(chat.RoleBot, answer.Text)
		bot.Sources = answer.Sources
		result.Appended = append(result.Appended, s.messages.Append(ctx, bot))
		observability.RecordSubmission("answered")
	}

	return result, nil
}

func (s *Session) checkSafety(ctx context.Context, text string) (chat.SafetyCheckResult, error) {
	if s.safety == nil {
		return chat.SafetyCheckResult{Status: chat.SafetySafe}, nil
	}

	ctx, span := observability.StartSpan(ctx, "safety.check", attribute.Int("text.length", len(text)))
	start := time.Now()
	check, err := s.safety.Check(ctx, text)
	if err == nil {
		if status, ok := chat.ParseSafetyStatus(string(check.Status)); ok {
			check.Status = status
		} else {
			err = fmt.Errorf("unknown safety verdict %q", check.Status)
		}
	}
	observability.RecordCollaboratorCall("safety", err, time.Since(start))
	if err == nil {
		span.SetAttributes(attribute.String("safety.status", string(check.Status)))
	}
	observability.EndSpan(span, err)
	return check, err
}

func (s *Session) generate(ctx context.Context, prompt string, onDelta func(string)) (Answer, error) {
	if s.answers == nil {
		return Answer{}, errors.New("answer generator not configured")
	}

	ctx, span := observability.StartSpan(ctx, "answers.generate")
	start := time.Now()

	var (
		answer Answer
		err    error
	)
	if streamer, ok := s.answers.(StreamingAnswerGenerator); ok && onDelta != nil {
		answer, err = streamer.GenerateStream(ctx, prompt, onDelta)
	} else {
		answer, err = s.answers.Generate(ctx, prompt)
	}
	if err == nil && strings.TrimSpace(answer.Text) == "" {
		err = errors.New("empty answer")
	}
	observability.RecordCollaboratorCall("answers", err, time.Since(start))
	observability.EndSpan(span, err)
	if err != nil {
		return Answer{}, err
	}

	if len(answer.Sources) == 0 {
		answer.Sources = []chat.Source{{Title: DefaultSourceTitle}}
	}
	return answer, nil
}

// DefaultSourceTitle is cited when the generator reports no sources.
const DefaultSourceTitle = "Quran & Sunnah"

func (s *Session) suspend(ctx context.Context) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := s.now().Add(s.suspendFor)
	if err := s.store.Set(context.WithoutCancel(ctx), s.keys.Suspension, EncodeDeadline(deadline)); err != nil {
		log.Printf("[session] failed to persist deadline %s: %v", s.keys.Suspension, err)
	}
	from := s.status
	s.status = chat.StatusSuspended
	s.suspendedUntil = deadline
	s.countdown = FormatCountdown(s.suspendFor)
	observability.RecordTransition(string(from), string(chat.StatusSuspended))
	return deadline
}

func (s *Session) transition(to chat.UserStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == to {
		return
	}
	observability.RecordTransition(string(s.status), string(to))
	s.status = to
}

// Resume starts a new conversation after a warning. Only WARNED sessions are affected.
// The status flip and the log reset happen under both locks, so no submission
// can land between them.
func (s *Session) Resume(ctx context.Context) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	welcome := s.greeting(resetID, s.persona.ResetLine)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != chat.StatusWarned {
		return false
	}
	s.messages.Reset(ctx, welcome)
	observability.RecordTransition(string(chat.StatusWarned), string(chat.StatusActive))
	s.status = chat.StatusActive
	return true
}

// ClearHistory leaves a single notice and erases the persisted history.
// Status and deadline are unchanged. It waits for an in-flight submission.
func (s *Session) ClearHistory(ctx context.Context) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.messages.Clear(ctx, s.greeting(clearedID, s.persona.ClearedLine))
}

// Tick re-evaluates the suspension against the wall clock.
func (s *Session) Tick(ctx context.Context) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := s.expireLocked(ctx)
	return TickResult{Status: s.status, Countdown: s.countdown, Expired: expired}
}

// expireLocked lifts an elapsed suspension or refreshes the countdown.
func (s *Session) expireLocked(ctx context.Context) bool {
	if s.status != chat.StatusSuspended {
		return false
	}

	now := s.now()
	if now.Before(s.suspendedUntil) {
		s.countdown = FormatCountdown(s.suspendedUntil.Sub(now))
		return false
	}

	if err := s.store.Remove(context.WithoutCancel(ctx), s.keys.Suspension); err != nil {
		log.Printf("[session] failed to clear deadline %s: %v", s.keys.Suspension, err)
	}
	observability.RecordTransition(string(chat.StatusSuspended), string(chat.StatusActive))
	s.status = chat.StatusActive
	s.suspendedUntil = time.Time{}
	s.countdown = ""
	return true
}

// Status observes the current status, lifting an elapsed suspension.
func (s *Session) Status(ctx context.Context) chat.UserStatus {
	return s.Tick(ctx).Status
}

// Snapshot returns a read-only view of the session.
func (s *Session) Snapshot(ctx context.Context) chat.Snapshot {
	s.touch()
	s.mu.Lock()
	s.expireLocked(ctx)
	snap := chat.Snapshot{
		Status:    s.status,
		Countdown: s.countdown,
	}
	if !s.suspendedUntil.IsZero() {
		snap.SuspensionEndTime = s.suspendedUntil.UnixMilli()
	}
	s.mu.Unlock()

	snap.Messages = s.messages.Messages()
	snap.TranslatingID, snap.SynthesizingID = s.messages.Pending()
	return snap
}

// Persona returns the assistant this session speaks as.
func (s *Session) Persona() persona.Persona {
	return s.persona
}

func (s *Session) greeting(id, text string) chat.Message {
	msg := s.messages.NewMessage(chat.RoleBot, text)
	msg.ID = id
	return msg
}

func (s *Session) appendNotice(ctx context.Context, role chat.Role, text string) chat.Message {
	return s.messages.Append(ctx, s.messages.NewMessage(role, text))
}
