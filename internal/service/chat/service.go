package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/persona"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/observability"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/storage"
)

var (
	ErrDeviceRequired = errors.New("device id is required")
	ErrInvalidDevice  = errors.New("invalid device id")
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// DefaultIdleTimeout is how long an untouched session stays in memory.
const DefaultIdleTimeout = 30 * time.Minute

// Dependencies are shared by every session the Service creates.
type Dependencies struct {
	Safety     SafetyClassifier
	Answers    AnswerGenerator
	Translator Translator
	Speech     SpeechSynthesizer
	Persona    persona.Persona
	SuspendFor time.Duration
	// IdleTimeout defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration
	Now         func() time.Time
}

// Service keeps one Session per device, loading it from storage on first use
// and dropping it again once idle. State lives in the store, so an evicted
// session is simply reloaded.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	loads    singleflight.Group
	store    storage.Store
	deps     Dependencies
}

// NewService constructs a session manager over store.
func NewService(store storage.Store, deps Dependencies) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IdleTimeout <= 0 {
		deps.IdleTimeout = DefaultIdleTimeout
	}
	return &Service{
		sessions: make(map[string]*Session),
		store:    store,
		deps:     deps,
	}
}

// ValidateDeviceID reports whether id may be used as a storage namespace.
func ValidateDeviceID(id string) error {
	if id == "" {
		return ErrDeviceRequired
	}
	if !deviceIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidDevice, id)
	}
	return nil
}

// Session returns the loaded session of deviceID.
func (s *Service) Session(ctx context.Context, deviceID string) (*Session, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}

	if sess, ok := s.cached(deviceID); ok {
		return sess, nil
	}

	// 存储读取不持有全局锁；同一设备的并发加载合并为一次。
	v, err, _ := s.loads.Do(deviceID, func() (any, error) {
		if sess, ok := s.cached(deviceID); ok {
			return sess, nil
		}
		sess, err := NewSession(Options{
			Store:      s.store,
			Keys:       KeysFor(deviceID),
			Safety:     s.deps.Safety,
			Answers:    s.deps.Answers,
			Translator: s.deps.Translator,
			Speech:     s.deps.Speech,
			Persona:    s.deps.Persona,
			SuspendFor: s.deps.SuspendFor,
			Now:        s.deps.Now,
		})
		if err != nil {
			return nil, err
		}
		if err := sess.Load(context.WithoutCancel(ctx)); err != nil {
			return nil, fmt.Errorf("load session %s: %w", deviceID, err)
		}

		s.mu.Lock()
		s.sessions[deviceID] = sess
		n := len(s.sessions)
		s.mu.Unlock()
		observability.SetLoadedSessions(n)
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (s *Service) cached(deviceID string) (*Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[deviceID]
	s.mu.RUnlock()
	if ok {
		sess.touch()
	}
	return sess, ok
}

// Sweep ticks every loaded session, evicts idle ones and returns how many
// suspensions expired.
func (s *Service) Sweep(ctx context.Context) int {
	s.mu.RLock()
	sessions := make(map[string]*Session, len(s.sessions))
	for id, sess := range s.sessions {
		sessions[id] = sess
	}
	s.mu.RUnlock()

	expired := 0
	cutoff := s.deps.Now().Add(-s.deps.IdleTimeout)
	for id, sess := range sessions {
		if sess.Tick(ctx).Expired {
			expired++
		}
		if sess.idleSince(cutoff) {
			s.evict(id, sess)
		}
	}
	return expired
}

// evict drops sess unless it was replaced or is mid-submission.
func (s *Service) evict(deviceID string, sess *Session) {
	if !sess.sendMu.TryLock() {
		return
	}
	defer sess.sendMu.Unlock()

	s.mu.Lock()
	if s.sessions[deviceID] == sess {
		delete(s.sessions, deviceID)
	}
	n := len(s.sessions)
	s.mu.Unlock()
	observability.SetLoadedSessions(n)
}

// Len returns the number of loaded sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
