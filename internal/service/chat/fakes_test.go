package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	model "github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	chat "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// pausingClock blocks the first Now call after arm until release is closed.
type pausingClock struct {
	*fakeClock
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newPausingClock() *pausingClock {
	return &pausingClock{fakeClock: newFakeClock()}
}

func (c *pausingClock) arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = true
	c.entered = make(chan struct{})
	c.release = make(chan struct{})
}

func (c *pausingClock) Now() time.Time {
	c.mu.Lock()
	armed := c.armed
	c.armed = false
	entered, release := c.entered, c.release
	c.mu.Unlock()

	if armed {
		close(entered)
		<-release
	}
	return c.fakeClock.Now()
}

// keywordClassifier flags "tamper" as TAMPERING and "stupid" as UNSAFE.
type keywordClassifier struct {
	err error
}

func (k keywordClassifier) Check(ctx context.Context, text string) (model.SafetyCheckResult, error) {
	if k.err != nil {
		return model.SafetyCheckResult{}, k.err
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "tamper"):
		return model.SafetyCheckResult{Status: model.SafetyTampering, Reason: "test"}, nil
	case strings.Contains(lower, "stupid"):
		return model.SafetyCheckResult{Status: model.SafetyUnsafe, Reason: "test"}, nil
	}
	return model.SafetyCheckResult{Status: model.SafetySafe}, nil
}

type fakeGenerator struct {
	calls   atomic.Int32
	err     error
	sources []model.Source
	// gate, when set, blocks each call until a value is received.
	started chan string
	gate    chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (chat.Answer, error) {
	g.calls.Add(1)
	if g.started != nil {
		g.started <- prompt
	}
	if g.gate != nil {
		<-g.gate
	}
	if g.err != nil {
		return chat.Answer{}, g.err
	}
	return chat.Answer{Text: "answer to " + prompt, Sources: g.sources}, nil
}

type streamingGenerator struct {
	fakeGenerator
}

func (g *streamingGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(string)) (chat.Answer, error) {
	g.calls.Add(1)
	parts := []string{"Sabr ", "is ", "patience."}
	for _, p := range parts {
		onDelta(p)
	}
	return chat.Answer{Text: strings.Join(parts, "")}, nil
}

type countingTranslator struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (c *countingTranslator) Translate(ctx context.Context, text, lang string) (string, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.err != nil {
		return "", c.err
	}
	return "[" + lang + "] " + text, nil
}

type fakeSpeech struct {
	calls atomic.Int32
	audio string
	err   error
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text string) (string, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.audio, f.err
}

var errBoom = errors.New("boom")

type harness struct {
	clock      *fakeClock
	store      *storage.MemoryStore
	generator  *fakeGenerator
	translator *countingTranslator
	speech     *fakeSpeech
	session    *chat.Session
	keys       chat.Keys
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:      newFakeClock(),
		store:      storage.NewMemoryStore(),
		generator:  &fakeGenerator{sources: []model.Source{{Title: "Surah Al-Baqarah 2:153", URI: "https://quran.com/2/153"}}},
		translator: &countingTranslator{},
		speech:     &fakeSpeech{audio: "AAABAA=="},
		keys:       chat.KeysFor("device-1"),
	}
	h.session = h.load(t)
	return h
}

// load builds a fresh session over the harness store, as a page reload would.
func (h *harness) load(t *testing.T) *chat.Session {
	t.Helper()
	sess, err := chat.NewSession(chat.Options{
		Store:      h.store,
		Keys:       h.keys,
		Safety:     keywordClassifier{},
		Answers:    h.generator,
		Translator: h.translator,
		Speech:     h.speech,
		Now:        h.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewSession err: %v", err)
	}
	if err := sess.Load(context.Background()); err != nil {
		t.Fatalf("Load err: %v", err)
	}
	return sess
}

func (h *harness) persistedDeadline(t *testing.T) (string, bool) {
	t.Helper()
	raw, err := h.store.Get(context.Background(), h.keys.Suspension)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	return raw, true
}

func lastBot(t *testing.T, sess *chat.Session) model.Message {
	t.Helper()
	msgs := sess.Messages().Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleBot {
			return msgs[i]
		}
	}
	t.Fatalf("no bot message in log")
	return model.Message{}
}
