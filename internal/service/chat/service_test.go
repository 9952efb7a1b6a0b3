package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	model "github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	chat "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/storage"
)

func newTestService(clock *fakeClock) (*chat.Service, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	svc := chat.NewService(store, chat.Dependencies{
		Safety:  keywordClassifier{},
		Answers: &fakeGenerator{},
		Now:     clock.Now,
	})
	return svc, store
}

func TestServiceKeepsDevicesApart(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)
	ctx := context.Background()

	alice, err := svc.Session(ctx, "device-a")
	if err != nil {
		t.Fatalf("Session err: %v", err)
	}
	bob, err := svc.Session(ctx, "device-b")
	if err != nil {
		t.Fatalf("Session err: %v", err)
	}

	if _, err := alice.Submit(ctx, "tamper"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if got := bob.Status(ctx); got != model.StatusActive {
		t.Fatalf("other device must stay ACTIVE, got %s", got)
	}

	again, err := svc.Session(ctx, "device-a")
	if err != nil {
		t.Fatalf("Session err: %v", err)
	}
	if again != alice {
		t.Fatalf("expected the cached session")
	}
	if svc.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", svc.Len())
	}
}

func TestServiceRejectsBadDeviceIDs(t *testing.T) {
	svc, _ := newTestService(newFakeClock())
	ctx := context.Background()

	if _, err := svc.Session(ctx, ""); !errors.Is(err, chat.ErrDeviceRequired) {
		t.Fatalf("expected ErrDeviceRequired, got %v", err)
	}
	for _, id := range []string{"../etc", "a:b", strings.Repeat("x", 65)} {
		if _, err := svc.Session(ctx, id); !errors.Is(err, chat.ErrInvalidDevice) {
			t.Fatalf("expected ErrInvalidDevice for %q, got %v", id, err)
		}
	}
}

func TestServiceLoadsPersistedSuspension(t *testing.T) {
	clock := newFakeClock()
	svc, store := newTestService(clock)
	ctx := context.Background()

	keys := chat.KeysFor("device-a")
	if err := store.Set(ctx, keys.Suspension, chat.EncodeDeadline(clock.Now().Add(time.Hour))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sess, err := svc.Session(ctx, "device-a")
	if err != nil {
		t.Fatalf("Session err: %v", err)
	}
	if got := sess.Status(ctx); got != model.StatusSuspended {
		t.Fatalf("expected SUSPENDED, got %s", got)
	}
}

func TestSweepLiftsElapsedSuspensions(t *testing.T) {
	clock := newFakeClock()
	svc, store := newTestService(clock)
	ctx := context.Background()

	sess, err := svc.Session(ctx, "device-a")
	if err != nil {
		t.Fatalf("Session err: %v", err)
	}
	if _, err := sess.Submit(ctx, "tamper"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if n := svc.Sweep(ctx); n != 0 {
		t.Fatalf("nothing should expire yet, got %d", n)
	}

	clock.Advance(chat.DefaultSuspension)
	if n := svc.Sweep(ctx); n != 1 {
		t.Fatalf("expected one lifted suspension, got %d", n)
	}
	if _, err := store.Get(ctx, chat.KeysFor("device-a").Suspension); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("deadline should be removed, got %v", err)
	}
}

func TestSweeperRejectsBadSpec(t *testing.T) {
	svc, _ := newTestService(newFakeClock())
	if _, err := chat.NewSweeper(svc, "every now and then"); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestSweeperStartStop(t *testing.T) {
	svc, _ := newTestService(newFakeClock())
	sw, err := chat.NewSweeper(svc, "")
	if err != nil {
		t.Fatalf("NewSweeper err: %v", err)
	}
	sw.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sw.Stop(ctx)
}

// gatedStore blocks reads of one device's keys until release is closed.
type gatedStore struct {
	*storage.MemoryStore
	device  string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Get(ctx context.Context, key string) (string, error) {
	if strings.Contains(key, g.device) {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.MemoryStore.Get(ctx, key)
}

func TestSlowLoadDoesNotBlockOtherDevices(t *testing.T) {
	store := &gatedStore{
		MemoryStore: storage.NewMemoryStore(),
		device:      "device-slow",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := chat.NewService(store, chat.Dependencies{Now: newFakeClock().Now})
	ctx := context.Background()

	const callers = 4
	results := make(chan *chat.Session, callers)
	for i := 0; i < callers; i++ {
		go func() {
			sess, err := svc.Session(ctx, "device-slow")
			if err != nil {
				t.Errorf("Session err: %v", err)
			}
			results <- sess
		}()
	}
	<-store.entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := svc.Session(ctx, "device-fast"); err != nil {
			t.Errorf("Session err: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loading one device blocked another")
	}

	close(store.release)
	first := <-results
	for i := 1; i < callers; i++ {
		if got := <-results; got != first {
			t.Fatalf("concurrent loads of one device must share a session")
		}
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	clock := newFakeClock()
	store := storage.NewMemoryStore()
	svc := chat.NewService(store, chat.Dependencies{
		Safety:      keywordClassifier{},
		Answers:     &fakeGenerator{},
		IdleTimeout: 10 * time.Minute,
		Now:         clock.Now,
	})
	ctx := context.Background()

	idle, err := svc.Session(ctx, "device-idle")
	if err != nil {
		t.Fatalf("Session err: %v", err)
	}
	if _, err := idle.Submit(ctx, "tamper"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if _, err := svc.Session(ctx, "device-busy"); err != nil {
		t.Fatalf("Session err: %v", err)
	}

	clock.Advance(6 * time.Minute)
	if _, err := svc.Session(ctx, "device-busy"); err != nil {
		t.Fatalf("Session err: %v", err)
	}
	clock.Advance(6 * time.Minute)
	svc.Sweep(ctx)

	if svc.Len() != 1 {
		t.Fatalf("expected only the recently used session to remain, got %d", svc.Len())
	}

	reloaded, err := svc.Session(ctx, "device-idle")
	if err != nil {
		t.Fatalf("Session err: %v", err)
	}
	if reloaded == idle {
		t.Fatalf("expected a fresh session after eviction")
	}
	if got := reloaded.Status(ctx); got != model.StatusSuspended {
		t.Fatalf("suspension must survive eviction, got %s", got)
	}
}
