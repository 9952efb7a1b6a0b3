package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	chatService "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/storage"
)

type stubClassifier struct{}

func (stubClassifier) Check(ctx context.Context, text string) (chat.SafetyCheckResult, error) {
	if strings.Contains(text, "tamper") {
		return chat.SafetyCheckResult{Status: chat.SafetyTampering}, nil
	}
	return chat.SafetyCheckResult{Status: chat.SafetySafe}, nil
}

type streamingGenerator struct{}

func (streamingGenerator) Generate(ctx context.Context, prompt string) (chatService.Answer, error) {
	return chatService.Answer{Text: "Sabr is patience."}, nil
}

func (streamingGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(string)) (chatService.Answer, error) {
	for _, part := range []string{"Sabr ", "is ", "patience."} {
		onDelta(part)
	}
	return chatService.Answer{Text: "Sabr is patience."}, nil
}

type event struct {
	name string
	data StreamResponse
}

func setupRouter() *chi.Mux {
	svc := chatService.NewService(storage.NewMemoryStore(), chatService.Dependencies{
		Safety:  stubClassifier{},
		Answers: streamingGenerator{},
	})
	r := chi.NewRouter()
	New(svc, nil).RegisterRoutes(r)
	return r
}

func readEvents(t *testing.T, body string) []event {
	t.Helper()
	var (
		events []event
		name   string
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var data StreamResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data); err != nil {
				t.Fatalf("decode %q: %v", line, err)
			}
			events = append(events, event{name: name, data: data})
		}
	}
	return events
}

func stream(r http.Handler, device, message string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+device+"/stream?message="+url.QueryEscape(message), nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestStreamSafeMessage(t *testing.T) {
	resp := stream(setupRouter(), "dev-1", "What is Sabr?")

	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	events := readEvents(t, resp.Body.String())

	var names []string
	var deltas strings.Builder
	for _, ev := range events {
		names = append(names, ev.name)
		if ev.name == "delta" {
			deltas.WriteString(ev.data.Content)
		}
	}
	want := "start,delta,delta,delta,message,message,status,end"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if deltas.String() != "Sabr is patience." {
		t.Fatalf("unexpected deltas %q", deltas.String())
	}

	bot := events[5].data.Message
	if bot == nil || bot.Role != chat.RoleBot || bot.Content != "Sabr is patience." {
		t.Fatalf("unexpected bot message %+v", bot)
	}
	status := events[6].data
	if status.Status != chat.StatusActive || status.Accepted == nil || !*status.Accepted {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStreamTamperingReportsSuspension(t *testing.T) {
	r := setupRouter()
	events := readEvents(t, stream(r, "dev-1", "tamper please").Body.String())

	var status *StreamResponse
	for i := range events {
		if events[i].name == "delta" {
			t.Fatal("no answer should be streamed for tampering")
		}
		if events[i].name == "status" {
			status = &events[i].data
		}
	}
	if status == nil || status.Status != chat.StatusSuspended || status.Deadline == 0 {
		t.Fatalf("unexpected status %+v", status)
	}

	gated := readEvents(t, stream(r, "dev-1", "hello").Body.String())
	for _, ev := range gated {
		if ev.name == "message" {
			t.Fatal("suspended session must not append messages")
		}
		if ev.name == "status" && (ev.data.Accepted == nil || *ev.data.Accepted) {
			t.Fatalf("expected accepted=false, got %+v", ev.data)
		}
	}
}

func TestStreamRequiresMessage(t *testing.T) {
	resp := stream(setupRouter(), "dev-1", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestStreamInvalidDevice(t *testing.T) {
	resp := stream(setupRouter(), "bad.device", "hi")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
