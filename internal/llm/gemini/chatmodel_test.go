package gemini

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   []string
	configs []*genai.GenerateContentConfig
	// responses maps a model name to its scripted outcomes, consumed in order.
	responses map[string][]fakeOutcome
}

type fakeOutcome struct {
	resp   *genai.GenerateContentResponse
	chunks []*genai.GenerateContentResponse
	err    error
}

func (f *fakeGenerator) next(name string, config *genai.GenerateContentConfig) fakeOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	f.configs = append(f.configs, config)
	queue := f.responses[name]
	if len(queue) == 0 {
		return fakeOutcome{err: genai.APIError{Code: 404, Message: "model not found"}}
	}
	out := queue[0]
	if len(queue) > 1 {
		f.responses[name] = queue[1:]
	}
	return out
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, name string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	out := f.next(name, config)
	return out.resp, out.err
}

func (f *fakeGenerator) GenerateContentStream(ctx context.Context, name string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	out := f.next(name, config)
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		if out.err != nil {
			yield(nil, out.err)
			return
		}
		for _, chunk := range out.chunks {
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func textResponse(text string, uris ...string) *genai.GenerateContentResponse {
	cand := &genai.Candidate{
		Content:      genai.NewContentFromText(text, genai.RoleModel),
		FinishReason: genai.FinishReasonStop,
	}
	if len(uris) > 0 {
		meta := &genai.GroundingMetadata{}
		for _, uri := range uris {
			meta.GroundingChunks = append(meta.GroundingChunks, &genai.GroundingChunk{
				Web: &genai.GroundingChunkWeb{URI: uri, Title: "title of " + uri},
			})
		}
		cand.GroundingMetadata = meta
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{cand}}
}

func newTestModel(t *testing.T, gen *fakeGenerator, models ...string) *ChatModel {
	t.Helper()
	m, err := NewChatModel(context.Background(), &Config{
		Models:     models,
		Grounding:  true,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Generator:  gen,
	})
	if err != nil {
		t.Fatalf("NewChatModel err: %v", err)
	}
	return m
}

func TestGenerateFallsBackToNextModel(t *testing.T) {
	gen := &fakeGenerator{responses: map[string][]fakeOutcome{
		"flash": {{resp: textResponse("Sabr is patience.", "https://quran.com/2/153", "https://quran.com/2/153")}},
	}}
	m := newTestModel(t, gen, "missing", "flash")

	msg, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("You are Nur Al-Ilm."),
		schema.UserMessage("What is Sabr?"),
	})
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if msg.Content != "Sabr is patience." {
		t.Fatalf("unexpected content %q", msg.Content)
	}
	if got := strings.Join(gen.calls, ","); got != "missing,flash" {
		t.Fatalf("unexpected call order %s", got)
	}
	sources := SourcesFrom(msg)
	if len(sources) != 1 || sources[0].URI != "https://quran.com/2/153" {
		t.Fatalf("unexpected sources %+v", sources)
	}
	if gen.configs[0].SystemInstruction == nil || len(gen.configs[0].Tools) != 1 {
		t.Fatalf("system instruction and search grounding must be configured")
	}
}

func TestGenerateStopsOnAuthenticationError(t *testing.T) {
	gen := &fakeGenerator{responses: map[string][]fakeOutcome{
		"flash": {{err: genai.APIError{Code: 403, Message: "API key not valid"}}},
		"pro":   {{resp: textResponse("unused")}},
	}}
	m := newTestModel(t, gen, "flash", "pro")

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Code != ErrorCodeAuthentication {
		t.Fatalf("expected authentication ProviderError, got %v", err)
	}
	if len(gen.calls) != 1 {
		t.Fatalf("authentication errors must not fall back, got calls %v", gen.calls)
	}
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	gen := &fakeGenerator{responses: map[string][]fakeOutcome{
		"flash": {
			{err: genai.APIError{Code: 503, Message: "overloaded"}},
			{resp: textResponse("ok")},
		},
	}}
	m := newTestModel(t, gen, "flash")

	msg, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if msg.Content != "ok" || len(gen.calls) != 2 {
		t.Fatalf("expected one retry, got %q after %v", msg.Content, gen.calls)
	}
}

func TestGenerateModelOptionOverridesList(t *testing.T) {
	gen := &fakeGenerator{responses: map[string][]fakeOutcome{
		"translate": {{resp: textResponse("مرحبا")}},
	}}
	m := newTestModel(t, gen, "flash")

	msg, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hello")}, model.WithModel("translate"))
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if msg.Content != "مرحبا" || gen.calls[0] != "translate" {
		t.Fatalf("model option ignored: %v", gen.calls)
	}
}

func TestStreamEmitsChunksAndSources(t *testing.T) {
	gen := &fakeGenerator{responses: map[string][]fakeOutcome{
		"flash": {{chunks: []*genai.GenerateContentResponse{
			textResponse("Sabr "),
			textResponse("is patience.", "https://sunnah.com/muslim:2999"),
		}}},
	}}
	m := newTestModel(t, gen, "missing", "flash")

	sr, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("What is Sabr?")})
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer sr.Close()

	var (
		text    strings.Builder
		sources []Source
	)
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		text.WriteString(chunk.Content)
		sources = append(sources, SourcesFrom(chunk)...)
	}

	if text.String() != "Sabr is patience." {
		t.Fatalf("unexpected text %q", text.String())
	}
	if len(sources) != 1 || sources[0].URI != "https://sunnah.com/muslim:2999" {
		t.Fatalf("unexpected sources %+v", sources)
	}
}

func TestStreamReportsFinalError(t *testing.T) {
	gen := &fakeGenerator{responses: map[string][]fakeOutcome{}}
	m := newTestModel(t, gen, "a", "b")

	sr, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer sr.Close()

	_, err = sr.Recv()
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Code != ErrorCodeModelNotFound {
		t.Fatalf("expected model-not-found error, got %v", err)
	}
	if len(gen.calls) != 2 {
		t.Fatalf("expected both models to be tried, got %v", gen.calls)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		code ErrorCode
	}{
		{genai.APIError{Code: 429}, ErrorCodeRateLimit},
		{genai.APIError{Code: 500}, ErrorCodeServerError},
		{genai.APIError{Code: 400}, ErrorCodeInvalidRequest},
		{context.DeadlineExceeded, ErrorCodeTimeout},
		{errors.New("Quota exceeded for requests"), ErrorCodeRateLimit},
		{errors.New("models/gemini-pro is not found"), ErrorCodeModelNotFound},
		{errors.New("something odd"), ErrorCodeUnknown},
	}
	for _, tc := range cases {
		if got := classify("m", tc.err).Code; got != tc.code {
			t.Errorf("classify(%v) = %s, want %s", tc.err, got, tc.code)
		}
	}
}

func TestToContentsMergesSystemMessages(t *testing.T) {
	contents, system := toContents([]*schema.Message{
		schema.SystemMessage("rule one"),
		schema.SystemMessage("rule two"),
		schema.UserMessage("question"),
		schema.AssistantMessage("answer", nil),
	})
	if system == nil || system.Parts[0].Text != "rule one\n\nrule two" {
		t.Fatalf("unexpected system instruction %+v", system)
	}
	if len(contents) != 2 || contents[1].Role != genai.RoleModel {
		t.Fatalf("unexpected contents %+v", contents)
	}
}

func TestNewChatModelRequiresModels(t *testing.T) {
	if _, err := NewChatModel(context.Background(), &Config{Generator: &fakeGenerator{}}); !errors.Is(err, ErrNoModels) {
		t.Fatalf("expected ErrNoModels, got %v", err)
	}
}
