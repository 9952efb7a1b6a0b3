// Package gemini adapts the Google Gen AI SDK to eino's chat model interface.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const (
	defaultMaxRetries = 2
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 8 * time.Second
)

// ContentGenerator is the subset of *genai.Models used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Config 描述 Gemini 聊天模型。
type Config struct {
	APIKey string
	// Models are tried in order; the next one is used when a model is
	// missing, overloaded or returns nothing.
	Models      []string
	Grounding   bool
	Temperature *float32
	MaxTokens   *int
	// MaxRetries applies per model to retryable failures.
	MaxRetries int
	RetryDelay time.Duration
	// Generator replaces the SDK client when set.
	Generator ContentGenerator
}

// ChatModel implements model.ChatModel on top of Gemini.
type ChatModel struct {
	gen         ContentGenerator
	models      []string
	grounding   bool
	temperature *float32
	maxTokens   *int
	maxRetries  int
	retryDelay  time.Duration
}

var _ model.ChatModel = (*ChatModel)(nil)

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// NewChatModel 创建 Gemini 聊天模型。
func NewChatModel(ctx context.Context, cfg *Config) (*ChatModel, error) {
	if cfg == nil || len(cfg.Models) == 0 {
		return nil, ErrNoModels
	}

	gen := cfg.Generator
	if gen == nil {
		client, err := NewClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		gen = client.Models
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	return &ChatModel{
		gen:         gen,
		models:      append([]string(nil), cfg.Models...),
		grounding:   cfg.Grounding,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  retries,
		retryDelay:  delay,
	}, nil
}

// BindTools is not supported; answers only use built-in search grounding.
func (m *ChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) == 0 {
		return nil
	}
	return errors.New("gemini: tool binding is not supported")
}

func (m *ChatModel) prepare(input []*schema.Message, opts []model.Option) ([]string, []*genai.Content, *genai.GenerateContentConfig) {
	options := model.GetCommonOptions(&model.Options{
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}, opts...)

	models := m.models
	if options.Model != nil && *options.Model != "" {
		models = []string{*options.Model}
	}

	contents, system := toContents(input)
	config := &genai.GenerateContentConfig{SystemInstruction: system}
	if options.Temperature != nil {
		config.Temperature = genai.Ptr(*options.Temperature)
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(*options.MaxTokens)
	}
	if m.grounding {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return models, contents, config
}

// Generate 依次尝试配置的模型，返回第一个成功的回答。
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	models, contents, config := m.prepare(input, opts)

	var lastErr error
	for _, name := range models {
		resp, err := m.generateWithRetry(ctx, name, contents, config)
		if err == nil {
			return toMessage(resp), nil
		}

		perr := classify(name, err)
		lastErr = perr
		if ctx.Err() != nil || !perr.nextModel() {
			return nil, perr
		}
		log.Printf("[gemini] model %s failed (%s), trying next", name, perr.Code)
	}
	return nil, lastErr
}

func (m *ChatModel) generateWithRetry(ctx context.Context, name string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var err error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.backoff(attempt)):
			}
		}

		var resp *genai.GenerateContentResponse
		resp, err = m.gen.GenerateContent(ctx, name, contents, config)
		if err == nil {
			if candidateText(resp) == "" {
				return nil, &ProviderError{Model: name, Code: ErrorCodeEmptyResponse, Message: "no text in response"}
			}
			return resp, nil
		}
		if !classify(name, err).Retryable {
			return nil, err
		}
	}
	return nil, err
}

func (m *ChatModel) backoff(attempt int) time.Duration {
	delay := m.retryDelay << (attempt - 1)
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	return delay
}

func toMessage(resp *genai.GenerateContentResponse) *schema.Message {
	msg := schema.AssistantMessage(candidateText(resp), nil)
	msg.ResponseMeta = responseMeta(resp)
	if sources := groundingSources(resp); len(sources) > 0 {
		msg.Extra = map[string]any{SourcesKey: sources}
	}
	return msg
}

// Stream 以增量消息返回回答。只有在尚未输出任何内容时才会切换到下一个模型。
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	models, contents, config := m.prepare(input, opts)
	sr, sw := schema.Pipe[*schema.Message](8)

	go func() {
		defer sw.Close()

		var lastErr error
		for _, name := range models {
			sent, err := m.streamModel(ctx, name, contents, config, sw)
			if err == nil {
				return
			}

			perr := classify(name, err)
			lastErr = perr
			if sent || ctx.Err() != nil || !perr.nextModel() {
				break
			}
			log.Printf("[gemini] stream on model %s failed (%s), trying next", name, perr.Code)
		}
		if lastErr != nil {
			sw.Send(nil, lastErr)
		}
	}()

	return sr, nil
}

// streamModel forwards one model's chunks and reports whether any text was sent.
func (m *ChatModel) streamModel(ctx context.Context, name string, contents []*genai.Content, config *genai.GenerateContentConfig, sw *schema.StreamWriter[*schema.Message]) (bool, error) {
	var (
		sent    bool
		sources []Source
		last    *genai.GenerateContentResponse
	)

	for resp, err := range m.gen.GenerateContentStream(ctx, name, contents, config) {
		if err != nil {
			return sent, err
		}
		last = resp
		sources = append(sources, groundingSources(resp)...)

		text := candidateText(resp)
		if text == "" {
			continue
		}
		sent = true
		if closed := sw.Send(schema.AssistantMessage(text, nil), nil); closed {
			return sent, nil
		}
	}

	if !sent {
		return false, &ProviderError{Model: name, Code: ErrorCodeEmptyResponse, Message: "empty stream"}
	}

	tail := schema.AssistantMessage("", nil)
	tail.ResponseMeta = responseMeta(last)
	if len(sources) > 0 {
		tail.Extra = map[string]any{SourcesKey: dedupe(sources)}
	}
	sw.Send(tail, nil)
	return true, nil
}

func dedupe(sources []Source) []Source {
	seen := make(map[string]struct{}, len(sources))
	out := sources[:0]
	for _, s := range sources {
		if _, ok := seen[s.URI]; ok {
			continue
		}
		seen[s.URI] = struct{}{}
		out = append(out, s)
	}
	return out
}
