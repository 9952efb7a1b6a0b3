package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/config"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/llm/gemini"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
)

// Service answers questions and translates text through eino chains.
type Service struct {
	persona   persona.Persona
	streaming bool
	answers   compose.Runnable[map[string]any, *schema.Message]
	translate compose.Runnable[map[string]any, *schema.Message]
}

var (
	_ chatservice.StreamingAnswerGenerator = (*Service)(nil)
	_ chatservice.Translator               = (*Service)(nil)
)

// NewService creates the AI service from configuration.
func NewService(ctx context.Context, p persona.Persona, cfg config.AIConfig) (*Service, error) {
	answerModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	translateModel, err := cfg.NewTranslateModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create translate model: %w", err)
	}

	return NewServiceWithModels(ctx, p, answerModel, translateModel, cfg.StreamResponse)
}

// NewServiceWithModels wires the chains over the given models.
func NewServiceWithModels(ctx context.Context, p persona.Persona, answerModel, translateModel model.BaseChatModel, streaming bool) (*Service, error) {
	answerTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("User Question: {query}"),
	)

	answers := compose.NewChain[map[string]any, *schema.Message]()
	answers.AppendChatTemplate(answerTemplate)
	answers.AppendChatModel(answerModel)

	answerRunnable, err := answers.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile answer chain: %w", err)
	}

	translateTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("You are a careful translator of Islamic texts. Reply with the translation only. Keep Quran and Hadith references intact."),
		schema.UserMessage(`Translate this Islamic text to {language}: "{text}"`),
	)

	translate := compose.NewChain[map[string]any, *schema.Message]()
	translate.AppendChatTemplate(translateTemplate)
	translate.AppendChatModel(translateModel)

	translateRunnable, err := translate.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile translate chain: %w", err)
	}

	return &Service{
		persona:   p,
		streaming: streaming,
		answers:   answerRunnable,
		translate: translateRunnable,
	}, nil
}

// StreamingEnabled 指示是否开启流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.streaming
}

// Generate answers a question that already passed the safety check.
func (s *Service) Generate(ctx context.Context, question string) (chatservice.Answer, error) {
	response, err := s.answers.Invoke(ctx, s.buildChainInput(question))
	if err != nil {
		return chatservice.Answer{}, fmt.Errorf("failed to run answer chain: %w", err)
	}

	text := strings.TrimSpace(response.Content)
	if text == "" {
		return chatservice.Answer{}, errors.New("model returned an empty answer")
	}

	log.Printf("[ai] generated answer, persona=%s, length=%d", s.persona.ID, len(text))
	return chatservice.Answer{Text: text, Sources: toSources(gemini.SourcesFrom(response))}, nil
}

// GenerateStream streams the answer through onDelta. When streaming is
// disabled the whole answer is delivered as one delta.
func (s *Service) GenerateStream(ctx context.Context, question string, onDelta func(string)) (chatservice.Answer, error) {
	if !s.streaming {
		answer, err := s.Generate(ctx, question)
		if err == nil && onDelta != nil {
			onDelta(answer.Text)
		}
		return answer, err
	}

	stream, err := s.answers.Stream(ctx, s.buildChainInput(question))
	if err != nil {
		return chatservice.Answer{}, fmt.Errorf("failed to stream answer chain: %w", err)
	}
	defer stream.Close()

	var (
		builder strings.Builder
		sources []gemini.Source
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return chatservice.Answer{}, fmt.Errorf("failed to read answer stream: %w", err)
		}
		if chunk == nil {
			continue
		}
		sources = append(sources, gemini.SourcesFrom(chunk)...)
		if chunk.Content == "" {
			continue
		}
		builder.WriteString(chunk.Content)
		if onDelta != nil {
			onDelta(chunk.Content)
		}
	}

	text := strings.TrimSpace(builder.String())
	if text == "" {
		return chatservice.Answer{}, errors.New("model returned an empty answer")
	}

	log.Printf("[ai] streamed answer, persona=%s, length=%d", s.persona.ID, len(text))
	return chatservice.Answer{Text: text, Sources: toSources(sources)}, nil
}

// Translate renders text in the target language. Failures are returned, never
// replaced by the original text.
func (s *Service) Translate(ctx context.Context, text, language string) (string, error) {
	response, err := s.translate.Invoke(ctx, map[string]any{
		"language": language,
		"text":     text,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run translate chain: %w", err)
	}

	translated := strings.TrimSpace(response.Content)
	if translated == "" {
		return "", errors.New("model returned an empty translation")
	}
	return unquote(translated), nil
}

func (s *Service) buildChainInput(question string) map[string]any {
	return map[string]any{
		"system": NewPersonaPromptManager().BuildSystemPrompt(s.persona),
		"query":  question,
	}
}

func toSources(in []gemini.Source) []chat.Source {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]chat.Source, 0, len(in))
	for _, src := range in {
		if _, dup := seen[src.URI]; dup {
			continue
		}
		seen[src.URI] = struct{}{}
		out = append(out, chat.Source{Title: src.Title, URI: src.URI})
	}
	return out
}

// unquote strips the quotes models sometimes keep around a translation.
func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
