// Package speech 使用 Gemini TTS 为回答合成语音。
package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/llm/gemini"
	chatservice "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
)

// Config 描述语音合成配置。
type Config struct {
	Model   string
	Voice   string
	Timeout time.Duration
	// Generator replaces the SDK client when set.
	Generator gemini.ContentGenerator
}

// Service 语音服务，实现 SpeechSynthesizer。
type Service struct {
	gen     gemini.ContentGenerator
	model   string
	voice   string
	timeout time.Duration
}

var _ chatservice.SpeechSynthesizer = (*Service)(nil)

// NewService 创建语音服务实例。
func NewService(ctx context.Context, apiKey string, cfg Config) (*Service, error) {
	gen := cfg.Generator
	if gen == nil {
		client, err := gemini.NewClient(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		gen = client.Models
	}

	if cfg.Model == "" {
		return nil, errors.New("speech: model is required")
	}
	if cfg.Voice == "" {
		cfg.Voice = "Kore"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Service{
		gen:     gen,
		model:   cfg.Model,
		voice:   cfg.Voice,
		timeout: cfg.Timeout,
	}, nil
}

// Synthesize 返回 base64 编码的 24kHz 单声道 PCM；没有音频时返回空字符串。
func (s *Service) Synthesize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.gen.GenerateContent(ctx, s.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.voice},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("speech synthesis: %w", err)
	}

	pcm := audioPart(resp)
	if len(pcm) == 0 {
		log.Printf("[speech] model %s returned no audio, length=%d", s.model, len(text))
		return "", nil
	}
	return base64.StdEncoding.EncodeToString(pcm), nil
}

// audioPart returns the raw PCM of the first inline audio part.
func audioPart(resp *genai.GenerateContentResponse) []byte {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := strings.ToLower(part.InlineData.MIMEType)
		if !strings.HasPrefix(mime, "audio/") {
			continue
		}
		if strings.Contains(mime, "wav") {
			return StripWAVHeader(part.InlineData.Data)
		}
		return part.InlineData.Data
	}
	return nil
}
