// Package app 根据配置组装存储与会话依赖，供 cmd/api 与 cmd/nur 共用。
package app

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/analysis/safety"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/config"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/persona"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	safetyservice "github.com/zhouzirui/nur-al-ilm/backend/internal/service/safety"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/service/speech"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/storage"
)

// SQLiteFile 是 STORE_PATH 为目录时使用的数据库文件名。
const SQLiteFile = "nur.db"

// OpenStore 根据会话配置打开持久化存储。
func OpenStore(cfg config.SessionConfig) (storage.Store, error) {
	driver := storage.Driver(cfg.StoreDriver)
	opts := []storage.Option{}

	switch driver {
	case storage.DriverFile:
		opts = append(opts, storage.WithPath(cfg.StorePath))
	case storage.DriverSQLite:
		path := cfg.StorePath
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, SQLiteFile)
		}
		opts = append(opts, storage.WithPath(path))
	case storage.DriverRedis:
		opts = append(opts,
			storage.WithRedisAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB),
			storage.WithRedisPrefix(cfg.StorePrefix),
		)
	}

	store, err := storage.New(driver, opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	return store, nil
}

// BuildDependencies 创建安全、回答、翻译与语音协作者。
// 未配置的可选协作者保持为 nil，会话会据此降级。
func BuildDependencies(ctx context.Context, cfg *config.Config, p persona.Persona) (chatservice.Dependencies, error) {
	deps := chatservice.Dependencies{
		Persona:    p,
		SuspendFor: cfg.Session.SuspendFor,
	}

	aiSvc, err := newAIService(ctx, cfg, p)
	if err != nil {
		log.Printf("[app] warning: failed to initialize AI service: %v", err)
	}
	if aiSvc != nil {
		deps.Answers = aiSvc
		deps.Translator = aiSvc
	}

	safetySvc, err := newSafetyService(ctx, cfg)
	if err != nil {
		return chatservice.Dependencies{}, err
	}
	deps.Safety = safetySvc

	if speechSvc := newSpeechService(ctx, cfg.Speech); speechSvc != nil {
		deps.Speech = speechSvc
	}
	return deps, nil
}

func newAIService(ctx context.Context, cfg *config.Config, p persona.Persona) (*ai.Service, error) {
	if !cfg.AI.Enabled() {
		log.Printf("[app] %s credentials not configured, answers and translation disabled", cfg.AI.Provider)
		return nil, nil
	}
	svc, err := ai.NewService(ctx, p, cfg.AI)
	if err != nil {
		return nil, err
	}
	log.Printf("[app] AI service initialized (provider=%s)", cfg.AI.Provider)
	return svc, nil
}

func newSafetyService(ctx context.Context, cfg *config.Config) (*safetyservice.Service, error) {
	words := safety.DefaultWordList()
	if cfg.Safety.WordListFile != "" {
		loaded, err := safety.LoadWordList(cfg.Safety.WordListFile)
		if err != nil {
			return nil, err
		}
		words = loaded
	}
	analyzer := safety.NewAnalyzer(words, safety.ParseSensitivity(cfg.Safety.Sensitivity))

	safetyCfg := safetyservice.Config{LLMEnabled: cfg.Safety.LLMEnabled}
	if cfg.Safety.ModerationEnabled && cfg.Safety.OpenAIAPIKey != "" {
		safetyCfg.Moderator = safetyservice.NewOpenAIModerator(cfg.Safety.OpenAIAPIKey, cfg.Safety.ModerationModel)
		log.Println("[app] OpenAI moderation enabled")
	}

	if cfg.Safety.LLMEnabled && cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewTranslateModel(ctx)
		if err != nil {
			log.Printf("[app] warning: safety classifier model unavailable, using heuristics only: %v", err)
		} else {
			return safetyservice.NewService(ctx, analyzer, chatModel, safetyCfg)
		}
	}
	return safetyservice.NewService(ctx, analyzer, nil, safetyCfg)
}

func newSpeechService(ctx context.Context, cfg config.SpeechConfig) *speech.Service {
	if !cfg.Enabled {
		log.Println("[app] speech synthesis disabled")
		return nil
	}
	svc, err := speech.NewService(ctx, cfg.APIKey, speech.Config{
		Model:   cfg.Model,
		Voice:   cfg.Voice,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		log.Printf("[app] warning: failed to initialize speech service: %v", err)
		return nil
	}
	log.Printf("[app] speech synthesis enabled (model=%s voice=%s)", cfg.Model, cfg.Voice)
	return svc
}
