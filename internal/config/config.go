package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/llm/gemini"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server        ServerConfig
	AI            AIConfig
	Speech        SpeechConfig
	Safety        SafetyConfig
	Session       SessionConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig(ai)
	if err != nil {
		return nil, err
	}

	safety, err := loadSafetyConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	observability, err := loadObservabilityConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:        server,
		AI:            ai,
		Speech:        speech,
		Safety:        safety,
		Session:       session,
		RateLimit:     rateLimit,
		Observability: observability,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// Provider 选择回答所用的大模型后端。
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderArk    Provider = "ark"
)

// DefaultGeminiModels is tried in order until one answers.
var DefaultGeminiModels = []string{
	"gemini-1.5-flash-002",
	"gemini-1.5-flash",
	"gemini-2.0-flash-exp",
	"gemini-pro",
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider Provider

	GeminiAPIKey   string
	GeminiModels   []string
	TranslateModel string
	Grounding      bool

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string

	Temperature    *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	default:
		return c.GeminiAPIKey != "" && len(c.GeminiModels) > 0
	}
}

// NewChatModel 使用配置创建回答模型。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s credentials or model missing", c.Provider)
	}

	if c.Provider == ProviderArk {
		return c.newArkModel(ctx)
	}
	return gemini.NewChatModel(ctx, c.geminiConfig(c.GeminiModels, c.Grounding))
}

// NewTranslateModel 创建翻译使用的模型，不启用检索增强。
func (c AIConfig) NewTranslateModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s credentials or model missing", c.Provider)
	}

	if c.Provider == ProviderArk {
		return c.newArkModel(ctx)
	}
	models := c.GeminiModels
	if c.TranslateModel != "" {
		models = []string{c.TranslateModel}
	}
	return gemini.NewChatModel(ctx, c.geminiConfig(models, false))
}

func (c AIConfig) geminiConfig(models []string, grounding bool) *gemini.Config {
	cfg := &gemini.Config{
		APIKey:    c.GeminiAPIKey,
		Models:    models,
		Grounding: grounding,
		MaxTokens: c.MaxTokens,
	}
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		cfg.Temperature = &val
	}
	return cfg
}

func (c AIConfig) newArkModel(ctx context.Context) (model.ChatModel, error) {
	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
}

func loadAIConfig() (AIConfig, error) {
	provider := Provider(strings.ToLower(getEnvOrDefault("LLM_PROVIDER", string(ProviderGemini))))
	if provider != ProviderGemini && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value: %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("AI_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	grounding, err := parseBoolEnv("GEMINI_GROUNDING", true)
	if err != nil {
		return AIConfig{}, err
	}

	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}

	models := splitList(os.Getenv("GEMINI_MODELS"))
	if len(models) == 0 {
		models = append([]string(nil), DefaultGeminiModels...)
	}

	return AIConfig{
		Provider:       provider,
		GeminiAPIKey:   apiKey,
		GeminiModels:   models,
		TranslateModel: strings.TrimSpace(os.Getenv("GEMINI_TRANSLATE_MODEL")),
		Grounding:      grounding,
		ArkAPIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// SpeechConfig 描述语音合成配置。
type SpeechConfig struct {
	Enabled bool
	APIKey  string
	Model   string
	Voice   string
	Timeout time.Duration
}

func loadSpeechConfig(ai AIConfig) (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	// 语音合成复用 Gemini 密钥
	enabled, err := parseBoolEnv("SPEECH_ENABLED", ai.GeminiAPIKey != "")
	if err != nil {
		return SpeechConfig{}, err
	}

	return SpeechConfig{
		Enabled: enabled && ai.GeminiAPIKey != "",
		APIKey:  ai.GeminiAPIKey,
		Model:   getEnvOrDefault("SPEECH_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		Voice:   getEnvOrDefault("SPEECH_TTS_VOICE", "Kore"),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// SafetyConfig 描述安全审查配置。
type SafetyConfig struct {
	Sensitivity       string
	WordListFile      string
	LLMEnabled        bool
	OpenAIAPIKey      string
	ModerationEnabled bool
	ModerationModel   string
}

func loadSafetyConfig() (SafetyConfig, error) {
	sensitivity := strings.ToLower(getEnvOrDefault("SAFETY_SENSITIVITY", "low"))
	switch sensitivity {
	case "low", "medium", "high":
	default:
		return SafetyConfig{}, fmt.Errorf("invalid SAFETY_SENSITIVITY value: %q", sensitivity)
	}

	llmEnabled, err := parseBoolEnv("SAFETY_LLM_ENABLED", false)
	if err != nil {
		return SafetyConfig{}, err
	}

	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	moderation, err := parseBoolEnv("OPENAI_MODERATION_ENABLED", apiKey != "")
	if err != nil {
		return SafetyConfig{}, err
	}

	return SafetyConfig{
		Sensitivity:       sensitivity,
		WordListFile:      strings.TrimSpace(os.Getenv("SAFETY_WORDLIST_FILE")),
		LLMEnabled:        llmEnabled,
		OpenAIAPIKey:      apiKey,
		ModerationEnabled: moderation && apiKey != "",
		ModerationModel:   getEnvOrDefault("OPENAI_MODERATION_MODEL", "omni-moderation-latest"),
	}, nil
}

// SessionConfig 描述会话状态与持久化配置。
type SessionConfig struct {
	SuspendFor    time.Duration
	StoreDriver   string
	StorePath     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StorePrefix   string
}

func loadSessionConfig() (SessionConfig, error) {
	suspendFor, err := parseDurationEnv("SUSPENSION_DURATION", 3*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}
	if suspendFor <= 0 {
		return SessionConfig{}, fmt.Errorf("invalid SUSPENSION_DURATION value: %s", suspendFor)
	}

	redisDB := 0
	if db, err := parseOptionalIntEnv("REDIS_DB"); err != nil {
		return SessionConfig{}, err
	} else if db != nil {
		redisDB = *db
	}

	return SessionConfig{
		SuspendFor:    suspendFor,
		StoreDriver:   strings.ToLower(getEnvOrDefault("STORE_DRIVER", "file")),
		StorePath:     getEnvOrDefault("STORE_PATH", "data"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		StorePrefix:   getEnvOrDefault("STORE_PREFIX", "nur:"),
	}, nil
}

// RateLimitConfig 限制每个设备的提交频率，PerSecond 为 0 时关闭。
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	cfg := RateLimitConfig{PerSecond: 1, Burst: 3}

	if rate, err := parseOptionalFloatEnv("SUBMIT_RATE_PER_SECOND"); err != nil {
		return RateLimitConfig{}, err
	} else if rate != nil {
		cfg.PerSecond = *rate
	}

	if burst, err := parseOptionalIntEnv("SUBMIT_BURST"); err != nil {
		return RateLimitConfig{}, err
	} else if burst != nil {
		cfg.Burst = *burst
	}

	if cfg.PerSecond < 0 || cfg.Burst < 1 {
		return RateLimitConfig{}, fmt.Errorf("invalid submit rate limit: %v/s burst %d", cfg.PerSecond, cfg.Burst)
	}
	return cfg, nil
}

// ObservabilityConfig 描述指标与链路追踪配置。
type ObservabilityConfig struct {
	MetricsEnabled bool
	TracesExporter string
	OTLPEndpoint   string
	ServiceName    string
}

func loadObservabilityConfig() (ObservabilityConfig, error) {
	metrics, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return ObservabilityConfig{}, err
	}

	exporter := strings.ToLower(getEnvOrDefault("OTEL_TRACES_EXPORTER", "none"))
	switch exporter {
	case "none", "stdout", "otlp":
	default:
		return ObservabilityConfig{}, fmt.Errorf("invalid OTEL_TRACES_EXPORTER value: %q", exporter)
	}

	return ObservabilityConfig{
		MetricsEnabled: metrics,
		TracesExporter: exporter,
		OTLPEndpoint:   getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		ServiceName:    getEnvOrDefault("OTEL_SERVICE_NAME", "nur-al-ilm"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
