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
)

// Config aggregates every setting the service reads at startup.
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Speech    SpeechConfig
	Animation AnimationConfig
	Oracle    OracleConfig
	Telemetry TelemetryConfig
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	oracle, err := loadOracleConfig()
	if err != nil {
		return nil, err
	}

	telemetry, err := loadTelemetryConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Speech:    speech,
		Animation: loadAnimationConfig(),
		Oracle:    oracle,
		Telemetry: telemetry,
	}, nil
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig resolves the listen address.
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// ":8000" or "127.0.0.1:8000" pass through as-is.
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AIConfig holds the Ark chat model settings.
type AIConfig struct {
	APIKey              string
	AccessKey           string
	SecretKey           string
	Model               string
	BaseURL             string
	Region              string
	Temperature         *float64
	TopP                *float64
	MaxTokens           *int
	EmotionLLMEnabled   bool
	EmotionHistoryLimit int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	emotionEnabled, err := parseBoolEnv("AI_EMOTION_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	emotionHistory := 6
	if historyOverride, err := parseOptionalIntEnv("AI_EMOTION_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if historyOverride != nil {
		emotionHistory = max(*historyOverride, 1)
	}

	return AIConfig{
		APIKey:              strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:           strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:           strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:               strings.TrimSpace(os.Getenv("Model")),
		BaseURL:             getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:              getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:         temperature,
		TopP:                topP,
		MaxTokens:           maxTokens,
		EmotionLLMEnabled:   emotionEnabled,
		EmotionHistoryLimit: emotionHistory,
	}, nil
}

// Speech providers.
const (
	SpeechProviderVolcengine = "volcengine"
	SpeechProviderOpenAI     = "openai"
)

// SpeechConfig holds speech backend settings
type SpeechConfig struct {
	Provider string

	AppID       string
	AccessToken string
	TTSURL      string
	ASRURL      string
	ASRLanguage string
	ASRPacing   time.Duration
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string

	OpenAIKey      string
	OpenAIBaseURL  string
	OpenAISTTModel string
	OpenAITTSModel string
	OpenAIVoice    string

	Timeout time.Duration
	Enabled bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	pacing, err := parseDurationEnv("SPEECH_ASR_PACING", 0)
	if err != nil {
		return SpeechConfig{}, err
	}

	ttsSpeed := float32(1.0)
	if speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED"); err != nil {
		return SpeechConfig{}, err
	} else if speed != nil {
		ttsSpeed = *speed
	}

	ttsVolume := float32(1.0)
	if volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME"); err != nil {
		return SpeechConfig{}, err
	} else if volume != nil {
		ttsVolume = *volume
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}
	openAIKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))

	provider := strings.ToLower(strings.TrimSpace(os.Getenv("SPEECH_PROVIDER")))
	switch provider {
	case "":
		// Inferred from credentials when unset, Volcengine first.
		if appID != "" && accessToken != "" {
			provider = SpeechProviderVolcengine
		} else if openAIKey != "" {
			provider = SpeechProviderOpenAI
		}
	case SpeechProviderVolcengine, SpeechProviderOpenAI:
	default:
		return SpeechConfig{}, fmt.Errorf("invalid SPEECH_PROVIDER value: %q", provider)
	}

	enabled := false
	switch provider {
	case SpeechProviderVolcengine:
		enabled = appID != "" && accessToken != ""
	case SpeechProviderOpenAI:
		enabled = openAIKey != ""
	}

	return SpeechConfig{
		Provider:       provider,
		AppID:          appID,
		AccessToken:    accessToken,
		TTSURL:         getEnvOrDefault("SPEECH_TTS_URL", "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"),
		ASRURL:         getEnvOrDefault("SPEECH_ASR_URL", "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"),
		ASRLanguage:    getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		ASRPacing:      pacing,
		TTSVoice:       getEnvOrDefault("SPEECH_TTS_VOICE", "en_male_glen_emo_v2_mars_bigtts"),
		TTSSpeed:       ttsSpeed,
		TTSVolume:      ttsVolume,
		TTSLanguage:    getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		OpenAIKey:      openAIKey,
		OpenAIBaseURL:  strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAISTTModel: getEnvOrDefault("OPENAI_STT_MODEL", "whisper-1"),
		OpenAITTSModel: getEnvOrDefault("OPENAI_TTS_MODEL", "tts-1"),
		OpenAIVoice:    getEnvOrDefault("OPENAI_TTS_VOICE", "alloy"),
		Timeout:        timeout,
		Enabled:        enabled,
	}, nil
}

// AnimationConfig points at the facial animation service. An empty URL
// selects the local energy animator.
type AnimationConfig struct {
	URL    string
	APIKey string
}

func loadAnimationConfig() AnimationConfig {
	return AnimationConfig{
		URL:    strings.TrimRight(strings.TrimSpace(os.Getenv("ANIMATION_URL")), "/"),
		APIKey: strings.TrimSpace(os.Getenv("ANIMATION_API_KEY")),
	}
}

// OracleConfig holds session orchestration policy.
type OracleConfig struct {
	PersonaCatalog    string
	DefaultPersona    string
	SampleRate        int
	PartialWindow     time.Duration
	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	SynthTimeout      time.Duration
	SynthChunkTimeout time.Duration
	AnimateTimeout    time.Duration
	ResourceTimeout   time.Duration
	CacheBindings     bool
	InboundQueue      int
	OutboundQueue     int
	ReadTimeout       time.Duration
	PingInterval      time.Duration
	WriteTimeout      time.Duration
}

func loadOracleConfig() (OracleConfig, error) {
	cfg := OracleConfig{
		PersonaCatalog: strings.TrimSpace(os.Getenv("PERSONA_CATALOG")),
		DefaultPersona: getEnvOrDefault("ORACLE_DEFAULT_PERSONA", "main-oracle"),
		SampleRate:     16000,
		InboundQueue:   64,
		OutboundQueue:  64,
	}

	if rate, err := parseOptionalIntEnv("ORACLE_SAMPLE_RATE"); err != nil {
		return OracleConfig{}, err
	} else if rate != nil {
		if *rate <= 0 {
			return OracleConfig{}, fmt.Errorf("invalid ORACLE_SAMPLE_RATE value: %d", *rate)
		}
		cfg.SampleRate = *rate
	}

	if queue, err := parseOptionalIntEnv("ORACLE_INBOUND_QUEUE"); err != nil {
		return OracleConfig{}, err
	} else if queue != nil {
		cfg.InboundQueue = max(*queue, 1)
	}

	if queue, err := parseOptionalIntEnv("ORACLE_OUTBOUND_QUEUE"); err != nil {
		return OracleConfig{}, err
	} else if queue != nil {
		cfg.OutboundQueue = max(*queue, 1)
	}

	cache, err := parseBoolEnv("ORACLE_BINDING_CACHE", true)
	if err != nil {
		return OracleConfig{}, err
	}
	cfg.CacheBindings = cache

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"ORACLE_PARTIAL_WINDOW", 500 * time.Millisecond, &cfg.PartialWindow},
		{"ORACLE_TRANSCRIBE_TIMEOUT", 15 * time.Second, &cfg.TranscribeTimeout},
		{"ORACLE_GENERATE_TIMEOUT", 30 * time.Second, &cfg.GenerateTimeout},
		{"ORACLE_SYNTH_TIMEOUT", 15 * time.Second, &cfg.SynthTimeout},
		{"ORACLE_SYNTH_CHUNK_TIMEOUT", 10 * time.Second, &cfg.SynthChunkTimeout},
		{"ORACLE_ANIMATE_TIMEOUT", 5 * time.Second, &cfg.AnimateTimeout},
		{"ORACLE_RESOURCE_TIMEOUT", 20 * time.Second, &cfg.ResourceTimeout},
		{"ORACLE_READ_TIMEOUT", 60 * time.Second, &cfg.ReadTimeout},
		{"ORACLE_PING_INTERVAL", 54 * time.Second, &cfg.PingInterval},
		{"ORACLE_WRITE_TIMEOUT", 10 * time.Second, &cfg.WriteTimeout},
	}
	for _, d := range durations {
		val, err := parseDurationEnv(d.key, d.def)
		if err != nil {
			return OracleConfig{}, err
		}
		if val <= 0 {
			return OracleConfig{}, fmt.Errorf("invalid %s value: must be positive", d.key)
		}
		*d.dest = val
	}

	return cfg, nil
}

// TelemetryConfig controls the Prometheus exporter.
type TelemetryConfig struct {
	Enabled     bool
	ServiceName string
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	enabled, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return TelemetryConfig{}, err
	}
	return TelemetryConfig{
		Enabled:     enabled,
		ServiceName: getEnvOrDefault("SERVICE_NAME", "indiana-oracle"),
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
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
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

// parseDurationEnv accepts time.ParseDuration syntax; bare numbers are seconds.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
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

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
