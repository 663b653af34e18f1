package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind               string   `yaml:"bind"`
	Port               int      `yaml:"port"`
	PublicBaseURL      string   `yaml:"public_base_url"`
	CORSOrigins        []string `yaml:"cors_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Ingest      IngestConfig     `yaml:"ingest"`
	STT         STTConfig        `yaml:"stt"`
	Translate   TranslateConfig  `yaml:"translate"`
	TTS         TTSConfig        `yaml:"tts"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Languages   LanguagesConfig  `yaml:"languages"`
	Artifacts   ArtifactsConfig  `yaml:"artifacts"`
	OpenAI      OpenAIConfig     `yaml:"openai"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	MaxPayloadMB   int      `yaml:"max_payload_mb"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	PrivacyScope  string `yaml:"privacy_scope"`
}

type IngestConfig struct {
	AllowedFormats []string `yaml:"allowed_formats"`
	MaxBytes       int64    `yaml:"max_bytes"`
	Codec          string   `yaml:"codec"` // native, exec
	Command        string   `yaml:"command"`
	WorkDir        string   `yaml:"work_dir"`
}

type STTConfig struct {
	Mode            string  `yaml:"mode"` // mock, exec, openai
	Command         string  `yaml:"command"`
	ModelPath       string  `yaml:"model_path"`
	Model           string  `yaml:"model"`
	DefaultLanguage string  `yaml:"default_language"`
	Concurrency     int     `yaml:"concurrency"`
	MockText        string  `yaml:"mock_text"`
	MockLanguage    string  `yaml:"mock_language"`
	MockConfidence  float64 `yaml:"mock_confidence"`
}

type TranslateConfig struct {
	Mode              string   `yaml:"mode"` // mock, exec, ollama, openai
	Command           string   `yaml:"command"`
	Endpoint          string   `yaml:"endpoint"`
	Model             string   `yaml:"model"`
	Temperature       float64  `yaml:"temperature"`
	Concurrency       int      `yaml:"concurrency"`
	MockFailLanguages []string `yaml:"mock_fail_languages"`
}

type TTSConfig struct {
	Mode            string `yaml:"mode"` // mock, exec, openai
	Command         string `yaml:"command"`
	Model           string `yaml:"model"`
	Voice           string `yaml:"voice"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkDurationMS int    `yaml:"chunk_duration_ms"`
	Concurrency     int    `yaml:"concurrency"`
	CloneVoice      bool   `yaml:"clone_voice"`
}

type PipelineConfig struct {
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
	MaxConcurrency   int `yaml:"max_concurrency"`
	MaxTargets       int `yaml:"max_targets"`
}

type LanguagesConfig struct {
	Supported []string `yaml:"supported"`
}

type ArtifactsConfig struct {
	Backend         string   `yaml:"backend"` // disk, jetstream, s3
	Dir             string   `yaml:"dir"`
	TTLMinutes      int      `yaml:"ttl_minutes"`
	RetainAfterRead bool     `yaml:"retain_after_read"`
	Bucket          string   `yaml:"bucket"`
	S3              S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-translate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:               "0.0.0.0",
			Port:               8080,
			CORSOrigins:        []string{"*"},
			RateLimitPerMinute: 60,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			MaxPayloadMB:   8,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-translate-events.db",
			RetentionMode: "session",
			RetentionDays: 7,
			MaxSessions:   10000,
			PrivacyScope:  "internal",
		},
		Ingest: IngestConfig{
			AllowedFormats: []string{"wav", "mp3", "ogg", "m4a", "flac", "webm"},
			MaxBytes:       25 << 20,
			Codec:          "native",
			Command:        "ffmpeg",
		},
		STT: STTConfig{
			Mode:            "mock",
			Model:           "whisper-1",
			DefaultLanguage: "en",
			Concurrency:     1,
			MockText:        "hello, how are you today?",
			MockLanguage:    "en",
			MockConfidence:  0.9,
		},
		Translate: TranslateConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			Temperature: 0.2,
			Concurrency: 1,
		},
		TTS: TTSConfig{
			Mode:            "mock",
			Model:           "tts-1",
			Voice:           "alloy",
			SampleRate:      22050,
			Channels:        1,
			ChunkDurationMS: 400,
			Concurrency:     1,
			CloneVoice:      true,
		},
		Pipeline: PipelineConfig{
			RequestTimeoutMS: 120000,
			MaxConcurrency:   4,
			MaxTargets:       16,
		},
		Languages: LanguagesConfig{
			Supported: []string{"en", "es", "fr", "de", "it", "pt", "nl", "pl", "ru", "tr", "ar", "hi", "zh", "ja", "ko"},
		},
		Artifacts: ArtifactsConfig{
			Backend:    "disk",
			Dir:        "./data/artifacts",
			TTLMinutes: 30,
			Bucket:     "loqa-translate-artifacts",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyModeDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.HTTP.PublicBaseURL, "LOQA_HTTP_PUBLIC_BASE_URL")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "LOQA_HTTP_CORS_ORIGINS")
	overrideInt(&cfg.HTTP.RateLimitPerMinute, "LOQA_HTTP_RATE_LIMIT_PER_MINUTE")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.MaxPayloadMB, "LOQA_BUS_MAX_PAYLOAD_MB")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.EventStore.PrivacyScope, "LOQA_EVENT_STORE_PRIVACY_SCOPE")
	overrideStringSlice(&cfg.Ingest.AllowedFormats, "LOQA_INGEST_ALLOWED_FORMATS")
	overrideInt64(&cfg.Ingest.MaxBytes, "LOQA_INGEST_MAX_BYTES")
	overrideString(&cfg.Ingest.Codec, "LOQA_INGEST_CODEC")
	overrideString(&cfg.Ingest.Command, "LOQA_INGEST_COMMAND")
	overrideString(&cfg.Ingest.WorkDir, "LOQA_INGEST_WORK_DIR")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.DefaultLanguage, "LOQA_STT_DEFAULT_LANGUAGE")
	overrideInt(&cfg.STT.Concurrency, "LOQA_STT_CONCURRENCY")
	overrideString(&cfg.Translate.Mode, "LOQA_TRANSLATE_MODE")
	overrideString(&cfg.Translate.Command, "LOQA_TRANSLATE_COMMAND")
	overrideString(&cfg.Translate.Endpoint, "LOQA_TRANSLATE_ENDPOINT")
	overrideString(&cfg.Translate.Model, "LOQA_TRANSLATE_MODEL")
	overrideFloat(&cfg.Translate.Temperature, "LOQA_TRANSLATE_TEMPERATURE")
	overrideInt(&cfg.Translate.Concurrency, "LOQA_TRANSLATE_CONCURRENCY")
	overrideStringSlice(&cfg.Translate.MockFailLanguages, "LOQA_TRANSLATE_MOCK_FAIL_LANGUAGES")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Model, "LOQA_TTS_MODEL")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideInt(&cfg.TTS.ChunkDurationMS, "LOQA_TTS_CHUNK_DURATION_MS")
	overrideInt(&cfg.TTS.Concurrency, "LOQA_TTS_CONCURRENCY")
	overrideBool(&cfg.TTS.CloneVoice, "LOQA_TTS_CLONE_VOICE")
	overrideInt(&cfg.Pipeline.RequestTimeoutMS, "LOQA_PIPELINE_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.MaxConcurrency, "LOQA_PIPELINE_MAX_CONCURRENCY")
	overrideInt(&cfg.Pipeline.MaxTargets, "LOQA_PIPELINE_MAX_TARGETS")
	overrideStringSlice(&cfg.Languages.Supported, "LOQA_LANGUAGES_SUPPORTED")
	overrideString(&cfg.Artifacts.Backend, "LOQA_ARTIFACTS_BACKEND")
	overrideString(&cfg.Artifacts.Dir, "LOQA_ARTIFACTS_DIR")
	overrideInt(&cfg.Artifacts.TTLMinutes, "LOQA_ARTIFACTS_TTL_MINUTES")
	overrideBool(&cfg.Artifacts.RetainAfterRead, "LOQA_ARTIFACTS_RETAIN_AFTER_READ")
	overrideString(&cfg.Artifacts.Bucket, "LOQA_ARTIFACTS_BUCKET")
	overrideString(&cfg.Artifacts.S3.Endpoint, "LOQA_ARTIFACTS_S3_ENDPOINT")
	overrideString(&cfg.Artifacts.S3.AccessKey, "LOQA_ARTIFACTS_S3_ACCESS_KEY")
	overrideString(&cfg.Artifacts.S3.SecretKey, "LOQA_ARTIFACTS_S3_SECRET_KEY")
	overrideString(&cfg.Artifacts.S3.Region, "LOQA_ARTIFACTS_S3_REGION")
	overrideBool(&cfg.Artifacts.S3.Secure, "LOQA_ARTIFACTS_S3_SECURE")
	overrideString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.OpenAI.APIKey, "LOQA_OPENAI_API_KEY")
	overrideString(&cfg.OpenAI.BaseURL, "LOQA_OPENAI_BASE_URL")
}

// applyModeDefaults raises gate sizes for backends that are safe to call
// concurrently when the operator left them at the serialized default.
func applyModeDefaults(cfg *Config) {
	if cfg.STT.Mode == "openai" && cfg.STT.Concurrency == 1 {
		cfg.STT.Concurrency = 4
	}
	if (cfg.Translate.Mode == "openai" || cfg.Translate.Mode == "ollama") && cfg.Translate.Concurrency == 1 {
		cfg.Translate.Concurrency = 4
	}
	if cfg.TTS.Mode == "openai" && cfg.TTS.Concurrency == 1 {
		cfg.TTS.Concurrency = 4
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.RateLimitPerMinute < 0 {
		return errors.New("http.rate_limit_per_minute must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if len(cfg.Ingest.AllowedFormats) == 0 {
		return errors.New("ingest.allowed_formats must not be empty")
	}
	if cfg.Ingest.MaxBytes <= 0 {
		return errors.New("ingest.max_bytes must be positive")
	}
	switch cfg.Ingest.Codec {
	case "native":
	case "exec":
		if cfg.Ingest.Command == "" {
			return errors.New("ingest.command must be set when codec=exec")
		}
	default:
		return errors.New("ingest.codec must be one of native|exec")
	}
	switch cfg.STT.Mode {
	case "mock", "openai":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|openai")
	}
	if cfg.STT.DefaultLanguage == "" {
		return errors.New("stt.default_language must not be empty")
	}
	switch cfg.Translate.Mode {
	case "mock", "openai":
	case "ollama":
		if cfg.Translate.Endpoint == "" {
			return errors.New("translate.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.Translate.Command == "" {
			return errors.New("translate.command must be set when mode=exec")
		}
	default:
		return errors.New("translate.mode must be one of mock|exec|ollama|openai")
	}
	switch cfg.TTS.Mode {
	case "mock", "openai":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of mock|exec|openai")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.STT.Concurrency <= 0 || cfg.Translate.Concurrency <= 0 || cfg.TTS.Concurrency <= 0 {
		return errors.New("stt, translate and tts concurrency must be >= 1")
	}
	if (cfg.STT.Mode == "openai" || cfg.Translate.Mode == "openai" || cfg.TTS.Mode == "openai") && cfg.OpenAI.APIKey == "" {
		return errors.New("openai.api_key must be set when any capability uses mode=openai")
	}
	if cfg.Pipeline.RequestTimeoutMS <= 0 {
		return errors.New("pipeline.request_timeout_ms must be positive")
	}
	if cfg.Pipeline.MaxConcurrency <= 0 {
		return errors.New("pipeline.max_concurrency must be >= 1")
	}
	if cfg.Pipeline.MaxTargets <= 0 {
		return errors.New("pipeline.max_targets must be >= 1")
	}
	if len(cfg.Languages.Supported) == 0 {
		return errors.New("languages.supported must not be empty")
	}
	switch cfg.Artifacts.Backend {
	case "disk":
		if cfg.Artifacts.Dir == "" {
			return errors.New("artifacts.dir must be set when backend=disk")
		}
	case "jetstream":
		if !cfg.Bus.Enabled {
			return errors.New("artifacts.backend=jetstream requires bus.enabled")
		}
		if cfg.Artifacts.Bucket == "" {
			return errors.New("artifacts.bucket must be set when backend=jetstream")
		}
	case "s3":
		if cfg.Artifacts.S3.Endpoint == "" || cfg.Artifacts.Bucket == "" {
			return errors.New("artifacts.s3.endpoint and artifacts.bucket must be set when backend=s3")
		}
	default:
		return errors.New("artifacts.backend must be one of disk|jetstream|s3")
	}
	if cfg.Artifacts.TTLMinutes < 0 {
		return errors.New("artifacts.ttl_minutes must be >= 0")
	}
	return nil
}
