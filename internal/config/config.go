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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	AudioStore  AudioStoreConfig `yaml:"audio_store"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Relay       RelayConfig      `yaml:"relay"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type AudioStoreConfig struct {
	Directory  string `yaml:"directory"`
	PublicPath string `yaml:"public_path"`
	MaxAgeHrs  int    `yaml:"max_age_hours"`
}

type STTConfig struct {
	Mode       string `yaml:"mode"` // mock, deepgram, exec
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type LLMConfig struct {
	Mode         string  `yaml:"mode"` // mock, groq, exec
	APIKey       string  `yaml:"api_key"`
	Endpoint     string  `yaml:"endpoint"`
	Model        string  `yaml:"model"`
	Command      string  `yaml:"command"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TimeoutMS    int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, deepgram, exec
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Voice      string `yaml:"voice"`
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type RelayConfig struct {
	BoundaryURL  string `yaml:"boundary_url"`
	SpoolDir     string `yaml:"spool_dir"`
	TimeoutMS    int    `yaml:"timeout_ms"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// DefaultSystemPrompt frames every generated reply as a customer service
// response spoken aloud to the caller.
const DefaultSystemPrompt = `You are a helpful and friendly customer service assistant for a cell phone provider. Your goal is to help customers with issues like:
- Billing questions
- Troubleshooting their mobile devices
- Explaining data plans and features
- Activating or deactivating services
- Transferring them to appropriate departments for further assistance.

Maintain a polite and professional tone in your responses. Always make the customer feel valued and heard.
Be concise but thorough in your response.`

func Default() Config {
	return Config{
		ServiceName: "voicerelay",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voicerelay-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		AudioStore: AudioStoreConfig{
			Directory:  "./data/audio",
			PublicPath: "/audio",
			MaxAgeHrs:  24,
		},
		STT: STTConfig{
			Mode:       "mock",
			Endpoint:   "https://api.deepgram.com",
			Model:      "nova-2",
			Language:   "en",
			SampleRate: 16000,
			Channels:   1,
			TimeoutMS:  30000,
		},
		LLM: LLMConfig{
			Mode:         "mock",
			Endpoint:     "https://api.groq.com/openai/v1",
			Model:        "deepseek-r1-distill-llama-70b",
			SystemPrompt: DefaultSystemPrompt,
			MaxTokens:    512,
			Temperature:  0.7,
			TimeoutMS:    60000,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Endpoint:   "https://api.deepgram.com",
			Voice:      "aura-asteria-en",
			SampleRate: 22050,
			TimeoutMS:  45000,
		},
		Relay: RelayConfig{
			BoundaryURL:  "http://127.0.0.1:8080/process-audio",
			SpoolDir:     "",
			TimeoutMS:    120000,
			MaxBodyBytes: 16 << 20,
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "VOICERELAY_SERVICE_NAME")
	overrideString(&cfg.Environment, "VOICERELAY_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICERELAY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICERELAY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICERELAY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICERELAY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICERELAY_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "VOICERELAY_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOICERELAY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICERELAY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOICERELAY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICERELAY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICERELAY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICERELAY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICERELAY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICERELAY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "VOICERELAY_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOICERELAY_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOICERELAY_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VOICERELAY_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOICERELAY_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.AudioStore.Directory, "VOICERELAY_AUDIO_STORE_DIRECTORY")
	overrideString(&cfg.AudioStore.PublicPath, "VOICERELAY_AUDIO_STORE_PUBLIC_PATH")
	overrideInt(&cfg.AudioStore.MaxAgeHrs, "VOICERELAY_AUDIO_STORE_MAX_AGE_HOURS")
	overrideString(&cfg.STT.Mode, "VOICERELAY_STT_MODE")
	overrideString(&cfg.STT.APIKey, "VOICERELAY_STT_API_KEY")
	overrideString(&cfg.STT.Endpoint, "VOICERELAY_STT_ENDPOINT")
	overrideString(&cfg.STT.Model, "VOICERELAY_STT_MODEL")
	overrideString(&cfg.STT.Language, "VOICERELAY_STT_LANGUAGE")
	overrideString(&cfg.STT.Command, "VOICERELAY_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "VOICERELAY_STT_MODEL_PATH")
	overrideInt(&cfg.STT.SampleRate, "VOICERELAY_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "VOICERELAY_STT_CHANNELS")
	overrideInt(&cfg.STT.TimeoutMS, "VOICERELAY_STT_TIMEOUT_MS")
	overrideString(&cfg.LLM.Mode, "VOICERELAY_LLM_MODE")
	overrideString(&cfg.LLM.APIKey, "VOICERELAY_LLM_API_KEY")
	overrideString(&cfg.LLM.Endpoint, "VOICERELAY_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Model, "VOICERELAY_LLM_MODEL")
	overrideString(&cfg.LLM.Command, "VOICERELAY_LLM_COMMAND")
	overrideString(&cfg.LLM.SystemPrompt, "VOICERELAY_LLM_SYSTEM_PROMPT")
	overrideInt(&cfg.LLM.MaxTokens, "VOICERELAY_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "VOICERELAY_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "VOICERELAY_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "VOICERELAY_TTS_MODE")
	overrideString(&cfg.TTS.APIKey, "VOICERELAY_TTS_API_KEY")
	overrideString(&cfg.TTS.Endpoint, "VOICERELAY_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Voice, "VOICERELAY_TTS_VOICE")
	overrideString(&cfg.TTS.Command, "VOICERELAY_TTS_COMMAND")
	overrideInt(&cfg.TTS.SampleRate, "VOICERELAY_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.TimeoutMS, "VOICERELAY_TTS_TIMEOUT_MS")
	overrideString(&cfg.Relay.BoundaryURL, "VOICERELAY_RELAY_BOUNDARY_URL")
	overrideString(&cfg.Relay.SpoolDir, "VOICERELAY_RELAY_SPOOL_DIR")
	overrideInt(&cfg.Relay.TimeoutMS, "VOICERELAY_RELAY_TIMEOUT_MS")
	overrideInt64(&cfg.Relay.MaxBodyBytes, "VOICERELAY_RELAY_MAX_BODY_BYTES")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
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
	if cfg.EventStore.Path == "" {
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
	if cfg.AudioStore.Directory == "" {
		return errors.New("audio_store.directory must not be empty")
	}
	if !strings.HasPrefix(cfg.AudioStore.PublicPath, "/") {
		return errors.New("audio_store.public_path must start with /")
	}
	switch cfg.STT.Mode {
	case "mock", "deepgram", "exec":
	default:
		return errors.New("stt.mode must be one of mock|deepgram|exec")
	}
	if cfg.STT.Mode == "deepgram" && cfg.STT.APIKey == "" {
		return errors.New("stt.api_key must be set when mode=deepgram")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.Channels <= 0 {
		return errors.New("stt.channels must be positive")
	}
	switch cfg.LLM.Mode {
	case "mock", "groq", "exec":
	default:
		return errors.New("llm.mode must be one of mock|groq|exec")
	}
	if cfg.LLM.Mode == "groq" && cfg.LLM.APIKey == "" {
		return errors.New("llm.api_key must be set when mode=groq")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "deepgram", "exec":
	default:
		return errors.New("tts.mode must be one of mock|deepgram|exec")
	}
	if cfg.TTS.Mode == "deepgram" && cfg.TTS.APIKey == "" {
		return errors.New("tts.api_key must be set when mode=deepgram")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.Relay.BoundaryURL == "" {
		return errors.New("relay.boundary_url must not be empty")
	}
	if cfg.Relay.MaxBodyBytes <= 0 {
		return errors.New("relay.max_body_bytes must be positive")
	}
	return nil
}
