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

type EngineConfig struct {
	Mode          string `yaml:"mode"` // mock, exec
	Command       string `yaml:"command"`
	ModelID       string `yaml:"model_id"`
	SampleRate    int    `yaml:"sample_rate"`
	EagerLoad     bool   `yaml:"eager_load"`
	LoadTimeoutMS int    `yaml:"load_timeout_ms"`
}

type SynthesisConfig struct {
	MaxChunkRunes     int    `yaml:"max_chunk_runes"`
	LongTextThreshold int    `yaml:"long_text_threshold"`
	DefaultVoice      string `yaml:"default_voice"`
	DefaultLanguage   string `yaml:"default_language"`
	DefaultInstruct   string `yaml:"default_instruct"`
}

type PlaybackConfig struct {
	Enabled         bool `yaml:"enabled"`
	QueueDepth      int  `yaml:"queue_depth"`
	FramesPerBuffer int  `yaml:"frames_per_buffer"`
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

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Engine      EngineConfig    `yaml:"engine"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Playback    PlaybackConfig  `yaml:"playback"`
	Bus         BusConfig       `yaml:"bus"`
	History     HistoryConfig   `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "kokotts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8001,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Engine: EngineConfig{
			Mode:          "mock",
			ModelID:       "mlx-community/Kokoro-82M-bf16",
			SampleRate:    24000,
			EagerLoad:     false,
			LoadTimeoutMS: 120000,
		},
		Synthesis: SynthesisConfig{
			MaxChunkRunes:     100,
			LongTextThreshold: 120,
			DefaultVoice:      "jf_alpha",
			DefaultLanguage:   "Japanese",
		},
		Playback: PlaybackConfig{
			Enabled:         true,
			QueueDepth:      8,
			FramesPerBuffer: 1024,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Enabled:    true,
			Path:       "./data/kokotts-history.db",
			MaxRecords: 10000,
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
	overrideString(&cfg.RuntimeName, "KOKOTTS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "KOKOTTS_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "KOKOTTS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "KOKOTTS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "KOKOTTS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "KOKOTTS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "KOKOTTS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Engine.Mode, "KOKOTTS_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "KOKOTTS_ENGINE_COMMAND")
	overrideString(&cfg.Engine.ModelID, "KOKOTTS_ENGINE_MODEL_ID")
	overrideInt(&cfg.Engine.SampleRate, "KOKOTTS_ENGINE_SAMPLE_RATE")
	overrideBool(&cfg.Engine.EagerLoad, "KOKOTTS_ENGINE_EAGER_LOAD")
	overrideInt(&cfg.Engine.LoadTimeoutMS, "KOKOTTS_ENGINE_LOAD_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.MaxChunkRunes, "KOKOTTS_SYNTHESIS_MAX_CHUNK_RUNES")
	overrideInt(&cfg.Synthesis.LongTextThreshold, "KOKOTTS_SYNTHESIS_LONG_TEXT_THRESHOLD")
	overrideString(&cfg.Synthesis.DefaultVoice, "KOKOTTS_SYNTHESIS_DEFAULT_VOICE")
	overrideString(&cfg.Synthesis.DefaultLanguage, "KOKOTTS_SYNTHESIS_DEFAULT_LANGUAGE")
	overrideString(&cfg.Synthesis.DefaultInstruct, "KOKOTTS_SYNTHESIS_DEFAULT_INSTRUCT")
	overrideBool(&cfg.Playback.Enabled, "KOKOTTS_PLAYBACK_ENABLED")
	overrideInt(&cfg.Playback.QueueDepth, "KOKOTTS_PLAYBACK_QUEUE_DEPTH")
	overrideInt(&cfg.Playback.FramesPerBuffer, "KOKOTTS_PLAYBACK_FRAMES_PER_BUFFER")
	overrideBool(&cfg.Bus.Enabled, "KOKOTTS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "KOKOTTS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "KOKOTTS_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "KOKOTTS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "KOKOTTS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "KOKOTTS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "KOKOTTS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "KOKOTTS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "KOKOTTS_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.History.Enabled, "KOKOTTS_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "KOKOTTS_HISTORY_PATH")
	overrideInt(&cfg.History.MaxRecords, "KOKOTTS_HISTORY_MAX_RECORDS")
	overrideBool(&cfg.History.VacuumOnStart, "KOKOTTS_HISTORY_VACUUM_ON_START")
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Synthesis.MaxChunkRunes <= 0 {
		return errors.New("synthesis.max_chunk_runes must be positive")
	}
	if cfg.Synthesis.LongTextThreshold < cfg.Synthesis.MaxChunkRunes {
		return errors.New("synthesis.long_text_threshold must be >= max_chunk_runes")
	}
	if cfg.Synthesis.DefaultVoice == "" {
		return errors.New("synthesis.default_voice must not be empty")
	}
	if cfg.Synthesis.DefaultLanguage == "" {
		return errors.New("synthesis.default_language must not be empty")
	}
	if cfg.Playback.Enabled {
		if cfg.Playback.QueueDepth <= 0 {
			return errors.New("playback.queue_depth must be >= 1")
		}
		if cfg.Playback.FramesPerBuffer <= 0 {
			return errors.New("playback.frames_per_buffer must be positive")
		}
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
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when history is enabled")
		}
		if cfg.History.MaxRecords < 0 {
			return errors.New("history.max_records must be >= 0")
		}
	}
	return nil
}
