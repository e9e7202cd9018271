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
	LogFormat      string `yaml:"log_format"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	Synth       SynthConfig      `yaml:"synth"`
	Validation  ValidationConfig `yaml:"validation"`
	Storage     StorageConfig    `yaml:"storage"`
	Speech      SpeechConfig     `yaml:"speech"`
	Gateway     GatewayConfig    `yaml:"gateway"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	StoreDir       string   `yaml:"store_dir"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type SynthConfig struct {
	Mode             string `yaml:"mode"` // mock, exec, openai, google
	Command          string `yaml:"command"`
	APIBase          string `yaml:"api_base"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	Voice            string `yaml:"voice"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	BitsPerSample    int    `yaml:"bits_per_sample"`
	MaxChunkChars    int    `yaml:"max_chunk_chars"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

type ValidationConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Endpoint  string  `yaml:"endpoint"`
	Threshold float64 `yaml:"threshold"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver"` // sqlite, file, memory
	Path          string `yaml:"path"`
	CapacityBytes int64  `yaml:"capacity_bytes"`
	MediaDir      string `yaml:"media_dir"`
}

type SpeechConfig struct {
	Enabled bool `yaml:"enabled"`
}

type GatewayConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Bind           string   `yaml:"bind"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func Default() Config {
	return Config{
		RuntimeName: "narrator-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "text",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			StoreDir:       "./data/nats",
		},
		Node: NodeConfig{
			ID:                "narrator-node-1",
			Role:              "runtime",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Synth: SynthConfig{
			Mode:             "mock",
			APIBase:          "https://api.openai.com",
			Model:            "gpt-4o-mini-tts",
			Voice:            "alloy",
			SampleRate:       24000,
			Channels:         1,
			BitsPerSample:    16,
			MaxChunkChars:    1000,
			RequestTimeoutMS: 60000,
		},
		Validation: ValidationConfig{
			Enabled:   false,
			Endpoint:  "",
			Threshold: 2.0,
		},
		Storage: StorageConfig{
			Driver:        "sqlite",
			Path:          "./data/narrator-slots.db",
			CapacityBytes: 5242880,
			MediaDir:      "./data/media",
		},
		Speech: SpeechConfig{
			Enabled: true,
		},
		Gateway: GatewayConfig{
			Enabled:        true,
			Bind:           "0.0.0.0",
			Port:           8085,
			AllowedOrigins: []string{"*"},
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
	overrideString(&cfg.RuntimeName, "NARRATOR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "NARRATOR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRATOR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATOR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "NARRATOR_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATOR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "NARRATOR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "NARRATOR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRATOR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATOR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATOR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATOR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.StoreDir, "NARRATOR_BUS_STORE_DIR")
	overrideString(&cfg.Node.ID, "NARRATOR_NODE_ID")
	overrideString(&cfg.Node.Role, "NARRATOR_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "NARRATOR_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "NARRATOR_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Synth.Mode, "NARRATOR_SYNTH_MODE")
	overrideString(&cfg.Synth.Command, "NARRATOR_SYNTH_COMMAND")
	overrideString(&cfg.Synth.APIBase, "NARRATOR_SYNTH_API_BASE")
	overrideString(&cfg.Synth.APIKey, "NARRATOR_SYNTH_API_KEY")
	overrideString(&cfg.Synth.Model, "NARRATOR_SYNTH_MODEL")
	overrideString(&cfg.Synth.Voice, "NARRATOR_SYNTH_VOICE")
	overrideInt(&cfg.Synth.SampleRate, "NARRATOR_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.Channels, "NARRATOR_SYNTH_CHANNELS")
	overrideInt(&cfg.Synth.BitsPerSample, "NARRATOR_SYNTH_BITS_PER_SAMPLE")
	overrideInt(&cfg.Synth.MaxChunkChars, "NARRATOR_SYNTH_MAX_CHUNK_CHARS")
	overrideInt(&cfg.Synth.RequestTimeoutMS, "NARRATOR_SYNTH_REQUEST_TIMEOUT_MS")
	overrideBool(&cfg.Validation.Enabled, "NARRATOR_VALIDATION_ENABLED")
	overrideString(&cfg.Validation.Endpoint, "NARRATOR_VALIDATION_ENDPOINT")
	overrideFloat(&cfg.Validation.Threshold, "NARRATOR_VALIDATION_THRESHOLD")
	overrideString(&cfg.Storage.Driver, "NARRATOR_STORAGE_DRIVER")
	overrideString(&cfg.Storage.Path, "NARRATOR_STORAGE_PATH")
	overrideInt64(&cfg.Storage.CapacityBytes, "NARRATOR_STORAGE_CAPACITY_BYTES")
	overrideString(&cfg.Storage.MediaDir, "NARRATOR_STORAGE_MEDIA_DIR")
	overrideBool(&cfg.Speech.Enabled, "NARRATOR_SPEECH_ENABLED")
	overrideBool(&cfg.Gateway.Enabled, "NARRATOR_GATEWAY_ENABLED")
	overrideString(&cfg.Gateway.Bind, "NARRATOR_GATEWAY_BIND")
	overrideInt(&cfg.Gateway.Port, "NARRATOR_GATEWAY_PORT")
	overrideStringSlice(&cfg.Gateway.AllowedOrigins, "NARRATOR_GATEWAY_ALLOWED_ORIGINS")
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
	switch cfg.Telemetry.LogFormat {
	case "", "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	switch cfg.Synth.Mode {
	case "mock", "exec", "openai", "google":
	default:
		return errors.New("synth.mode must be one of mock|exec|openai|google")
	}
	if cfg.Synth.Mode == "exec" && cfg.Synth.Command == "" {
		return errors.New("synth.command must be set when mode=exec")
	}
	if cfg.Synth.Mode == "openai" && cfg.Synth.APIBase == "" {
		return errors.New("synth.api_base must be set when mode=openai")
	}
	if cfg.Synth.SampleRate <= 0 {
		return errors.New("synth.sample_rate must be positive")
	}
	if cfg.Synth.Channels <= 0 {
		return errors.New("synth.channels must be positive")
	}
	if cfg.Synth.BitsPerSample <= 0 || cfg.Synth.BitsPerSample%8 != 0 {
		return errors.New("synth.bits_per_sample must be a positive multiple of 8")
	}
	if cfg.Synth.MaxChunkChars <= 0 {
		return errors.New("synth.max_chunk_chars must be positive")
	}
	if cfg.Synth.RequestTimeoutMS <= 0 {
		return errors.New("synth.request_timeout_ms must be positive")
	}
	if cfg.Validation.Enabled && cfg.Validation.Endpoint == "" {
		return errors.New("validation.endpoint must be set when validation is enabled")
	}
	if cfg.Validation.Threshold < 0 {
		return errors.New("validation.threshold must be >= 0")
	}
	switch cfg.Storage.Driver {
	case "sqlite", "file", "memory":
	default:
		return errors.New("storage.driver must be one of sqlite|file|memory")
	}
	if cfg.Storage.Driver != "memory" && cfg.Storage.Path == "" {
		return errors.New("storage.path must not be empty")
	}
	if cfg.Storage.CapacityBytes <= 0 {
		return errors.New("storage.capacity_bytes must be positive")
	}
	if cfg.Storage.MediaDir == "" {
		return errors.New("storage.media_dir must not be empty")
	}
	if cfg.Gateway.Enabled {
		if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
			return errors.New("gateway.port must be between 1 and 65535 when the gateway is enabled")
		}
	}
	return nil
}
