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
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
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
}

// AudioConfig describes the playback pipeline: fixed output format plus the
// window/fade/pre-roll geometry used by the scheduler and shaper.
type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
	WindowMS   int     `yaml:"window_ms"`
	FadeMS     int     `yaml:"fade_ms"`
	PreRollMS  int     `yaml:"preroll_ms"`
	Volume     float64 `yaml:"volume"`
}

type SpeechConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec, websocket
	Command    string `yaml:"command"`
	Endpoint   string `yaml:"endpoint"`
	Voice      string `yaml:"voice"`
	APIKeyName string `yaml:"api_key_name"`
	PlayerCmd  string `yaml:"player_command"`
	BargeIn    bool   `yaml:"barge_in"`
}

type DiarizeConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Mode           string  `yaml:"mode"` // mock, exec
	Command        string  `yaml:"command"`
	SampleRate     int     `yaml:"sample_rate"`
	MatchThreshold float64 `yaml:"match_threshold"`
	UpdateWeight   float64 `yaml:"update_weight"`
}

type GalleryConfig struct {
	Path string `yaml:"path"`
}

type TimelineConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CredentialsConfig struct {
	Mode string `yaml:"mode"` // env, file
	Path string `yaml:"path"`
}

type NodeConfig struct {
	ID                string   `yaml:"id"`
	Role              string   `yaml:"role"`
	HeartbeatInterval int      `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int      `yaml:"heartbeat_timeout_ms"`
	Capabilities      []string `yaml:"capabilities"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Node        NodeConfig        `yaml:"node"`
	Audio       AudioConfig       `yaml:"audio"`
	Speech      SpeechConfig      `yaml:"speech"`
	Diarize     DiarizeConfig     `yaml:"diarize"`
	Gallery     GalleryConfig     `yaml:"gallery"`
	Timeline    TimelineConfig    `yaml:"timeline"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

func Default() Config {
	return Config{
		RuntimeName: "murmur-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "murmur-node-1",
			Role:              "runtime",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities:      []string{"speech.playback"},
		},
		Audio: AudioConfig{
			SampleRate: 24000,
			Channels:   1,
			WindowMS:   200,
			FadeMS:     50,
			PreRollMS:  20,
			Volume:     1.0,
		},
		Speech: SpeechConfig{
			Enabled:    false,
			Mode:       "mock",
			Voice:      "en-US",
			APIKeyName: "tts_api_key",
			BargeIn:    false,
		},
		Diarize: DiarizeConfig{
			Enabled:        false,
			Mode:           "mock",
			SampleRate:     16000,
			MatchThreshold: 0.45,
			UpdateWeight:   0.15,
		},
		Gallery: GalleryConfig{
			Path: "./data/speakers.json",
		},
		Timeline: TimelineConfig{
			Path:          "./data/murmur-timeline.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Credentials: CredentialsConfig{
			Mode: "env",
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
	overrideString(&cfg.RuntimeName, "MURMUR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MURMUR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MURMUR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "MURMUR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMUR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MURMUR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MURMUR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MURMUR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MURMUR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MURMUR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMUR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "MURMUR_NODE_ID")
	overrideString(&cfg.Node.Role, "MURMUR_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "MURMUR_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "MURMUR_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "MURMUR_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "MURMUR_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.WindowMS, "MURMUR_AUDIO_WINDOW_MS")
	overrideInt(&cfg.Audio.FadeMS, "MURMUR_AUDIO_FADE_MS")
	overrideInt(&cfg.Audio.PreRollMS, "MURMUR_AUDIO_PREROLL_MS")
	overrideFloat(&cfg.Audio.Volume, "MURMUR_AUDIO_VOLUME")
	overrideBool(&cfg.Speech.Enabled, "MURMUR_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Mode, "MURMUR_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "MURMUR_SPEECH_COMMAND")
	overrideString(&cfg.Speech.Endpoint, "MURMUR_SPEECH_ENDPOINT")
	overrideString(&cfg.Speech.Voice, "MURMUR_SPEECH_VOICE")
	overrideString(&cfg.Speech.APIKeyName, "MURMUR_SPEECH_API_KEY_NAME")
	overrideString(&cfg.Speech.PlayerCmd, "MURMUR_SPEECH_PLAYER_COMMAND")
	overrideBool(&cfg.Speech.BargeIn, "MURMUR_SPEECH_BARGE_IN")
	overrideBool(&cfg.Diarize.Enabled, "MURMUR_DIARIZE_ENABLED")
	overrideString(&cfg.Diarize.Mode, "MURMUR_DIARIZE_MODE")
	overrideString(&cfg.Diarize.Command, "MURMUR_DIARIZE_COMMAND")
	overrideInt(&cfg.Diarize.SampleRate, "MURMUR_DIARIZE_SAMPLE_RATE")
	overrideFloat(&cfg.Diarize.MatchThreshold, "MURMUR_DIARIZE_MATCH_THRESHOLD")
	overrideFloat(&cfg.Diarize.UpdateWeight, "MURMUR_DIARIZE_UPDATE_WEIGHT")
	overrideString(&cfg.Gallery.Path, "MURMUR_GALLERY_PATH")
	overrideString(&cfg.Timeline.Path, "MURMUR_TIMELINE_PATH")
	overrideString(&cfg.Timeline.RetentionMode, "MURMUR_TIMELINE_RETENTION_MODE")
	overrideInt(&cfg.Timeline.RetentionDays, "MURMUR_TIMELINE_RETENTION_DAYS")
	overrideInt(&cfg.Timeline.MaxSessions, "MURMUR_TIMELINE_MAX_SESSIONS")
	overrideBool(&cfg.Timeline.VacuumOnStart, "MURMUR_TIMELINE_VACUUM_ON_START")
	overrideString(&cfg.Credentials.Mode, "MURMUR_CREDENTIALS_MODE")
	overrideString(&cfg.Credentials.Path, "MURMUR_CREDENTIALS_PATH")
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1 (mono playback only)")
	}
	if cfg.Audio.WindowMS <= 0 {
		return errors.New("audio.window_ms must be positive")
	}
	if cfg.Audio.FadeMS < 0 || cfg.Audio.PreRollMS < 0 {
		return errors.New("audio.fade_ms and audio.preroll_ms must not be negative")
	}
	if cfg.Audio.Volume < 0 || cfg.Audio.Volume > 1 {
		return errors.New("audio.volume must be between 0.0 and 1.0")
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Mode {
		case "mock", "exec", "websocket":
		default:
			return errors.New("speech.mode must be one of mock|exec|websocket")
		}
		if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when mode=exec")
		}
		if cfg.Speech.Mode == "websocket" && cfg.Speech.Endpoint == "" {
			return errors.New("speech.endpoint must be set when mode=websocket")
		}
	}
	if cfg.Diarize.Enabled {
		switch cfg.Diarize.Mode {
		case "mock", "exec":
		default:
			return errors.New("diarize.mode must be one of mock|exec")
		}
		if cfg.Diarize.Mode == "exec" && cfg.Diarize.Command == "" {
			return errors.New("diarize.command must be set when mode=exec")
		}
		if cfg.Diarize.SampleRate <= 0 {
			return errors.New("diarize.sample_rate must be positive")
		}
		if cfg.Diarize.MatchThreshold <= 0 || cfg.Diarize.MatchThreshold >= 1 {
			return errors.New("diarize.match_threshold must be in (0, 1)")
		}
		if cfg.Diarize.UpdateWeight <= 0 || cfg.Diarize.UpdateWeight >= 1 {
			return errors.New("diarize.update_weight must be in (0, 1)")
		}
		if cfg.Gallery.Path == "" {
			return errors.New("gallery.path must not be empty when diarization is enabled")
		}
	}
	if cfg.Timeline.Path == "" {
		return errors.New("timeline.path must not be empty")
	}
	switch cfg.Timeline.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("timeline.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Timeline.RetentionDays < 0 {
		return errors.New("timeline.retention_days must be >= 0")
	}
	switch cfg.Credentials.Mode {
	case "env", "file":
	default:
		return errors.New("credentials.mode must be one of env|file")
	}
	if cfg.Credentials.Mode == "file" && cfg.Credentials.Path == "" {
		return errors.New("credentials.path must be set when mode=file")
	}
	return nil
}
