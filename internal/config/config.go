package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSimpleReply     = "Hi! I'm busy right now, will get back to you soon! 😊"
	DefaultTimeoutSeconds  = 15
	DefaultBackendType     = "process"
	DefaultBackendCommand  = "python"
	DefaultBackendScript   = "gemini_bot.py"
	DefaultModel           = "claude-sonnet-4-5-20250929"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultMaxTokens       = 512
	DefaultStorageDriver   = "file"
	DefaultFlushCron       = "0 */5 * * * *"
	DefaultDailyReportCron = "0 55 23 * * *"
	DefaultBufSize         = 100
	DefaultWhatsAppLog     = "warn"

	// MonitorAll in the monitor list means "respond to everyone".
	MonitorAll = "ALL"
)

const (
	StorageDriverFile   = "file"
	StorageDriverSQLite = "sqlite"

	BackendProcess = "process"
	BackendOpenAI  = "openai"
	BackendAgent   = "agent"
)

type Config struct {
	Reply    ReplyConfig    `json:"reply"`
	Backend  BackendConfig  `json:"backend"`
	Provider ProviderConfig `json:"provider"`
	Channels ChannelsConfig `json:"channels"`
	Storage  StorageConfig  `json:"storage"`
	Schedule ScheduleConfig `json:"schedule"`
}

type ReplyConfig struct {
	MonitorContacts []string `json:"monitorContacts"`
	UseAI           bool     `json:"useAI"`
	SimpleReply     string   `json:"simpleReply"`
	TimeoutSeconds  int      `json:"timeoutSeconds"`
}

// Timeout bounds a single generation call.
func (r ReplyConfig) Timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

type BackendConfig struct {
	Type      string   `json:"type"` // "process" (default), "openai" or "agent"
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	Script    string   `json:"script,omitempty"`
	Model     string   `json:"model,omitempty"`
	MaxTokens int      `json:"maxTokens,omitempty"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
}

type WhatsAppConfig struct {
	Enabled   bool   `json:"enabled"`
	StorePath string `json:"storePath,omitempty"`
	LogLevel  string `json:"logLevel,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	Proxy   string `json:"proxy,omitempty"`
}

type StorageConfig struct {
	Driver string `json:"driver"` // "file" (default) or "sqlite"
	Dir    string `json:"dir"`
	DBPath string `json:"dbPath,omitempty"`
}

type ScheduleConfig struct {
	FlushCron       string `json:"flushCron"`
	DailyReportCron string `json:"dailyReportCron"`
}

func DefaultConfig() *Config {
	return &Config{
		Reply: ReplyConfig{
			MonitorContacts: []string{MonitorAll},
			UseAI:           true,
			SimpleReply:     DefaultSimpleReply,
			TimeoutSeconds:  DefaultTimeoutSeconds,
		},
		Backend: BackendConfig{
			Type:      DefaultBackendType,
			Command:   DefaultBackendCommand,
			Script:    DefaultBackendScript,
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:  true,
				LogLevel: DefaultWhatsAppLog,
			},
		},
		Storage: StorageConfig{
			Driver: DefaultStorageDriver,
			Dir:    filepath.Join(ConfigDir(), "data"),
		},
		Schedule: ScheduleConfig{
			FlushCron:       DefaultFlushCron,
			DailyReportCron: DefaultDailyReportCron,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".autoreply")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("AUTOREPLY_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("AUTOREPLY_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if useAI := os.Getenv("AUTOREPLY_USE_AI"); useAI != "" {
		if parsed, err := strconv.ParseBool(useAI); err == nil {
			cfg.Reply.UseAI = parsed
		}
	}
	if reply := os.Getenv("AUTOREPLY_SIMPLE_REPLY"); reply != "" {
		cfg.Reply.SimpleReply = reply
	}
	if monitor := os.Getenv("AUTOREPLY_MONITOR"); monitor != "" {
		cfg.Reply.MonitorContacts = splitList(monitor)
	}
	if backend := os.Getenv("AUTOREPLY_BACKEND"); backend != "" {
		cfg.Backend.Type = backend
	}
	if token := os.Getenv("AUTOREPLY_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if driver := os.Getenv("AUTOREPLY_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if dir := os.Getenv("AUTOREPLY_DATA_DIR"); dir != "" {
		cfg.Storage.Dir = dir
	}

	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.Reply.SimpleReply) == "" {
		cfg.Reply.SimpleReply = DefaultSimpleReply
	}
	if cfg.Reply.TimeoutSeconds <= 0 {
		cfg.Reply.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.Backend.Type == "" {
		cfg.Backend.Type = DefaultBackendType
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = defaults.Storage.Dir
	}
	if cfg.Schedule.FlushCron == "" {
		cfg.Schedule.FlushCron = DefaultFlushCron
	}
	if cfg.Schedule.DailyReportCron == "" {
		cfg.Schedule.DailyReportCron = DefaultDailyReportCron
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
