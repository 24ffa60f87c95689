package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	OpenAI   OpenAIConfig
	Storage  StorageConfig
	Chatbot  ChatbotConfig
	Reminder ReminderConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	APIToken string
	// MaxConns caps concurrent HTTP connections on the listener.
	MaxConns int
}

type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	ChatModel    string
	ExtractModel string
	EmbedModel   string
	ChatTimeout  time.Duration
	EmbedTimeout time.Duration
}

type StorageConfig struct {
	DataDir string
}

type ChatbotConfig struct {
	// WindowSize is the number of recent messages surfaced to generators.
	WindowSize int
	// MaxSessions and SessionTTL bound the in-process session cache.
	MaxSessions int
	SessionTTL  time.Duration
}

type ReminderConfig struct {
	ResendAPIKey string
	FromEmail    string
	AlertEmail   string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4200,
			MCPPort:  4201,
			MaxConns: 256,
		},
		OpenAI: OpenAIConfig{
			BaseURL:      "https://api.openai.com/v1",
			ChatModel:    "gpt-4o-mini",
			ExtractModel: "gpt-4o-mini",
			EmbedModel:   "text-embedding-3-small",
			ChatTimeout:  30 * time.Second,
			EmbedTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Chatbot: ChatbotConfig{
			WindowSize:  10,
			MaxSessions: 256,
			SessionTTL:  30 * time.Minute,
		},
		Reminder: ReminderConfig{
			FromEmail: "onboarding@resend.dev",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "leasebot")
	}
	return "data"
}

// Load reads configuration from a .env file (if present) and LEASEBOT_*
// environment variables layered over defaults. Environment variables always
// win over .env values already set in the process environment.
func Load() (Config, error) {
	// Missing .env is fine; explicit env vars are the source of truth.
	godotenv.Load()

	cfg := defaults()
	applyEnv(&cfg)

	if cfg.OpenAI.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenAI API key (set LEASEBOT_OPENAI_API_KEY)")
	}
	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: API bearer token (set LEASEBOT_API_TOKEN)")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.OpenAI.BaseURL, "LEASEBOT_OPENAI_BASE_URL")
	setString(&cfg.OpenAI.APIKey, "LEASEBOT_OPENAI_API_KEY")
	setString(&cfg.OpenAI.ChatModel, "LEASEBOT_CHAT_MODEL")
	setString(&cfg.OpenAI.ExtractModel, "LEASEBOT_EXTRACT_MODEL")
	setString(&cfg.OpenAI.EmbedModel, "LEASEBOT_EMBED_MODEL")
	setString(&cfg.Storage.DataDir, "LEASEBOT_DATA_DIR")
	setString(&cfg.Server.APIToken, "LEASEBOT_API_TOKEN")
	setString(&cfg.Reminder.ResendAPIKey, "LEASEBOT_RESEND_API_KEY")
	setString(&cfg.Reminder.FromEmail, "LEASEBOT_FROM_EMAIL")
	setString(&cfg.Reminder.AlertEmail, "LEASEBOT_ALERT_EMAIL")
	setString(&cfg.Log.Level, "LEASEBOT_LOG_LEVEL")

	setInt(&cfg.Server.Port, "LEASEBOT_PORT")
	setInt(&cfg.Server.MCPPort, "LEASEBOT_MCP_PORT")
	setInt(&cfg.Server.MaxConns, "LEASEBOT_MAX_CONNS")
	setInt(&cfg.Chatbot.WindowSize, "LEASEBOT_WINDOW_SIZE")
	setInt(&cfg.Chatbot.MaxSessions, "LEASEBOT_MAX_SESSIONS")

	setDuration(&cfg.OpenAI.ChatTimeout, "LEASEBOT_CHAT_TIMEOUT")
	setDuration(&cfg.OpenAI.EmbedTimeout, "LEASEBOT_EMBED_TIMEOUT")
	setDuration(&cfg.Chatbot.SessionTTL, "LEASEBOT_SESSION_TTL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
