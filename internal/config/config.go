package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

type Config struct {
	Mode     Mode   `yaml:"mode"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	StorageBackend string `yaml:"storage_backend"` // memory, sqlite, redis or firestore
	SQLitePath     string `yaml:"sqlite_path"`
	RedisAddr      string `yaml:"redis_addr"`
	EventsBackend  string `yaml:"events_backend"` // memory or redis

	GCPProjectID string `yaml:"gcp_project"`
	GCPLocation  string `yaml:"gcp_location"`

	Gateway         string        `yaml:"gateway"` // mock, http, vertex, gemini, openai, anthropic
	ModelName       string        `yaml:"model_name"`
	AnswerURL       string        `yaml:"answer_url"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	GeminiAPIKey    string        `yaml:"gemini_api_key"`
	GatewayTimeout  time.Duration `yaml:"gateway_timeout"`

	JWTSecret  string `yaml:"jwt_secret"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Default returns the local-mode configuration.
func Default() *Config {
	return &Config{
		Mode:           ModeLocal,
		Port:           "8080",
		LogLevel:       "info",
		StorageBackend: "memory",
		SQLitePath:     "chatlog.db",
		RedisAddr:      "localhost:6379",
		EventsBackend:  "memory",
		GCPLocation:    "us-central1",
		Gateway:        "mock",
		ModelName:      "gemini-2.5-flash-lite",
		AnswerURL:      "http://localhost:8000",
		GatewayTimeout: 60 * time.Second,
		JWTSecret:      "dev-secret",
		CORSOrigin:     "*",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getDurationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return d, nil
}

// Load builds the config from defaults, an optional YAML file and CHATLOG_* env vars,
// in that order. path may be empty; CHATLOG_CONFIG is used then.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CHATLOG_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

func (c *Config) applyEnv() error {
	switch getEnv("CHATLOG_MODE", string(c.Mode)) {
	case "gcp":
		c.Mode = ModeGCP
	default:
		c.Mode = ModeLocal
	}

	c.Port = getEnv("CHATLOG_PORT", getEnv("PORT", c.Port))
	c.LogLevel = getEnv("CHATLOG_LOG_LEVEL", c.LogLevel)

	c.StorageBackend = getEnv("CHATLOG_STORAGE_BACKEND", c.StorageBackend)
	c.SQLitePath = getEnv("CHATLOG_SQLITE_PATH", c.SQLitePath)
	c.RedisAddr = getEnv("CHATLOG_REDIS_ADDR", c.RedisAddr)
	c.EventsBackend = getEnv("CHATLOG_EVENTS_BACKEND", c.EventsBackend)

	c.GCPProjectID = getEnv("CHATLOG_GCP_PROJECT", c.GCPProjectID)
	c.GCPLocation = getEnv("CHATLOG_GCP_LOCATION", c.GCPLocation)

	c.Gateway = getEnv("CHATLOG_GATEWAY", c.Gateway)
	if getBoolEnv("CHATLOG_USE_MOCK_LLM", false) {
		c.Gateway = "mock"
	}
	c.ModelName = getEnv("CHATLOG_MODEL_NAME", c.ModelName)
	c.AnswerURL = getEnv("CHATLOG_ANSWER_URL", c.AnswerURL)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("CHATLOG_OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)

	timeout, err := getDurationEnv("CHATLOG_GATEWAY_TIMEOUT", c.GatewayTimeout)
	if err != nil {
		return err
	}
	c.GatewayTimeout = timeout

	c.JWTSecret = getEnv("CHATLOG_JWT_SECRET", getEnv("JWT_SECRET", c.JWTSecret))
	c.CORSOrigin = getEnv("CHATLOG_CORS_ORIGIN", c.CORSOrigin)
	return nil
}

// Validate checks backend names and the settings each backend needs.
func (c *Config) Validate() error {
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	c.EventsBackend = strings.ToLower(strings.TrimSpace(c.EventsBackend))
	c.Gateway = strings.ToLower(strings.TrimSpace(c.Gateway))

	switch c.StorageBackend {
	case "memory", "sqlite", "redis":
	case "firestore":
		if c.GCPProjectID == "" {
			return errors.New("CHATLOG_GCP_PROJECT is required for the firestore storage backend")
		}
	default:
		return errors.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	switch c.EventsBackend {
	case "memory", "redis":
	default:
		return errors.Errorf("unknown events backend %q", c.EventsBackend)
	}

	switch c.Gateway {
	case "mock", "http", "openai", "anthropic", "gemini":
	case "vertex":
		if c.GCPProjectID == "" || c.GCPLocation == "" {
			return errors.New("CHATLOG_GCP_PROJECT and CHATLOG_GCP_LOCATION must be set for the vertex gateway")
		}
	default:
		return errors.Errorf("unknown gateway %q", c.Gateway)
	}

	if c.GatewayTimeout <= 0 {
		return errors.New("gateway timeout must be positive")
	}

	// Minimal validation in GCP mode
	if c.Mode == ModeGCP && c.GCPProjectID == "" {
		return errors.New("CHATLOG_GCP_PROJECT must be set in gcp mode")
	}
	if c.Mode == ModeGCP && c.JWTSecret == Default().JWTSecret {
		return errors.New("CHATLOG_JWT_SECRET must be set in gcp mode")
	}
	return nil
}
