package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for deskbot.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Escalation EscalationConfig `json:"escalation"`
	Handoff    HandoffConfig    `json:"handoff"`
	Metrics    MetricsConfig    `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
	RequestTimeout int      `json:"requestTimeoutSeconds"` // whole-request budget for /api/chat
}

type StorageConfig struct {
	DBPath string `json:"dbPath"`
}

type OpenAIConfig struct {
	APIKey          string  `json:"apiKey"`
	Model           string  `json:"model"`
	ClassifierModel string  `json:"classifierModel"`
	MaxTokens       int     `json:"maxTokens"`
	Temperature     float64 `json:"temperature"`
	TimeoutSeconds  int     `json:"timeoutSeconds"` // per-call bound for generation

	// ClassifierTimeoutSeconds bounds a single classification call; on
	// timeout the label degrades to neutral.
	ClassifierTimeoutSeconds int `json:"classifierTimeoutSeconds"`
}

type RetrievalConfig struct {
	TopK         int     `json:"topK"`
	MinScore     float64 `json:"minScore"`
	ChunkSize    int     `json:"chunkSize"`    // words per chunk
	ChunkOverlap int     `json:"chunkOverlap"` // overlapping words between chunks
}

// EscalationConfig tunes the decision engine. The trigger thresholds are
// deliberately biased toward precision: a missed escalation is recoverable
// (the user can ask explicitly), a spurious one wastes human attention.
type EscalationConfig struct {
	VocabPath            string  `json:"vocabPath,omitempty"` // optional YAML phrase list
	SentimentWindow      int     `json:"sentimentWindow"`
	MinLabeledMessages   int     `json:"minLabeledMessages"`
	RepetitionWindow     int     `json:"repetitionWindow"`
	MinUserMessages      int     `json:"minUserMessages"`
	SimilarityThreshold  float64 `json:"similarityThreshold"`
	ExactRepeatThreshold int     `json:"exactRepeatThreshold"`
	SimilarThreshold     int     `json:"similarThreshold"`
}

type HandoffConfig struct {
	Ticket   TicketConfig   `json:"ticket"`
	Telegram TelegramConfig `json:"telegram"`
	// WebhookSecret, when set, requires HMAC-SHA256 signatures on the
	// inbound agent-reply webhook.
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

type TicketConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"`
	Secret   string `json:"secret,omitempty"` // HMAC secret for signing outbound requests
}

// TelegramConfig configures the escalation alert sent to the support team
// chat. Optional; ticket creation is the primary notification channel.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chatId,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingConfig struct {
	Level string `json:"level"` // debug | info | warn | error
}

// DefaultConfigDir returns the default config directory (~/.deskbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskbot"
	}
	return filepath.Join(home, ".deskbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Escalation.VocabPath = ExpandPath(cfg.Escalation.VocabPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.RequestTimeout < 1 {
		errs = append(errs, "server.requestTimeoutSeconds must be >= 1")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.dbPath is required")
	}
	if cfg.OpenAI.TimeoutSeconds < 1 {
		errs = append(errs, "openai.timeoutSeconds must be >= 1")
	}
	if cfg.OpenAI.ClassifierTimeoutSeconds < 1 {
		errs = append(errs, "openai.classifierTimeoutSeconds must be >= 1")
	}
	if cfg.Retrieval.TopK < 1 {
		errs = append(errs, "retrieval.topK must be >= 1")
	}
	if cfg.Retrieval.MinScore < 0 || cfg.Retrieval.MinScore > 1 {
		errs = append(errs, "retrieval.minScore must be between 0 and 1")
	}
	if cfg.Retrieval.ChunkSize < 1 {
		errs = append(errs, "retrieval.chunkSize must be >= 1")
	}
	if cfg.Retrieval.ChunkOverlap < 0 || cfg.Retrieval.ChunkOverlap >= cfg.Retrieval.ChunkSize {
		errs = append(errs, "retrieval.chunkOverlap must be >= 0 and < chunkSize")
	}
	if cfg.Escalation.SentimentWindow < 1 {
		errs = append(errs, "escalation.sentimentWindow must be >= 1")
	}
	if cfg.Escalation.RepetitionWindow < 1 {
		errs = append(errs, "escalation.repetitionWindow must be >= 1")
	}
	if cfg.Escalation.SimilarityThreshold <= 0 || cfg.Escalation.SimilarityThreshold > 1 {
		errs = append(errs, "escalation.similarityThreshold must be in (0, 1]")
	}
	if cfg.Handoff.Ticket.Enabled && cfg.Handoff.Ticket.Endpoint == "" {
		errs = append(errs, "handoff.ticket.endpoint is required when ticket creation is enabled")
	}
	if cfg.Handoff.Telegram.Enabled {
		if cfg.Handoff.Telegram.Token == "" {
			errs = append(errs, "handoff.telegram.token is required when telegram alerts are enabled")
		}
		if cfg.Handoff.Telegram.ChatID == 0 {
			errs = append(errs, "handoff.telegram.chatId is required when telegram alerts are enabled")
		}
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
