package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for CareBot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Provider  ProviderConfig  `json:"provider"`
	Voice     VoiceConfig     `json:"voice"`
	Channels  ChannelsConfig  `json:"channels"`
	Store     StoreConfig     `json:"store"`
	Tools     ToolsConfig     `json:"tools"`
	Rides     RidesConfig     `json:"rides"`
	Reminders RemindersConfig `json:"reminders"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel          string `json:"logLevel"`
	MaxSteps          int    `json:"maxSteps"` // tool-call rounds per agent turn
	Timezone          string `json:"timezone"`
	SystemPromptExtra string `json:"systemPromptExtra,omitempty"`
}

type ProviderConfig struct {
	APIBase      string `json:"apiBase"`
	APIKey       string `json:"apiKey"`
	DefaultModel string `json:"defaultModel"`
	// FastModel handles the structuring passes (ride extraction, card
	// summaries). Falls back to DefaultModel when empty.
	FastModel string `json:"fastModel,omitempty"`
}

type VoiceConfig struct {
	STTBase  string    `json:"sttBase,omitempty"`
	STTKey   string    `json:"sttKey,omitempty"`
	STTModel string    `json:"sttModel,omitempty"`
	TTS      TTSConfig `json:"tts"`
}

type TTSConfig struct {
	Provider string `json:"provider"` // "openai" | "elevenlabs" | ""
	APIKey   string `json:"apiKey,omitempty"`
	Voice    string `json:"voice,omitempty"`
	Model    string `json:"model,omitempty"`
}

type ChannelsConfig struct {
	Web      WebConfig      `json:"web"`
	CLI      CLIConfig      `json:"cli"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	// CaregiverChatID receives reminder messages.
	CaregiverChatID string `json:"caregiverChatId,omitempty"`
}

type StoreConfig struct {
	DBPath                    string `json:"dbPath"`
	MaxHistoryPerConversation int    `json:"maxHistoryPerConversation"`
}

type ToolsConfig struct {
	// RemoteBase, when set, proxies the listed tools to a tool server
	// at <remoteBase>/api/tools/run instead of running them in-process.
	RemoteBase  string   `json:"remoteBase,omitempty"`
	RemoteTools []string `json:"remoteTools,omitempty"`
	// ServerPort is where `carebot toolserver` listens.
	ServerPort int            `json:"serverPort"`
	Mail       MailConfig     `json:"mail"`
	Calendar   CalendarConfig `json:"calendar"`
}

// MailConfig points at the mail gateway used by the email tools.
type MailConfig struct {
	APIBase string `json:"apiBase,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
}

// CalendarConfig points at the scheduling service used by the
// appointment tools.
type CalendarConfig struct {
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Username string `json:"username,omitempty"`
}

type RidesConfig struct {
	// ProfileDir is the Chrome profile provisioned by `carebot ride-login`.
	ProfileDir string `json:"profileDir"`
	Headless   bool   `json:"headless"`
	BookingURL string `json:"bookingUrl"`
	GroceryURL string `json:"groceryUrl,omitempty"`
	MaxSteps   int    `json:"maxSteps"` // browser agent step cap
}

type RemindersConfig struct {
	Enabled bool           `json:"enabled"`
	Tasks   []ReminderTask `json:"tasks"`
}

type ReminderTask struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	IntervalS int    `json:"intervalSeconds"`
	Channel   string `json:"channel"`
	ChatID    string `json:"chatId"`
	Enabled   bool   `json:"enabled"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.carebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".carebot"
	}
	return filepath.Join(home, ".carebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			MaxSteps: 10,
			Timezone: "America/Los_Angeles",
		},
		Provider: ProviderConfig{
			APIBase:      "https://api.openai.com/v1",
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			DefaultModel: "gpt-4o",
			FastModel:    "gpt-4o-mini",
		},
		Voice: VoiceConfig{
			STTModel: "whisper-1",
			TTS: TTSConfig{
				Provider: "openai",
				Voice:    "nova",
				Model:    "tts-1",
			},
		},
		Channels: ChannelsConfig{
			Web: WebConfig{Enabled: true, Host: "127.0.0.1", Port: 8787},
			CLI: CLIConfig{Enabled: false},
		},
		Store: StoreConfig{
			DBPath:                    "~/.carebot/carebot.db",
			MaxHistoryPerConversation: 40,
		},
		Tools: ToolsConfig{
			ServerPort: 8790,
		},
		Rides: RidesConfig{
			ProfileDir: "~/.carebot/ride-profile",
			Headless:   true,
			BookingURL: "https://m.uber.com/go/home",
			MaxSteps:   25,
		},
		Reminders: RemindersConfig{Enabled: false},
		Metrics:   MetricsConfig{Enabled: true},
	}
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

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Rides.ProfileDir = ExpandPath(cfg.Rides.ProfileDir)

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
			return match // keep original if no env var and no default
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

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxSteps < 1 || cfg.General.MaxSteps > 50 {
		errs = append(errs, "general.maxSteps must be between 1 and 50")
	}
	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Tools.ServerPort < 0 || cfg.Tools.ServerPort > 65535 {
		errs = append(errs, "tools.serverPort must be between 0 and 65535")
	}
	if cfg.Store.MaxHistoryPerConversation < 1 {
		errs = append(errs, "store.maxHistoryPerConversation must be >= 1")
	}
	if cfg.Rides.MaxSteps < 1 || cfg.Rides.MaxSteps > 100 {
		errs = append(errs, "rides.maxSteps must be between 1 and 100")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if len(cfg.Tools.RemoteTools) > 0 && cfg.Tools.RemoteBase == "" {
		errs = append(errs, "tools.remoteBase is required when tools.remoteTools is set")
	}
	switch cfg.Voice.TTS.Provider {
	case "", "openai", "elevenlabs":
		// valid
	default:
		errs = append(errs, "voice.tts.provider must be one of: openai, elevenlabs")
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
