package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers, so
// allowlists can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Bot     BotConfig     `json:"bot"`
	JS8Call JS8CallConfig `json:"js8call"`
	LXMF    LXMFConfig    `json:"lxmf"`
	Storage StorageConfig `json:"storage"`
	Log     LogConfig     `json:"log"`
}

type BotConfig struct {
	Name          string              `env:"JS8RELAY_BOT_NAME"           json:"name"`
	Admins        FlexibleStringSlice `env:"JS8RELAY_BOT_ADMINS"         json:"admins"`
	CommandPrefix string              `env:"JS8RELAY_BOT_COMMAND_PREFIX" json:"command_prefix"`
	DefaultGroups FlexibleStringSlice `env:"JS8RELAY_BOT_DEFAULT_GROUPS" json:"default_groups"`
	AnnounceCron  string              `env:"JS8RELAY_BOT_ANNOUNCE_CRON"  json:"announce_cron"`
	StatsCron     string              `env:"JS8RELAY_BOT_STATS_CRON"     json:"stats_cron"`
	Welcome       string              `env:"JS8RELAY_BOT_WELCOME"        json:"welcome"`
}

type JS8CallConfig struct {
	Host          string              `env:"JS8RELAY_JS8CALL_HOST"            json:"host"`
	Port          int                 `env:"JS8RELAY_JS8CALL_PORT"            json:"port"`
	Groups        FlexibleStringSlice `env:"JS8RELAY_JS8CALL_GROUPS"          json:"groups"`
	UrgentGroups  FlexibleStringSlice `env:"JS8RELAY_JS8CALL_URGENT_GROUPS"   json:"urgent_groups"`
	BlockedWords  FlexibleStringSlice `env:"JS8RELAY_JS8CALL_BLOCKED_WORDS"   json:"blocked_words"`
	MaxTextLength int                 `env:"JS8RELAY_JS8CALL_MAX_TEXT_LENGTH" json:"max_text_length"`
	DegradedAfter int                 `env:"JS8RELAY_JS8CALL_DEGRADED_AFTER"  json:"degraded_after"`
	AllowFrom     FlexibleStringSlice `env:"JS8RELAY_JS8CALL_ALLOW_FROM"      json:"allow_from"`
}

type LXMFConfig struct {
	GatewayURL  string              `env:"JS8RELAY_LXMF_GATEWAY_URL"  json:"gateway_url"`
	Identity    string              `env:"JS8RELAY_LXMF_IDENTITY"     json:"identity"`
	TopicPrefix string              `env:"JS8RELAY_LXMF_TOPIC_PREFIX" json:"topic_prefix"`
	Username    string              `env:"JS8RELAY_LXMF_USERNAME"     json:"username"`
	Password    string              `env:"JS8RELAY_LXMF_PASSWORD"     json:"password"`
	AllowFrom   FlexibleStringSlice `env:"JS8RELAY_LXMF_ALLOW_FROM"   json:"allow_from"`
}

type StorageConfig struct {
	Path string `env:"JS8RELAY_STORAGE_PATH" json:"path"`
}

type LogConfig struct {
	Level      string `env:"JS8RELAY_LOG_LEVEL"        json:"level"`
	File       string `env:"JS8RELAY_LOG_FILE"         json:"file"`
	Rotate     bool   `env:"JS8RELAY_LOG_ROTATE"       json:"rotate"`
	MaxSizeMB  int    `env:"JS8RELAY_LOG_MAX_SIZE_MB"  json:"max_size_mb"`
	MaxAgeDays int    `env:"JS8RELAY_LOG_MAX_AGE_DAYS" json:"max_age_days"`
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Name:          "js8relay",
			CommandPrefix: "/",
			DefaultGroups: FlexibleStringSlice{"@HAMNET"},
			AnnounceCron:  "0 */6 * * *",
			StatsCron:     "5 0 * * *",
			Welcome:       "Welcome to the JS8Call relay. Send /help for commands.",
		},
		JS8Call: JS8CallConfig{
			Host:          "127.0.0.1",
			Port:          2442,
			Groups:        FlexibleStringSlice{"@HAMNET"},
			UrgentGroups:  FlexibleStringSlice{"@URGENT", "@SOS"},
			MaxTextLength: 240,
			DegradedAfter: 5,
		},
		LXMF: LXMFConfig{
			GatewayURL:  "tcp://127.0.0.1:1883",
			TopicPrefix: "lxmf",
		},
		Storage: StorageConfig{
			Path: "~/.js8relay",
		},
		Log: LogConfig{
			Level:      "info",
			File:       "~/.js8relay/js8relay.log",
			Rotate:     true,
			MaxSizeMB:  10,
			MaxAgeDays: 14,
		},
	}
}

// LoadConfig reads the JSON config file, falling back to defaults when it
// does not exist, then applies JS8RELAY_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if c.JS8Call.Port <= 0 || c.JS8Call.Port > 65535 {
		return fmt.Errorf("js8call.port out of range: %d", c.JS8Call.Port)
	}
	if c.JS8Call.MaxTextLength <= 0 {
		return fmt.Errorf("js8call.max_text_length must be positive")
	}
	if c.Bot.CommandPrefix == "" {
		return fmt.Errorf("bot.command_prefix must not be empty")
	}
	return nil
}

// DataPath returns the storage directory with ~ expanded.
func (c *Config) DataPath() string {
	return expandHome(c.Storage.Path)
}

// LogPath returns the log file path with ~ expanded.
func (c *Config) LogPath() string {
	return expandHome(c.Log.File)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
