package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources       Sources       `yaml:"sources"`
	Summarization Summarization `yaml:"summarization"`
	Output        Output        `yaml:"output"`
	Server        Server        `yaml:"server"`
	Notify        Notify        `yaml:"notify"`
	Retention     Retention     `yaml:"retention"`
	Logging       Logging       `yaml:"logging"`
}

type Sources struct {
	Feeds   []Feed        `yaml:"feeds"`
	Arxiv   ArxivConfig   `yaml:"arxiv"`
	GitHub  GitHubConfig  `yaml:"github"`
	Bluesky BlueskyConfig `yaml:"bluesky"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type ArxivConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Categories []string `yaml:"categories"`
	MaxResults int      `yaml:"max_results"`
}

type GitHubConfig struct {
	Enabled  bool     `yaml:"enabled"`
	TokenEnv string   `yaml:"token_env"`
	Topics   []string `yaml:"topics"`
}

type BlueskyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Handles []string `yaml:"handles"`
}

type Summarization struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	OllamaURL   string `yaml:"ollama_url"`
	OpenAIModel string `yaml:"openai_model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
	// AppURL is the externally reachable base URL used for the
	// analysis-phase hand-off. Empty means run the phase inline.
	AppURL            string `yaml:"app_url"`
	InternalSecretEnv string `yaml:"internal_secret_env"`
}

type Notify struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotTokenEnv string `yaml:"bot_token_env"`
	ChatID      string `yaml:"chat_id"`
}

type Retention struct {
	Days int `yaml:"days"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for aidigest.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "aidigest")
}

// DataDir returns the XDG data directory for aidigest.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "aidigest")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/aidigest/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'aidigest init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			Arxiv: ArxivConfig{
				Enabled:    true,
				Categories: []string{"cs.AI", "cs.LG"},
				MaxResults: 50,
			},
			GitHub: GitHubConfig{
				Enabled:  true,
				TokenEnv: "GITHUB_TOKEN",
				Topics:   []string{"ai", "llm", "machine-learning"},
			},
			Bluesky: BlueskyConfig{Enabled: true},
		},
		Summarization: Summarization{
			Provider:    "ollama",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   4096,
		},
		Server: Server{
			Port:              8000,
			InternalSecretEnv: "AIDIGEST_INTERNAL_SECRET",
		},
		Notify: Notify{
			Telegram: TelegramConfig{BotTokenEnv: "TELEGRAM_BOT_TOKEN"},
		},
		Retention: Retention{Days: 30},
		Logging:   Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Retention.Days <= 0 {
		cfg.Retention.Days = 30
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// InternalSecret resolves the shared secret for the inter-phase trigger.
func (c *Config) InternalSecret() string {
	return os.Getenv(c.Server.InternalSecretEnv)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
