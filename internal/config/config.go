package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

// ProviderConfig describes one inference backend slot within a tier.
// Kind selects the adapter: "openai" (any OpenAI-compatible endpoint) or
// "ollama".
type ProviderConfig struct {
	Name    string `mapstructure:"name"`
	Kind    string `mapstructure:"kind"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	// CostPerKiloTokens prices the completion for the usage log; endpoints
	// that report cost themselves override this.
	CostPerKiloTokens float64 `mapstructure:"cost_per_1k_tokens"`
}

// ToolSpec declares how one named remote operation is reached. Runtime is
// "http" (tool bridge) or "docker" (one-shot container).
type ToolSpec struct {
	Name    string   `mapstructure:"name"`
	Runtime string   `mapstructure:"runtime"`
	Image   string   `mapstructure:"image"`
	Command []string `mapstructure:"command"`
}

type CacheConfig struct {
	Threshold     float64       `mapstructure:"threshold"`
	ExactTTL      time.Duration `mapstructure:"exact_ttl"`
	SemanticTTL   time.Duration `mapstructure:"semantic_ttl"`
	MaxEntries    int           `mapstructure:"max_entries"`
	EmbedderURL   string        `mapstructure:"embedder_url"`
	EmbedderModel string        `mapstructure:"embedder_model"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type ToolsConfig struct {
	BridgeURL string     `mapstructure:"bridge_url"`
	Catalog   []ToolSpec `mapstructure:"catalog"`
}

// Config is the explicit configuration struct constructed once at process
// start and passed by reference into each component's constructor. No
// component reaches into ambient global state.
type Config struct {
	HTTPAddr          string        `mapstructure:"http_addr"`
	DBPath            string        `mapstructure:"db_path"`
	SkillsDir         string        `mapstructure:"skills_dir"`
	Heartbeat         time.Duration `mapstructure:"heartbeat"`
	MaxConcurrentJobs int64         `mapstructure:"max_concurrent_jobs"`
	GateTimeout       time.Duration `mapstructure:"gate_timeout"`
	StaleJobCutoff    time.Duration `mapstructure:"stale_job_cutoff"`

	Cache    CacheConfig                 `mapstructure:"cache"`
	Tiers    map[string][]ProviderConfig `mapstructure:"tiers"`
	Tools    ToolsConfig                 `mapstructure:"tools"`
	Telegram TelegramConfig              `mapstructure:"telegram"`
}

// Load reads configuration from an optional YAML file plus HEXSTRIKE_*
// environment variables, with defaults matching a local single-node setup.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_path", "hexstrike.db")
	v.SetDefault("skills_dir", "skills")
	v.SetDefault("heartbeat", 5*time.Second)
	v.SetDefault("max_concurrent_jobs", 10)
	v.SetDefault("gate_timeout", 5*time.Minute)
	v.SetDefault("stale_job_cutoff", 24*time.Hour)

	v.SetDefault("cache.threshold", 0.92)
	v.SetDefault("cache.exact_ttl", 24*time.Hour)
	v.SetDefault("cache.semantic_ttl", 7*24*time.Hour)
	v.SetDefault("cache.max_entries", 2000)
	v.SetDefault("cache.embedder_url", "http://localhost:11434")
	v.SetDefault("cache.embedder_model", "nomic-embed-text")

	v.SetDefault("tools.bridge_url", "http://localhost:8888")

	v.SetEnvPrefix("HEXSTRIKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat must be positive")
	}
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive")
	}
	if c.Cache.Threshold <= 0 || c.Cache.Threshold > 1 {
		return fmt.Errorf("cache.threshold must be in (0, 1]")
	}
	for tier, provs := range c.Tiers {
		if _, err := domain.ParseTier(tier); err != nil {
			return fmt.Errorf("tiers: %w", err)
		}
		for _, p := range provs {
			switch p.Kind {
			case "openai", "ollama":
			default:
				return fmt.Errorf("tier %s provider %s: unknown kind %q", tier, p.Name, p.Kind)
			}
		}
	}
	for _, t := range c.Tools.Catalog {
		switch t.Runtime {
		case "", "http":
		case "docker":
			if t.Image == "" {
				return fmt.Errorf("tool %s: docker runtime requires an image", t.Name)
			}
		default:
			return fmt.Errorf("tool %s: unknown runtime %q", t.Name, t.Runtime)
		}
	}
	return nil
}
