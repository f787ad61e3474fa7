package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models leboy.yml.
type Config struct {
	Admin struct {
		Email string `yaml:"email"`
		Name  string `yaml:"name"`
	} `yaml:"admin"`
	Retention struct {
		ArchiveDays int `yaml:"archive_days"`
	} `yaml:"retention"`
	Advance struct {
		AllowedPercentages []int `yaml:"allowed_percentages"`
	} `yaml:"advance"`
	Commission struct {
		DefaultCategory string                    `yaml:"default_category"`
		Categories      map[string]CategoryConfig `yaml:"categories"`
	} `yaml:"commission"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type CategoryConfig struct {
	Name          string  `yaml:"name"`
	BasePercent   float64 `yaml:"base_percent"`
	MinCommission int64   `yaml:"min_commission"`
	MaxCommission int64   `yaml:"max_commission"`
	RiskPercent   float64 `yaml:"risk_percent"`
	Enabled       *bool   `yaml:"enabled"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Admin.Email == "" {
		return fmt.Errorf("config.admin.email is required")
	}
	if c.Retention.ArchiveDays <= 0 {
		return fmt.Errorf("config.retention.archive_days must be positive")
	}
	if len(c.Advance.AllowedPercentages) == 0 {
		return fmt.Errorf("config.advance.allowed_percentages is required")
	}
	for _, p := range c.Advance.AllowedPercentages {
		if p <= 0 || p > 100 {
			return fmt.Errorf("advance percentage %d out of range (0,100]", p)
		}
	}
	if len(c.Commission.Categories) == 0 {
		return fmt.Errorf("config.commission.categories is required")
	}
	if c.Commission.DefaultCategory == "" {
		return fmt.Errorf("config.commission.default_category is required")
	}
	if _, ok := c.Commission.Categories[c.Commission.DefaultCategory]; !ok {
		return fmt.Errorf("default category %s not defined", c.Commission.DefaultCategory)
	}
	for id, cat := range c.Commission.Categories {
		if id == "" {
			return fmt.Errorf("config.commission.categories contains empty category id")
		}
		if cat.BasePercent < 0 || cat.BasePercent > 100 {
			return fmt.Errorf("category %s base_percent out of range [0,100]", id)
		}
		if cat.RiskPercent < 0 || cat.RiskPercent > 100 {
			return fmt.Errorf("category %s risk_percent out of range [0,100]", id)
		}
		if cat.MinCommission > cat.MaxCommission {
			return fmt.Errorf("category %s min_commission exceeds max_commission", id)
		}
	}
	return nil
}

// AdvanceAllowed reports whether the given percentage is a configured option.
func (c *Config) AdvanceAllowed(pct int) bool {
	for _, p := range c.Advance.AllowedPercentages {
		if p == pct {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "leboy.yml")
}

// Load reads and validates config from the workspace, falling back to the
// embedded defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `admin:
  email: ops@leboy.app
  name: LeBoy Operations

retention:
  archive_days: 30

advance:
  allowed_percentages: [50, 100]

commission:
  default_category: general
  categories:
    general:
      name: "Services généraux"
      base_percent: 10
      min_commission: 5000
      max_commission: 50000
      risk_percent: 0
    demarches:
      name: "Démarches administratives"
      base_percent: 10
      min_commission: 5000
      max_commission: 50000
      risk_percent: 2
    immobilier:
      name: "Suivi immobilier"
      base_percent: 8
      min_commission: 10000
      max_commission: 150000
      risk_percent: 3
    evenementiel:
      name: "Événementiel"
      base_percent: 12
      min_commission: 7500
      max_commission: 100000
      risk_percent: 1
    livraison:
      name: "Achats et livraison"
      base_percent: 10
      min_commission: 2500
      max_commission: 25000
      risk_percent: 2
`
