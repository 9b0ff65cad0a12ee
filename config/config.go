// Package config loads the relay's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/edwardtay/payrelay/types"
)

// Config is the full relay configuration.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Signer   SignerConfig   `yaml:"signer"`
	Routing  RoutingConfig  `yaml:"routing"`
	Fees     FeesConfig     `yaml:"fees"`
	Strategy StrategyConfig `yaml:"strategy"`
}

// AppConfig application basics.
type AppConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"logLevel"` // debug, info, warn, error
}

// ServerConfig is the HTTP API listener configuration.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listenAddr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// SignerConfig holds the paying wallet's key material.
type SignerConfig struct {
	PrivateKey    string        `yaml:"privateKey"`    // hex, highest priority
	PrivateKeyEnv string        `yaml:"privateKeyEnv"` // env var name, fallback
	Validity      time.Duration `yaml:"validity"`      // authorization window
}

// GetPrivateKey resolves the signing key, preferring the inline value and
// falling back to the named environment variable.
func (c *SignerConfig) GetPrivateKey() (string, error) {
	if c.PrivateKey != "" {
		return strings.TrimPrefix(strings.TrimSpace(c.PrivateKey), "0x"), nil
	}
	if c.PrivateKeyEnv != "" {
		key := os.Getenv(c.PrivateKeyEnv)
		if key == "" {
			return "", fmt.Errorf("environment variable %s is not set", c.PrivateKeyEnv)
		}
		return strings.TrimPrefix(strings.TrimSpace(key), "0x"), nil
	}
	return "", fmt.Errorf("neither privateKey nor privateKeyEnv is configured")
}

// RoutingConfig configures the route providers and the aggregator.
type RoutingConfig struct {
	LifiBaseURL     string        `yaml:"lifiBaseUrl"`
	LifiAPIKey      string        `yaml:"lifiApiKey"`
	CCTPBaseURL     string        `yaml:"cctpBaseUrl"`
	QuoteTTL        time.Duration `yaml:"quoteTtl"`
	ProviderTimeout time.Duration `yaml:"providerTimeout"`
}

// TierConfig is one fee tier row. The top tier sets unbounded and leaves
// maxVolume at zero.
type TierConfig struct {
	Name       string `yaml:"name"`
	MinVolume  string `yaml:"minVolume"`
	MaxVolume  string `yaml:"maxVolume"`
	Unbounded  bool   `yaml:"unbounded"`
	FeeRateBps int64  `yaml:"feeRateBps"`
}

// FeesConfig configures the fee engine. An empty tier table means the
// built-in defaults. Participants seeds the registry that drives the
// network-effect discounts.
type FeesConfig struct {
	Tiers        []TierConfig `yaml:"tiers"`
	Participants []string     `yaml:"participants"`
}

// StrategyConfig configures the allocator's known destinations. The hold
// destination is always recognized even when absent here.
type StrategyConfig struct {
	Destinations []string `yaml:"destinations"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "payrelay"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8402"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Signer.Validity == 0 {
		c.Signer.Validity = 10 * time.Minute
	}
	if c.Routing.QuoteTTL == 0 {
		c.Routing.QuoteTTL = 30 * time.Second
	}
	if c.Routing.ProviderTimeout == 0 {
		c.Routing.ProviderTimeout = 10 * time.Second
	}
	if len(c.Strategy.Destinations) == 0 {
		c.Strategy.Destinations = []string{"hold", "yield", "restaking"}
	}
}

// Validate checks cross-field consistency. Tier shape problems are
// reported here so a bad table fails loudly at startup instead of being
// silently replaced at runtime.
func (c *Config) Validate() error {
	if c.App.LogLevel != "debug" && c.App.LogLevel != "info" &&
		c.App.LogLevel != "warn" && c.App.LogLevel != "error" {
		return fmt.Errorf("app.logLevel %q is not one of debug, info, warn, error", c.App.LogLevel)
	}

	// Tier shape is fully checked here: the fee engine silently falls back
	// to its defaults on a bad table, so a misconfigured one must be caught
	// before it gets that far.
	prevMax := decimal.Zero
	for i, tier := range c.Fees.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("fees.tiers[%d].name is required", i)
		}
		if tier.FeeRateBps < 0 {
			return fmt.Errorf("fees.tiers[%d].feeRateBps must not be negative", i)
		}
		if !tier.Unbounded && tier.MaxVolume == "" {
			return fmt.Errorf("fees.tiers[%d] needs maxVolume or unbounded", i)
		}
		if tier.Unbounded && i != len(c.Fees.Tiers)-1 {
			return fmt.Errorf("fees.tiers[%d]: only the last tier may be unbounded", i)
		}

		minVolume, err := parseVolume(tier.MinVolume)
		if err != nil {
			return fmt.Errorf("fees.tiers[%d].minVolume: %w", i, err)
		}
		if i == 0 && !minVolume.IsZero() {
			return fmt.Errorf("fees.tiers[0].minVolume must be 0, got %s", minVolume)
		}
		if i > 0 && !minVolume.Equal(prevMax) {
			return fmt.Errorf("fees.tiers[%d].minVolume %s must equal the previous tier's maxVolume %s",
				i, minVolume, prevMax)
		}

		if !tier.Unbounded {
			maxVolume, err := parseVolume(tier.MaxVolume)
			if err != nil {
				return fmt.Errorf("fees.tiers[%d].maxVolume: %w", i, err)
			}
			if !maxVolume.GreaterThan(minVolume) {
				return fmt.Errorf("fees.tiers[%d].maxVolume %s must exceed minVolume %s",
					i, maxVolume, minVolume)
			}
			prevMax = maxVolume
		}
	}
	if n := len(c.Fees.Tiers); n > 0 && !c.Fees.Tiers[n-1].Unbounded {
		return fmt.Errorf("fees.tiers: the last tier must be unbounded")
	}

	for i, dest := range c.Strategy.Destinations {
		if strings.TrimSpace(dest) == "" {
			return fmt.Errorf("strategy.destinations[%d] is empty", i)
		}
	}

	return nil
}

// FeeTiers converts the configured tier rows into the fee engine's tier
// type. Call only after Validate.
func (c *Config) FeeTiers() ([]types.FeeTier, error) {
	tiers := make([]types.FeeTier, 0, len(c.Fees.Tiers))
	for i, row := range c.Fees.Tiers {
		tier := types.FeeTier{
			Name:       row.Name,
			Unbounded:  row.Unbounded,
			FeeRateBps: row.FeeRateBps,
		}
		var err error
		if tier.MinVolume, err = parseVolume(row.MinVolume); err != nil {
			return nil, fmt.Errorf("fees.tiers[%d].minVolume: %w", i, err)
		}
		if !row.Unbounded {
			if tier.MaxVolume, err = parseVolume(row.MaxVolume); err != nil {
				return nil, fmt.Errorf("fees.tiers[%d].maxVolume: %w", i, err)
			}
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

func parseVolume(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
