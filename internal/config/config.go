package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	CapGuardStore  = "store"
	CapGuardMemory = "memory"

	PayPalSandbox = "sandbox"
	PayPalLive    = "live"
)

type Config struct {
	App struct {
		Env  string `mapstructure:"env"`
		Port string `mapstructure:"port"`
	} `mapstructure:"app"`
	Database struct {
		URL         string `mapstructure:"url"`
		AutoMigrate bool   `mapstructure:"auto_migrate"`
	} `mapstructure:"database"`
	AutoApproval struct {
		Enabled   bool    `mapstructure:"enabled"`
		Threshold float64 `mapstructure:"threshold"`
		DailyCap  int     `mapstructure:"daily_cap"`
		Timezone  string  `mapstructure:"timezone"`
	} `mapstructure:"auto_approval"`
	CapGuard struct {
		Mode string `mapstructure:"mode"`
	} `mapstructure:"cap_guard"`
	Scoring ScoringConfig `mapstructure:"scoring"`
	PayPal  struct {
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		Environment  string `mapstructure:"environment"`
		WebhookID    string `mapstructure:"webhook_id"`
		EmailSubject string `mapstructure:"email_subject"`
	} `mapstructure:"paypal"`
	Webhook struct {
		TestMode bool `mapstructure:"test_mode"`
	} `mapstructure:"webhook"`
	Payout struct {
		CooldownEnabled bool `mapstructure:"cooldown_enabled"`
		CooldownHours   int  `mapstructure:"cooldown_hours"`
	} `mapstructure:"payout"`
	JWT struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"jwt"`
}

// ScoringConfig holds signal weights in points, where 10000 points is a
// score of 1.0.
type ScoringConfig struct {
	ExpectedBrand          string  `mapstructure:"expected_brand"`
	BottleConfidenceMin    float64 `mapstructure:"bottle_confidence_min"`
	BrandKeywordPoints     int     `mapstructure:"brand_keyword_points"`
	BottleConfidencePoints int     `mapstructure:"bottle_confidence_points"`
	AuthenticPhotoPoints   int     `mapstructure:"authentic_photo_points"`
	KeywordBonusMaxPoints  int     `mapstructure:"keyword_bonus_max_points"`
	BrandMatchPoints       int     `mapstructure:"brand_match_points"`
	DisqualifierPenalty    int     `mapstructure:"disqualifier_penalty_points"`
}

func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

func (c *Config) PayoutCooldown() time.Duration {
	if !c.Payout.CooldownEnabled || c.Payout.CooldownHours <= 0 {
		return 0
	}
	return time.Duration(c.Payout.CooldownHours) * time.Hour
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", EnvDevelopment)
	v.SetDefault("app.port", "8080")

	v.SetDefault("database.url", "")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("auto_approval.enabled", true)
	v.SetDefault("auto_approval.threshold", 0.85)
	v.SetDefault("auto_approval.daily_cap", 50)
	v.SetDefault("auto_approval.timezone", "UTC")

	v.SetDefault("cap_guard.mode", CapGuardStore)

	v.SetDefault("scoring.expected_brand", "")
	v.SetDefault("scoring.bottle_confidence_min", 0.8)
	v.SetDefault("scoring.brand_keyword_points", 4000)
	v.SetDefault("scoring.bottle_confidence_points", 2500)
	v.SetDefault("scoring.authentic_photo_points", 2000)
	v.SetDefault("scoring.keyword_bonus_max_points", 1000)
	v.SetDefault("scoring.brand_match_points", 500)
	v.SetDefault("scoring.disqualifier_penalty_points", 5000)

	v.SetDefault("paypal.client_id", "")
	v.SetDefault("paypal.client_secret", "")
	v.SetDefault("paypal.environment", PayPalSandbox)
	v.SetDefault("paypal.webhook_id", "")
	v.SetDefault("paypal.email_subject", "Your rebate has arrived")

	v.SetDefault("webhook.test_mode", false)

	v.SetDefault("payout.cooldown_enabled", false)
	v.SetDefault("payout.cooldown_hours", 24)

	v.SetDefault("jwt.secret", "")
}

// Load reads .env (if present), an optional config.yaml in the working
// directory, and the environment. Environment keys are the upper-cased
// dotted keys with "." replaced by "_", e.g. AUTO_APPROVAL_DAILY_CAP.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.App.Env = strings.ToLower(strings.TrimSpace(c.App.Env))
	if c.App.Env != EnvProduction {
		// fail-soft: treat unknown as development
		c.App.Env = EnvDevelopment
	}

	if c.AutoApproval.Threshold < 0 || c.AutoApproval.Threshold > 1 {
		return fmt.Errorf("auto_approval.threshold must be within [0,1], got %v", c.AutoApproval.Threshold)
	}
	if c.AutoApproval.DailyCap < 0 {
		return fmt.Errorf("auto_approval.daily_cap must not be negative, got %d", c.AutoApproval.DailyCap)
	}

	c.CapGuard.Mode = strings.ToLower(c.CapGuard.Mode)
	if c.CapGuard.Mode != CapGuardMemory && c.CapGuard.Mode != CapGuardStore {
		return fmt.Errorf("cap_guard.mode must be %q or %q, got %q", CapGuardStore, CapGuardMemory, c.CapGuard.Mode)
	}

	c.PayPal.Environment = strings.ToLower(c.PayPal.Environment)
	if c.PayPal.Environment != PayPalSandbox && c.PayPal.Environment != PayPalLive {
		return fmt.Errorf("paypal.environment must be %q or %q, got %q", PayPalSandbox, PayPalLive, c.PayPal.Environment)
	}
	if c.IsProduction() && c.Webhook.TestMode {
		return errors.New("webhook.test_mode cannot be enabled in production")
	}
	return nil
}
