package orderdesk

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full configuration surface. Values come from the
// environment (ORDERDESK_ prefix), an optional YAML file, and a .env
// file when present, in that precedence order.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Mailbox struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"mailbox"`

	Sheets struct {
		SpreadsheetID   string `mapstructure:"spreadsheet_id"`
		CredentialsFile string `mapstructure:"credentials_file"`
		EmailsSheet     string `mapstructure:"emails_sheet"`
		OrdersSheet     string `mapstructure:"orders_sheet"`
		ResponsesSheet  string `mapstructure:"responses_sheet"`
	} `mapstructure:"sheets"`

	Inventory struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"inventory"`

	OpenAI struct {
		APIKey      string  `mapstructure:"api_key"`
		BaseURL     string  `mapstructure:"base_url"`
		Model       string  `mapstructure:"model"`
		Temperature float64 `mapstructure:"temperature"`
	} `mapstructure:"openai"`

	Retry struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		MinDelay    time.Duration `mapstructure:"min_delay"`
		MaxDelay    time.Duration `mapstructure:"max_delay"`
	} `mapstructure:"retry"`

	Batch struct {
		Size        int           `mapstructure:"size"`
		PacingDelay time.Duration `mapstructure:"pacing_delay"`
		ItemDelay   time.Duration `mapstructure:"item_delay"`
	} `mapstructure:"batch"`

	Labels struct {
		Order        string `mapstructure:"order"`
		Inquiry      string `mapstructure:"inquiry"`
		Unclassified string `mapstructure:"unclassified"`
	} `mapstructure:"labels"`

	Company struct {
		Name         string `mapstructure:"name"`
		ContactEmail string `mapstructure:"contact_email"`
		Phone        string `mapstructure:"phone"`
		PolicyURL    string `mapstructure:"policy_url"`
	} `mapstructure:"company"`
}

// LoadConfig reads configuration. A .env file in the working directory
// is loaded first when present so local runs mirror the deployed
// environment; missing .env is not an error.
func LoadConfig(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ORDERDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("mailbox.dir", "inbox")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.credentials_file", "")
	v.SetDefault("sheets.emails_sheet", "emails")
	v.SetDefault("sheets.orders_sheet", "orders")
	v.SetDefault("sheets.responses_sheet", "responses")
	v.SetDefault("inventory.dsn", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4")
	v.SetDefault("openai.temperature", 0.0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.min_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("batch.size", 20)
	v.SetDefault("batch.pacing_delay", time.Second)
	v.SetDefault("batch.item_delay", 100*time.Millisecond)
	v.SetDefault("labels.order", "order request")
	v.SetDefault("labels.inquiry", "product inquiry")
	v.SetDefault("labels.unclassified", "unclassified")
	v.SetDefault("company.name", "")
	v.SetDefault("company.contact_email", "")
	v.SetDefault("company.phone", "")
	v.SetDefault("company.policy_url", "")
}

// StockPolicy builds the retry policy for inventory reads: full-jitter
// exponential backoff.
func (c *Config) StockPolicy() Policy {
	return Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Second,
		MaxDelay:    c.Retry.MaxDelay,
		FullJitter:  true,
	}
}

// WritePolicy builds the retry policy for store writes: fixed
// exponential backoff, transient errors only.
func (c *Config) WritePolicy() Policy {
	return Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.MinDelay,
		MaxDelay:    c.Retry.MaxDelay,
		Retryable:   IsTransient,
	}
}

// ClassifyPolicy builds the retry policy for classifier calls: fixed
// exponential backoff.
func (c *Config) ClassifyPolicy() Policy {
	return Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.MinDelay,
		MaxDelay:    c.Retry.MaxDelay,
	}
}
