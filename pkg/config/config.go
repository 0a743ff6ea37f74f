package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full relay configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Bemsoft   BemsoftConfig   `mapstructure:"bemsoft"`
	Physician PhysicianConfig `mapstructure:"physician"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// AppConfig holds identity and logging settings.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// MySQLConfig holds the operational database connection.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MonitorConfig drives the polling cycle.
type MonitorConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	DebounceWindow time.Duration `mapstructure:"debounce_window"` // 0 disables
	PageSize       int           `mapstructure:"page_size"`
	Providers      []string      `mapstructure:"providers"` // NomeTerceirizado filter
	FailedDir      string        `mapstructure:"failed_dir"`
}

// BemsoftConfig holds the delivery platform settings.
type BemsoftConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	RequestsEndpoint string        `mapstructure:"requests_endpoint"`
	Token            string        `mapstructure:"token"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Retries          int           `mapstructure:"retries"`
	Backoff          time.Duration `mapstructure:"backoff"`
	VerifyTLS        bool          `mapstructure:"verify_tls"`
	DryRun           bool          `mapstructure:"dry_run"`
	TestMapPath      string        `mapstructure:"test_map_path"`
	DefaultGender    string        `mapstructure:"default_gender"`     // "M" or "F"
	DefaultBirthDate string        `mapstructure:"default_birth_date"` // YYYY-MM-DD
}

// PhysicianConfig is the optional ordering physician. The block is sent only
// when all four fields are set.
type PhysicianConfig struct {
	Name    string `mapstructure:"name"`
	Council string `mapstructure:"council"`
	Number  string `mapstructure:"number"`
	UF      string `mapstructure:"uf"`
}

// Complete reports whether the physician block should be included.
func (p PhysicianConfig) Complete() bool {
	return p.Name != "" && p.Council != "" && p.Number != "" && p.UF != ""
}

// SheetsConfig points at the supplementary test-metadata spreadsheet.
// Optional: an empty sheet_id or api_key disables the lookup.
type SheetsConfig struct {
	SheetID string `mapstructure:"sheet_id"`
	Range   string `mapstructure:"range"`
	APIKey  string `mapstructure:"api_key"`
}

// Enabled reports whether the metadata lookup is configured.
func (s SheetsConfig) Enabled() bool {
	return s.SheetID != "" && s.APIKey != ""
}

// RedisConfig enables delivery notifications when addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Enabled reports whether delivery notifications are configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Load reads and parses the YAML config file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	cfg.Bemsoft.DefaultGender = strings.ToUpper(strings.TrimSpace(cfg.Bemsoft.DefaultGender))

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "labsync")
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("monitor.poll_interval", 5*time.Second)
	v.SetDefault("monitor.debounce_window", time.Duration(0))
	v.SetDefault("monitor.page_size", 500)
	v.SetDefault("monitor.failed_dir", "failed_events")
	v.SetDefault("bemsoft.requests_endpoint", "/requests")
	v.SetDefault("bemsoft.timeout", 30*time.Second)
	v.SetDefault("bemsoft.retries", 3)
	v.SetDefault("bemsoft.backoff", 500*time.Millisecond)
	v.SetDefault("bemsoft.verify_tls", true)
	v.SetDefault("sheets.range", "Sheet1!A:C")
	v.SetDefault("redis.channel", "lab_order_delivered")
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn is required")
	}
	if c.Bemsoft.BaseURL == "" {
		return fmt.Errorf("bemsoft.base_url is required")
	}
	if c.Bemsoft.Token == "" && !c.Bemsoft.DryRun {
		return fmt.Errorf("bemsoft.token is required unless bemsoft.dry_run is enabled")
	}
	if c.Monitor.PageSize <= 0 {
		return fmt.Errorf("monitor.page_size must be positive")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if g := c.Bemsoft.DefaultGender; g != "" && g != "M" && g != "F" {
		return fmt.Errorf("bemsoft.default_gender must be \"M\" or \"F\", got %q", g)
	}
	return nil
}
