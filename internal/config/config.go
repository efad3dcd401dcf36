// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// A loaded configuration is treated as immutable; each pipeline run receives
// it explicitly instead of reading ambient state.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Audit() AuditConfig
	Scan() ScanConfig
	Server() ServerConfig
	Fetch() FetchConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	AuditCfg    AuditConfig    `mapstructure:"audit" yaml:"audit"`
	ScanCfg     ScanConfig     `mapstructure:"scan" yaml:"scan"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	FetchCfg    FetchConfig    `mapstructure:"fetch" yaml:"fetch"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Audit() AuditConfig       { return c.AuditCfg }
func (c *Config) Scan() ScanConfig         { return c.ScanCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Fetch() FetchConfig       { return c.FetchCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the report store connection details. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds the fixed launch configuration of the renderer.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecutablePath    string        `mapstructure:"executable_path" yaml:"executable_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// NetworkIdle is the quiet period with no in-flight requests that counts
	// as network quiescence after navigation.
	NetworkIdle time.Duration `mapstructure:"network_idle" yaml:"network_idle"`
}

// AuditConfig configures the accessibility audit engine.
type AuditConfig struct {
	Standard        string        `mapstructure:"standard" yaml:"standard"`
	IncludeNotices  bool          `mapstructure:"include_notices" yaml:"include_notices"`
	IncludeWarnings bool          `mapstructure:"include_warnings" yaml:"include_warnings"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Wait            time.Duration `mapstructure:"wait" yaml:"wait"`
	// AxeSource is a file path or an http(s) URL of the axe-core bundle.
	AxeSource string `mapstructure:"axe_source" yaml:"axe_source"`
}

// ScanConfig holds pipeline level settings.
type ScanConfig struct {
	MaxDuration time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	DefaultMode string        `mapstructure:"default_mode" yaml:"default_mode"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// FetchConfig tunes the stylesheet fetcher used by overlay annotation.
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	MaxBytes      int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
	UserAgent     string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// DefaultUserAgent identifies the renderer to the sites it audits.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 A11yTestBot/3.0"

// Supported audit standards.
var supportedStandards = map[string]bool{
	"WCAG2A":   true,
	"WCAG2AA":  true,
	"WCAG2AAA": true,
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "accessibility-testing-api")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.executable_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.network_idle", "500ms")

	// -- Audit --
	v.SetDefault("audit.standard", "WCAG2AA")
	v.SetDefault("audit.include_notices", false)
	v.SetDefault("audit.include_warnings", true)
	v.SetDefault("audit.timeout", "30s")
	v.SetDefault("audit.wait", "1s")
	v.SetDefault("audit.axe_source", "https://cdn.jsdelivr.net/npm/axe-core@4.10.2/axe.min.js")

	// -- Scan --
	v.SetDefault("scan.max_duration", "45s")
	v.SetDefault("scan.default_mode", "snapshot")

	// -- Server --
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// -- Fetch --
	v.SetDefault("fetch.timeout", "10s")
	v.SetDefault("fetch.rate_per_second", 5.0)
	v.SetDefault("fetch.max_bytes", 5<<20)
	v.SetDefault("fetch.user_agent", DefaultUserAgent)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive values come from the environment only.
	_ = v.BindEnv("database.url", "A11Y_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("browser.executable_path", "A11Y_BROWSER_EXECUTABLE_PATH", "PUPPETEER_EXECUTABLE_PATH")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.BrowserCfg.ExecutablePath = ResolveChromeExecutable(cfg.BrowserCfg.ExecutablePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.ViewportWidth <= 0 || c.BrowserCfg.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.BrowserCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if err := c.AuditCfg.Validate(); err != nil {
		return fmt.Errorf("audit configuration invalid: %w", err)
	}
	if c.ScanCfg.MaxDuration <= 0 {
		return fmt.Errorf("scan.max_duration must be a positive duration")
	}
	switch c.ScanCfg.DefaultMode {
	case "snapshot", "overlay":
	default:
		return fmt.Errorf("scan.default_mode must be 'snapshot' or 'overlay', got %q", c.ScanCfg.DefaultMode)
	}
	if c.FetchCfg.RatePerSecond <= 0 {
		return fmt.Errorf("fetch.rate_per_second must be positive")
	}
	return nil
}

// Validate checks the audit engine settings.
func (a *AuditConfig) Validate() error {
	if !supportedStandards[strings.ToUpper(a.Standard)] {
		return fmt.Errorf("unsupported standard %q", a.Standard)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if a.Wait < 0 {
		return fmt.Errorf("wait must not be negative")
	}
	if a.AxeSource == "" {
		return fmt.Errorf("axe_source is required")
	}
	if strings.Contains(a.AxeSource, "://") {
		u, err := url.Parse(a.AxeSource)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("axe_source must be a file path or an http(s) URL")
		}
	}
	return nil
}
