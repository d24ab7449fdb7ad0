package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Scan() ScanConfig
	Specificity() SpecificityConfig
	Exclusion() ExclusionConfig
	Selectors() SelectorsConfig
	Remote() RemoteConfig
	Database() DatabaseConfig
	History() HistoryConfig
	Server() ServerConfig
	Smoke() SmokeConfig

	SetBrowserHeadless(bool)
	SetBrowserURL(string)
	SetScanRequireCritical(bool)
	SetSelectorsPath(string)
}

// Config holds the entire application configuration.
// Fields are exported so viper can populate them; callers should prefer the getters.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	ScanCfg        ScanConfig        `mapstructure:"scan" yaml:"scan"`
	SpecificityCfg SpecificityConfig `mapstructure:"specificity" yaml:"specificity"`
	ExclusionCfg   ExclusionConfig   `mapstructure:"exclusion" yaml:"exclusion"`
	SelectorsCfg   SelectorsConfig   `mapstructure:"selectors" yaml:"selectors"`
	RemoteCfg      RemoteConfig      `mapstructure:"remote" yaml:"remote"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	HistoryCfg     HistoryConfig     `mapstructure:"history" yaml:"history"`
	ServerCfg      ServerConfig      `mapstructure:"server" yaml:"server"`
	SmokeCfg       SmokeConfig       `mapstructure:"smoke" yaml:"smoke"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Scan() ScanConfig               { return c.ScanCfg }
func (c *Config) Specificity() SpecificityConfig { return c.SpecificityCfg }
func (c *Config) Exclusion() ExclusionConfig     { return c.ExclusionCfg }
func (c *Config) Selectors() SelectorsConfig     { return c.SelectorsCfg }
func (c *Config) Remote() RemoteConfig           { return c.RemoteCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) History() HistoryConfig         { return c.HistoryCfg }
func (c *Config) Server() ServerConfig           { return c.ServerCfg }
func (c *Config) Smoke() SmokeConfig             { return c.SmokeCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)     { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserURL(u string)        { c.BrowserCfg.URL = u }
func (c *Config) SetScanRequireCritical(b bool) { c.ScanCfg.RequireCritical = b }
func (c *Config) SetSelectorsPath(path string)  { c.SelectorsCfg.Path = path }

// LoggerConfig defines all the configuration settings for the logger.
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

// BrowserConfig holds settings for the headless browser used for live captures.
type BrowserConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleTimeout     time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	SettleInterval    time.Duration `mapstructure:"settle_interval" yaml:"settle_interval"`
}

// ScanConfig tunes the orchestrator and the validator.
type ScanConfig struct {
	Targets               []string      `mapstructure:"targets" yaml:"targets"`
	MaxCandidates         int           `mapstructure:"max_candidates" yaml:"max_candidates"`
	ElementsPerTarget     int           `mapstructure:"elements_per_target" yaml:"elements_per_target"`
	RequireCritical       bool          `mapstructure:"require_critical" yaml:"require_critical"`
	MinImportantRate      float64       `mapstructure:"min_important_rate" yaml:"min_important_rate"`
	StabilityIterations   int           `mapstructure:"stability_iterations" yaml:"stability_iterations"`
	StabilityPause        time.Duration `mapstructure:"stability_pause" yaml:"stability_pause"`
	Timeout               time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PersistWinners        bool          `mapstructure:"persist_winners" yaml:"persist_winners"`
	HierarchyMaxDepth     int           `mapstructure:"hierarchy_max_depth" yaml:"hierarchy_max_depth"`
	HierarchyResultsLimit int           `mapstructure:"hierarchy_results_limit" yaml:"hierarchy_results_limit"`
}

// SpecificityConfig carries the precision policy used by the arbiter.
type SpecificityConfig struct {
	MinPrecision        float64 `mapstructure:"min_precision" yaml:"min_precision"`
	HighVolumeThreshold int     `mapstructure:"high_volume_threshold" yaml:"high_volume_threshold"`
	HighVolumePrecision float64 `mapstructure:"high_volume_precision" yaml:"high_volume_precision"`
	SampleSize          int     `mapstructure:"sample_size" yaml:"sample_size"`
	FullCheckBelow      int     `mapstructure:"full_check_below" yaml:"full_check_below"`
	MaxLabelWords       int     `mapstructure:"max_label_words" yaml:"max_label_words"`
}

// ExclusionConfig names the private namespace of the engine's own injected UI.
type ExclusionConfig struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// SelectorsConfig points at the persisted fallback-chain document.
type SelectorsConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	PendingPath string `mapstructure:"pending_path" yaml:"pending_path"`
}

// RemoteConfig configures the optional remote sync collaborator.
type RemoteConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int           `mapstructure:"burst" yaml:"burst"`
}

// DatabaseConfig holds the Postgres connection details for the shared selector registry.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// HistoryConfig configures the local sqlite scan log.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	Keep    int    `mapstructure:"keep" yaml:"keep"`
}

// ServerConfig configures the HTTP API exposed by `relocator serve`.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// SmokeConfig configures the end-to-end smoke check.
type SmokeConfig struct {
	Contact       string        `mapstructure:"contact" yaml:"contact"`
	Message       string        `mapstructure:"message" yaml:"message"`
	SearchWait    time.Duration `mapstructure:"search_wait" yaml:"search_wait"`
	OpenWait      time.Duration `mapstructure:"open_wait" yaml:"open_wait"`
	HeaderTimeout time.Duration `mapstructure:"header_timeout" yaml:"header_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "relocator")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.url", "https://web.whatsapp.com/")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1440)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.settle_timeout", "10s")
	v.SetDefault("browser.settle_interval", "250ms")

	// -- Scan --
	v.SetDefault("scan.max_candidates", 15)
	v.SetDefault("scan.elements_per_target", 5)
	v.SetDefault("scan.require_critical", true)
	v.SetDefault("scan.min_important_rate", 0.8)
	v.SetDefault("scan.stability_iterations", 3)
	v.SetDefault("scan.stability_pause", "100ms")
	v.SetDefault("scan.timeout", "2m")
	v.SetDefault("scan.persist_winners", true)
	v.SetDefault("scan.hierarchy_max_depth", 10)
	v.SetDefault("scan.hierarchy_results_limit", 10)

	// -- Specificity --
	v.SetDefault("specificity.min_precision", 0.80)
	v.SetDefault("specificity.high_volume_threshold", 50)
	v.SetDefault("specificity.high_volume_precision", 0.95)
	v.SetDefault("specificity.sample_size", 20)
	v.SetDefault("specificity.full_check_below", 10)
	v.SetDefault("specificity.max_label_words", 5)

	// -- Exclusion --
	v.SetDefault("exclusion.prefix", "relocator-")

	// -- Selectors --
	v.SetDefault("selectors.path", filepath.Join("~", ".relocator", "selectors.json"))
	v.SetDefault("selectors.pending_path", filepath.Join("~", ".relocator", "pending-updates.json"))

	// -- Remote --
	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.timeout", "15s")
	v.SetDefault("remote.rate_limit", 2.0)
	v.SetDefault("remote.burst", 1)

	// -- Database --
	v.SetDefault("database.enabled", false)

	// -- History --
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", filepath.Join("~", ".relocator", "history.db"))
	v.SetDefault("history.keep", 50)

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8085")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.request_timeout", "60s")

	// -- Smoke --
	v.SetDefault("smoke.search_wait", "1s")
	v.SetDefault("smoke.open_wait", "1500ms")
	v.SetDefault("smoke.header_timeout", "5s")
	v.SetDefault("smoke.poll_interval", "100ms")
}

// NewConfigFromViper unmarshals, normalizes and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "RELOCATOR_DATABASE_URL")
	_ = v.BindEnv("remote.endpoint", "RELOCATOR_REMOTE_ENDPOINT")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves leading "~" in every file path setting.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.SelectorsCfg.Path, &c.SelectorsCfg.PendingPath, &c.HistoryCfg.Path, &c.LoggerCfg.LogFile} {
		if *p == "" || !strings.HasPrefix(*p, "~") {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ScanCfg.MaxCandidates <= 0 {
		return fmt.Errorf("scan.max_candidates must be a positive integer")
	}
	if c.ScanCfg.ElementsPerTarget <= 0 {
		return fmt.Errorf("scan.elements_per_target must be a positive integer")
	}
	if c.ScanCfg.StabilityIterations <= 0 {
		return fmt.Errorf("scan.stability_iterations must be a positive integer")
	}
	if c.SelectorsCfg.Path == "" {
		return fmt.Errorf("selectors.path is a required configuration field")
	}
	if strings.TrimSpace(c.ExclusionCfg.Prefix) == "" {
		return fmt.Errorf("exclusion.prefix must not be empty")
	}
	if err := c.SpecificityCfg.Validate(); err != nil {
		return fmt.Errorf("specificity configuration invalid: %w", err)
	}
	if err := c.RemoteCfg.Validate(); err != nil {
		return fmt.Errorf("remote configuration invalid: %w", err)
	}
	if c.DatabaseCfg.Enabled && c.DatabaseCfg.URL == "" {
		return fmt.Errorf("database.url is required when database.enabled is set")
	}
	return nil
}

// Validate checks the precision policy.
func (s *SpecificityConfig) Validate() error {
	if s.MinPrecision < 0 || s.MinPrecision > 1 {
		return fmt.Errorf("min_precision must be between 0.0 and 1.0")
	}
	if s.HighVolumePrecision < 0 || s.HighVolumePrecision > 1 {
		return fmt.Errorf("high_volume_precision must be between 0.0 and 1.0")
	}
	if s.HighVolumePrecision < s.MinPrecision {
		return fmt.Errorf("high_volume_precision must not be lower than min_precision")
	}
	if s.SampleSize <= 0 {
		return fmt.Errorf("sample_size must be a positive integer")
	}
	if s.FullCheckBelow < 0 {
		return fmt.Errorf("full_check_below must not be negative")
	}
	return nil
}

// Validate checks the remote sync settings.
func (r *RemoteConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint is required when remote sync is enabled")
	}
	if r.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	return nil
}
