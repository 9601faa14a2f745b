// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Map     MapConfig     `mapstructure:"map" yaml:"map"`
}

// LoggerConfig controls log output and rotation.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names a console color per log level.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig selects and tunes the live-browser backend. When Enabled
// is false the pure-Go engine serves the page instead of a Chrome tab.
type BrowserConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// NetworkConfig tunes the pure-Go engine's HTTP client.
type NetworkConfig struct {
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	AcceptLanguage string        `mapstructure:"accept_language" yaml:"accept_language"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MapConfig tunes manifest generation and the post-action wait cycle.
type MapConfig struct {
	WindowSize        int           `mapstructure:"window_size" yaml:"window_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	WaitGrace         time.Duration `mapstructure:"wait_grace" yaml:"wait_grace"`
	WaitSettle        time.Duration `mapstructure:"wait_settle" yaml:"wait_settle"`
	WaitMax           time.Duration `mapstructure:"wait_max" yaml:"wait_max"`
	HumanPollInterval time.Duration `mapstructure:"human_poll_interval" yaml:"human_poll_interval"`
}

// ApplyDefaults fills unset fields with working values.
func (c *Config) ApplyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "console"
	}
	if c.Logger.ServiceName == "" {
		c.Logger.ServiceName = "pagemap"
	}
	if c.Logger.MaxSize == 0 {
		c.Logger.MaxSize = 50
	}
	if c.Logger.MaxBackups == 0 {
		c.Logger.MaxBackups = 3
	}
	if c.Logger.MaxAge == 0 {
		c.Logger.MaxAge = 14
	}
	if c.Logger.Colors == (ColorConfig{}) {
		c.Logger.Colors = ColorConfig{
			Debug:  "cyan",
			Info:   "green",
			Warn:   "yellow",
			Error:  "red",
			DPanic: "red",
			Panic:  "red",
			Fatal:  "red",
		}
	}

	if c.Browser.NavigationTimeout == 0 {
		c.Browser.NavigationTimeout = 60 * time.Second
	}
	if c.Browser.ActionTimeout == 0 {
		c.Browser.ActionTimeout = 10 * time.Second
	}

	if c.Network.Timeout == 0 {
		c.Network.Timeout = 60 * time.Second
	}

	if c.Map.WindowSize == 0 {
		c.Map.WindowSize = 150
	}
	if c.Map.PollInterval == 0 {
		c.Map.PollInterval = 100 * time.Millisecond
	}
	if c.Map.WaitGrace == 0 {
		c.Map.WaitGrace = 2 * time.Second
	}
	if c.Map.WaitSettle == 0 {
		c.Map.WaitSettle = 500 * time.Millisecond
	}
	if c.Map.WaitMax == 0 {
		c.Map.WaitMax = 30 * time.Second
	}
	if c.Map.HumanPollInterval == 0 {
		c.Map.HumanPollInterval = 2 * time.Second
	}
}

// Load reads configuration from an explicit file, or searches for
// pagemap.yaml in the working directory and ~/.pagemap/. Environment
// variables prefixed with PAGEMAP_ override file values, e.g.
// PAGEMAP_LOGGER_LEVEL=debug. A missing config file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pagemap"))
		}
		v.SetConfigName("pagemap")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PAGEMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}
