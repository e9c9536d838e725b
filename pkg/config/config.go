package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FLOWVERIFY_BASE_URL
const EnvPrefix = "FLOWVERIFY"

// DefaultFailureScreenshotDir receives failure screenshots and is served by the API
const DefaultFailureScreenshotDir = "/tmp/screenshots"

// Config holds settings shared by the commands
type Config struct {
	BaseURL              string        `mapstructure:"base_url"`
	Driver               string        `mapstructure:"driver"`
	Headless             bool          `mapstructure:"headless"`
	ChromeBin            string        `mapstructure:"chrome_bin"`
	Timeout              time.Duration `mapstructure:"timeout"`
	ScreenshotPath       string        `mapstructure:"screenshot_path"`
	FailureScreenshotDir string        `mapstructure:"failure_screenshot_dir"`
	ScenarioFile         string        `mapstructure:"scenario_file"`
	MySQLDSN             string        `mapstructure:"mysql_dsn"`
	TemporalHost         string        `mapstructure:"temporal_host"`
	Port                 string        `mapstructure:"port"`
	Executor             string        `mapstructure:"executor"`

	explicit map[string]bool
}

// IsExplicit reports whether key came from a changed flag, the environment
// or a config file rather than a default
func (c *Config) IsExplicit(key string) bool {
	return c.explicit[key]
}

// New returns a viper instance with defaults, environment bindings and
// the optional flowverify.yaml loaded. A non-empty file must exist.
func New(file string) (*viper.Viper, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("base_url", "http://localhost:3000")
	v.SetDefault("driver", "rod")
	v.SetDefault("headless", true)
	v.SetDefault("chrome_bin", "")
	v.SetDefault("timeout", 5*time.Second)
	v.SetDefault("screenshot_path", "jules-scratch/verification/verification.png")
	v.SetDefault("failure_screenshot_dir", DefaultFailureScreenshotDir)
	v.SetDefault("scenario_file", "")
	v.SetDefault("mysql_dsn", "root:password@tcp(localhost:3306)/flow_verify?parseTime=true")
	v.SetDefault("temporal_host", "localhost:7233")
	v.SetDefault("port", "8080")
	v.SetDefault("executor", "temporal")

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// Unprefixed names kept for container setups
	v.BindEnv("chrome_bin", EnvPrefix+"_CHROME_BIN", "CHROME_BIN")
	v.BindEnv("mysql_dsn", EnvPrefix+"_MYSQL_DSN", "MYSQL_DSN")
	v.BindEnv("temporal_host", EnvPrefix+"_TEMPORAL_HOST", "TEMPORAL_HOST")
	v.BindEnv("port", EnvPrefix+"_PORT", "PORT")

	// Config file
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		return v, nil
	}

	v.SetConfigName("flowverify")
	v.SetConfigType("yaml")
	for _, path := range []string{".", "$HOME/.flowverify", "/etc/flowverify"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// BindFlags lets command-line flags override the other sources.
// Flag names use dashes: --base-url binds base_url.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if bindErr := v.BindPFlag(key, f); bindErr != nil && err == nil {
			err = fmt.Errorf("failed to bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

// Load decodes the resolved settings. flags are the ones given to BindFlags
// and may be nil.
func Load(v *viper.Viper, flags *pflag.FlagSet) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}

	cfg.explicit = make(map[string]bool)
	for _, key := range v.AllKeys() {
		cfg.explicit[key] = explicit(v, flags, key)
	}
	return &cfg, nil
}

func explicit(v *viper.Viper, flags *pflag.FlagSet, key string) bool {
	if flags != nil {
		if f := flags.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil && f.Changed {
			return true
		}
	}
	if v.InConfig(key) {
		return true
	}
	return os.Getenv(EnvPrefix+"_"+strings.ToUpper(key)) != ""
}
