// Package config loads dispatchd's server configuration from, in order
// of precedence, DISPATCHD_-prefixed environment variables, a YAML
// config file, and finally built-in defaults, following the
// viper/mapstructure pattern used for DittoFS's control plane config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is dispatchd's full server configuration.
type Config struct {
	// BindAddress is the host:port the HTTP(S) API listens on.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// TLSCert and TLSKey, if both set, serve the API over HTTPS.
	TLSCert string `mapstructure:"tls_cert" yaml:"tls_cert,omitempty"`
	TLSKey  string `mapstructure:"tls_key" yaml:"tls_key,omitempty"`

	// DBPath is the bbolt data file path. db_connection is accepted as a
	// deprecated alias and folded into DBPath by ApplyDefaults.
	DBPath       string `mapstructure:"db_path" yaml:"db_path"`
	DBConnection string `mapstructure:"db_connection" yaml:"db_connection,omitempty"`

	// HeartbeatTimeout is how long a node may go without a heartbeat
	// before the sweeper marks it unavailable.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`

	// LockTTL is how long a file lock may go unrefreshed before the
	// sweeper releases it.
	LockTTL time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`

	// NodeSweepInterval and LockSweepInterval are the sweeper's two
	// ticker cadences.
	NodeSweepInterval time.Duration `mapstructure:"node_sweep_interval" yaml:"node_sweep_interval"`
	LockSweepInterval time.Duration `mapstructure:"lock_sweep_interval" yaml:"lock_sweep_interval"`

	// AllowedOrigins is the CORS allow-list for the HTTP API. "*" allows
	// any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// AuthMode selects the API authentication posture: "none" or
	// "token". See pkg/api/middleware.
	AuthMode string `mapstructure:"auth_mode" yaml:"auth_mode"`

	// TokenSecret is the shared bearer token required when AuthMode is
	// "token".
	TokenSecret string `mapstructure:"token_secret" yaml:"token_secret,omitempty"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// LoggingConfig controls pkg/log.
type LoggingConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Directory string `mapstructure:"directory" yaml:"directory,omitempty"`
	JSON      bool   `mapstructure:"json" yaml:"json"`
}

const envPrefix = "DISPATCHD"

// Load reads configuration from configPath (if non-empty and present),
// DISPATCHD_* environment variables, and defaults, in that precedence
// order (env overrides file overrides defaults). No CLI flag overrides
// a Config field.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	} else {
		applyEnvOverrides(v, cfg)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("dispatchd")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides copies any DISPATCHD_* environment variables viper
// picked up onto cfg when no config file was present to unmarshal into.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	overrides := map[string]*string{
		"bind_address":  &cfg.BindAddress,
		"tls_cert":      &cfg.TLSCert,
		"tls_key":       &cfg.TLSKey,
		"db_path":       &cfg.DBPath,
		"db_connection": &cfg.DBConnection,
		"auth_mode":     &cfg.AuthMode,
		"token_secret":  &cfg.TokenSecret,
	}
	for key, dst := range overrides {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}
	if d := v.GetDuration("heartbeat_timeout"); d > 0 {
		cfg.HeartbeatTimeout = d
	}
	if d := v.GetDuration("lock_ttl"); d > 0 {
		cfg.LockTTL = d
	}
	if d := v.GetDuration("node_sweep_interval"); d > 0 {
		cfg.NodeSweepInterval = d
	}
	if d := v.GetDuration("lock_sweep_interval"); d > 0 {
		cfg.LockSweepInterval = d
	}
}

// ApplyDefaults fills any zero-valued field with its default, and
// folds the deprecated db_connection alias into DBPath when DBPath was
// left unset.
func ApplyDefaults(cfg *Config) {
	defaults := defaultConfig()

	if cfg.DBPath == "" && cfg.DBConnection != "" {
		cfg.DBPath = cfg.DBConnection
	}

	if cfg.BindAddress == "" {
		cfg.BindAddress = defaults.BindAddress
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaults.DBPath
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	if cfg.NodeSweepInterval == 0 {
		cfg.NodeSweepInterval = defaults.NodeSweepInterval
	}
	if cfg.LockSweepInterval == 0 {
		cfg.LockSweepInterval = defaults.LockSweepInterval
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaults.AllowedOrigins
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = defaults.AuthMode
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
}

func defaultConfig() *Config {
	return &Config{
		BindAddress:       "0.0.0.0:8080",
		DBPath:            "dispatchd.db",
		HeartbeatTimeout:  2 * time.Minute,
		LockTTL:           10 * time.Minute,
		NodeSweepInterval: 30 * time.Second,
		LockSweepInterval: 60 * time.Second,
		AllowedOrigins:    []string{"*"},
		AuthMode:          "none",
		Logging:           LoggingConfig{Level: "info"},
	}
}

// Validate rejects configurations that would misbehave at runtime
// rather than failing deep inside a component.
func Validate(cfg *Config) error {
	if cfg.BindAddress == "" {
		return fmt.Errorf("bind_address is required")
	}
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must both be set or both be empty")
	}
	switch cfg.AuthMode {
	case "none", "token":
	case "os-integrated":
		return fmt.Errorf("auth_mode %q is not implemented", cfg.AuthMode)
	default:
		return fmt.Errorf("auth_mode must be one of: none, token")
	}
	if cfg.AuthMode == "token" && cfg.TokenSecret == "" {
		return fmt.Errorf("token_secret is required when auth_mode is token")
	}
	if cfg.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive")
	}
	if cfg.LockTTL <= 0 {
		return fmt.Errorf("lock_ttl must be positive")
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// DefaultConfigPath returns the path dispatchd looks for a config file
// at when none is given explicitly.
func DefaultConfigPath() string {
	return filepath.Join(".", "dispatchd.yaml")
}
