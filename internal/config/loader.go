package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const configName = "toolproxy"

// InitViper returns a Viper instance reading configFile, or toolproxy.yaml
// from the standard locations when configFile is empty, with TOOLPROXY_
// environment overrides.
func InitViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		// ReadInConfig then reports ConfigFileNotFoundError, which callers
		// treat as "environment only".
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	// TOOLPROXY_HTTP_ADDR overrides http.addr
	v.SetEnvPrefix("TOOLPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)
	return v
}

// findConfigFile searches standard locations for toolproxy.yaml or .yml.
// An explicit extension keeps Viper from matching the binary itself.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".toolproxy"),
		"/etc/toolproxy",
	})
}

// findConfigFileInPaths returns the first toolproxy.yaml or toolproxy.yml
// found in paths, or "".
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds scalar keys so AutomaticEnv sees them during Unmarshal.
// servers is a list and can only be set in the file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"log_level",
		"dev_mode",
		"default_timeout",
		"risk_table",
		"connect.attempts",
		"connect.concurrency",
		"connect.response_header_timeout",
		"audit.output",
		"audit.channel_size",
		"audit.batch_size",
		"audit.flush_interval",
		"audit.send_timeout",
		"audit.warning_threshold",
		"audit.recent_size",
		"http.addr",
		"http.tls_cert",
		"http.tls_key",
		"tracing.enabled",
		"tracing.sample_rate",
	} {
		_ = v.BindEnv(key)
	}
}

// LoadConfig reads, defaults and validates the configuration.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg, err := LoadConfigRaw(v)
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration and applies defaults, but neither
// dev defaults nor validation. Use it when CLI flags still override fields.
func LoadConfigRaw(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}
