package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// configName is the base name of the config file, searched with an explicit
// .yaml or .yml extension so the gymgate binary itself never matches.
const configName = "gymgate"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for gymgate.yaml/.yml in standard locations.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. ReadInConfig then returns
		// ConfigFileNotFoundError, which callers treat as env-only mode.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: GYMGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("GYMGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".gymgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "gymgate"))
		}
	} else {
		paths = append(paths, "/etc/gymgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for gymgate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
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

// bindNestedEnvKeys binds scalar config keys for environment variable support.
// Example: GYMGATE_LOCKOUT_THRESHOLD overrides lockout.threshold.
// Lists and maps (identities, api_keys, profiles, rules, throttle.limits)
// belong in the config file.
func bindNestedEnvKeys() {
	keys := []string{
		"server.http_addr",
		"server.log_level",
		"server.tls_cert_file",
		"server.tls_key_file",

		"gate.login_path",
		"gate.default_return_path",
		"gate.profile_wait",
		"gate.profile_timeout",
		"gate.profile_ttl",
		"gate.guard_sweep_interval",
		"gate.guard_max_idle",

		"throttle.cleanup_interval",

		"lockout.threshold",
		"lockout.duration",
		"lockout.max_duration",
		"lockout.escalate",
		"lockout.retention",
		"lockout.state_file",

		"rate_limit.enabled",
		"rate_limit.ip_rate",
		"rate_limit.burst",
		"rate_limit.cleanup_interval",

		"mfa.verified_ttl",

		"audit.output",
		"audit.channel_size",
		"audit.batch_size",
		"audit.flush_interval",
		"audit.send_timeout",
		"audit.warning_threshold",
		"audit.buffer_size",
		"audit.retention_days",
		"audit.max_file_size_mb",

		"tracing.enabled",
		"tracing.output",

		"dev_mode",
	}
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
