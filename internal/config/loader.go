package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads the configuration file (optional), applies CLASHPILOT_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/clashpilot/")
	}

	v.SetEnvPrefix("CLASHPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("controller.secret", "CLASHPILOT_CONTROLLER_SECRET", "CLASH_SECRET"); err != nil {
		return nil, fmt.Errorf("bind env controller.secret: %w", err)
	}
	if err := v.BindEnv("http.auth_token", "CLASHPILOT_HTTP_AUTH_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind env http.auth_token: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Defaults and environment variables are enough to run.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.path", "data/clashpilot.db")

	v.SetDefault("controller.url", "http://127.0.0.1:9090")
	v.SetDefault("controller.timeout", "5s")
	v.SetDefault("controller.snapshot_ttl", "1s")
	v.SetDefault("controller.log_level", "info")
	v.SetDefault("controller.log_buffer", 200)
	v.SetDefault("controller.delay_url", "https://www.gstatic.com/generate_204")
	v.SetDefault("controller.delay_timeout", "5s")
	v.SetDefault("controller.retry.enabled", true)
	v.SetDefault("controller.retry.max_retries", 3)
	v.SetDefault("controller.retry.initial_interval", "200ms")
	v.SetDefault("controller.retry.max_interval", "2s")
	v.SetDefault("controller.retry.multiplier", 2)

	v.SetDefault("polling.screen_on_interval", "1s")
	v.SetDefault("polling.screen_off_interval", "10s")
	v.SetDefault("polling.group_refresh_min", "5s")
	v.SetDefault("polling.max_failures", 5)

	v.SetDefault("delay_cache.ttl", "10m")
	v.SetDefault("delay_cache.cleanup_interval", "1m")

	v.SetDefault("selection.select_settle", "100ms")
	v.SetDefault("selection.pin_settle", "100ms")
	v.SetDefault("selection.unpin_settle", "50ms")
	v.SetDefault("selection.restore_settle", "300ms")
	v.SetDefault("selection.sort_order", "default")
	v.SetDefault("selection.locale", "en")

	v.SetDefault("http.addr", "127.0.0.1:9797")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.max_body_bytes", 1<<20)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "clashpilot")

	v.SetDefault("jobs.delay_sync", "@every 30s")
	v.SetDefault("jobs.delay_test", "@every 10m")
	v.SetDefault("jobs.process_stats", "@every 15s")

	v.SetDefault("tun.stack", "mixed")
	v.SetDefault("http_proxy.mixed_port", 7890)
	v.SetDefault("http_proxy.system_proxy", false)

	v.SetDefault("profiles.dir", "data/profiles")
}
