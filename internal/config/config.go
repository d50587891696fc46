package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/creamcroissant/clashpilot/internal/support/logging"
)

// Config 汇总守护进程的全部配置。
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"database"`
	Controller ControllerConfig `mapstructure:"controller"`
	Polling    PollingConfig    `mapstructure:"polling"`
	DelayCache DelayCacheConfig `mapstructure:"delay_cache"`
	Selection  SelectionConfig  `mapstructure:"selection"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Tun        TunConfig        `mapstructure:"tun"`
	HTTPProxy  HTTPProxyConfig  `mapstructure:"http_proxy"`
	Profiles   ProfilesConfig   `mapstructure:"profiles"`
}

// LogConfig 定义日志配置。
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// DBConfig 定义选择记录数据库配置。
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// ControllerConfig 描述 Clash 外部控制器的连接方式。
type ControllerConfig struct {
	URL          string        `mapstructure:"url"`
	Secret       string        `mapstructure:"secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SnapshotTTL  time.Duration `mapstructure:"snapshot_ttl"`
	LogLevel     string        `mapstructure:"log_level"`
	LogBuffer    int           `mapstructure:"log_buffer"`
	DelayURL     string        `mapstructure:"delay_url"`
	DelayTimeout time.Duration `mapstructure:"delay_timeout"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

// RetryConfig holds retry settings for controller reads.
type RetryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// PollingConfig 定义运行期轮询节奏。
type PollingConfig struct {
	ScreenOnInterval  time.Duration `mapstructure:"screen_on_interval"`
	ScreenOffInterval time.Duration `mapstructure:"screen_off_interval"`
	GroupRefreshMin   time.Duration `mapstructure:"group_refresh_min"`
	MaxFailures       int           `mapstructure:"max_failures"`
}

// DelayCacheConfig 定义延迟缓存的有效期。
type DelayCacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// SelectionConfig 定义切换节点后的等待时间。
type SelectionConfig struct {
	SelectSettle  time.Duration `mapstructure:"select_settle"`
	PinSettle     time.Duration `mapstructure:"pin_settle"`
	UnpinSettle   time.Duration `mapstructure:"unpin_settle"`
	RestoreSettle time.Duration `mapstructure:"restore_settle"`
	SortOrder     string        `mapstructure:"sort_order"`
	Locale        string        `mapstructure:"locale"`
}

// HTTPConfig 定义控制 API 服务配置。
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	AuthToken       string        `mapstructure:"auth_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// MetricsConfig 定义 Prometheus 指标配置。
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// JobsConfig 定义后台任务的 cron 表达式。
type JobsConfig struct {
	DelaySync    string `mapstructure:"delay_sync"`
	DelayTest    string `mapstructure:"delay_test"`
	ProcessStats string `mapstructure:"process_stats"`
}

// TunConfig 定义 TUN 模式参数。
type TunConfig struct {
	Stack string `mapstructure:"stack"`
}

// HTTPProxyConfig 定义 HTTP 模式参数。
type HTTPProxyConfig struct {
	MixedPort   int  `mapstructure:"mixed_port"`
	SystemProxy bool `mapstructure:"system_proxy"`
}

// ProfilesConfig 定义配置文件目录。
type ProfilesConfig struct {
	Dir string `mapstructure:"dir"`
}

// SlogLevel converts the configured level string.
func (c LogConfig) SlogLevel() slog.Level {
	return logging.ParseLevel(c.Level)
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Controller.URL) == "" {
		return fmt.Errorf("controller.url is required")
	}
	if c.Controller.Timeout <= 0 {
		return fmt.Errorf("controller.timeout must be positive")
	}
	if c.Polling.ScreenOnInterval <= 0 || c.Polling.ScreenOffInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}
	if c.Polling.ScreenOffInterval < c.Polling.ScreenOnInterval {
		return fmt.Errorf("polling.screen_off_interval must not be shorter than polling.screen_on_interval")
	}
	if c.Polling.GroupRefreshMin < 0 {
		return fmt.Errorf("polling.group_refresh_min must not be negative")
	}
	if c.DelayCache.TTL <= 0 {
		return fmt.Errorf("delay_cache.ttl must be positive")
	}
	if c.Selection.SelectSettle < 0 || c.Selection.PinSettle < 0 || c.Selection.UnpinSettle < 0 || c.Selection.RestoreSettle < 0 {
		return fmt.Errorf("selection settle delays must not be negative")
	}
	switch strings.ToLower(c.Selection.SortOrder) {
	case "", "default", "title", "delay":
	default:
		return fmt.Errorf("selection.sort_order %q is not one of default, title, delay", c.Selection.SortOrder)
	}
	if c.HTTPProxy.MixedPort < 0 || c.HTTPProxy.MixedPort > 65535 {
		return fmt.Errorf("http_proxy.mixed_port is out of range")
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}
