// 文件路径: internal/sysproxy/sysproxy.go
// 模块说明: HTTP 模式下把桌面系统代理指向本地 mixed 端口（GNOME gsettings）。
package sysproxy

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Runner executes one external command.
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs the command and folds its output into the error.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// GSettings drives org.gnome.system.proxy.
type GSettings struct {
	host   string
	run    Runner
	logger *slog.Logger
}

// NewGSettings returns a system proxy pointing at host; run defaults to ExecRunner.
func NewGSettings(host string, run Runner, logger *slog.Logger) *GSettings {
	if host == "" {
		host = "127.0.0.1"
	}
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GSettings{host: host, run: run, logger: logger.With("component", "sysproxy")}
}

// Enable sets manual mode with http, https and socks on port.
func (g *GSettings) Enable(ctx context.Context, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("sysproxy: invalid port %d", port)
	}
	p := strconv.Itoa(port)
	for _, schema := range []string{"http", "https", "socks"} {
		key := "org.gnome.system.proxy." + schema
		if err := g.set(ctx, key, "host", g.host); err != nil {
			return err
		}
		if err := g.set(ctx, key, "port", p); err != nil {
			return err
		}
	}
	if err := g.set(ctx, "org.gnome.system.proxy", "mode", "manual"); err != nil {
		return err
	}
	g.logger.Info("system proxy enabled", "host", g.host, "port", port)
	return nil
}

// Disable sets mode none; hosts and ports are left for the next Enable.
func (g *GSettings) Disable(ctx context.Context) error {
	if err := g.set(ctx, "org.gnome.system.proxy", "mode", "none"); err != nil {
		return err
	}
	g.logger.Info("system proxy disabled")
	return nil
}

func (g *GSettings) set(ctx context.Context, schema, key, value string) error {
	if err := g.run(ctx, "gsettings", "set", schema, key, value); err != nil {
		return fmt.Errorf("sysproxy: set %s %s: %w", schema, key, err)
	}
	return nil
}
