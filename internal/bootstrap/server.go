// 文件路径: internal/bootstrap/server.go
// 模块说明: 控制 API 的 http.Server 默认参数。
package bootstrap

import (
	"net/http"
	"time"

	"github.com/creamcroissant/clashpilot/internal/config"
)

// NewHTTPServer constructs a baseline http.Server with conservative defaults.
// WriteTimeout stays zero so /api/v1/ws connections are not cut.
func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}
}
