// 文件路径: internal/api/router.go
// 模块说明: 控制 API 的路由装配：中间件链、/api/v1 业务路由、WebSocket 推送与 Prometheus 指标。
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/creamcroissant/clashpilot/internal/api/handler"
	"github.com/creamcroissant/clashpilot/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Services 汇总路由依赖的业务组件。
type Services struct {
	Groups    handler.GroupService
	Lifecycle handler.Lifecycle
	Current   handler.ProfileSource
	Profiles  interface {
		handler.ProfileService
		handler.ProfileResolver
	}
	Stats handler.StatsSource
	Hub   *Hub
}

// Options 控制中间件行为。
type Options struct {
	AuthToken      string
	CORSOrigins    []string
	MaxBodyBytes   int64
	MetricsEnabled bool
	Namespace      string
	Registry       *prometheus.Registry
	MetricsHandler http.Handler
}

// NewRouter wires the control API.
func NewRouter(logger *slog.Logger, services Services, opts Options) http.Handler {
	if services.Groups == nil {
		panic("router requires GroupService")
	}
	if services.Lifecycle == nil {
		panic("router requires Lifecycle")
	}
	if services.Current == nil {
		panic("router requires ProfileSource")
	}
	if services.Profiles == nil {
		panic("router requires ProfileService")
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.RequestID,
		chiMiddleware.RealIP,
	)

	if opts.MetricsEnabled && opts.Registry != nil {
		mCfg := middleware.DefaultMetricsConfig()
		if opts.Namespace != "" {
			mCfg.Namespace = opts.Namespace
		}
		r.Use(middleware.NewMetrics(mCfg, opts.Registry).Middleware())
	}

	r.Use(
		middleware.CORS(opts.CORSOrigins),
		middleware.BodyLimit(opts.MaxBodyBytes),
		middleware.StructuredLogger(middleware.LoggingConfig{
			Logger:        logger,
			SlowThreshold: 500 * time.Millisecond,
			SkipPaths:     []string{"/health", "/metrics"},
		}),
		chiMiddleware.Recoverer,
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	if opts.MetricsEnabled && opts.MetricsHandler != nil {
		if opts.AuthToken != "" {
			r.With(middleware.BearerAuth(opts.AuthToken)).Handle("/metrics", opts.MetricsHandler)
		} else {
			r.Handle("/metrics", opts.MetricsHandler)
		}
	}

	groups := handler.NewGroupHandler(services.Groups, services.Current)
	svc := handler.NewServiceHandler(services.Lifecycle, services.Profiles, services.Stats)
	profiles := handler.NewProfileHandler(services.Profiles, services.Current)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(middleware.BearerAuth(opts.AuthToken))

		v1.Route("/groups", func(g chi.Router) {
			g.Get("/", groups.List)
			g.Post("/refresh", groups.Refresh)
			g.Put("/sort", groups.SetSort)
			g.Put("/{group}/selected", groups.Select)
			g.Put("/{group}/pinned", groups.Pin)
			g.Delete("/{group}/pinned", groups.Unpin)
			g.Post("/{group}/delay", groups.TestDelay)
		})

		v1.Get("/status", svc.Status)
		v1.Post("/service/start", svc.Start)
		v1.Post("/service/stop", svc.Stop)
		v1.Put("/device/screen", svc.Screen)
		v1.Put("/ui/proxy-screen", svc.ProxyScreen)

		v1.Route("/profiles", func(p chi.Router) {
			p.Get("/", profiles.List)
			p.Post("/", profiles.Create)
			p.Get("/{id}", profiles.Get)
			p.Put("/{id}/active", profiles.Activate)
			p.Delete("/{id}", profiles.Delete)
		})

		if services.Hub != nil {
			v1.Get("/ws", services.Hub.ServeWS)
		}
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		logger.Warn("unmapped route hit", "method", req.Method, "path", req.URL.Path)
		http.NotFound(w, req)
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
