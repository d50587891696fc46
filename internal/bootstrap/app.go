// 文件路径: internal/bootstrap/app.go
// 模块说明: 按配置装配整个守护进程：数据库、内核客户端、代理组管理器、服务编排器、任务、指标与控制 API。
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/creamcroissant/clashpilot/internal/api"
	"github.com/creamcroissant/clashpilot/internal/cache"
	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/config"
	"github.com/creamcroissant/clashpilot/internal/job"
	"github.com/creamcroissant/clashpilot/internal/metrics"
	"github.com/creamcroissant/clashpilot/internal/migrations"
	"github.com/creamcroissant/clashpilot/internal/monitor"
	"github.com/creamcroissant/clashpilot/internal/profile"
	"github.com/creamcroissant/clashpilot/internal/proxygroup"
	"github.com/creamcroissant/clashpilot/internal/repository/sqlite"
	"github.com/creamcroissant/clashpilot/internal/service"
	"github.com/creamcroissant/clashpilot/internal/sysproxy"
)

const jobTimeout = 2 * time.Minute

// App holds every long-lived component of the daemon.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Store     *sqlite.Store
	Client    *clash.Client
	Delays    *cache.DelayCache
	Groups    *proxygroup.Manager
	Service   *service.Orchestrator
	Profiles  *profile.Service
	Metrics   *metrics.Metrics
	Monitor   *monitor.Monitor
	Scheduler *job.Scheduler
	Hub       *api.Hub

	cancel context.CancelFunc
	done   chan struct{}
}

// Build opens the database, applies migrations and wires the components. Nothing is started.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required / 配置不能为空")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := OpenSQLite(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	store := sqlite.NewStore(db)

	client, err := clash.NewClient(clash.Options{
		BaseURL:      cfg.Controller.URL,
		Secret:       cfg.Controller.Secret,
		Timeout:      cfg.Controller.Timeout,
		SnapshotTTL:  cfg.Controller.SnapshotTTL,
		DelayURL:     cfg.Controller.DelayURL,
		DelayTimeout: cfg.Controller.DelayTimeout,
		Locale:       cfg.Selection.Locale,
		Retry: clash.RetryConfig{
			Enabled:         cfg.Controller.Retry.Enabled,
			MaxRetries:      cfg.Controller.Retry.MaxRetries,
			InitialInterval: cfg.Controller.Retry.InitialInterval,
			MaxInterval:     cfg.Controller.Retry.MaxInterval,
			Multiplier:      cfg.Controller.Retry.Multiplier,
		},
		Logger: logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	m := metrics.New(cfg.Metrics.Namespace)

	delays := cache.NewDelayCache(cache.NewStore(cache.Options{
		Prefix:          "clashpilot",
		DefaultTTL:      cfg.DelayCache.TTL,
		CleanupInterval: cfg.DelayCache.CleanupInterval,
	}), cfg.DelayCache.TTL)

	groups := proxygroup.NewManager(proxygroup.Options{
		Core:          client,
		Delays:        delays,
		Store:         store,
		Recorder:      m,
		Logger:        logger,
		SortOrder:     clash.ParseSortOrder(cfg.Selection.SortOrder),
		SelectSettle:  cfg.Selection.SelectSettle,
		PinSettle:     cfg.Selection.PinSettle,
		UnpinSettle:   cfg.Selection.UnpinSettle,
		RestoreSettle: cfg.Selection.RestoreSettle,
	})

	var sys service.SystemProxy
	if cfg.HTTPProxy.SystemProxy {
		sys = sysproxy.NewGSettings("127.0.0.1", nil, logger)
	}

	orchestrator := service.New(service.Options{
		Core:              client,
		Groups:            groups,
		SystemProxy:       sys,
		Recorder:          m,
		Logger:            logger,
		ScreenOnInterval:  cfg.Polling.ScreenOnInterval,
		ScreenOffInterval: cfg.Polling.ScreenOffInterval,
		GroupRefreshMin:   cfg.Polling.GroupRefreshMin,
		MaxPollFailures:   cfg.Polling.MaxFailures,
		TunStack:          cfg.Tun.Stack,
		MixedPort:         cfg.HTTPProxy.MixedPort,
		UseSysProxy:       cfg.HTTPProxy.SystemProxy,
		CoreLogLevel:      cfg.Controller.LogLevel,
		LogBufferSize:     cfg.Controller.LogBuffer,
	})

	mon := monitor.New()
	scheduler := job.NewScheduler(logger, jobTimeout)
	if _, err := scheduler.Register(cfg.Jobs.DelaySync, job.NewDelaySyncJob(groups, orchestrator)); err != nil {
		db.Close()
		return nil, fmt.Errorf("register delay-sync job: %w", err)
	}
	if _, err := scheduler.Register(cfg.Jobs.DelayTest, job.NewDelayTestJob(groups, orchestrator, logger)); err != nil {
		db.Close()
		return nil, fmt.Errorf("register delay-test job: %w", err)
	}
	if _, err := scheduler.Register(cfg.Jobs.ProcessStats, job.NewProcessStatsJob(mon, m)); err != nil {
		db.Close()
		return nil, fmt.Errorf("register process-stats job: %w", err)
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Store:     store,
		Client:    client,
		Delays:    delays,
		Groups:    groups,
		Service:   orchestrator,
		Profiles:  profile.NewService(store.Profiles(), profile.Options{Dir: cfg.Profiles.Dir, Logger: logger}),
		Metrics:   m,
		Monitor:   mon,
		Scheduler: scheduler,
		Hub:       api.NewHub(logger),
	}
	app.Hub.SetSnapshot(app.snapshot)
	return app, nil
}

func (a *App) snapshot() []api.Message {
	return []api.Message{
		{Type: api.MessageState, Data: a.Service.Status()},
		{Type: api.MessageGroups, Data: a.Groups.Groups().Value()},
		{Type: api.MessageTraffic, Data: a.Service.Traffic().Value()},
		{Type: api.MessageLogs, Data: a.Service.Logs().Value()},
	}
}

// Router builds the control API handler.
func (a *App) Router() http.Handler {
	return api.NewRouter(a.Logger, api.Services{
		Groups:    a.Groups,
		Lifecycle: a.Service,
		Current:   a.Service,
		Profiles:  a.Profiles,
		Stats:     a.Monitor,
		Hub:       a.Hub,
	}, api.Options{
		AuthToken:      a.Config.HTTP.AuthToken,
		CORSOrigins:    a.Config.HTTP.CORSOrigins,
		MaxBodyBytes:   a.Config.HTTP.MaxBodyBytes,
		MetricsEnabled: a.Config.Metrics.Enabled,
		Namespace:      a.Config.Metrics.Namespace,
		Registry:       a.Metrics.Registry(),
		MetricsHandler: a.Metrics.Handler(),
	})
}

// Start runs the scheduler, the push hub and the stream forwarders until Close.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	a.Scheduler.Start()
	go a.Scheduler.RunOnce(job.NewProcessStatsJob(a.Monitor, a.Metrics))

	go func() {
		defer close(a.done)
		a.Hub.Run(ctx)
	}()
	go api.Forward(ctx, a.Hub, api.MessageState, a.Service.States(), nil)
	go api.Forward(ctx, a.Hub, api.MessageGroups, a.Groups.Groups(), nil)
	go api.Forward(ctx, a.Hub, api.MessageTraffic, a.Service.Traffic(), nil)
	go api.Forward(ctx, a.Hub, api.MessageLogs, a.Service.Logs(), lastLog)
}

// lastLog pushes only the newest entry; clients get the full ring in the snapshot.
func lastLog(entries []clash.LogEntry) any {
	if len(entries) == 0 {
		return nil
	}
	return entries[len(entries)-1]
}

// Close stops the proxy service, the background tasks and the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Service.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop service: %w", err))
	}
	if a.cancel != nil {
		stopped := a.Scheduler.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
		a.cancel()
		<-a.done
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
