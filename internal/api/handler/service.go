// 文件路径: internal/api/handler/service.go
// 模块说明: 代理服务启停、运行状态与设备/界面信号接口。
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/creamcroissant/clashpilot/internal/monitor"
	"github.com/creamcroissant/clashpilot/internal/repository"
	"github.com/creamcroissant/clashpilot/internal/service"
	"github.com/creamcroissant/clashpilot/internal/support/stream"
)

// Lifecycle is the orchestrator as seen by the API.
type Lifecycle interface {
	Start(ctx context.Context, mode service.Mode, profile *repository.Profile) error
	Stop(ctx context.Context) error
	Status() service.Status
	Traffic() *stream.Stream[service.TrafficSnapshot]
	SetScreenOn(on bool)
	ScreenOn() bool
	SetProxyScreenActive(active bool)
	ProxyScreenActive() bool
}

// ProfileResolver finds the profile a start request refers to.
type ProfileResolver interface {
	Resolve(ctx context.Context, id string) (*repository.Profile, error)
	Activate(ctx context.Context, id string) (*repository.Profile, error)
	Touch(ctx context.Context, id string) error
}

// StatsSource returns the latest resource sample.
type StatsSource interface {
	Last() monitor.Stats
}

// ServiceHandler serves the lifecycle endpoints.
type ServiceHandler struct {
	lifecycle Lifecycle
	profiles  ProfileResolver
	stats     StatsSource
}

// NewServiceHandler 创建服务处理器；stats 可为 nil。
func NewServiceHandler(lifecycle Lifecycle, profiles ProfileResolver, stats StatsSource) *ServiceHandler {
	return &ServiceHandler{lifecycle: lifecycle, profiles: profiles, stats: stats}
}

type statusResponse struct {
	Service           service.Status          `json:"service"`
	Error             string                  `json:"error,omitempty"`
	ScreenOn          bool                    `json:"screen_on"`
	ProxyScreenActive bool                    `json:"proxy_screen_active"`
	Traffic           service.TrafficSnapshot `json:"traffic"`
	Stats             *monitor.Stats          `json:"stats,omitempty"`
}

func (h *ServiceHandler) status() statusResponse {
	st := h.lifecycle.Status()
	resp := statusResponse{
		Service:           st,
		ScreenOn:          h.lifecycle.ScreenOn(),
		ProxyScreenActive: h.lifecycle.ProxyScreenActive(),
		Traffic:           h.lifecycle.Traffic().Value(),
	}
	if st.Cause != nil {
		resp.Error = st.Cause.Error()
	}
	if h.stats != nil {
		s := h.stats.Last()
		resp.Stats = &s
	}
	return resp
}

// Status 处理 GET /api/v1/status。
func (h *ServiceHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, h.status())
}

type startRequest struct {
	Mode      string `json:"mode"`
	ProfileID string `json:"profile_id"`
}

// Start 处理 POST /api/v1/service/start。profile_id 为空时使用当前激活的配置。
func (h *ServiceHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "service.start", err)
		return
	}
	mode, err := service.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, "service.start", err)
		return
	}
	ctx := r.Context()
	profile, err := h.profiles.Resolve(ctx, req.ProfileID)
	if err != nil {
		respondError(w, profileErrorStatus(err), "service.start", err)
		return
	}
	if !profile.Active {
		if profile, err = h.profiles.Activate(ctx, profile.ID); err != nil {
			respondError(w, profileErrorStatus(err), "service.start", err)
			return
		}
	}

	if err := h.lifecycle.Start(ctx, mode, profile); err != nil {
		respondError(w, startErrorStatus(err), "service.start", err)
		return
	}
	if err := h.profiles.Touch(ctx, profile.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "service.start", err)
		return
	}
	respondData(w, http.StatusOK, h.status())
}

// Stop 处理 POST /api/v1/service/stop。停止总会结束在 idle，错误只作提示。
func (h *ServiceHandler) Stop(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if err := h.lifecycle.Stop(r.Context()); err != nil {
		resp["warning"] = err.Error()
	}
	resp["status"] = h.status()
	respondData(w, http.StatusOK, resp)
}

type screenRequest struct {
	On bool `json:"on"`
}

// Screen 处理 PUT /api/v1/device/screen。
func (h *ServiceHandler) Screen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "device.screen", err)
		return
	}
	h.lifecycle.SetScreenOn(req.On)
	respondData(w, http.StatusOK, map[string]bool{"screen_on": h.lifecycle.ScreenOn()})
}

type proxyScreenRequest struct {
	Active bool `json:"active"`
}

// ProxyScreen 处理 PUT /api/v1/ui/proxy-screen。
func (h *ServiceHandler) ProxyScreen(w http.ResponseWriter, r *http.Request) {
	var req proxyScreenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "ui.proxy_screen", err)
		return
	}
	h.lifecycle.SetProxyScreenActive(req.Active)
	respondData(w, http.StatusOK, map[string]bool{"proxy_screen_active": h.lifecycle.ProxyScreenActive()})
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoProfile), errors.Is(err, service.ErrUnknownMode):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func profileErrorStatus(err error) int {
	if errors.Is(err, repository.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
