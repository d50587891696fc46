// 文件路径: internal/api/handler/groups.go
// 模块说明: 代理组列表、节点切换、固定与测速接口。
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/proxygroup"
	"github.com/creamcroissant/clashpilot/internal/repository"
	"github.com/creamcroissant/clashpilot/internal/support/stream"
	"github.com/go-chi/chi/v5"
)

// GroupService is the proxy group manager as seen by the API.
type GroupService interface {
	Groups() *stream.Stream[[]proxygroup.GroupInfo]
	RefreshGroups(ctx context.Context, skipCacheClear bool, profile *repository.Profile) error
	SelectProxy(ctx context.Context, group, proxy string, profile *repository.Profile) bool
	ForceSelectProxy(ctx context.Context, group, proxy string, profile *repository.Profile) bool
	TestGroupDelay(ctx context.Context, group string) error
	SetSortOrder(order clash.SortOrder)
	SortOrder() clash.SortOrder
}

// ProfileSource yields the profile the core is running with, nil when stopped.
type ProfileSource interface {
	CurrentProfile() *repository.Profile
}

// GroupHandler serves /api/v1/groups.
type GroupHandler struct {
	groups  GroupService
	current ProfileSource
}

// NewGroupHandler 创建代理组处理器。
func NewGroupHandler(groups GroupService, current ProfileSource) *GroupHandler {
	return &GroupHandler{groups: groups, current: current}
}

type groupsResponse struct {
	Groups    []proxygroup.GroupInfo `json:"groups"`
	SortOrder clash.SortOrder        `json:"sort_order"`
	Version   uint64                 `json:"version"`
}

// List 处理 GET /api/v1/groups，只读取已发布的列表，不触发刷新。
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	s := h.groups.Groups()
	groups := s.Value()
	if groups == nil {
		groups = []proxygroup.GroupInfo{}
	}
	respondData(w, http.StatusOK, groupsResponse{
		Groups:    groups,
		SortOrder: h.groups.SortOrder(),
		Version:   s.Version(),
	})
}

// Refresh 处理 POST /api/v1/groups/refresh。
func (h *GroupHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.RefreshGroups(r.Context(), false, h.current.CurrentProfile()); err != nil {
		respondError(w, http.StatusBadGateway, "groups.refresh", err)
		return
	}
	h.List(w, r)
}

type sortRequest struct {
	Order string `json:"order"`
}

// SetSort 处理 PUT /api/v1/groups/sort，未知取值回落到 default。
func (h *GroupHandler) SetSort(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "groups.sort", err)
		return
	}
	order := clash.ParseSortOrder(req.Order)
	h.groups.SetSortOrder(order)
	respondData(w, http.StatusOK, map[string]string{"sort_order": string(order)})
}

type proxyRequest struct {
	Proxy string `json:"proxy"`
}

// Select 处理 PUT /api/v1/groups/{group}/selected。
func (h *GroupHandler) Select(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	var req proxyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "groups.select", err)
		return
	}
	if err := requireField("proxy", req.Proxy); err != nil {
		respondError(w, http.StatusBadRequest, "groups.select", err)
		return
	}
	if !h.groups.SelectProxy(r.Context(), group, req.Proxy, h.current.CurrentProfile()) {
		respondError(w, http.StatusConflict, "groups.select", errors.New("selection was not applied"))
		return
	}
	respondData(w, http.StatusOK, map[string]string{"group": group, "now": req.Proxy})
}

// Pin 处理 PUT /api/v1/groups/{group}/pinned。
func (h *GroupHandler) Pin(w http.ResponseWriter, r *http.Request) {
	var req proxyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "groups.pin", err)
		return
	}
	if err := requireField("proxy", req.Proxy); err != nil {
		respondError(w, http.StatusBadRequest, "groups.pin", err)
		return
	}
	h.forceSelect(w, r, chi.URLParam(r, "group"), req.Proxy, "groups.pin")
}

// Unpin 处理 DELETE /api/v1/groups/{group}/pinned。
func (h *GroupHandler) Unpin(w http.ResponseWriter, r *http.Request) {
	h.forceSelect(w, r, chi.URLParam(r, "group"), "", "groups.unpin")
}

func (h *GroupHandler) forceSelect(w http.ResponseWriter, r *http.Request, group, proxy, action string) {
	if !h.groups.ForceSelectProxy(r.Context(), group, proxy, h.current.CurrentProfile()) {
		respondError(w, http.StatusConflict, action, errors.New("pin was not applied"))
		return
	}
	respondData(w, http.StatusOK, map[string]string{"group": group, "fixed": proxy})
}

// TestDelay 处理 POST /api/v1/groups/{group}/delay。
func (h *GroupHandler) TestDelay(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	start := time.Now()
	if err := h.groups.TestGroupDelay(r.Context(), group); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, clash.ErrGroupNotFound) || errors.Is(err, clash.ErrNotGroup) {
			status = http.StatusNotFound
		}
		respondError(w, status, "groups.delay", err)
		return
	}
	resp := map[string]any{"group": nil, "elapsed_ms": time.Since(start).Milliseconds()}
	for _, g := range h.groups.Groups().Value() {
		if g.Name == group {
			resp["group"] = g
			break
		}
	}
	respondData(w, http.StatusOK, resp)
}
