// 文件路径: internal/api/handler/profiles.go
// 模块说明: Clash 配置文件的导入、列表、激活与删除接口。
package handler

import (
	"context"
	"errors"
	"io/fs"
	"net/http"

	"github.com/creamcroissant/clashpilot/internal/profile"
	"github.com/creamcroissant/clashpilot/internal/repository"
	"github.com/go-chi/chi/v5"
)

// ProfileService manages imported profiles.
type ProfileService interface {
	Add(ctx context.Context, name, source string) (*repository.Profile, *profile.Summary, error)
	List(ctx context.Context) ([]*repository.Profile, error)
	Get(ctx context.Context, id string) (*repository.Profile, error)
	Activate(ctx context.Context, id string) (*repository.Profile, error)
	Remove(ctx context.Context, id string) error
}

// ProfileHandler serves /api/v1/profiles.
type ProfileHandler struct {
	profiles ProfileService
	current  ProfileSource
}

// NewProfileHandler 创建配置文件处理器。
func NewProfileHandler(profiles ProfileService, current ProfileSource) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, current: current}
}

// List 处理 GET /api/v1/profiles。
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.profiles.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "profiles.list", err)
		return
	}
	if items == nil {
		items = []*repository.Profile{}
	}
	respondData(w, http.StatusOK, items)
}

type addProfileRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Create 处理 POST /api/v1/profiles，从本地路径导入一份配置。
func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req addProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "profiles.create", err)
		return
	}
	if err := requireField("path", req.Path); err != nil {
		respondError(w, http.StatusBadRequest, "profiles.create", err)
		return
	}
	p, summary, err := h.profiles.Add(r.Context(), req.Name, req.Path)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, profile.ErrNameRequired) || errors.Is(err, profile.ErrInvalidProfile) || errors.Is(err, fs.ErrNotExist) {
			status = http.StatusBadRequest
		}
		respondError(w, status, "profiles.create", err)
		return
	}
	respondData(w, http.StatusCreated, map[string]any{"profile": p, "summary": summary})
}

// Get 处理 GET /api/v1/profiles/{id}。
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, profileErrorStatus(err), "profiles.get", err)
		return
	}
	respondData(w, http.StatusOK, p)
}

// Activate 处理 PUT /api/v1/profiles/{id}/active。只影响下一次启动。
func (h *ProfileHandler) Activate(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, profileErrorStatus(err), "profiles.activate", err)
		return
	}
	respondData(w, http.StatusOK, p)
}

// Delete 处理 DELETE /api/v1/profiles/{id}；正在运行的配置不能删除。
func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if cur := h.current.CurrentProfile(); cur != nil && cur.ID == id {
		respondError(w, http.StatusConflict, "profiles.delete", errors.New("profile is in use by the running service"))
		return
	}
	if err := h.profiles.Remove(r.Context(), id); err != nil {
		respondError(w, profileErrorStatus(err), "profiles.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
