// 文件路径: internal/profile/service.go
// 模块说明: 管理导入的 Clash 配置文件：校验、复制到数据目录、切换当前配置。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creamcroissant/clashpilot/internal/repository"
)

// ErrNameRequired is returned when a profile is added without a name.
var ErrNameRequired = errors.New("profile: name is required")

// Options configures a Service.
type Options struct {
	Dir    string
	Logger *slog.Logger
	Now    func() time.Time
}

// Service manages imported profiles.
type Service struct {
	repo   repository.ProfileRepository
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewService returns a profile service storing copies under opts.Dir.
func NewService(repo repository.ProfileRepository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, dir: opts.Dir, logger: logger.With("component", "profile"), now: now}
}

// Add validates the file at source and imports a copy of it.
func (s *Service) Add(ctx context.Context, name, source string) (*repository.Profile, *Summary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, ErrNameRequired
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, nil, fmt.Errorf("read profile: %w", err)
	}
	summary, err := Inspect(data)
	if err != nil {
		return nil, nil, err
	}

	id := uuid.NewString()
	dest := filepath.Join(s.dir, id+".yaml")
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create profile dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return nil, nil, fmt.Errorf("write profile: %w", err)
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}

	stamp := s.now().Unix()
	p := &repository.Profile{
		ID:        id,
		Name:      name,
		Path:      abs,
		Source:    source,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		_ = os.Remove(dest)
		return nil, nil, fmt.Errorf("save profile: %w", err)
	}
	s.logger.Info("profile imported", "id", id, "name", name, "groups", len(summary.ProxyGroups))
	return p, summary, nil
}

// List returns every profile.
func (s *Service) List(ctx context.Context) ([]*repository.Profile, error) {
	return s.repo.List(ctx)
}

// Get returns one profile.
func (s *Service) Get(ctx context.Context, id string) (*repository.Profile, error) {
	return s.repo.FindByID(ctx, id)
}

// Active returns the active profile or repository.ErrNotFound.
func (s *Service) Active(ctx context.Context) (*repository.Profile, error) {
	return s.repo.Active(ctx)
}

// Activate marks id as the only active profile.
func (s *Service) Activate(ctx context.Context, id string) (*repository.Profile, error) {
	if err := s.repo.SetActive(ctx, id, s.now().Unix()); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// Touch bumps the profile's update time, used when it is loaded into the core.
func (s *Service) Touch(ctx context.Context, id string) error {
	return s.repo.Touch(ctx, id, s.now().Unix())
}

// Resolve returns the profile with id, or the active one when id is empty.
func (s *Service) Resolve(ctx context.Context, id string) (*repository.Profile, error) {
	if id == "" {
		return s.repo.Active(ctx)
	}
	return s.repo.FindByID(ctx, id)
}

// Remove deletes a profile with its selections and pins, then its imported file.
func (s *Service) Remove(ctx context.Context, id string) error {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.owns(p.Path) {
		if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove profile file failed", "id", id, "path", p.Path, "error", err)
		}
	}
	return nil
}

// owns reports whether path lives inside the profile directory.
func (s *Service) owns(path string) bool {
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	return err == nil && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}
