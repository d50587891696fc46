// 文件路径: internal/repository/interfaces.go
// 模块说明: 这是 internal 模块里的 interfaces 逻辑，定义仓储接口。
package repository

import "context"

// Store 暴露每个聚合根对应的仓储接口。
type Store interface {
	Profiles() ProfileRepository
	Selections() SelectionRepository
	Pins() PinRepository
}

// ProfileRepository 定义配置文件的数据访问方法。
type ProfileRepository interface {
	Create(ctx context.Context, profile *Profile) error
	FindByID(ctx context.Context, id string) (*Profile, error)
	List(ctx context.Context) ([]*Profile, error)
	// Active returns ErrNotFound when no profile is marked active.
	Active(ctx context.Context) (*Profile, error)
	// SetActive marks exactly one profile active.
	SetActive(ctx context.Context, id string, updatedAt int64) error
	Touch(ctx context.Context, id string, updatedAt int64) error
	Delete(ctx context.Context, id string) error
}

// SelectionRepository stores (profile, group) -> selected proxy.
type SelectionRepository interface {
	All(ctx context.Context, profileID string) (map[string]string, error)
	Set(ctx context.Context, selection *Selection) error
	DeleteByProfile(ctx context.Context, profileID string) error
}

// PinRepository stores (profile, group) -> pinned proxy.
type PinRepository interface {
	All(ctx context.Context, profileID string) (map[string]string, error)
	Set(ctx context.Context, pin *Pin) error
	Remove(ctx context.Context, profileID, groupName string) error
}
