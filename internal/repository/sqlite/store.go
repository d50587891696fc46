// 文件路径: internal/repository/sqlite/store.go
// 模块说明: 这是 internal 模块里的 store 逻辑，把各个 SQLite 仓储组装在一起。
package sqlite

import (
	"database/sql"

	"github.com/creamcroissant/clashpilot/internal/repository"
)

// Store wires SQLite-backed repository implementations.
type Store struct {
	db         *sql.DB
	profiles   repository.ProfileRepository
	selections repository.SelectionRepository
	pins       repository.PinRepository
}

// NewStore constructs a SQLite-backed repository store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:         db,
		profiles:   &profileRepo{db: db},
		selections: &selectionRepo{db: db},
		pins:       &pinRepo{db: db},
	}
}

func (s *Store) Profiles() repository.ProfileRepository {
	return s.profiles
}

func (s *Store) Selections() repository.SelectionRepository {
	return s.selections
}

func (s *Store) Pins() repository.PinRepository {
	return s.pins
}
