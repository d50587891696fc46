package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/creamcroissant/clashpilot/internal/repository"
)

type selectionRepo struct {
	db *sql.DB
}

func (r *selectionRepo) All(ctx context.Context, profileID string) (map[string]string, error) {
	const query = `SELECT group_name, proxy_name FROM selections WHERE profile_id = ? ORDER BY group_name`
	return scanPairs(ctx, r.db, query, profileID)
}

func (r *selectionRepo) Set(ctx context.Context, selection *repository.Selection) error {
	if selection == nil || selection.ProfileID == "" || selection.GroupName == "" {
		return fmt.Errorf("selection requires profile and group")
	}
	const stmt = `INSERT INTO selections(profile_id, group_name, proxy_name, updated_at) VALUES(?, ?, ?, ?)
                  ON CONFLICT(profile_id, group_name) DO UPDATE SET proxy_name = excluded.proxy_name, updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, stmt, selection.ProfileID, selection.GroupName, selection.ProxyName, selection.UpdatedAt)
	return err
}

func (r *selectionRepo) DeleteByProfile(ctx context.Context, profileID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM selections WHERE profile_id = ?`, profileID)
	return err
}
