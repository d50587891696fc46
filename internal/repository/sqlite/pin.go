package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/creamcroissant/clashpilot/internal/repository"
)

type pinRepo struct {
	db *sql.DB
}

func (r *pinRepo) All(ctx context.Context, profileID string) (map[string]string, error) {
	const query = `SELECT group_name, proxy_name FROM pins WHERE profile_id = ? ORDER BY group_name`
	return scanPairs(ctx, r.db, query, profileID)
}

func (r *pinRepo) Set(ctx context.Context, pin *repository.Pin) error {
	if pin == nil || pin.ProfileID == "" || pin.GroupName == "" {
		return fmt.Errorf("pin requires profile and group")
	}
	const stmt = `INSERT INTO pins(profile_id, group_name, proxy_name, updated_at) VALUES(?, ?, ?, ?)
                  ON CONFLICT(profile_id, group_name) DO UPDATE SET proxy_name = excluded.proxy_name, updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, stmt, pin.ProfileID, pin.GroupName, pin.ProxyName, pin.UpdatedAt)
	return err
}

func (r *pinRepo) Remove(ctx context.Context, profileID, groupName string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pins WHERE profile_id = ? AND group_name = ?`, profileID, groupName)
	return err
}
