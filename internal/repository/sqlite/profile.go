package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/creamcroissant/clashpilot/internal/repository"
)

type profileRepo struct {
	db *sql.DB
}

const profileColumns = `id, name, path, source, active, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*repository.Profile, error) {
	var p repository.Profile
	var active int
	if err := row.Scan(&p.ID, &p.Name, &p.Path, &p.Source, &active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Active = active == 1
	return &p, nil
}

func (r *profileRepo) Create(ctx context.Context, profile *repository.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	const stmt = `INSERT INTO profiles(` + profileColumns + `) VALUES(?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, stmt,
		profile.ID, profile.Name, profile.Path, profile.Source, boolToInt(profile.Active), profile.CreatedAt, profile.UpdatedAt)
	return err
}

func (r *profileRepo) FindByID(ctx context.Context, id string) (*repository.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *profileRepo) List(ctx context.Context) ([]*repository.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at, name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*repository.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *profileRepo) Active(ctx context.Context) (*repository.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM profiles WHERE active = 1 LIMIT 1`
	p, err := scanProfile(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *profileRepo) SetActive(ctx context.Context, id string, updatedAt int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE profiles SET active = 1, updated_at = ? WHERE id = ?`, updatedAt, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE profiles SET active = 0 WHERE id <> ? AND active = 1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *profileRepo) Touch(ctx context.Context, id string, updatedAt int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE profiles SET updated_at = ? WHERE id = ?`, updatedAt, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *profileRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
