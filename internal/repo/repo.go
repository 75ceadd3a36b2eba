package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"paperline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const pluginCols = `id, name, version, enabled, manifest_json, created_at, updated_at`

func scanPlugin(row *sql.Row) (domain.Plugin, error) {
	var p domain.Plugin
	err := row.Scan(&p.ID, &p.Name, &p.Version, &p.Enabled, &p.ManifestJSON, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertPlugin(ctx context.Context, tx *sql.Tx, p domain.Plugin) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO plugins(id,name,version,enabled,manifest_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Version, p.Enabled, p.ManifestJSON, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPlugin(ctx context.Context, name string) (domain.Plugin, error) {
	return scanPlugin(r.DB.QueryRowContext(ctx, `SELECT `+pluginCols+` FROM plugins WHERE name=?`, name))
}

func (r Repo) GetPluginByID(ctx context.Context, id string) (domain.Plugin, error) {
	return scanPlugin(r.DB.QueryRowContext(ctx, `SELECT `+pluginCols+` FROM plugins WHERE id=?`, id))
}

func (r Repo) ListPlugins(ctx context.Context) ([]domain.Plugin, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+pluginCols+` FROM plugins ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Plugin
	for rows.Next() {
		var p domain.Plugin
		if err := rows.Scan(&p.ID, &p.Name, &p.Version, &p.Enabled, &p.ManifestJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// UpsertPlugin replaces the row for a force re-install while keeping the id
// stable for an existing name.
func (r Repo) UpsertPlugin(ctx context.Context, tx *sql.Tx, p domain.Plugin) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO plugins(id,name,version,enabled,manifest_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET version=excluded.version, manifest_json=excluded.manifest_json, updated_at=excluded.updated_at`,
		p.ID, p.Name, p.Version, p.Enabled, p.ManifestJSON, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) SetPluginEnabled(ctx context.Context, tx *sql.Tx, id string, enabled bool, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE plugins SET enabled=?, updated_at=? WHERE id=?`,
		enabled, now.UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePlugin removes the row; jobs and data entries go with it via the
// foreign key cascade.
func (r Repo) DeletePlugin(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM plugins WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
