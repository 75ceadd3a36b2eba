package repo

import (
	"context"
	"database/sql"

	"paperline/internal/domain"
)

// Every query here takes pluginID as an explicit first argument; the
// plugindata capability binds it at construction so plugin code can never
// address another plugin's rows.

func (r Repo) UpsertDataEntry(ctx context.Context, e domain.PluginDataEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO plugin_data(plugin_id,namespace,key,value,encrypted,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(plugin_id,namespace,key) DO UPDATE SET value=excluded.value, encrypted=excluded.encrypted, updated_at=excluded.updated_at`,
		e.PluginID, e.Namespace, e.Key, e.Value, e.Encrypted, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) GetDataEntry(ctx context.Context, pluginID, namespace, key string) (domain.PluginDataEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT plugin_id, namespace, key, value, encrypted, created_at, updated_at
		FROM plugin_data WHERE plugin_id=? AND namespace=? AND key=?`, pluginID, namespace, key)
	var e domain.PluginDataEntry
	err := row.Scan(&e.PluginID, &e.Namespace, &e.Key, &e.Value, &e.Encrypted, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

// ListDataKeys returns the key names in a namespace, ascending.
func (r Repo) ListDataKeys(ctx context.Context, pluginID, namespace string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key FROM plugin_data WHERE plugin_id=? AND namespace=? ORDER BY key`, pluginID, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r Repo) DeleteDataEntry(ctx context.Context, pluginID, namespace, key string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM plugin_data WHERE plugin_id=? AND namespace=? AND key=?`, pluginID, namespace, key)
	return err
}

func (r Repo) ClearDataNamespace(ctx context.Context, pluginID, namespace string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM plugin_data WHERE plugin_id=? AND namespace=?`, pluginID, namespace)
	return err
}
