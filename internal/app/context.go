package app

import (
	"database/sql"
	"fmt"

	"paperline/internal/config"
	"paperline/internal/db"
	"paperline/internal/engine"
	"paperline/internal/migrate"
)

// Bootstrap opens the workspace database, applies migrations, loads the
// workspace config (defaults when paperline.yml is absent) and assembles the
// engine. The caller owns the returned connection.
func Bootstrap(workspace string) (*sql.DB, engine.Engine, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, engine.Engine{}, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	e, err := engine.New(conn, cfg, workspace, engine.Collaborators{})
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	return conn, e, nil
}
