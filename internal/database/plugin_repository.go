package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pluginhub/pluginhub/internal/models"
	"github.com/pluginhub/pluginhub/internal/plugins"
)

var _ plugins.Store = (*PluginRepository)(nil)

// PluginRepository stores plugin configuration, access grants and data records
// in SQL. Queries use only syntax shared by postgres and sqlite.
type PluginRepository struct {
	db *sql.DB
}

// NewPluginRepository creates a new plugin repository.
func NewPluginRepository(db *sql.DB) *PluginRepository {
	return &PluginRepository{db: db}
}

// GetPlugin retrieves a plugin's configuration.
func (r *PluginRepository) GetPlugin(ctx context.Context, id string) (*models.Plugin, error) {
	query := `
		SELECT id, state, default_access, updated_at, created_at
		FROM plugins
		WHERE id = $1
	`

	plugin, err := scanPlugin(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, plugins.ErrPluginNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plugin %s: %w", id, err)
	}
	return plugin, nil
}

// ListPlugins retrieves every plugin ordered by id.
func (r *PluginRepository) ListPlugins(ctx context.Context) ([]models.Plugin, error) {
	query := `
		SELECT id, state, default_access, updated_at, created_at
		FROM plugins
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}
	defer rows.Close()

	list := []models.Plugin{}
	for rows.Next() {
		plugin, err := scanPlugin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin: %w", err)
		}
		list = append(list, *plugin)
	}

	return list, rows.Err()
}

// UpsertPlugin creates or updates a plugin's configuration.
func (r *PluginRepository) UpsertPlugin(ctx context.Context, plugin models.Plugin) (*models.Plugin, error) {
	if plugin.DefaultAccess == "" {
		plugin.DefaultAccess = models.AccessNone
	}
	now := toMillis(time.Now())

	query := `
		INSERT INTO plugins (id, state, default_access, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			default_access = excluded.default_access,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, plugin.ID, plugin.State, plugin.DefaultAccess, now); err != nil {
		return nil, fmt.Errorf("failed to upsert plugin %s: %w", plugin.ID, err)
	}

	return r.GetPlugin(ctx, plugin.ID)
}

// GetGrant returns the user's explicit grant on a plugin, or nil when none exists.
func (r *PluginRepository) GetGrant(ctx context.Context, pluginID, username string) (*models.AccessGrant, error) {
	query := `
		SELECT plugin_id, username, level, updated_at
		FROM plugin_access
		WHERE plugin_id = $1 AND username = $2
	`

	var grant models.AccessGrant
	var updatedAt int64
	err := r.db.QueryRowContext(ctx, query, pluginID, username).Scan(
		&grant.PluginID,
		&grant.Username,
		&grant.Level,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access grant: %w", err)
	}

	grant.UpdatedAt = fromMillis(updatedAt)
	return &grant, nil
}

// UpsertGrant sets a user's access level on a plugin.
func (r *PluginRepository) UpsertGrant(ctx context.Context, grant models.AccessGrant) error {
	if err := r.requirePlugin(ctx, grant.PluginID); err != nil {
		return err
	}

	query := `
		INSERT INTO plugin_access (plugin_id, username, level, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (plugin_id, username) DO UPDATE SET
			level = excluded.level,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, grant.PluginID, grant.Username, grant.Level, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to upsert access grant: %w", err)
	}
	return nil
}

// ListData returns up to opts.Number matching records, newest first.
func (r *PluginRepository) ListData(ctx context.Context, pluginID string, opts models.DataOptions) ([]models.Data, error) {
	where, args := dataFilter(pluginID, opts)
	query := `SELECT id, type, status, ts, content FROM plugin_data WHERE ` + where +
		fmt.Sprintf(" ORDER BY ts DESC, id ASC LIMIT $%d", len(args)+1)
	args = append(args, opts.Number)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plugin data: %w", err)
	}
	defer rows.Close()

	records := []models.Data{}
	for rows.Next() {
		var d models.Data
		var ts int64
		var content string
		if err := rows.Scan(&d.ID, &d.Type, &d.Status, &ts, &content); err != nil {
			return nil, fmt.Errorf("failed to scan plugin data: %w", err)
		}
		d.Timestamp = fromMillis(ts)
		d.Content = json.RawMessage(content)
		records = append(records, d)
	}

	return records, rows.Err()
}

// InsertData stores a new record under a freshly assigned ID. Any ID on data is
// ignored; ids are unique across all plugins.
func (r *PluginRepository) InsertData(ctx context.Context, pluginID string, data models.Data) error {
	if err := r.requirePlugin(ctx, pluginID); err != nil {
		return err
	}

	content, err := data.CompactContent()
	if err != nil {
		return err
	}
	data.ID = uuid.New().String()

	query := `
		INSERT INTO plugin_data (id, plugin_id, type, status, ts, content)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query,
		data.ID,
		pluginID,
		data.Type,
		data.Status,
		toMillis(data.Timestamp),
		content,
	)
	if err != nil {
		return fmt.Errorf("failed to insert plugin data: %w", err)
	}
	return nil
}

// ReplaceData overwrites the newest record matching old in a single UPDATE,
// keeping its ID. It returns plugins.ErrDataNotFound when nothing matches.
func (r *PluginRepository) ReplaceData(ctx context.Context, pluginID string, old, replacement models.Data) error {
	content, err := replacement.CompactContent()
	if err != nil {
		return err
	}

	args := []interface{}{replacement.Type, replacement.Status, toMillis(replacement.Timestamp), content, pluginID}

	var match string
	if old.ID != "" {
		match = "plugin_id = $5 AND id = $6"
		args = append(args, old.ID)
	} else {
		oldContent, err := old.CompactContent()
		if err != nil {
			return err
		}
		match = "plugin_id = $5 AND type = $6 AND status = $7 AND ts = $8 AND content = $9"
		args = append(args, old.Type, old.Status, toMillis(old.Timestamp), oldContent)
	}

	query := `
		UPDATE plugin_data
		SET type = $1, status = $2, ts = $3, content = $4
		WHERE id = (
			SELECT id FROM plugin_data
			WHERE ` + match + `
			ORDER BY ts DESC, id ASC
			LIMIT 1
		)
	`

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to replace plugin data: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return plugins.ErrDataNotFound
	}
	return nil
}

// DeleteData removes up to opts.Number matching records, newest first.
func (r *PluginRepository) DeleteData(ctx context.Context, pluginID string, opts models.DataOptions) (int64, error) {
	where, args := dataFilter(pluginID, opts)
	query := `
		DELETE FROM plugin_data
		WHERE id IN (
			SELECT id FROM plugin_data
			WHERE ` + where + fmt.Sprintf(`
			ORDER BY ts DESC, id ASC
			LIMIT $%d
		)
	`, len(args)+1)
	args = append(args, opts.Number)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete plugin data: %w", err)
	}

	return result.RowsAffected()
}

func (r *PluginRepository) requirePlugin(ctx context.Context, pluginID string) error {
	var found int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM plugins WHERE id = $1", pluginID).Scan(&found)
	if err == sql.ErrNoRows {
		return plugins.ErrPluginNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check plugin %s: %w", pluginID, err)
	}
	return nil
}

// dataFilter builds the WHERE clause for opts, numbering placeholders from $1.
func dataFilter(pluginID string, opts models.DataOptions) (string, []interface{}) {
	where := "plugin_id = $1"
	args := []interface{}{pluginID}
	argPos := 2

	if opts.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", argPos)
		args = append(args, opts.Type)
		argPos++
	}

	if opts.StartTimestamp != nil {
		where += fmt.Sprintf(" AND ts <= $%d", argPos)
		args = append(args, toMillis(*opts.StartTimestamp))
	}

	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlugin(row rowScanner) (*models.Plugin, error) {
	var plugin models.Plugin
	var updatedAt, createdAt int64
	if err := row.Scan(
		&plugin.ID,
		&plugin.State,
		&plugin.DefaultAccess,
		&updatedAt,
		&createdAt,
	); err != nil {
		return nil, err
	}
	plugin.UpdatedAt = fromMillis(updatedAt)
	plugin.CreatedAt = fromMillis(createdAt)
	return &plugin, nil
}
