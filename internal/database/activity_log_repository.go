package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pluginhub/pluginhub/internal/models"
)

const (
	defaultActivityLimit = 100
	maxActivityLimit     = 1000
)

// ActivityLogRepository handles activity log storage and retrieval.
type ActivityLogRepository struct {
	db *sql.DB
}

// NewActivityLogRepository creates a new activity log repository.
func NewActivityLogRepository(db *sql.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// Log stores a new activity log entry.
func (r *ActivityLogRepository) Log(ctx context.Context, log models.ActivityLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}

	var details sql.NullString
	if log.Details != nil {
		detailsJSON, err := json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
		details = sql.NullString{String: string(detailsJSON), Valid: true}
	}

	query := `
		INSERT INTO activity_logs (id, ts, activity_type, plugin_id, username, message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		toMillis(log.Timestamp),
		log.ActivityType,
		log.PluginID,
		log.Username,
		log.Message,
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// List retrieves activity logs newest first, optionally for one plugin.
func (r *ActivityLogRepository) List(ctx context.Context, limit int, pluginID string) ([]models.ActivityLog, error) {
	limit = clampActivityLimit(limit)

	query := `
		SELECT id, ts, activity_type, plugin_id, username, message, details
		FROM activity_logs
		WHERE 1=1
	`
	args := []interface{}{}
	argPos := 1

	if pluginID != "" {
		query += fmt.Sprintf(" AND plugin_id = $%d", argPos)
		args = append(args, pluginID)
		argPos++
	}

	query += " ORDER BY ts DESC, id ASC"
	query += fmt.Sprintf(" LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer rows.Close()

	logs := []models.ActivityLog{}
	for rows.Next() {
		var log models.ActivityLog
		var ts int64
		var details sql.NullString

		err := rows.Scan(
			&log.ID,
			&ts,
			&log.ActivityType,
			&log.PluginID,
			&log.Username,
			&log.Message,
			&details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		log.Timestamp = fromMillis(ts)

		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &log.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}

		logs = append(logs, log)
	}

	return logs, rows.Err()
}

func clampActivityLimit(limit int) int {
	if limit <= 0 {
		return defaultActivityLimit
	}
	if limit > maxActivityLimit {
		return maxActivityLimit
	}
	return limit
}
