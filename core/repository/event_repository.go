package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/1016qqz/FlagScale/core/models"
)

// EventRepository reads the status history recorded by PostgresHandleStore
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetJobEvents retrieves the newest events for a handle key
func (r *EventRepository) GetJobEvents(ctx context.Context, key string, limit int) ([]models.JobEvent, error) {
	query := `
		SELECT id, key, job_id, at, from_status, to_status, reason, meta_json
		FROM job_events
		WHERE key = $1
		ORDER BY at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var event models.JobEvent
		var fromStatus sql.NullString
		var toStatus string
		var metaJSON string

		err := rows.Scan(
			&event.ID,
			&event.Key,
			&event.JobID,
			&event.At,
			&fromStatus,
			&toStatus,
			&event.Reason,
			&metaJSON,
		)
		if err != nil {
			return nil, err
		}

		event.ToStatus = models.JobStatus(toStatus)
		if fromStatus.Valid {
			status := models.JobStatus(fromStatus.String)
			event.FromStatus = &status
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &event.MetaJSON)
		}

		events = append(events, event)
	}
	return events, rows.Err()
}
