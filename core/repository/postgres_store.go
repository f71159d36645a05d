package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/1016qqz/FlagScale/core/models"
)

// PostgresHandleStore keeps handles in job_handles and records every status
// change of a key in job_events
type PostgresHandleStore struct {
	db *DB
}

// NewPostgresHandleStore creates a handle store on db
func NewPostgresHandleStore(db *DB) *PostgresHandleStore {
	return &PostgresHandleStore{db: db}
}

// Save upserts the handle and logs a transition event when the job id or
// status differs from the stored one
func (r *PostgresHandleStore) Save(ctx context.Context, key string, handle *models.JobHandle) error {
	data, err := yaml.Marshal(handle)
	if err != nil {
		return errors.Wrap(err, "failed to encode job handle")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var prevJobID, prevStatus sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT job_id, status FROM job_handles WHERE key = $1 FOR UPDATE`, key,
	).Scan(&prevJobID, &prevStatus)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to read previous handle")
	}

	upsert := `
		INSERT INTO job_handles (key, job_id, task_type, backend, status, handle_yaml, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (key) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			task_type = EXCLUDED.task_type,
			backend = EXCLUDED.backend,
			status = EXCLUDED.status,
			handle_yaml = EXCLUDED.handle_yaml,
			updated_at = NOW()
	`
	if _, err := tx.ExecContext(ctx, upsert,
		key, handle.JobID, handle.TaskType, handle.Backend, handle.Status, string(data),
	); err != nil {
		return errors.Wrap(err, "failed to save job handle")
	}

	var from *models.JobStatus
	reason := "job_launched"
	if prevJobID.Valid && prevJobID.String == handle.JobID {
		s := models.JobStatus(prevStatus.String)
		if s == handle.Status {
			return tx.Commit()
		}
		from = &s
		reason = "status_changed"
	}
	meta := map[string]interface{}{"backend": handle.Backend, "processes": len(handle.Processes)}
	if err := createJobEventTx(ctx, tx, key, handle.JobID, from, handle.Status, reason, meta); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresHandleStore) Load(ctx context.Context, key string) (*models.JobHandle, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT handle_yaml FROM job_handles WHERE key = $1`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrHandleNotFound, "no handle for %s", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load job handle")
	}
	var handle models.JobHandle
	if err := yaml.Unmarshal([]byte(data), &handle); err != nil {
		return nil, errors.Wrapf(err, "corrupt job handle for %s", key)
	}
	return &handle, nil
}

func createJobEventTx(ctx context.Context, tx *sql.Tx, key, jobID string, fromStatus *models.JobStatus, toStatus models.JobStatus, reason string, meta map[string]interface{}) error {
	query := `
		INSERT INTO job_events (key, job_id, from_status, to_status, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var fromStatusStr *string
	if fromStatus != nil {
		s := string(*fromStatus)
		fromStatusStr = &s
	}

	metaJSON := "{}"
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return errors.Wrap(err, "failed to encode event metadata")
		}
		metaJSON = string(b)
	}

	_, err := tx.ExecContext(ctx, query, key, jobID, fromStatusStr, string(toStatus), reason, metaJSON)
	if err != nil {
		return errors.Wrap(err, "failed to record job event")
	}
	return nil
}
