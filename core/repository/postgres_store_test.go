package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/1016qqz/FlagScale/core/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &DB{DB: db}, mock
}

var (
	selectPrev   = regexp.QuoteMeta(`SELECT job_id, status FROM job_handles WHERE key = $1 FOR UPDATE`)
	upsertHandle = regexp.QuoteMeta(`INSERT INTO job_handles`)
	insertEvent  = regexp.QuoteMeta(`INSERT INTO job_events`)
)

func TestPostgresSaveNewJobRecordsLaunch(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresHandleStore(db)
	h := sampleHandle()

	mock.ExpectBegin()
	mock.ExpectQuery(selectPrev).WithArgs("k").WillReturnRows(sqlmock.NewRows([]string{"job_id", "status"}))
	mock.ExpectExec(upsertHandle).
		WithArgs("k", "5d9e", "train", "local", "running", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertEvent).
		WithArgs("k", "5d9e", nil, "running", "job_launched", `{"backend":"local","processes":2}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), "k", h))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveStatusChange(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresHandleStore(db)
	h := sampleHandle()
	h.Status = models.JobStatusStopped

	mock.ExpectBegin()
	mock.ExpectQuery(selectPrev).WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "status"}).AddRow("5d9e", "running"))
	mock.ExpectExec(upsertHandle).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertEvent).
		WithArgs("k", "5d9e", "running", "stopped", "status_changed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), "k", h))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveUnchangedStatusSkipsEvent(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresHandleStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(selectPrev).WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "status"}).AddRow("5d9e", "running"))
	mock.ExpectExec(upsertHandle).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), "k", sampleHandle()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresHandleStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(selectPrev).WillReturnRows(sqlmock.NewRows([]string{"job_id", "status"}))
	mock.ExpectExec(upsertHandle).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.Save(context.Background(), "k", sampleHandle())
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoad(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresHandleStore(db)
	data, err := yaml.Marshal(sampleHandle())
	require.NoError(t, err)

	load := regexp.QuoteMeta(`SELECT handle_yaml FROM job_handles WHERE key = $1`)
	mock.ExpectQuery(load).WithArgs("k").WillReturnRows(sqlmock.NewRows([]string{"handle_yaml"}).AddRow(string(data)))
	mock.ExpectQuery(load).WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"handle_yaml"}))

	h, err := store.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 4242, h.Processes[0].PID)

	_, err = store.Load(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrHandleNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobEvents(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "key", "job_id", "at", "from_status", "to_status", "reason", "meta_json"}).
		AddRow(2, "k", "5d9e", at, "running", "stopped", "status_changed", `{"backend":"local"}`).
		AddRow(1, "k", "5d9e", at, nil, "running", "job_launched", `{}`)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM job_events`)).WithArgs("k", 10).WillReturnRows(rows)

	events, err := repo.GetJobEvents(context.Background(), "k", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[0].FromStatus)
	assert.Equal(t, models.JobStatusRunning, *events[0].FromStatus)
	assert.Equal(t, models.JobStatusStopped, events[0].ToStatus)
	assert.Equal(t, "local", events[0].MetaJSON["backend"])
	assert.Nil(t, events[1].FromStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}
