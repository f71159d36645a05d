package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1016qqz/FlagScale/core/models"
)

func sampleHandle() *models.JobHandle {
	return &models.JobHandle{
		JobID:      "5d9e",
		Name:       "demo",
		TaskType:   models.TaskTrain,
		Backend:    "local",
		LogDir:     "/exp/logs",
		Status:     models.JobStatusRunning,
		LaunchedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Processes: []models.ProcessRef{
			{Rank: 0, Host: "localhost", PID: 4242},
			{Rank: 1, Host: "localhost", PID: 4243},
		},
	}
}

func TestHandleKey(t *testing.T) {
	assert.Equal(t, filepath.Join("/exp", ".flagscale", "serve.yaml"), HandleKey("/exp", models.TaskServe))
}

func TestFileHandleStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := NewFileHandleStore(fs)
	key := HandleKey("/exp", models.TaskTrain)

	_, err := store.Load(ctx, key)
	assert.True(t, errors.Is(err, ErrHandleNotFound))

	h := sampleHandle()
	require.NoError(t, store.Save(ctx, key, h))

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	// No temp files are left next to the handle
	entries, err := afero.ReadDir(fs, filepath.Dir(key))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	h.Status = models.JobStatusStopped
	require.NoError(t, store.Save(ctx, key, h))
	got, err = store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStopped, got.Status)

	_, err = store.Load(ctx, HandleKey("/exp", models.TaskServe))
	assert.True(t, errors.Is(err, ErrHandleNotFound))
}

func TestFileHandleStoreOnDisk(t *testing.T) {
	ctx := context.Background()
	store := NewFileHandleStore(nil)
	key := HandleKey(t.TempDir(), models.TaskServe)

	require.NoError(t, store.Save(ctx, key, sampleHandle()))
	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "5d9e", got.JobID)
}

func TestFileHandleStoreCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/exp/.flagscale/rl.yaml", []byte("job_id: [unclosed"), 0o644))

	_, err := NewFileHandleStore(fs).Load(context.Background(), "/exp/.flagscale/rl.yaml")
	assert.ErrorContains(t, err, "corrupt job handle")
}
