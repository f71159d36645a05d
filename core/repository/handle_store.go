package repository

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/1016qqz/FlagScale/core/models"
)

// ErrHandleNotFound is returned when no handle was saved under a key
var ErrHandleNotFound = errors.New("job handle not found")

// HandleStore persists the JobHandle of the most recent launch per key, so
// a later stop or query can reach the job from a fresh process
type HandleStore interface {
	Save(ctx context.Context, key string, handle *models.JobHandle) error
	Load(ctx context.Context, key string) (*models.JobHandle, error)
}

// HandleKey derives the storage key for a task launched from expDir
func HandleKey(expDir string, task models.TaskType) string {
	return filepath.Join(expDir, ".flagscale", string(task)+".yaml")
}
