package repository

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/1016qqz/FlagScale/core/models"
)

// FileHandleStore keeps each handle as a YAML file at its key path
type FileHandleStore struct {
	fs afero.Fs
}

// NewFileHandleStore creates a store on fs; nil means the OS filesystem
func NewFileHandleStore(fs afero.Fs) *FileHandleStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileHandleStore{fs: fs}
}

// Save writes the handle to a temp file and renames it over the key
func (s *FileHandleStore) Save(ctx context.Context, key string, handle *models.JobHandle) error {
	data, err := yaml.Marshal(handle)
	if err != nil {
		return errors.Wrap(err, "failed to encode job handle")
	}
	return WriteFileAtomic(s.fs, key, data)
}

func (s *FileHandleStore) Load(ctx context.Context, key string) (*models.JobHandle, error) {
	data, err := afero.ReadFile(s.fs, key)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrHandleNotFound, "no handle at %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read job handle %s", key)
	}
	var handle models.JobHandle
	if err := yaml.Unmarshal(data, &handle); err != nil {
		return nil, errors.Wrapf(err, "corrupt job handle %s", key)
	}
	return &handle, nil
}

// WriteFileAtomic replaces path with data so readers never see a partial file
func WriteFileAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()[:8]+".tmp")
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return errors.Wrapf(err, "failed to move %s into place", path)
	}
	return nil
}
