package spec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadComposesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "train.yaml", `
defaults:
  - base
  - train: small
  - _self_
experiment:
  exp_name: demo
  task:
    type: train
train:
  system:
    seed: 7
`)
	writeFile(t, dir, "base.yaml", `
experiment:
  exp_name: base
  exp_dir: /tmp/base
`)
	writeFile(t, dir, "train/small.yaml", `
system:
  seed: 1
  tensor_parallel: 2
`)

	cfg, err := Load(dir, "train", []string{"experiment.exp_dir=/tmp/out"})
	require.NoError(t, err)

	want := map[string]interface{}{
		"experiment": map[string]interface{}{
			"exp_name": "demo",
			"exp_dir":  "/tmp/out",
			"task":     map[string]interface{}{"type": "train"},
		},
		"train": map[string]interface{}{
			"system": map[string]interface{}{
				"seed":            7,
				"tensor_parallel": 2,
			},
		},
	}
	if diff := cmp.Diff(want, cfg.Interface()); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSelfFirst(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "serve.yaml", `
defaults:
  - _self_
  - extra
value: mine
`)
	writeFile(t, dir, "extra.yaml", "value: theirs\n")

	cfg, err := Load(dir, "serve.yaml", nil)
	require.NoError(t, err)
	assert.Equal(t, "theirs", cfg.GetStringOr("value", ""))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scalar.yaml", "just text\n")
	writeFile(t, dir, "loop.yaml", "defaults:\n  - loop\n")
	writeFile(t, dir, "badgroup.yaml", "defaults:\n  - train: 3\n")

	_, err := Load(dir, "missing", nil)
	assert.ErrorContains(t, err, "failed to read config")

	_, err = Load(dir, "scalar", nil)
	assert.ErrorContains(t, err, "top level must be a mapping")

	_, err = Load(dir, "loop", nil)
	assert.ErrorContains(t, err, "defaults nested deeper")

	_, err = Load(dir, "badgroup", nil)
	assert.ErrorContains(t, err, "must name a config")
}
