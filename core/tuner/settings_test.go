package tuner

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/spec"
)

func TestParseSettings(t *testing.T) {
	cfg, err := spec.Parse([]byte(`
experiment:
  auto_tuner:
    strategy: random
    action: run
    metric: tokens_per_sec
    mode: max
    max_trials: 8
    max_duration: 1h
    patience: 3
    parallelism: 2
    seed: 7
    trial_timeout: 600
    space:
      train.model.tensor_model_parallel_size: [1, 2]
      train:
        system:
          micro_batch_size: [1, 2, 4]
      train.model.recompute: full
`))
	require.NoError(t, err)

	s, err := ParseSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, "random", s.Strategy)
	assert.Equal(t, models.ActionRun, s.Action)
	assert.Equal(t, 8, s.MaxTrials)
	assert.Equal(t, time.Hour, s.MaxDuration)
	assert.Equal(t, 10*time.Minute, s.TrialTimeout)
	assert.Equal(t, int64(7), s.Seed)
	assert.Equal(t, defaultPortBase, s.PortBase)
	assert.Equal(t, Space{
		{Path: "train.model.recompute", Values: []interface{}{"full"}},
		{Path: "train.model.tensor_model_parallel_size", Values: []interface{}{1, 2}},
		{Path: "train.system.micro_batch_size", Values: []interface{}{1, 2, 4}},
	}, s.Space)
	assert.Equal(t, 6, s.Space.Size())
	assert.True(t, s.Better(2, 1))
}

func TestParseSettingsDefaults(t *testing.T) {
	cfg, err := spec.Parse([]byte("experiment:\n  auto_tuner:\n    metric: latency\n    mode: min\n    space:\n      serve.batch: [1]\n"))
	require.NoError(t, err)
	s, err := ParseSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, "grid", s.Strategy)
	assert.Equal(t, models.ActionTest, s.Action)
	assert.Equal(t, 1, s.Parallelism)
	assert.Equal(t, defaultTrialTimeout, s.TrialTimeout)
	assert.True(t, s.Better(1, 2))
}

func TestParseSettingsErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing section", "experiment: {}\n", "is not set"},
		{"no space", "experiment:\n  auto_tuner:\n    metric: m\n", "space must be a non-empty mapping"},
		{"empty values", "experiment:\n  auto_tuner:\n    metric: m\n    space:\n      a: []\n", "has no values"},
		{"no metric", "experiment:\n  auto_tuner:\n    space:\n      a: [1]\n", "metric is required"},
		{"bad action", "experiment:\n  auto_tuner:\n    metric: m\n    action: stop\n    space:\n      a: [1]\n", "must be run or test"},
		{"bad mode", "experiment:\n  auto_tuner:\n    metric: m\n    mode: best\n    space:\n      a: [1]\n", "must be max or min"},
		{"bad parallelism", "experiment:\n  auto_tuner:\n    metric: m\n    parallelism: 0\n    space:\n      a: [1]\n", "at least 1"},
		{"bad devices", "experiment:\n  auto_tuner:\n    metric: m\n    devices: [a]\n    space:\n      a: [1]\n", "integer device ids"},
		{"devices for running trials only", "experiment:\n  auto_tuner:\n    metric: m\n    parallelism: 2\n    devices: [0, 1]\n    space:\n      a: [1]\n", "needs 3"},
		{"wide slots short of devices", "experiment:\n  auto_tuner:\n    metric: m\n    devices: [0, 1, 2]\n    devices_per_slot: 2\n    space:\n      a: [1]\n", "needs 4"},
		{"zero devices per slot", "experiment:\n  auto_tuner:\n    metric: m\n    devices: [0, 1]\n    devices_per_slot: 0\n    space:\n      a: [1]\n", "devices_per_slot must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := spec.Parse([]byte(tt.doc))
			require.NoError(t, err)
			_, err = ParseSettings(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseSettingsDevicesPerSlotDefault(t *testing.T) {
	cfg, err := spec.Parse([]byte("experiment:\n  auto_tuner:\n    metric: m\n    parallelism: 2\n    devices: [0, 1, 2]\n    space:\n      a: [1]\n"))
	require.NoError(t, err)
	s, err := ParseSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, s.DevicesPerSlot)
	assert.Equal(t, []int{0, 1, 2}, s.Devices)
}

func TestSpaceSizeSaturates(t *testing.T) {
	values := make([]interface{}, 1<<16)
	for i := range values {
		values[i] = i
	}
	var space Space
	for i := 0; i < 5; i++ {
		space = append(space, Dimension{Path: fmt.Sprintf("d%d", i), Values: values})
	}
	assert.Equal(t, math.MaxInt, space.Size())

	g, err := NewGridStrategy(space, 0)
	require.NoError(t, err)
	c, ok := g.Next(nil)
	require.True(t, ok)
	assert.Equal(t, 0, c["d0"])

	r, err := NewRandomStrategy(space, 1)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, ok := r.Next(nil)
		require.True(t, ok)
	}
}
