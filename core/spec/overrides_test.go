package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverride(t *testing.T) {
	tests := []struct {
		expr    string
		op      OverrideOp
		path    string
		value   interface{}
		wantErr string
	}{
		{expr: "experiment.task.type=serve", op: OverrideSet, path: "experiment.task.type", value: "serve"},
		{expr: "+train.seed=42", op: OverrideAdd, path: "train.seed", value: 42},
		{expr: "++system.lr=1e-4", op: OverrideUpsert, path: "system.lr", value: 1e-4},
		{expr: "~experiment.deploy", op: OverrideDelete, path: "experiment.deploy"},
		{expr: "a.b=[1, 2]", op: OverrideSet, path: "a.b", value: []interface{}{1, 2}},
		{expr: "a.b=", op: OverrideSet, path: "a.b", value: ""},
		{expr: "=x", wantErr: "missing key"},
		{expr: "a.b", wantErr: "expected key=value"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			o, err := ParseOverride(tt.expr)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.op, o.Op)
			assert.Equal(t, tt.path, o.Path)
			if tt.op != OverrideDelete {
				assert.Equal(t, tt.value, o.Value.Interface())
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	base := func() *Node {
		return mustParse(t, "experiment:\n  exp_name: demo\n  task:\n    type: train\n")
	}

	t.Run("set existing key", func(t *testing.T) {
		cfg := base()
		require.NoError(t, ApplyOverrides(cfg, []string{"experiment.exp_name=other"}))
		assert.Equal(t, "other", cfg.GetStringOr("experiment.exp_name", ""))
	})

	t.Run("set missing key fails", func(t *testing.T) {
		err := ApplyOverrides(base(), []string{"experiment.seed=1"})
		assert.ErrorContains(t, err, "use +experiment.seed")
	})

	t.Run("add new key", func(t *testing.T) {
		cfg := base()
		require.NoError(t, ApplyOverrides(cfg, []string{"+experiment.seed=1"}))
		assert.Equal(t, 1, cfg.GetIntOr("experiment.seed", 0))
	})

	t.Run("add existing key fails", func(t *testing.T) {
		err := ApplyOverrides(base(), []string{"+experiment.exp_name=x"})
		assert.ErrorContains(t, err, "already in config")
	})

	t.Run("upsert either way", func(t *testing.T) {
		cfg := base()
		require.NoError(t, ApplyOverrides(cfg, []string{"++experiment.exp_name=x", "++experiment.new=y"}))
		assert.Equal(t, "x", cfg.GetStringOr("experiment.exp_name", ""))
		assert.Equal(t, "y", cfg.GetStringOr("experiment.new", ""))
	})

	t.Run("delete", func(t *testing.T) {
		cfg := base()
		require.NoError(t, ApplyOverrides(cfg, []string{"~experiment.task"}))
		assert.False(t, cfg.Has("experiment.task"))

		err := ApplyOverrides(cfg, []string{"~experiment.task"})
		assert.ErrorContains(t, err, "key not in config")
	})
}
