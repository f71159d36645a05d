package runner

import (
	"fmt"

	"github.com/1016qqz/FlagScale/core/executor"
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/spec"
)

// singleNodeCommands runs the entrypoint once on the first node
func (b *baseRunner) singleNodeCommands(nodes []models.Node, configPath string) ([]executor.NodeSpec, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes to run %s on", b.task)
	}
	if len(nodes) > 1 {
		b.log.Warnf("%s runs on a single node; ignoring %d extra hosts", b.task, len(nodes)-1)
	}
	return []executor.NodeSpec{{
		Rank:    0,
		Host:    nodes[0].Address,
		Command: fmt.Sprintf("%s %s --config-path=%s", b.python(), b.entrypoint(), configPath),
	}}, nil
}

// InferenceRunner runs offline batch inference from the inference section
type InferenceRunner struct {
	*baseRunner
}

// NewInferenceRunner creates an inference runner
func NewInferenceRunner(cfg *spec.Node, deps Deps) *InferenceRunner {
	r := &InferenceRunner{baseRunner: newBaseRunner(models.TaskInference, cfg, deps)}
	r.commands = r.singleNodeCommands
	return r
}
