package runner

import (
	"github.com/1016qqz/FlagScale/core/executor"
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/spec"
	"github.com/1016qqz/FlagScale/training/frameworks"
)

// distributedRunner launches one torchrun per node
type distributedRunner struct {
	*baseRunner
	setup *frameworks.PyTorchSetup
}

func newDistributedRunner(task models.TaskType, cfg *spec.Node, deps Deps) *distributedRunner {
	r := &distributedRunner{
		baseRunner: newBaseRunner(task, cfg, deps),
		setup:      &frameworks.PyTorchSetup{DefaultNProcPerNode: 1},
	}
	r.commands = r.torchrunCommands
	return r
}

func (r *distributedRunner) torchrunCommands(nodes []models.Node, configPath string) ([]executor.NodeSpec, error) {
	port := r.cfg.GetIntOr("experiment.runner.master_port", frameworks.DefaultMasterPort)
	dist, err := r.setup.SetupDistributed(nodes, port)
	if err != nil {
		return nil, err
	}
	args := map[string]string{"config-path": configPath}
	specs := make([]executor.NodeSpec, len(dist.Nodes))
	for i, n := range dist.Nodes {
		specs[i] = executor.NodeSpec{
			Rank:    n.Rank,
			Host:    nodes[i].Address,
			Command: r.setup.LaunchCommand(dist, n, r.entrypoint(), args),
			Env:     n.Environment,
		}
	}
	return specs, nil
}

// TrainRunner runs pre-training and fine-tuning jobs from the train section
type TrainRunner struct {
	*distributedRunner
}

// NewTrainRunner creates a train runner
func NewTrainRunner(cfg *spec.Node, deps Deps) *TrainRunner {
	return &TrainRunner{distributedRunner: newDistributedRunner(models.TaskTrain, cfg, deps)}
}
