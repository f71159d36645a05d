package runner

import (
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/spec"
)

// RLRunner runs reinforcement learning jobs from the rl section. It shares
// the torchrun launch of TrainRunner with its own entrypoint.
type RLRunner struct {
	*distributedRunner
}

// NewRLRunner creates an rl runner
func NewRLRunner(cfg *spec.Node, deps Deps) *RLRunner {
	return &RLRunner{distributedRunner: newDistributedRunner(models.TaskRL, cfg, deps)}
}
