package runner

import (
	"fmt"

	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/spec"
)

// Factory builds the runner for a validated task type
type Factory struct {
	deps Deps
}

// NewFactory creates a factory handing deps to every runner
func NewFactory(deps Deps) *Factory {
	return &Factory{deps: deps}
}

// Create returns the runner for task bound to cfg. An error means the task
// type was never validated.
func (f *Factory) Create(task models.TaskType, cfg *spec.Node) (Runner, error) {
	switch task {
	case models.TaskTrain:
		return NewTrainRunner(cfg, f.deps), nil
	case models.TaskInference:
		return NewInferenceRunner(cfg, f.deps), nil
	case models.TaskServe:
		return NewServeRunner(cfg, f.deps), nil
	case models.TaskCompress:
		return NewCompressRunner(cfg, f.deps), nil
	case models.TaskRL:
		return NewRLRunner(cfg, f.deps), nil
	default:
		return nil, fmt.Errorf("no runner for unvalidated task type %q", task)
	}
}
