package runner

import (
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/spec"
)

// CompressRunner runs model compression from the compress section
type CompressRunner struct {
	*baseRunner
}

// NewCompressRunner creates a compress runner
func NewCompressRunner(cfg *spec.Node, deps Deps) *CompressRunner {
	r := &CompressRunner{baseRunner: newBaseRunner(models.TaskCompress, cfg, deps)}
	r.commands = r.singleNodeCommands
	return r
}
