package tuner

import (
	"github.com/pkg/errors"

	"github.com/1016qqz/FlagScale/core/models"
)

// GridStrategy walks the full cartesian product in order
type GridStrategy struct {
	space Space
	next  int
	size  int
}

// NewGridStrategy creates an exhaustive grid search
func NewGridStrategy(space Space, _ int64) (Strategy, error) {
	if space.Size() == 0 {
		return nil, errors.New("grid search needs a non-empty space")
	}
	return &GridStrategy{space: space, size: space.Size()}, nil
}

func (g *GridStrategy) Next(_ []models.TuningTrial) (Candidate, bool) {
	if g.next >= g.size {
		return nil, false
	}
	c := candidateAt(g.space, g.next)
	g.next++
	return c, true
}
