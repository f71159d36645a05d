package tuner

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/1016qqz/FlagScale/core/models"
)

// permuteLimit bounds the spaces that are shuffled up front
const permuteLimit = 1 << 16

// RandomStrategy samples the space without replacement. The same seed
// yields the same order.
type RandomStrategy struct {
	space Space
	rng   *rand.Rand
	size  int
	order []int
	seen  map[int]bool
}

// NewRandomStrategy creates a seeded random search
func NewRandomStrategy(space Space, seed int64) (Strategy, error) {
	size := space.Size()
	if size == 0 {
		return nil, errors.New("random search needs a non-empty space")
	}
	r := &RandomStrategy{
		space: space,
		rng:   rand.New(rand.NewSource(seed)),
		size:  size,
		seen:  make(map[int]bool),
	}
	if size <= permuteLimit {
		r.order = r.rng.Perm(size)
	}
	return r, nil
}

func (r *RandomStrategy) Next(_ []models.TuningTrial) (Candidate, bool) {
	if len(r.seen) >= r.size {
		return nil, false
	}
	var i int
	if r.order != nil {
		i = r.order[len(r.seen)]
	} else {
		for {
			i = r.rng.Intn(r.size)
			if !r.seen[i] {
				break
			}
		}
	}
	r.seen[i] = true
	return candidateAt(r.space, i), true
}
