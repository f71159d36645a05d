package tuner

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/1016qqz/FlagScale/core/models"
)

// Candidate assigns a value to every path of the space
type Candidate map[string]interface{}

// Strategy proposes the next candidate to try. history holds the trials
// finished so far in completion order. Next returns false once the policy
// has nothing left to propose.
type Strategy interface {
	Next(history []models.TuningTrial) (Candidate, bool)
}

// StrategyFactory builds a strategy over space
type StrategyFactory func(space Space, seed int64) (Strategy, error)

var (
	strategiesMu sync.RWMutex
	strategies   = map[string]StrategyFactory{
		"grid":   NewGridStrategy,
		"random": NewRandomStrategy,
	}
)

// RegisterStrategy makes a search policy available under name
func RegisterStrategy(name string, factory StrategyFactory) {
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	strategies[name] = factory
}

// Strategies lists the registered policy names
func Strategies() []string {
	strategiesMu.RLock()
	defer strategiesMu.RUnlock()
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStrategy builds the policy registered under name
func NewStrategy(name string, space Space, seed int64) (Strategy, error) {
	strategiesMu.RLock()
	factory, ok := strategies[name]
	strategiesMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown tuning strategy %q, expected one of %v", name, Strategies())
	}
	return factory(space, seed)
}

// candidateAt decodes the i-th point of the cartesian product. The first
// dimension varies slowest.
func candidateAt(space Space, i int) Candidate {
	c := make(Candidate, len(space))
	for d := len(space) - 1; d >= 0; d-- {
		n := len(space[d].Values)
		c[space[d].Path] = space[d].Values[i%n]
		i /= n
	}
	return c
}
