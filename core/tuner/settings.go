package tuner

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/spec"
)

// SettingsPath is the config section auto-tuning reads
const SettingsPath = "experiment.auto_tuner"

const (
	defaultStrategy     = "grid"
	defaultTrialTimeout = 30 * time.Minute
	defaultPortBase     = 29600
)

// Mode says which direction of the metric is better
type Mode string

const (
	ModeMax Mode = "max"
	ModeMin Mode = "min"
)

// Dimension is one tunable config path and the values it may take
type Dimension struct {
	Path   string
	Values []interface{}
}

// Space is the search space, ordered by path
type Space []Dimension

// Size is the number of distinct candidates in the space. It saturates at
// math.MaxInt.
func (s Space) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		k := len(d.Values)
		if k == 0 {
			return 0
		}
		if n > math.MaxInt/k {
			return math.MaxInt
		}
		n *= k
	}
	return n
}

// Settings is the parsed experiment.auto_tuner section
type Settings struct {
	Strategy       string
	Action         models.Action
	Space          Space
	Metric         string
	Mode           Mode
	MaxTrials      int
	MaxDuration    time.Duration
	Patience       int
	Parallelism    int
	Seed           int64
	TrialTimeout   time.Duration
	PollInterval   time.Duration
	PortBase       int
	Devices        []int
	DevicesPerSlot int
}

// Better reports whether score a beats score b
func (s *Settings) Better(a, b float64) bool {
	if s.Mode == ModeMin {
		return a < b
	}
	return a > b
}

// ParseSettings reads the auto_tuner section of cfg
func ParseSettings(cfg *spec.Node) (*Settings, error) {
	if _, ok := cfg.Get(SettingsPath); !ok {
		return nil, errors.Errorf("%s is not set", SettingsPath)
	}
	at := func(key string) string { return SettingsPath + "." + key }

	s := &Settings{
		Strategy:       cfg.GetStringOr(at("strategy"), defaultStrategy),
		Action:         models.Action(cfg.GetStringOr(at("action"), string(models.ActionTest))),
		Metric:         cfg.GetStringOr(at("metric"), ""),
		Mode:           Mode(cfg.GetStringOr(at("mode"), string(ModeMax))),
		MaxTrials:      cfg.GetIntOr(at("max_trials"), 0),
		Patience:       cfg.GetIntOr(at("patience"), 0),
		Parallelism:    cfg.GetIntOr(at("parallelism"), 1),
		Seed:           int64(cfg.GetIntOr(at("seed"), 0)),
		TrialTimeout:   defaultTrialTimeout,
		PortBase:       cfg.GetIntOr(at("port_base"), defaultPortBase),
		DevicesPerSlot: cfg.GetIntOr(at("devices_per_slot"), 0),
	}
	if d, ok := cfg.GetDuration(at("max_duration")); ok {
		s.MaxDuration = d
	}
	if d, ok := cfg.GetDuration(at("trial_timeout")); ok && d > 0 {
		s.TrialTimeout = d
	}
	if d, ok := cfg.GetDuration(at("poll_interval")); ok {
		s.PollInterval = d
	}
	if node, ok := cfg.Get(at("devices")); ok {
		for _, item := range node.Items() {
			dev, ok := item.Value().(int)
			if !ok {
				return nil, errors.Errorf("%s must list integer device ids", at("devices"))
			}
			s.Devices = append(s.Devices, dev)
		}
		if len(s.Devices) > 0 && !cfg.Has(at("devices_per_slot")) {
			s.DevicesPerSlot = 1
		}
	}

	space, err := parseSpace(cfg, at("space"))
	if err != nil {
		return nil, err
	}
	s.Space = space

	switch {
	case s.Action != models.ActionRun && s.Action != models.ActionTest:
		return nil, errors.Errorf("%s must be run or test, got %q", at("action"), s.Action)
	case s.Mode != ModeMax && s.Mode != ModeMin:
		return nil, errors.Errorf("%s must be max or min, got %q", at("mode"), s.Mode)
	case s.Metric == "":
		return nil, errors.Errorf("%s is required", at("metric"))
	case s.Parallelism < 1:
		return nil, errors.Errorf("%s must be at least 1, got %d", at("parallelism"), s.Parallelism)
	case s.MaxTrials < 0 || s.Patience < 0:
		return nil, errors.Errorf("%s and %s must not be negative", at("max_trials"), at("patience"))
	case len(s.Devices) > 0 && s.DevicesPerSlot < 1:
		return nil, errors.Errorf("%s must be at least 1, got %d", at("devices_per_slot"), s.DevicesPerSlot)
	case len(s.Devices) > 0 && len(s.Devices) < (s.Parallelism+1)*s.DevicesPerSlot:
		// one extra slot stays with the running incumbent
		return nil, errors.Errorf("%s lists %d devices; parallelism %d with %d per slot needs %d",
			at("devices"), len(s.Devices), s.Parallelism, s.DevicesPerSlot, (s.Parallelism+1)*s.DevicesPerSlot)
	}
	return s, nil
}

// parseSpace flattens the space section into dimensions. Keys may be dotted
// paths or nested mappings; a scalar leaf is a single-valued dimension.
func parseSpace(cfg *spec.Node, path string) (Space, error) {
	root, ok := cfg.Get(path)
	if !ok || !root.IsMap() || root.IsEmpty() {
		return nil, errors.Errorf("%s must be a non-empty mapping of config paths to value lists", path)
	}

	var space Space
	var walk func(prefix string, n *spec.Node) error
	walk = func(prefix string, n *spec.Node) error {
		switch {
		case n.IsMap():
			for _, k := range n.Keys() {
				child, _ := n.Field(k)
				if err := walk(joinPath(prefix, k), child); err != nil {
					return err
				}
			}
		case n.IsSeq():
			if n.Len() == 0 {
				return errors.Errorf("%s.%s has no values", path, prefix)
			}
			d := Dimension{Path: prefix}
			for _, item := range n.Items() {
				d.Values = append(d.Values, item.Interface())
			}
			space = append(space, d)
		case n.IsScalar():
			space = append(space, Dimension{Path: prefix, Values: []interface{}{n.Interface()}})
		default:
			return errors.Errorf("%s.%s has no values", path, prefix)
		}
		return nil
	}
	if err := walk("", root); err != nil {
		return nil, err
	}
	sort.Slice(space, func(i, j int) bool { return space[i].Path < space[j].Path })
	return space, nil
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
