package spec

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// OverrideOp is the kind of change an override applies
type OverrideOp int

const (
	OverrideSet    OverrideOp = iota // key=value, key must exist
	OverrideAdd                      // +key=value, key must not exist
	OverrideUpsert                   // ++key=value
	OverrideDelete                   // ~key
)

// Override is one parsed key=value command line override
type Override struct {
	Op    OverrideOp
	Path  string
	Value *Node
	Raw   string
}

// ParseOverride parses a single override expression
func ParseOverride(expr string) (Override, error) {
	o := Override{Raw: expr}
	rest := strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(rest, "++"):
		o.Op = OverrideUpsert
		rest = rest[2:]
	case strings.HasPrefix(rest, "+"):
		o.Op = OverrideAdd
		rest = rest[1:]
	case strings.HasPrefix(rest, "~"):
		o.Op = OverrideDelete
		rest = rest[1:]
	default:
		o.Op = OverrideSet
	}

	key, value, hasValue := strings.Cut(rest, "=")
	o.Path = strings.TrimSpace(key)
	if o.Path == "" {
		return o, fmt.Errorf("invalid override %q: missing key", expr)
	}
	if o.Op == OverrideDelete {
		return o, nil
	}
	if !hasValue {
		return o, fmt.Errorf("invalid override %q: expected key=value", expr)
	}

	parsed, err := parseOverrideValue(value)
	if err != nil {
		return o, fmt.Errorf("invalid override %q: %w", expr, err)
	}
	o.Value = parsed
	return o, nil
}

func parseOverrideValue(value string) (*Node, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return NewScalar(""), nil
	}
	var raw interface{}
	if err := yaml.Unmarshal([]byte(value), &raw); err != nil {
		// Unparseable flow text is taken literally
		return NewScalar(value), nil
	}
	return FromValue(raw)
}

// Apply applies the override to cfg
func (o Override) Apply(cfg *Node) error {
	exists := cfg.Has(o.Path)
	switch o.Op {
	case OverrideSet:
		if !exists {
			return fmt.Errorf("could not override %q: key not in config, use +%s=... to add it", o.Path, o.Path)
		}
	case OverrideAdd:
		if exists {
			return fmt.Errorf("could not append %q: key already in config, use ++%s=... to force it", o.Path, o.Path)
		}
	case OverrideDelete:
		if !cfg.Delete(o.Path) {
			return fmt.Errorf("could not delete %q: key not in config", o.Path)
		}
		return nil
	}
	return cfg.Set(o.Path, o.Value.Clone())
}

// ApplyOverrides parses and applies overrides in order
func ApplyOverrides(cfg *Node, exprs []string) error {
	for _, expr := range exprs {
		o, err := ParseOverride(expr)
		if err != nil {
			return err
		}
		if err := o.Apply(cfg); err != nil {
			return err
		}
	}
	return nil
}
