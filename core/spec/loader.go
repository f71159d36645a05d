package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultsKey  = "defaults"
	selfEntry    = "_self_"
	maxLoadDepth = 8
)

// Load reads <dir>/<name>.yaml, composes its defaults list and applies
// overrides in order. The returned tree is owned by the caller.
func Load(dir, name string, overrides []string) (*Node, error) {
	name = strings.TrimSuffix(name, ".yaml")
	cfg, err := compose(dir, name+".yaml", 0)
	if err != nil {
		return nil, err
	}
	if err := ApplyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a single YAML file without composing defaults
func LoadFile(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// compose loads rel (relative to root) and merges the entries of its
// defaults list around the file's own content. Group entries such as
// "- train: 7b" load <root>/train/7b.yaml under the "train" key.
func compose(root, rel string, depth int) (*Node, error) {
	if depth > maxLoadDepth {
		return nil, fmt.Errorf("defaults nested deeper than %d levels at %s", maxLoadDepth, rel)
	}
	self, err := LoadFile(filepath.Join(root, rel))
	if err != nil {
		return nil, err
	}
	if !self.IsMap() {
		return nil, fmt.Errorf("config %s: top level must be a mapping, got %s", rel, self.Kind())
	}

	defaults, hasDefaults := self.Field(defaultsKey)
	self.DeleteField(defaultsKey)
	if !hasDefaults || defaults.IsEmpty() {
		return self, nil
	}
	if !defaults.IsSeq() {
		return nil, fmt.Errorf("config %s: defaults must be a list", rel)
	}

	result := NewMap()
	selfMerged := false
	for i, entry := range defaults.Items() {
		switch entry.Kind() {
		case KindScalar:
			s, _ := entry.Value().(string)
			if s == selfEntry {
				result = Merge(result, self)
				selfMerged = true
				continue
			}
			sub, err := compose(root, s+".yaml", depth+1)
			if err != nil {
				return nil, err
			}
			result = Merge(result, sub)
		case KindMap:
			for _, group := range entry.Keys() {
				option, _ := entry.Field(group)
				if option.IsNull() {
					continue
				}
				optName, ok := option.Value().(string)
				if !ok || optName == "" {
					return nil, fmt.Errorf("config %s: defaults[%d].%s must name a config", rel, i, group)
				}
				sub, err := compose(root, filepath.Join(group, optName+".yaml"), depth+1)
				if err != nil {
					return nil, err
				}
				wrapped := NewMap()
				if err := wrapped.Set(group, sub); err != nil {
					return nil, err
				}
				result = Merge(result, wrapped)
			}
		default:
			return nil, fmt.Errorf("config %s: unsupported defaults entry at index %d", rel, i)
		}
	}
	if !selfMerged {
		result = Merge(result, self)
	}
	return result, nil
}
