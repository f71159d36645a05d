package spec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML document into a configuration tree. An empty
// document yields an empty mapping.
func Parse(data []byte) (*Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewMap(), nil
	}
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	n, err := FromValue(raw)
	if err != nil {
		return nil, err
	}
	if n.IsNull() {
		return NewMap(), nil
	}
	return n, nil
}

// MarshalYAML implements yaml.Marshaler
func (n *Node) MarshalYAML() (interface{}, error) {
	return n.Interface(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromValue(raw)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Interface())
}

// UnmarshalJSON implements json.Unmarshaler. Whole JSON numbers become ints.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromValue(normalizeJSONNumbers(raw))
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func normalizeJSONNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, c := range t {
			t[k] = normalizeJSONNumbers(c)
		}
		return t
	case []interface{}:
		for i, c := range t {
			t[i] = normalizeJSONNumbers(c)
		}
		return t
	}
	return v
}

// ToYAML renders the tree as a YAML document with sorted keys
func ToYAML(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n.Interface()); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
