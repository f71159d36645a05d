package spec

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant held by a Node
type Kind int

const (
	KindNull Kind = iota
	KindMap
	KindSeq
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindSeq:
		return "sequence"
	case KindScalar:
		return "scalar"
	default:
		return "null"
	}
}

// Node is one element of a job configuration tree. A tree is owned by a
// single dispatch; callers that need an independent copy use Clone.
type Node struct {
	kind   Kind
	fields map[string]*Node
	items  []*Node
	value  interface{} // string, int, float64 or bool
}

// NewMap returns an empty mapping node
func NewMap() *Node {
	return &Node{kind: KindMap, fields: make(map[string]*Node)}
}

// NewSeq returns a sequence node holding items
func NewSeq(items ...*Node) *Node {
	return &Node{kind: KindSeq, items: append([]*Node(nil), items...)}
}

// NewScalar returns a scalar node. Integer types are normalized to int and
// floating point types to float64.
func NewScalar(v interface{}) *Node {
	n, err := FromValue(v)
	if err != nil || n.kind != KindScalar {
		return &Node{kind: KindScalar, value: fmt.Sprint(v)}
	}
	return n
}

// Null returns a null node
func Null() *Node {
	return &Node{kind: KindNull}
}

// FromValue converts a plain Go value (as produced by yaml or json
// decoding) into a tree
func FromValue(v interface{}) (*Node, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case *Node:
		return t.Clone(), nil
	case map[string]interface{}:
		n := NewMap()
		for k, child := range t {
			c, err := FromValue(child)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			n.fields[k] = c
		}
		return n, nil
	case map[interface{}]interface{}:
		n := NewMap()
		for k, child := range t {
			c, err := FromValue(child)
			if err != nil {
				return nil, fmt.Errorf("key %v: %w", k, err)
			}
			n.fields[fmt.Sprint(k)] = c
		}
		return n, nil
	case []interface{}:
		n := NewSeq()
		for i, child := range t {
			c, err := FromValue(child)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			n.items = append(n.items, c)
		}
		return n, nil
	case []string:
		n := NewSeq()
		for _, s := range t {
			n.items = append(n.items, &Node{kind: KindScalar, value: s})
		}
		return n, nil
	case string:
		return &Node{kind: KindScalar, value: t}, nil
	case bool:
		return &Node{kind: KindScalar, value: t}, nil
	case int:
		return &Node{kind: KindScalar, value: t}, nil
	case int8:
		return &Node{kind: KindScalar, value: int(t)}, nil
	case int16:
		return &Node{kind: KindScalar, value: int(t)}, nil
	case int32:
		return &Node{kind: KindScalar, value: int(t)}, nil
	case int64:
		return &Node{kind: KindScalar, value: int(t)}, nil
	case uint:
		return &Node{kind: KindScalar, value: int(t)}, nil
	case uint8:
		return &Node{kind: KindScalar, value: int(t)}, nil
	case uint16:
		return &Node{kind: KindScalar, value: int(t)}, nil
	case uint32:
		return &Node{kind: KindScalar, value: int(t)}, nil
	case uint64:
		return &Node{kind: KindScalar, value: int(t)}, nil
	case float32:
		return &Node{kind: KindScalar, value: float64(t)}, nil
	case float64:
		return &Node{kind: KindScalar, value: t}, nil
	case time.Time:
		return &Node{kind: KindScalar, value: t.Format(time.RFC3339)}, nil
	case time.Duration:
		return &Node{kind: KindScalar, value: t.String()}, nil
	default:
		return nil, fmt.Errorf("unsupported config value of type %T", v)
	}
}

// Kind returns the variant held by the node
func (n *Node) Kind() Kind {
	if n == nil {
		return KindNull
	}
	return n.kind
}

func (n *Node) IsMap() bool    { return n.Kind() == KindMap }
func (n *Node) IsSeq() bool    { return n.Kind() == KindSeq }
func (n *Node) IsScalar() bool { return n.Kind() == KindScalar }
func (n *Node) IsNull() bool   { return n.Kind() == KindNull }

// IsEmpty reports whether the node is null or an empty collection
func (n *Node) IsEmpty() bool {
	switch n.Kind() {
	case KindNull:
		return true
	case KindMap:
		return len(n.fields) == 0
	case KindSeq:
		return len(n.items) == 0
	}
	return false
}

// Value returns the raw scalar value, or nil for non-scalars
func (n *Node) Value() interface{} {
	if n.Kind() != KindScalar {
		return nil
	}
	return n.value
}

// Len returns the number of fields or items
func (n *Node) Len() int {
	switch n.Kind() {
	case KindMap:
		return len(n.fields)
	case KindSeq:
		return len(n.items)
	}
	return 0
}

// Keys returns the mapping keys in sorted order
func (n *Node) Keys() []string {
	if n.Kind() != KindMap {
		return nil
	}
	keys := make([]string, 0, len(n.fields))
	for k := range n.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns the sequence elements
func (n *Node) Items() []*Node {
	if n.Kind() != KindSeq {
		return nil
	}
	return n.items
}

// Field returns a direct child of a mapping
func (n *Node) Field(key string) (*Node, bool) {
	if n.Kind() != KindMap {
		return nil, false
	}
	c, ok := n.fields[key]
	return c, ok
}

// SetField sets a direct child of a mapping. It is a no-op on non-maps.
func (n *Node) SetField(key string, v *Node) {
	if n.Kind() != KindMap {
		return
	}
	if v == nil {
		v = Null()
	}
	n.fields[key] = v
}

// DeleteField removes a direct child of a mapping
func (n *Node) DeleteField(key string) bool {
	if n.Kind() != KindMap {
		return false
	}
	if _, ok := n.fields[key]; !ok {
		return false
	}
	delete(n.fields, key)
	return true
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func (n *Node) child(seg string) (*Node, bool) {
	switch n.Kind() {
	case KindMap:
		c, ok := n.fields[seg]
		return c, ok
	case KindSeq:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(n.items) {
			return nil, false
		}
		return n.items[i], true
	}
	return nil, false
}

// Get resolves a dotted path such as "experiment.runner.deploy". Numeric
// segments index into sequences.
func (n *Node) Get(path string) (*Node, bool) {
	cur := n
	for _, seg := range splitPath(path) {
		next, ok := cur.child(seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, cur != nil
}

// Has reports whether path resolves to a node
func (n *Node) Has(path string) bool {
	_, ok := n.Get(path)
	return ok
}

// Set stores v at path, creating intermediate mappings as needed. Null
// intermediates are replaced by mappings; other non-map intermediates are
// an error.
func (n *Node) Set(path string, v *Node) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("empty config path")
	}
	if n.Kind() != KindMap {
		return fmt.Errorf("cannot set %q on a %s node", path, n.Kind())
	}
	cur := n
	for i, seg := range segs[:len(segs)-1] {
		next, ok := cur.child(seg)
		if !ok || next.IsNull() {
			if cur.Kind() != KindMap {
				return fmt.Errorf("cannot set %q: %s is a %s", path, strings.Join(segs[:i], "."), cur.Kind())
			}
			next = NewMap()
			cur.fields[seg] = next
		}
		if next.Kind() != KindMap && next.Kind() != KindSeq {
			return fmt.Errorf("cannot set %q: %s is a %s", path, strings.Join(segs[:i+1], "."), next.Kind())
		}
		cur = next
	}
	last := segs[len(segs)-1]
	if v == nil {
		v = Null()
	}
	switch cur.Kind() {
	case KindMap:
		cur.fields[last] = v
	case KindSeq:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx > len(cur.items) {
			return fmt.Errorf("cannot set %q: invalid sequence index %q", path, last)
		}
		if idx == len(cur.items) {
			cur.items = append(cur.items, v)
		} else {
			cur.items[idx] = v
		}
	}
	return nil
}

// SetValue is Set for plain Go values
func (n *Node) SetValue(path string, v interface{}) error {
	node, err := FromValue(v)
	if err != nil {
		return err
	}
	return n.Set(path, node)
}

// Delete removes the node at path and reports whether it existed
func (n *Node) Delete(path string) bool {
	segs := splitPath(path)
	if len(segs) == 0 {
		return false
	}
	parent := n
	if len(segs) > 1 {
		p, ok := n.Get(strings.Join(segs[:len(segs)-1], "."))
		if !ok {
			return false
		}
		parent = p
	}
	last := segs[len(segs)-1]
	switch parent.Kind() {
	case KindMap:
		return parent.DeleteField(last)
	case KindSeq:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(parent.items) {
			return false
		}
		parent.items = append(parent.items[:idx], parent.items[idx+1:]...)
		return true
	}
	return false
}

// GetString returns the scalar at path rendered as a string
func (n *Node) GetString(path string) (string, bool) {
	v, ok := n.Get(path)
	if !ok || v.Kind() != KindScalar {
		return "", false
	}
	if s, isStr := v.value.(string); isStr {
		return s, true
	}
	return fmt.Sprint(v.value), true
}

// GetStringOr returns the string at path or def
func (n *Node) GetStringOr(path, def string) string {
	if s, ok := n.GetString(path); ok && s != "" {
		return s
	}
	return def
}

// GetInt returns the scalar at path as an int. Whole floats and numeric
// strings are accepted.
func (n *Node) GetInt(path string) (int, bool) {
	v, ok := n.Get(path)
	if !ok || v.Kind() != KindScalar {
		return 0, false
	}
	switch t := v.value.(type) {
	case int:
		return t, true
	case float64:
		if t == math.Trunc(t) {
			return int(t), true
		}
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err == nil {
			return i, true
		}
	}
	return 0, false
}

// GetIntOr returns the int at path or def
func (n *Node) GetIntOr(path string, def int) int {
	if i, ok := n.GetInt(path); ok {
		return i
	}
	return def
}

// GetFloat returns the scalar at path as a float64
func (n *Node) GetFloat(path string) (float64, bool) {
	v, ok := n.Get(path)
	if !ok || v.Kind() != KindScalar {
		return 0, false
	}
	switch t := v.value.(type) {
	case int:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

// GetBool returns the scalar at path as a bool
func (n *Node) GetBool(path string) (bool, bool) {
	v, ok := n.Get(path)
	if !ok || v.Kind() != KindScalar {
		return false, false
	}
	switch t := v.value.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err == nil {
			return b, true
		}
	}
	return false, false
}

// GetDuration returns the scalar at path as a duration. Bare numbers are
// read as seconds.
func (n *Node) GetDuration(path string) (time.Duration, bool) {
	v, ok := n.Get(path)
	if !ok || v.Kind() != KindScalar {
		return 0, false
	}
	switch t := v.value.(type) {
	case int:
		return time.Duration(t) * time.Second, true
	case float64:
		return time.Duration(t * float64(time.Second)), true
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err == nil {
			return d, true
		}
	}
	return 0, false
}

// GetStringMap returns the mapping at path with scalar values rendered as strings
func (n *Node) GetStringMap(path string) map[string]string {
	v, ok := n.Get(path)
	if !ok || v.Kind() != KindMap {
		return nil
	}
	out := make(map[string]string, len(v.fields))
	for k, c := range v.fields {
		if c.Kind() == KindScalar {
			out[k] = fmt.Sprint(c.value)
		}
	}
	return out
}

// GetStringSlice returns the sequence at path with scalar items rendered as strings
func (n *Node) GetStringSlice(path string) []string {
	v, ok := n.Get(path)
	if !ok {
		return nil
	}
	if v.Kind() == KindScalar {
		return []string{fmt.Sprint(v.value)}
	}
	var out []string
	for _, c := range v.Items() {
		if c.Kind() == KindScalar {
			out = append(out, fmt.Sprint(c.value))
		}
	}
	return out
}

// Interface converts the tree back into plain Go values
func (n *Node) Interface() interface{} {
	switch n.Kind() {
	case KindMap:
		m := make(map[string]interface{}, len(n.fields))
		for k, c := range n.fields {
			m[k] = c.Interface()
		}
		return m
	case KindSeq:
		s := make([]interface{}, len(n.items))
		for i, c := range n.items {
			s[i] = c.Interface()
		}
		return s
	case KindScalar:
		return n.value
	}
	return nil
}

// Clone returns a deep copy that shares no structure with n
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{kind: n.kind, value: n.value}
	if n.fields != nil {
		c.fields = make(map[string]*Node, len(n.fields))
		for k, v := range n.fields {
			c.fields[k] = v.Clone()
		}
	}
	if n.items != nil {
		c.items = make([]*Node, len(n.items))
		for i, v := range n.items {
			c.items[i] = v.Clone()
		}
	}
	return c
}

// Equal reports deep equality. Key order never matters.
func (n *Node) Equal(o *Node) bool {
	if n.Kind() != o.Kind() {
		return false
	}
	switch n.Kind() {
	case KindNull:
		return true
	case KindScalar:
		return n.value == o.value
	case KindMap:
		if len(n.fields) != len(o.fields) {
			return false
		}
		for k, v := range n.fields {
			ov, ok := o.fields[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	case KindSeq:
		if len(n.items) != len(o.items) {
			return false
		}
		for i := range n.items {
			if !n.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Merge deep-merges src into dst. Mappings merge key by key with src
// winning; any other combination replaces the dst value with a copy of src.
// The merged tree is returned; dst is modified when it is a mapping.
func Merge(dst, src *Node) *Node {
	if src == nil {
		return dst
	}
	if dst.Kind() != KindMap || src.Kind() != KindMap {
		return src.Clone()
	}
	for k, sv := range src.fields {
		if dv, ok := dst.fields[k]; ok {
			dst.fields[k] = Merge(dv, sv)
			continue
		}
		dst.fields[k] = sv.Clone()
	}
	return dst
}
