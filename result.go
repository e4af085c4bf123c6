package phonic

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Result is an output of a single processor instance. It's immutable once
// added to the container.
type Result struct {
	// ID is the plugin identifier.
	ID string `yaml:"id"`
	// Field distinguishes multiple results of one plugin.
	Field    string `yaml:"field"`
	Version  string `yaml:"version,omitempty"`
	Instance string `yaml:"instance,omitempty"`

	Values   []float64              `yaml:"values,omitempty"`
	Bytes    []byte                 `yaml:"bytes,omitempty"`
	Path     string                 `yaml:"path,omitempty"`
	MimeType string                 `yaml:"mime_type,omitempty"`
	Metadata map[string]interface{} `yaml:"metadata,omitempty"`
}

// Key returns the pluginid.fieldname key.
func (r Result) Key() string {
	if r.Field == "" {
		return r.ID
	}
	return r.ID + "." + r.Field
}

// Value returns the first numeric value or zero.
func (r Result) Value() float64 {
	if len(r.Values) == 0 {
		return 0
	}
	return r.Values[0]
}

func (r Result) copy() Result {
	if r.Values != nil {
		r.Values = append([]float64(nil), r.Values...)
	}
	if r.Bytes != nil {
		r.Bytes = append([]byte(nil), r.Bytes...)
	}
	if r.Metadata != nil {
		m := make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			m[k] = v
		}
		r.Metadata = m
	}
	return r
}

// ResultContainer is an insertion-ordered set of results. Keys are unique:
// if a key is already taken, the result is stored under key#n, where n is
// the number of results with the same base key.
type ResultContainer struct {
	mu      sync.RWMutex
	keys    []string
	results map[string]Result
}

// NewResultContainer returns an empty container.
func NewResultContainer() *ResultContainer {
	return &ResultContainer{
		results: make(map[string]Result),
	}
}

// Add stores a copy of result and returns the key it's stored under.
func (c *ResultContainer) Add(r Result) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := r.Key()
	if _, ok := c.results[key]; ok {
		for n := 2; ; n++ {
			k := fmt.Sprintf("%s#%d", r.Key(), n)
			if _, ok := c.results[k]; !ok {
				key = k
				break
			}
		}
	}
	c.put(key, r.copy())
	return key
}

func (c *ResultContainer) put(key string, r Result) {
	if c.results == nil {
		c.results = make(map[string]Result)
	}
	if _, ok := c.results[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.results[key] = r
}

// Get returns result stored under the key.
func (c *ResultContainer) Get(key string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[key]
	if !ok {
		return Result{}, false
	}
	return r.copy(), true
}

// All returns all results stored under the base key, including
// disambiguated ones, in insertion order.
func (c *ResultContainer) All(key string) []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var results []Result
	for _, k := range c.keys {
		if k == key || strings.HasPrefix(k, key+"#") {
			results = append(results, c.results[k].copy())
		}
	}
	return results
}

// Keys returns keys in insertion order.
func (c *ResultContainer) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.keys...)
}

// Results returns all results in insertion order.
func (c *ResultContainer) Results() []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	results := make([]Result, 0, len(c.keys))
	for _, k := range c.keys {
		results = append(results, c.results[k].copy())
	}
	return results
}

// Len returns number of results.
func (c *ResultContainer) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// Map returns container as a nested mapping for serialization.
func (c *ResultContainer) Map() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := make(map[string]interface{}, len(c.keys))
	for _, k := range c.keys {
		m[k] = c.results[k].asMap()
	}
	return m
}

func (r Result) asMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":    r.ID,
		"field": r.Field,
	}
	if r.Version != "" {
		m["version"] = r.Version
	}
	if r.Instance != "" {
		m["instance"] = r.Instance
	}
	if r.Values != nil {
		m["values"] = append([]float64(nil), r.Values...)
	}
	if r.Bytes != nil {
		m["bytes"] = append([]byte(nil), r.Bytes...)
	}
	if r.Path != "" {
		m["path"] = r.Path
	}
	if r.MimeType != "" {
		m["mime_type"] = r.MimeType
	}
	if len(r.Metadata) > 0 {
		md := make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		m["metadata"] = md
	}
	return m
}

// MarshalYAML encodes container as a mapping which keeps insertion order.
func (c *ResultContainer) MarshalYAML() (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range c.keys {
		var value yaml.Node
		if err := value.Encode(c.results[k]); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&value,
		)
	}
	return node, nil
}

// UnmarshalYAML decodes container from a mapping. Keys are preserved.
func (c *ResultContainer) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("results: expected mapping, got %v", node.Tag)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = nil
	c.results = make(map[string]Result, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var r Result
		if err := node.Content[i+1].Decode(&r); err != nil {
			return fmt.Errorf("decode %s: %w", node.Content[i].Value, err)
		}
		c.put(node.Content[i].Value, r)
	}
	return nil
}
