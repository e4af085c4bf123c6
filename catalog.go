package phonic

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Params are plugin-specific options.
type Params map[string]interface{}

// Args are passed to plugin factories. Encoders and graphers require output,
// sample rate and number of channels; analyzers usually ignore them.
type Args struct {
	SampleRate int
	Channels   int
	Output     Output
	Params     Params
}

// Factory constructs a new processor instance.
type Factory func(Args) (Processor, error)

// Plugin is a registered processor.
type Plugin struct {
	Descriptor
	Factory Factory
}

var catalog = struct {
	sync.RWMutex
	plugins map[string]Plugin
}{
	plugins: make(map[string]Plugin),
}

// Register makes a plugin available by its identifier. If Register is
// called twice with the same identifier or if factory is nil, it panics.
func Register(d Descriptor, fn Factory) {
	catalog.Lock()
	defer catalog.Unlock()
	if fn == nil {
		panic("phonic: register factory is nil for " + d.ID)
	}
	if _, dup := catalog.plugins[d.ID]; dup {
		panic("phonic: register called twice for plugin " + d.ID)
	}
	catalog.plugins[d.ID] = Plugin{Descriptor: d, Factory: fn}
}

// Lookup returns registered plugin.
func Lookup(id string) (Plugin, bool) {
	catalog.RLock()
	defer catalog.RUnlock()
	p, ok := catalog.plugins[id]
	return p, ok
}

// Plugins returns registered plugins of provided kinds sorted by
// identifier. All plugins are returned if no kinds provided.
func Plugins(kinds ...Kind) []Plugin {
	catalog.RLock()
	defer catalog.RUnlock()
	plugins := make([]Plugin, 0, len(catalog.plugins))
	for _, p := range catalog.plugins {
		if len(kinds) == 0 || hasKind(kinds, p.Kind) {
			plugins = append(plugins, p)
		}
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].ID < plugins[j].ID
	})
	return plugins
}

func hasKind(kinds []Kind, k Kind) bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

// New constructs processor of registered plugin.
func New(id string, args Args) (Processor, error) {
	p, ok := Lookup(id)
	if !ok {
		return nil, &ConfigurationError{Stage: id, Reason: "plugin is not registered"}
	}
	return p.Factory(args)
}

// Int returns integer parameter or default value if it's not set.
func (p Params) Int(name string, def int) (int, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			break
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err == nil {
			return i, nil
		}
	}
	return 0, p.invalid(name, "integer")
}

// Float returns float parameter or default value if it's not set.
func (p Params) Float(name string, def float64) (float64, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, p.invalid(name, "number")
}

// String returns string parameter or default value if it's not set.
func (p Params) String(name string, def string) (string, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	}
	return "", p.invalid(name, "string")
}

// Bool returns boolean parameter or default value if it's not set.
func (p Params) Bool(name string, def bool) (bool, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		r, err := strconv.ParseBool(b)
		if err == nil {
			return r, nil
		}
	}
	return false, p.invalid(name, "boolean")
}

func (p Params) invalid(name, kind string) error {
	return &ConfigurationError{Param: name, Reason: fmt.Sprintf("expected %s, got %v", kind, p[name])}
}
