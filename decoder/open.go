package decoder

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pipelined/phonic"
)

// OpenFunc creates a source for provided location.
type OpenFunc func(location string) (Source, error)

// fallbackKey is used for locations no other opener is registered for.
const fallbackKey = "*"

var openers = struct {
	sync.RWMutex
	m map[string]OpenFunc
}{
	m: make(map[string]OpenFunc),
}

// RegisterSource makes opener available for file extension, e.g. ".wav",
// or for URI scheme, e.g. "http". Use "*" to register fallback opener.
func RegisterSource(key string, fn OpenFunc) {
	openers.Lock()
	defer openers.Unlock()
	openers.m[strings.ToLower(key)] = fn
}

// Resolve returns a source for location. Location is either a file path,
// file:// URI or URI with scheme. Openers are looked up by scheme first,
// then by file extension, then fallback is used.
func Resolve(location string) (Source, error) {
	location, scheme := parseLocation(location)
	openers.RLock()
	defer openers.RUnlock()
	if scheme != "" {
		if fn, ok := openers.m[scheme]; ok {
			return fn(location)
		}
	}
	if fn, ok := openers.m[strings.ToLower(filepath.Ext(location))]; ok && scheme == "" {
		return fn(location)
	}
	if fn, ok := openers.m[fallbackKey]; ok {
		return fn(location)
	}
	return nil, fmt.Errorf("no source registered for %s", location)
}

// Open resolves the source for location and creates decoder.
func Open(location string, options ...Option) (*Decoder, error) {
	src, err := Resolve(location)
	if err != nil {
		return nil, &phonic.DecodeError{Source: location, Err: err}
	}
	return New(src, options...)
}

// parseLocation converts file URIs to paths and returns the scheme of
// remote URIs.
func parseLocation(location string) (string, string) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// not a URI or a windows drive letter
		return location, ""
	}
	if u.Scheme == "file" {
		return filepath.FromSlash(u.Path), ""
	}
	return location, strings.ToLower(u.Scheme)
}
