// Package store persists result containers as YAML documents.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pipelined/phonic"
)

// ErrNotFound is returned when results are not stored.
var ErrNotFound = errors.New("results not found")

// Store saves and loads results of pipe runs.
type Store interface {
	Save(id string, results *phonic.ResultContainer) error
	Load(id string) (*phonic.ResultContainer, error)
}

// Write encodes results into w.
func Write(w io.Writer, results *phonic.ResultContainer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return enc.Close()
}

// Read decodes results from r.
func Read(r io.Reader) (*phonic.ResultContainer, error) {
	results := phonic.NewResultContainer()
	if err := yaml.NewDecoder(r).Decode(results); err != nil {
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return results, nil
}

// Dir stores results as files in a directory, one file per id.
type Dir struct {
	Root string
}

var _ Store = Dir{}

func (d Dir) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid results id %q", id)
	}
	return filepath.Join(d.Root, id+".yaml"), nil
}

// Save implements Store.
func (d Dir) Save(id string, results *phonic.ResultContainer) error {
	path, err := d.path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return err
	}
	return SaveFile(path, results)
}

// SaveFile writes results into the file. File is replaced atomically.
func SaveFile(path string, results *phonic.ResultContainer) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if err := Write(f, results); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Load implements Store.
func (d Dir) Load(id string) (*phonic.ResultContainer, error) {
	path, err := d.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()
	return Read(f)
}
