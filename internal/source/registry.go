package source

import (
	"errors"
	"fmt"
	"strings"

	"assetsy/internal/core"
)

var (
	// ErrDuplicateSource is returned when two entries share a name.
	ErrDuplicateSource = errors.New("duplicate source")
	// ErrInvalidSource is returned for an entry without a name, extractor or renderer.
	ErrInvalidSource = errors.New("invalid source")
)

// Entry binds a source's extractor to its renderer.
type Entry struct {
	Extractor core.Extractor
	Renderer  core.Renderer
	// Title is the human label shown on keyboards; defaults to the source name.
	Title string
}

func (e Entry) Name() core.Source {
	if e.Extractor == nil {
		return ""
	}
	return e.Extractor.Name()
}

// Registry is the ordered, immutable set of sources known at startup.
type Registry struct {
	entries []Entry
	byName  map[core.Source]int
}

func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		byName:  make(map[core.Source]int, len(entries)),
	}
	for i, e := range entries {
		if e.Extractor == nil || e.Renderer == nil {
			return nil, fmt.Errorf("%w: entry %d lacks extractor or renderer", ErrInvalidSource, i)
		}
		name := e.Name()
		if strings.TrimSpace(string(name)) == "" {
			return nil, fmt.Errorf("%w: entry %d has an empty name", ErrInvalidSource, i)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, name)
		}
		if strings.TrimSpace(e.Title) == "" {
			e.Title = string(name)
		}
		r.byName[name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// All returns the entries in registration order.
func (r *Registry) All() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) Lookup(name core.Source) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

func (r *Registry) Names() []core.Source {
	if r == nil {
		return nil
	}
	out := make([]core.Source, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Name()
	}
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
