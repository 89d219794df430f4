// Package registry implements the tag-to-constructor dispatch used for every
// component family (source, transform, destination).
//
// Each family gets its own Registry instance, constructed once per process and
// passed to the pipeline runner explicitly; there is no package-level state,
// so concurrent pipeline runs cannot observe each other's registrations.
package registry

import (
	"sort"
	"strings"
	"sync"

	"etlpipe/internal/config"
	"etlpipe/internal/etlerr"
)

// Constructor builds a live component from its descriptor options. It must
// validate required options and return a ConfigError before doing any I/O.
type Constructor[T any] func(opts config.Options) (T, error)

// Registry maps component type tags to constructors for one family.
type Registry[T any] struct {
	family string

	mu    sync.RWMutex
	ctors map[string]Constructor[T]
}

// New returns an empty registry for the named family ("source", "transform",
// "destination"). The family name only appears in error messages.
func New[T any](family string) *Registry[T] {
	return &Registry[T]{
		family: family,
		ctors:  make(map[string]Constructor[T]),
	}
}

// Register binds tag to ctor. Tags are case-insensitive; the last
// registration for a tag wins, which lets tests override builtins.
func (r *Registry[T]) Register(tag string, ctor Constructor[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[strings.ToLower(tag)] = ctor
}

// Create resolves d.Type and invokes the bound constructor with d.Options.
// An unknown tag is a ConfigError naming the tag and the known set; errors
// raised by the constructor propagate unchanged.
func (r *Registry[T]) Create(d config.Descriptor) (T, error) {
	var zero T
	tag := strings.ToLower(strings.TrimSpace(d.Type))
	if tag == "" {
		return zero, &etlerr.ConfigError{
			Component: r.family,
			Option:    "type",
			Reason:    "missing required field",
		}
	}

	r.mu.RLock()
	ctor, ok := r.ctors[tag]
	r.mu.RUnlock()
	if !ok {
		return zero, &etlerr.ConfigError{
			Component: r.family,
			Tag:       tag,
			Reason:    "unknown type, available: " + strings.Join(r.Tags(), ", "),
		}
	}
	return ctor(d.Options)
}

// Tags returns the registered tags, sorted for stable error messages.
func (r *Registry[T]) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.ctors))
	for tag := range r.ctors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
