// Package registry holds the live layers of the process, keyed by name.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/himgis/webgis/internal/core/observability"
	"github.com/himgis/webgis/internal/layer"
)

var ErrNotFound = errors.New("layer not found")

// Registry is safe for concurrent use. Names are enumerated in insertion
// order; replacing a layer keeps its original position.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*layer.Layer
	order  []string

	version atomic.Uint64
}

func New() *Registry {
	return &Registry{byName: make(map[string]*layer.Layer)}
}

// Put stores l under l.Name, replacing any previous layer of that name.
// The stored layer is a copy stamped with a fresh Version.
func (r *Registry) Put(l *layer.Layer) *layer.Layer {
	cp := *l
	cp.Version = r.version.Add(1)

	r.mu.Lock()
	if _, ok := r.byName[cp.Name]; !ok {
		r.order = append(r.order, cp.Name)
	}
	r.byName[cp.Name] = &cp
	n := len(r.byName)
	r.mu.Unlock()

	observability.SetLayersRegistered(n)
	return &cp
}

// PutIfAbsent stores l only when no layer of that name is registered. It
// returns the stored copy and true, or the existing layer and false.
func (r *Registry) PutIfAbsent(l *layer.Layer) (*layer.Layer, bool) {
	r.mu.Lock()
	if cur, ok := r.byName[l.Name]; ok {
		r.mu.Unlock()
		return cur, false
	}
	cp := *l
	cp.Version = r.version.Add(1)
	r.order = append(r.order, cp.Name)
	r.byName[cp.Name] = &cp
	n := len(r.byName)
	r.mu.Unlock()

	observability.SetLayersRegistered(n)
	return &cp, true
}

// Remove drops the named layer and returns it so the caller can clean up
// its archive.
func (r *Registry) Remove(name string) (*layer.Layer, error) {
	r.mu.Lock()
	l, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("remove %q: %w", name, ErrNotFound)
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	n := len(r.byName)
	r.mu.Unlock()

	observability.SetLayersRegistered(n)
	return l, nil
}

func (r *Registry) Get(name string) (*layer.Layer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", name, ErrNotFound)
	}
	return l, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Names returns the registered names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Snapshot returns a consistent view of the registry: the names in
// insertion order and the layer for each.
func (r *Registry) Snapshot() ([]string, map[string]*layer.Layer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	m := make(map[string]*layer.Layer, len(r.byName))
	for k, v := range r.byName {
		m[k] = v
	}
	return names, m
}
