// Package cache keeps encoded layer JSON in memory so listings do not
// re-marshal unchanged geometry.
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/himgis/webgis/internal/cache/keys"
)

type Interface interface {
	Get(name string, version uint64) ([]byte, bool)
	Add(name string, version uint64, val []byte)
}

// Encoded is an LRU of encoded layers keyed by name and registry version.
// A replaced layer gets a new version, so stale entries are never served
// and simply age out.
type Encoded struct {
	lru          *lru.Cache[string, []byte]
	hits, misses atomic.Uint64
}

var _ Interface = (*Encoded)(nil)

func NewEncoded(size int) *Encoded {
	if size <= 0 {
		size = 128
	}
	c, _ := lru.New[string, []byte](size)
	return &Encoded{lru: c}
}

func (e *Encoded) Get(name string, version uint64) ([]byte, bool) {
	v, ok := e.lru.Get(keys.Layer(name, version))
	if ok {
		e.hits.Add(1)
	} else {
		e.misses.Add(1)
	}
	return v, ok
}

func (e *Encoded) Add(name string, version uint64, val []byte) {
	e.lru.Add(keys.Layer(name, version), val)
}

func (e *Encoded) Len() int { return e.lru.Len() }

// Stats returns the hit and miss counts since creation.
func (e *Encoded) Stats() (hits, misses uint64) {
	return e.hits.Load(), e.misses.Load()
}
