package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/himgis/webgis/internal/core/observability"
)

var (
	// ErrNoOrder is returned by a Backend when nothing has been stored yet.
	ErrNoOrder = errors.New("no stored order")
	// ErrPersist wraps any failure to write the order durably.
	ErrPersist = errors.New("order persist failed")
)

// Backend stores the encoded order list. Read returns ErrNoOrder when
// nothing has been written. Write must replace the stored value atomically.
type Backend interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Store serializes access to one Backend and applies the load fallback.
type Store struct {
	mu      sync.Mutex
	backend Backend
	seed    []string
	log     *slog.Logger
}

func NewStore(b Backend, seed []string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{backend: b, seed: slices.Clone(seed), log: log}
}

func (s *Store) Backend() string { return s.backend.Name() }

// Load returns the stored order, or the seed order when nothing usable is
// stored. It never fails.
func (s *Store) Load(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save persists names. Errors wrap ErrPersist.
func (s *Store) Save(ctx context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, names)
}

// Update runs a read-modify-write cycle under the store lock: fn receives
// the loaded order and returns the order to save. The saved order is
// returned; on persist failure it is still returned along with the error.
// fn returning nil skips the write.
func (s *Store) Update(ctx context.Context, fn func(cur []string) []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.load(ctx)
	next := fn(cur)
	if next == nil {
		return cur, nil
	}
	return next, s.save(ctx, next)
}

func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) load(ctx context.Context) []string {
	raw, err := s.backend.Read(ctx)
	observability.ObserveOrderOp(s.backend.Name(), "read", ignoreMissing(err))
	if err != nil {
		if !errors.Is(err, ErrNoOrder) {
			s.log.WarnContext(ctx, "order read failed, using default", "backend", s.backend.Name(), "err", err)
		}
		return slices.Clone(s.seed)
	}
	names, err := decode(raw)
	if err != nil {
		s.log.WarnContext(ctx, "stored order malformed, using default", "backend", s.backend.Name(), "err", err)
		return slices.Clone(s.seed)
	}
	return names
}

func (s *Store) save(ctx context.Context, names []string) error {
	if names == nil {
		names = []string{}
	}
	raw, err := json.MarshalIndent(names, "", "  ")
	if err == nil {
		err = s.backend.Write(ctx, raw)
	}
	observability.ObserveOrderOp(s.backend.Name(), "write", err)
	if err != nil {
		s.log.ErrorContext(ctx, "order save failed", "backend", s.backend.Name(), "err", err)
		return fmt.Errorf("%w: %s: %v", ErrPersist, s.backend.Name(), err)
	}
	return nil
}

// decode accepts any JSON list; entries that are not strings can never
// match a layer name and are dropped.
func decode(raw []byte) ([]string, error) {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	if items == nil {
		return nil, errors.New("stored order is not a list")
	}
	out := make([]string, 0, len(items))
	for _, v := range items {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func ignoreMissing(err error) error {
	if errors.Is(err, ErrNoOrder) {
		return nil
	}
	return err
}
