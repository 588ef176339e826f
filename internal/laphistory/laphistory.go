// Package laphistory implements the per-(EventId, CarNumber) rolling
// window of recent CarPosition snapshots (§4.4 of the timing spec).
package laphistory

import (
	"fmt"
	"sync"

	"github.com/paddockwire/timingcore/internal/session"
	"github.com/paddockwire/timingcore/internal/timingerr"
)

// WindowSize is the capped length of each car's rolling history.
const WindowSize = 5

type key struct {
	eventId   int
	carNumber string
}

// Store is the durable rolling-window lap-history store. The zero value is
// not usable; use New. Store is safe for concurrent use.
//
// "Durable" per §3 means an external persistence layer in production; this
// in-memory implementation is the reference/test-default described in
// SPEC_FULL.md's persistence interfaces section. A real deployment can
// swap in a database-backed Store behind the same interface (Backing).
type Store struct {
	mu      sync.RWMutex
	backing Backing
}

// Backing is the persistence seam laphistory.Store delegates to. The
// in-memory default (memBacking) is registered by New when none is given.
type Backing interface {
	// Load returns the current list for key, most-recent-first, or nil
	// if unknown.
	Load(eventId int, carNumber string) []session.CarPosition
	// Save replaces the list for key with entries (already trimmed to
	// WindowSize, most-recent-first).
	Save(eventId int, carNumber string, entries []session.CarPosition)
}

// New returns a Store backed by an in-memory map. Pass a non-nil backing
// to use a different persistence layer (e.g. database-backed).
func New(backing Backing) *Store {
	if backing == nil {
		backing = newMemBacking()
	}
	return &Store{backing: backing}
}

// AddLap pushes position to the head of its (EventId, Number) list, then
// trims to WindowSize (§4.4 AddLap).
func (s *Store) AddLap(eventId int, position session.CarPosition) error {
	if position.Number == "" {
		return fmt.Errorf("laphistory: empty car number: %w", timingerr.ErrInvalidKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.backing.Load(eventId, position.Number)
	updated := make([]session.CarPosition, 0, WindowSize)
	updated = append(updated, position)
	updated = append(updated, existing...)
	if len(updated) > WindowSize {
		updated = updated[:WindowSize]
	}
	s.backing.Save(eventId, position.Number, updated)
	return nil
}

// GetLaps returns the stored list for carNumber, most-recent-first, empty
// if unknown (§4.4 GetLaps).
func (s *Store) GetLaps(eventId int, carNumber string) ([]session.CarPosition, error) {
	if carNumber == "" {
		return nil, fmt.Errorf("laphistory: empty car number: %w", timingerr.ErrInvalidKey)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := s.backing.Load(eventId, carNumber)
	out := make([]session.CarPosition, len(existing))
	copy(out, existing)
	return out, nil
}

// memBacking is the default in-memory Backing.
type memBacking struct {
	mu   sync.Mutex
	data map[key][]session.CarPosition
}

func newMemBacking() *memBacking {
	return &memBacking{data: make(map[key][]session.CarPosition)}
}

func (m *memBacking) Load(eventId int, carNumber string) []session.CarPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key{eventId, carNumber}]
}

func (m *memBacking) Save(eventId int, carNumber string, entries []session.CarPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key{eventId, carNumber}] = entries
}
