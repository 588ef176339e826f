// Package persistence declares the durable-storage seams the core
// requires (§3 "Ownership", §6 "Persisted schema") without depending on
// any concrete database client — out of scope per §1. Callers wire a
// real backend behind these interfaces; the in-memory implementations
// here are the reference/test default.
package persistence

import (
	"sort"
	"sync"
	"time"

	"github.com/paddockwire/timingcore/internal/session"
)

// CarLapLog is one immutable lap record (§3 "CarLapLog").
type CarLapLog struct {
	EventId            int
	SessionId          int
	CarNumber          string
	LapNumber          int
	Timestamp          time.Time
	Flag               session.Flag
	SerializedPosition session.CarPosition
}

// LapLogStore is the append-only lap stream plus the per-car "last logged
// lap" index used to recover idempotence across a restart (§3 "CarLastLap",
// §4.3 "Across a process restart...").
type LapLogStore interface {
	// Append persists log, assigning it a permanent position in the stream.
	Append(log CarLapLog) error

	// LastLogged returns the most recently logged lap number for
	// (eventId, sessionId, carNumber), or 0 with ok=false if none.
	LastLogged(eventId, sessionId int, carNumber string) (lapNumber int, ok bool)

	// SetLastLogged records the new high-water mark. Called by the §4.3
	// sweeper immediately after a successful Append.
	SetLastLogged(eventId, sessionId int, carNumber string, lapNumber int) error

	// Laps returns the persisted log rows for (eventId, sessionId,
	// carNumber) with lapNumber in [0, count), in ascending lap-number
	// order. Used by §4.7's recovery path.
	Laps(eventId, sessionId int, carNumber string, count int) ([]CarLapLog, error)
}

// SessionRow is one persisted session-lifecycle record (§3 "Session",
// §4.8 "finalize").
type SessionRow struct {
	EventId     int
	SessionId   int
	Name        string
	StartedAt   time.Time
	EndedAt     *time.Time
	IsLive      bool
	SessionType string
	Result      *session.State

	// LastUpdated backs §4.8's debounced "UPDATE Sessions SET LastUpdated =
	// now" touch while a session stays live.
	LastUpdated time.Time
}

// SessionRowStore owns the persisted session table (§4.8 finalize: "upsert
// SessionResult, clear state, fire FinalizedSession").
type SessionRowStore interface {
	Upsert(row SessionRow) error
	Get(eventId, sessionId int) (SessionRow, bool, error)
}

// lapKey identifies a car's lap stream.
type lapKey struct {
	eventId   int
	sessionId int
	carNumber string
}

// MemLapLogStore is the in-memory reference LapLogStore.
type MemLapLogStore struct {
	mu         sync.Mutex
	logs       map[lapKey][]CarLapLog
	lastLogged map[lapKey]int
}

// NewMemLapLogStore returns an empty in-memory LapLogStore.
func NewMemLapLogStore() *MemLapLogStore {
	return &MemLapLogStore{
		logs:       make(map[lapKey][]CarLapLog),
		lastLogged: make(map[lapKey]int),
	}
}

func (m *MemLapLogStore) key(eventId, sessionId int, carNumber string) lapKey {
	return lapKey{eventId, sessionId, carNumber}
}

func (m *MemLapLogStore) Append(log CarLapLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(log.EventId, log.SessionId, log.CarNumber)
	m.logs[k] = append(m.logs[k], log)
	return nil
}

func (m *MemLapLogStore) LastLogged(eventId, sessionId int, carNumber string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.lastLogged[m.key(eventId, sessionId, carNumber)]
	return n, ok
}

func (m *MemLapLogStore) SetLastLogged(eventId, sessionId int, carNumber string, lapNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLogged[m.key(eventId, sessionId, carNumber)] = lapNumber
	return nil
}

func (m *MemLapLogStore) Laps(eventId, sessionId int, carNumber string, count int) ([]CarLapLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.logs[m.key(eventId, sessionId, carNumber)]
	out := make([]CarLapLog, 0, len(all))
	for _, log := range all {
		if log.LapNumber < count {
			out = append(out, log)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LapNumber < out[j].LapNumber })
	return out, nil
}

// MemSessionRowStore is the in-memory reference SessionRowStore.
type MemSessionRowStore struct {
	mu   sync.Mutex
	rows map[[2]int]SessionRow
}

// NewMemSessionRowStore returns an empty in-memory SessionRowStore.
func NewMemSessionRowStore() *MemSessionRowStore {
	return &MemSessionRowStore{rows: make(map[[2]int]SessionRow)}
}

func (m *MemSessionRowStore) Upsert(row SessionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[[2]int{row.EventId, row.SessionId}] = row
	return nil
}

func (m *MemSessionRowStore) Get(eventId, sessionId int) (SessionRow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[[2]int{eventId, sessionId}]
	return row, ok, nil
}
