package session

import (
	"sync"
	"time"
)

// resetSuppressWindow is the duplicate-reset-snapshot suppression window
// (§4.2 $I, §5 Timeouts: "duplicate-reset suppression 5 s").
const resetSuppressWindow = 5 * time.Second

// Context owns State, the reader-writer lock over it, and the car-number /
// transponder lookups (§4.11 "Session Context"). It is the only shared
// mutable structure in the pipeline; writers hold the write lock for the
// whole parse+enrich pass.
type Context struct {
	mu sync.RWMutex

	state *State

	byNumber      map[string]int    // Number -> index into state.CarPositions
	byTransponder map[uint32]string // TransponderId -> Number

	// previousState is the pre-reset/pre-finalize snapshot used by
	// §4.8 to persist a SessionResult even when the live state has already
	// moved on to the next session.
	previousState *State

	lastReset time.Time

	// lastLapTimesBeforeReset lets $I's "re-apply pre-reset LastLapTime if
	// the car reappears with an empty one" rule (§4.2) survive the reset.
	lastLapTimesBeforeReset map[string]string

	startingPositionsChecked bool
}

// NewContext creates a Context for a freshly started session.
func NewContext(sessionId int, sessionName string) *Context {
	return &Context{
		state:         NewState(sessionId, sessionName),
		byNumber:      make(map[string]int),
		byTransponder: make(map[uint32]string),
	}
}

// WithWriteLock runs fn with the write lock held, passing the live,
// mutable State. fn must not retain the pointer past the call.
func (c *Context) WithWriteLock(fn func(s *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.state)
}

// ReadSnapshot acquires the read lock, deep-copies State, and releases
// before returning (§4.10, §5 "readers ... deep-copy before releasing").
func (c *Context) ReadSnapshot() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// GetCarByNumber returns the car at Number and whether it exists. Callers
// must hold at least the read lock (enforced by convention).
func (c *Context) GetCarByNumber(s *State, number string) (CarPosition, bool) {
	if idx, ok := c.byNumber[number]; ok && idx < len(s.CarPositions) {
		return s.CarPositions[idx], true
	}
	return CarPosition{}, false
}

// GetCarNumberForTransponder resolves a transponder id to its current car
// number, if bound.
func (c *Context) GetCarNumberForTransponder(transponderId uint32) (string, bool) {
	n, ok := c.byTransponder[transponderId]
	return n, ok
}

// UpdateCars upserts cars into s.CarPositions by Number, maintaining both
// lookups, and evicts a stale transponder binding if a car's transponder
// changed (§4.11 UpdateCars). Must be called with the write lock held.
func (c *Context) UpdateCars(s *State, cars []CarPosition) {
	c.reindex(s)
	for _, car := range cars {
		c.upsertCar(s, car)
	}
}

// upsertCar inserts or replaces the car at its Number, keeping both
// lookup tables consistent. Caller holds the write lock.
func (c *Context) upsertCar(s *State, car CarPosition) {
	if idx, ok := c.byNumber[car.Number]; ok {
		old := s.CarPositions[idx]
		if old.TransponderId != 0 && old.TransponderId != car.TransponderId {
			delete(c.byTransponder, old.TransponderId)
		}
		s.CarPositions[idx] = car
	} else {
		idx = len(s.CarPositions)
		s.CarPositions = append(s.CarPositions, car)
		c.byNumber[car.Number] = idx
	}
	if car.TransponderId != 0 {
		c.byTransponder[car.TransponderId] = car.Number
	}
}

// reindex rebuilds byNumber from s.CarPositions. Needed after any
// operation that reorders or removes rows out from under the lookup
// table (the position enricher re-sorts CarPositions in place).
func (c *Context) reindex(s *State) {
	for i := range s.CarPositions {
		c.byNumber[s.CarPositions[i].Number] = i
	}
}

// Reindex is the exported form of reindex, for callers (the position
// enricher) that reorder CarPositions directly under the write lock.
func (c *Context) Reindex(s *State) {
	c.reindex(s)
}

// ResetCommand clears both lookups and CarPositions/EventEntries (§4.2 $I,
// §4.11 ResetCommand) unconditionally. If the previous reset was more than
// resetSuppressWindow ago, it also snapshots the current State into
// PreviousState and records last-lap-times per car for re-application;
// within the window that snapshot/capture is suppressed as a duplicate, but
// the clear itself is not.
// Returns false if this reset was suppressed as a duplicate.
func (c *Context) ResetCommand(s *State, now time.Time) bool {
	withinWindow := !c.lastReset.IsZero() && now.Sub(c.lastReset) < resetSuppressWindow
	c.lastReset = now

	if !withinWindow {
		snapshot := s.Clone()
		c.previousState = snapshot

		c.lastLapTimesBeforeReset = make(map[string]string, len(s.CarPositions))
		for _, car := range s.CarPositions {
			if car.LastLapTime != "" {
				c.lastLapTimesBeforeReset[car.Number] = car.LastLapTime
			}
		}
	}

	s.CarPositions = nil
	s.EventEntries = make(map[string]EventEntry)
	c.byNumber = make(map[string]int)
	c.byTransponder = make(map[uint32]string)
	c.startingPositionsChecked = false
	return !withinWindow
}

// PreRestartLastLapTime returns the last-known lap time for a car from
// before the most recent reset, used to make a practice-to-qualifying
// restart look seamless (§4.2 $I).
func (c *Context) PreRestartLastLapTime(number string) (string, bool) {
	t, ok := c.lastLapTimesBeforeReset[number]
	return t, ok
}

// PreviousState returns the snapshot taken at the last ResetCommand (or
// nil if none has happened yet). Used by §4.8 finalization.
func (c *Context) PreviousState() *State {
	if c.previousState == nil {
		return nil
	}
	return c.previousState.Clone()
}

// NewSession holds the write lock, resets, clears starting positions, and
// installs a fresh State (§4.11 NewSession).
func (c *Context) NewSession(id int, name string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCommand(c.state, now)
	c.state = NewState(id, name)
	c.byNumber = make(map[string]int)
	c.byTransponder = make(map[uint32]string)
	c.startingPositionsChecked = false
}

// StartingPositionsChecked reports whether §4.7 recovery has already run
// (successfully or not) for the current session.
func (c *Context) StartingPositionsChecked() bool {
	return c.startingPositionsChecked
}

// MarkStartingPositionsChecked records that §4.7 recovery has run for the
// current session; re-invocation within the same session is then a no-op.
func (c *Context) MarkStartingPositionsChecked() {
	c.startingPositionsChecked = true
}
