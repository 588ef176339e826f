// Package sessionmon tracks session lifecycle and race-finish detection
// (§4.8): which session is currently live, debounced "still alive" touches
// on the persisted row, and the Checkered-flag countdown that finalizes a
// race with no following session.
package sessionmon

import (
	"strings"
	"sync"
	"time"

	"github.com/paddockwire/timingcore/internal/persistence"
	"github.com/paddockwire/timingcore/internal/session"
)

// sessionDebounceWindow coalesces repeated session-changed messages for the
// already-live session into one persisted touch (§4.8, §5 Timeouts).
const sessionDebounceWindow = 1500 * time.Millisecond

// finishingCountdown is how long the field can go without a lap-count
// change after Checkered before the session is finalized outright.
const finishingCountdown = 60 * time.Second

// FinalizedSession is delivered to the onFinalized callback whenever a
// session's row is written with IsLive=false.
type FinalizedSession struct {
	Row persistence.SessionRow
}

// Monitor owns one event's session-lifecycle bookkeeping. The zero value is
// not usable; construct with New.
type Monitor struct {
	eventId     int
	store       persistence.SessionRowStore
	onFinalized func(FinalizedSession)

	mu                 sync.Mutex
	liveSessionId      int
	liveSessionName    string
	lastUpdateDebounce time.Time

	lastFlag          session.Flag
	finishing         bool
	checkeredSnapshot map[string]int
	countdownDeadline time.Time
	lastEventTime     time.Time
}

// New creates a Monitor for eventId. onFinalized may be nil.
func New(eventId int, store persistence.SessionRowStore, onFinalized func(FinalizedSession)) *Monitor {
	return &Monitor{eventId: eventId, store: store, onFinalized: onFinalized}
}

// SessionChanged implements §4.8's session-changed handling. last is the
// best-known final SessionState for the session being left behind (the live
// snapshot if it still matches, or the pre-reset snapshot otherwise); it is
// only consulted when newId differs from the tracked live session.
func (m *Monitor) SessionChanged(newId int, newName string, now time.Time, last *session.State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newId == m.liveSessionId {
		if !m.lastUpdateDebounce.IsZero() && now.Sub(m.lastUpdateDebounce) < sessionDebounceWindow {
			return
		}
		m.lastUpdateDebounce = now
		m.touchLocked(newId, newName, now)
		return
	}

	if m.liveSessionId != 0 {
		m.finalizeLocked(last, now)
	}
	m.startLiveLocked(newId, newName, now)
}

// ObserveState implements §4.8's finishing detection. It must be called on
// every state update for the live session, with s the live (already
// write-locked) State — ObserveState takes no lock over ctx and is safe to
// call from inside the pipeline's write-lock section. It returns true when
// the session is due for finalization; the caller must then take a snapshot
// of s and call Finalize.
func (m *Monitor) ObserveState(s *session.State, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.SessionId != m.liveSessionId {
		// Defensive: a state update arrived before SessionChanged adopted
		// this session (e.g. monitor started mid-session). Adopt silently.
		m.liveSessionId = s.SessionId
		m.liveSessionName = s.SessionName
		m.lastFlag = s.CurrentFlag
		m.lastEventTime = now
		return false
	}

	prevFlag := m.lastFlag
	m.lastFlag = s.CurrentFlag
	if !m.finishing && isActiveFlag(prevFlag) && s.CurrentFlag == session.Checkered {
		m.finishing = true
		m.checkeredSnapshot = snapshotLaps(s)
		m.countdownDeadline = now.Add(finishingCountdown)
	}

	if !m.finishing {
		m.lastEventTime = now
		return false
	}

	if lapsChanged(s, m.checkeredSnapshot) {
		m.checkeredSnapshot = snapshotLaps(s)
		m.countdownDeadline = now.Add(finishingCountdown)
	}

	stalled := !m.lastEventTime.IsZero() && !now.After(m.lastEventTime)
	m.lastEventTime = now
	return !now.Before(m.countdownDeadline) || stalled
}

// Finalize implements §4.8's finalize step directly (used both from
// SessionChanged's internal path and from the caller after ObserveState
// returns true). snap is the final SessionState to persist as the result
// payload; nil persists the row with no Result.
func (m *Monitor) Finalize(snap *session.State, now time.Time) persistence.SessionRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalizeLocked(snap, now)
}

func (m *Monitor) finalizeLocked(snap *session.State, now time.Time) persistence.SessionRow {
	sessionId := m.liveSessionId
	name := m.liveSessionName
	if snap != nil {
		sessionId = snap.SessionId
		name = snap.SessionName
	}

	row, ok, _ := m.store.Get(m.eventId, sessionId)
	if !ok {
		row = persistence.SessionRow{EventId: m.eventId, SessionId: sessionId, Name: name, StartedAt: now}
	}
	row.IsLive = false
	endedAt := now
	row.EndedAt = &endedAt
	row.SessionType = deriveSessionType(name)
	row.LastUpdated = now
	if snap != nil {
		row.Result = snap
	}
	m.store.Upsert(row)

	if sessionId == m.liveSessionId {
		m.liveSessionId = 0
		m.finishing = false
		m.checkeredSnapshot = nil
	}

	if m.onFinalized != nil {
		m.onFinalized(FinalizedSession{Row: row})
	}
	return row
}

func (m *Monitor) startLiveLocked(newId int, newName string, now time.Time) {
	m.liveSessionId = newId
	m.liveSessionName = newName
	m.lastUpdateDebounce = now
	m.finishing = false
	m.checkeredSnapshot = nil
	m.lastFlag = session.Unknown
	m.lastEventTime = time.Time{}

	row, ok, _ := m.store.Get(m.eventId, newId)
	if !ok {
		row = persistence.SessionRow{EventId: m.eventId, SessionId: newId, Name: newName, StartedAt: now}
	}
	row.IsLive = true
	row.SessionType = deriveSessionType(newName)
	row.LastUpdated = now
	m.store.Upsert(row)
}

func (m *Monitor) touchLocked(sessionId int, name string, now time.Time) {
	row, ok, _ := m.store.Get(m.eventId, sessionId)
	if !ok {
		row = persistence.SessionRow{EventId: m.eventId, SessionId: sessionId, Name: name, StartedAt: now, IsLive: true, SessionType: deriveSessionType(name)}
	}
	row.LastUpdated = now
	m.store.Upsert(row)
}

// LiveSessionId returns the currently tracked live session, or 0 if none.
func (m *Monitor) LiveSessionId() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveSessionId
}

func isActiveFlag(f session.Flag) bool {
	switch f {
	case session.White, session.Green, session.Yellow, session.Purple35:
		return true
	default:
		return false
	}
}

func snapshotLaps(s *session.State) map[string]int {
	out := make(map[string]int, len(s.CarPositions))
	for _, c := range s.CarPositions {
		out[c.Number] = c.LastLapCompleted
	}
	return out
}

func lapsChanged(s *session.State, snapshot map[string]int) bool {
	for _, c := range s.CarPositions {
		if last, ok := snapshot[c.Number]; !ok || last != c.LastLapCompleted {
			return true
		}
	}
	return false
}

// deriveSessionType derives practice/qualifying/race from the session name
// by keyword match (§3 "Session": "session type ... derived from the name
// by keyword match").
func deriveSessionType(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "race"):
		return "race"
	case strings.Contains(lower, "qual"):
		return "qualifying"
	case strings.Contains(lower, "practice"), strings.Contains(lower, "warmup"), strings.Contains(lower, "warm-up"):
		return "practice"
	default:
		return ""
	}
}
