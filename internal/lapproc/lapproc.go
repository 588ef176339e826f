// Package lapproc implements the deferred-commit lap processor with pit
// correlation (§4.3 of the timing spec): it detects new lap completions,
// holds them briefly so a nearby pit event can be folded in, then commits
// them to the persistent lap stream.
package lapproc

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/paddockwire/timingcore/internal/persistence"
	"github.com/paddockwire/timingcore/internal/session"
)

// CommitWait is the fixed deferred-commit window W (§4.3).
const CommitWait = 1000 * time.Millisecond

// SweepInterval is the sweeper's polling cadence (§4.3 "Concurrency").
const SweepInterval = 100 * time.Millisecond

type lastLoggedKey struct {
	eventId   int
	sessionId int
	carNumber string
}

type pendingEntry struct {
	position  session.CarPosition
	enqueued  time.Time
	sessionId int
}

// Processor is one event's lap processor. The zero value is not usable;
// use New.
type Processor struct {
	log       zerolog.Logger
	store     persistence.LapLogStore
	eventId   int
	sessionId int

	mu         sync.Mutex
	pending    map[string]pendingEntry // keyed by CarNumber
	lastLogged map[lastLoggedKey]int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New returns a Processor for eventId/sessionId backed by store, and
// starts its background sweeper. Call Close to stop it.
func New(eventId, sessionId int, store persistence.LapLogStore, log zerolog.Logger) *Processor {
	p := &Processor{
		log:        log.With().Int("event_id", eventId).Int("session_id", sessionId).Logger(),
		store:      store,
		eventId:    eventId,
		sessionId:  sessionId,
		pending:    make(map[string]pendingEntry),
		lastLogged: make(map[lastLoggedKey]int),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// unloggedSentinel marks a car with no persisted lap yet, so that
// LapNumber 0 (the starting-grid snapshot) always counts as "exceeds
// LastLogged" the first time it's observed.
const unloggedSentinel = -1

// Observe places car into the pending buffer if its LastLapCompleted
// exceeds the recovered LastLogged watermark, or if LapNumber==0 and its
// snapshot changed since the last enqueue (§4.3 "Inputs").
func (p *Processor) Observe(now time.Time, car session.CarPosition) {
	if car.Number == "" {
		return
	}
	last := p.lastLoggedFor(car.Number)

	p.mu.Lock()
	defer p.mu.Unlock()

	if car.LastLapCompleted > last {
		p.pending[car.Number] = pendingEntry{position: car, enqueued: now, sessionId: p.sessionId}
		return
	}
	if car.LastLapCompleted == 0 && last == 0 {
		prev, ok := p.pending[car.Number]
		if !ok || lapSnapshotChanged(prev.position, car) {
			p.pending[car.Number] = pendingEntry{position: car, enqueued: now, sessionId: p.sessionId}
		}
	}
}

// lapSnapshotChanged compares the fields §4.3 names: lap time or overall
// position.
func lapSnapshotChanged(prev, next session.CarPosition) bool {
	return prev.LastLapTime != next.LastLapTime || prev.OverallPosition != next.OverallPosition
}

func (p *Processor) lastLoggedFor(carNumber string) int {
	k := lastLoggedKey{p.eventId, p.sessionId, carNumber}

	p.mu.Lock()
	if n, ok := p.lastLogged[k]; ok {
		p.mu.Unlock()
		return n
	}
	p.mu.Unlock()

	n := unloggedSentinel
	if stored, ok := p.store.LastLogged(p.eventId, p.sessionId, carNumber); ok {
		n = stored
	}
	p.mu.Lock()
	p.lastLogged[k] = n
	p.mu.Unlock()
	return n
}

// PitHook drains any pending entry for car immediately, folding the
// current pit state into the commit (§4.3 "Pit correlation"). A no-op if
// nothing is pending for car.
func (p *Processor) PitHook(now time.Time, car session.CarPosition) {
	p.mu.Lock()
	entry, ok := p.pending[car.Number]
	if ok {
		delete(p.pending, car.Number)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	entry.position = car
	p.commit(now, car.Number, entry)
}

// Flush drains the entire pending buffer regardless of age (§4.3
// "Lifecycle").
func (p *Processor) Flush(now time.Time) {
	p.mu.Lock()
	due := p.pending
	p.pending = make(map[string]pendingEntry)
	p.mu.Unlock()

	for carNumber, entry := range due {
		p.commit(now, carNumber, entry)
	}
}

// Close stops the background sweeper. Idempotent.
func (p *Processor) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.doneCh
}

func (p *Processor) sweepLoop() {
	defer close(p.doneCh)
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.sweep(now)
		}
	}
}

func (p *Processor) sweep(now time.Time) {
	p.mu.Lock()
	var due []string
	for carNumber, entry := range p.pending {
		if now.Sub(entry.enqueued) >= CommitWait {
			due = append(due, carNumber)
		}
	}
	entries := make(map[string]pendingEntry, len(due))
	for _, carNumber := range due {
		entries[carNumber] = p.pending[carNumber]
		delete(p.pending, carNumber)
	}
	p.mu.Unlock()

	for carNumber, entry := range entries {
		p.commit(now, carNumber, entry)
	}
}

// commit writes one CarLapLog and advances LastLogged, guarding against
// out-of-order/duplicate lap numbers (§4.3 "Ordering and idempotence").
func (p *Processor) commit(now time.Time, carNumber string, entry pendingEntry) {
	last := p.lastLoggedFor(carNumber)
	lapNumber := entry.position.LastLapCompleted
	if lapNumber <= last {
		p.log.Debug().Str("car", carNumber).Int("lap", lapNumber).Int("last_logged", last).Msg("dropping out-of-order lap commit")
		return
	}

	logEntry := persistence.CarLapLog{
		EventId:            p.eventId,
		SessionId:          p.sessionId,
		CarNumber:          carNumber,
		LapNumber:          lapNumber,
		Timestamp:          now,
		Flag:               entry.position.TrackFlag,
		SerializedPosition: entry.position,
	}
	if err := p.store.Append(logEntry); err != nil {
		p.log.Warn().Err(err).Str("car", carNumber).Int("lap", lapNumber).Msg("lap log append failed, will retry next commit")
		return
	}
	if err := p.store.SetLastLogged(p.eventId, p.sessionId, carNumber, lapNumber); err != nil {
		p.log.Warn().Err(err).Str("car", carNumber).Msg("last-logged watermark update failed")
		return
	}

	p.mu.Lock()
	p.lastLogged[lastLoggedKey{p.eventId, p.sessionId, carNumber}] = lapNumber
	p.mu.Unlock()

	p.log.Info().Str("car", carNumber).Int("lap", lapNumber).Msg("lap committed")
}
