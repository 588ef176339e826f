// Package pipeline implements the session pipeline coordinator (§4.1 of the
// timing spec): the single-entry, per-event ordered processor that turns
// typed timing messages into a write-locked mutation of session.State, runs
// lap processing and enrichment, and schedules the resulting patches for
// dispatch.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/paddockwire/timingcore/internal/consistency"
	"github.com/paddockwire/timingcore/internal/consolidator"
	"github.com/paddockwire/timingcore/internal/enrich"
	"github.com/paddockwire/timingcore/internal/laphistory"
	"github.com/paddockwire/timingcore/internal/lapproc"
	"github.com/paddockwire/timingcore/internal/penalty"
	"github.com/paddockwire/timingcore/internal/persistence"
	"github.com/paddockwire/timingcore/internal/rmonitor"
	"github.com/paddockwire/timingcore/internal/session"
	"github.com/paddockwire/timingcore/internal/sessionmon"
	"github.com/paddockwire/timingcore/internal/startgrid"
)

// MessageType names one of the inbound envelope kinds recognized by Post
// (§4.1 "Message types recognized", §6 "Inbound message envelope").
type MessageType string

const (
	MsgRMonitor       MessageType = "rmonitor"
	MsgMultiloop      MessageType = "multiloop"
	MsgX2Pass         MessageType = "x2pass"
	MsgX2Loop         MessageType = "x2loop"
	MsgFlags          MessageType = "flags"
	MsgSessionChanged MessageType = "event-session-changed"
	MsgConfigChanged  MessageType = "event-configuration-changed"
	MsgCompetitors    MessageType = "competitors"
)

// Message is the inbound envelope (§6 "TimingMessage"). Data carries the raw
// result-monitor text for MsgRMonitor; every other type carries a typed
// Payload, since the core does not define an on-the-wire framing for those
// feeds (§1 Non-goals).
type Message struct {
	Type      MessageType
	Data      string
	Payload   any
	SessionId int
	Timestamp time.Time
}

// LoopKind classifies a transponder-loop passing (§6 "multiloop", "x2pass").
type LoopKind int

const (
	LoopGeneric LoopKind = iota
	LoopPitIn
	LoopPitOut
	LoopStartFinish
)

// Passing is one transponder crossing, as delivered by the secondary-loop
// feeds (multiloop, x2pass, x2loop). Payload for those message types is
// either a single Passing or a []Passing batch.
type Passing struct {
	TransponderId uint32    `json:"transponderId"`
	Loop          LoopKind  `json:"loop"`
	Timestamp     time.Time `json:"timestamp"`
}

// CompetitorRecord is one entry from the bulk "competitors" feed — the same
// fields as rmonitor's $A/$COMP, delivered out of band from the line
// protocol (§4.1 message type "competitors").
type CompetitorRecord struct {
	RegNum        string `json:"regNum"`
	Number        string `json:"number"`
	TransponderId uint32 `json:"transponderId"`
	First         string `json:"first"`
	Last          string `json:"last"`
	Nationality   string `json:"nationality"`
	ClassNum      string `json:"classNum"`
}

// SessionChangedPayload is the Payload for MsgSessionChanged.
type SessionChangedPayload struct {
	SessionId   int    `json:"sessionId"`
	SessionName string `json:"sessionName"`
}

// ConfigChangedPayload is the Payload for MsgConfigChanged: out-of-band
// session metadata that has no result-monitor command of its own.
type ConfigChangedPayload struct {
	ClassColors   map[string]string `json:"classColors,omitempty"`
	Announcements []string          `json:"announcements,omitempty"`
}

// Coordinator is the single-entry ordered processor for one event (§4.1).
// Construct with New.
type Coordinator struct {
	eventId int
	log     zerolog.Logger

	ctx          *session.Context
	lapStore     persistence.LapLogStore
	sessionStore persistence.SessionRowStore
	history      *laphistory.Store

	pace       *enrich.PaceEnricher
	projection *enrich.ProjectionEnricher
	position   enrich.PositionEnricher
	recovery   startgrid.Recovery
	overlay    penalty.Overlay

	sessionMon   *sessionmon.Monitor
	consolidator *consolidator.Consolidator
	checker      *consistency.Checker

	// postMu serializes Post: the write lock over session.Context alone
	// guards SessionState, but lapProc is swapped out on a session change
	// and must not be read mid-swap by a concurrent Post (§5 "Post is
	// single-threaded per event by construction").
	postMu  sync.Mutex
	lapProc *lapproc.Processor

	assessMu    sync.Mutex
	assessments []penalty.Assessment
}

// New constructs a Coordinator for eventId, starting with a fresh session
// (sessionId, sessionName). sink receives the consolidated patches (§4.9);
// onFinalized and onResync may be nil.
func New(
	eventId, sessionId int,
	sessionName string,
	lapStore persistence.LapLogStore,
	sessionStore persistence.SessionRowStore,
	history *laphistory.Store,
	sink consolidator.Sink,
	log zerolog.Logger,
	onFinalized func(sessionmon.FinalizedSession),
	onResync func(consistency.ResyncRequest),
) *Coordinator {
	log = log.With().Int("event_id", eventId).Logger()
	c := &Coordinator{
		eventId:      eventId,
		log:          log,
		ctx:          session.NewContext(sessionId, sessionName),
		lapStore:     lapStore,
		sessionStore: sessionStore,
		history:      history,
		pace:         &enrich.PaceEnricher{History: history},
		projection:   &enrich.ProjectionEnricher{History: history},
		sessionMon:   sessionmon.New(eventId, sessionStore, onFinalized),
		lapProc:      lapproc.New(eventId, sessionId, lapStore, log),
	}
	c.consolidator = consolidator.New(sink)
	c.checker = consistency.New(eventId, onResync)
	return c
}

// EventId returns the event this coordinator serves.
func (c *Coordinator) EventId() int { return c.eventId }

// LiveSessionId returns the currently tracked live session id, or 0.
func (c *Coordinator) LiveSessionId() int { return c.sessionMon.LiveSessionId() }

// Snapshot returns a deep-copied, read-locked view of the live state, for
// SendFullSnapshot (§6 "Broadcast surface") and the consistency checker.
func (c *Coordinator) Snapshot() *session.State { return c.ctx.ReadSnapshot() }

// SetAssessments replaces the pending penalty assessments applied on every
// subsequent Post that produces a car patch (§4.1 step 3 "penalty overlay").
func (c *Coordinator) SetAssessments(assessments []penalty.Assessment) {
	c.assessMu.Lock()
	defer c.assessMu.Unlock()
	c.assessments = append([]penalty.Assessment(nil), assessments...)
}

func (c *Coordinator) snapshotAssessments() []penalty.Assessment {
	c.assessMu.Lock()
	defer c.assessMu.Unlock()
	return c.assessments
}

// Post implements §4.1's contract: parse, apply state-change calculators,
// run lap detection/enrichment if any car patch was produced, then hand the
// result to the consolidator. Unknown message types are logged and dropped.
func (c *Coordinator) Post(msg Message) {
	c.postMu.Lock()
	defer c.postMu.Unlock()

	if msg.Type == MsgSessionChanged {
		c.handleSessionChanged(msg)
		return
	}

	var sessionPatch session.SessionStatePatch
	var carPatches []session.CarPositionPatch

	c.ctx.WithWriteLock(func(s *session.State) {
		prevLaps := snapshotLaps(s)
		produced := false

		switch msg.Type {
		case MsgRMonitor:
			for _, line := range rmonitor.SplitLines(msg.Data) {
				res, err := rmonitor.ProcessLine(c.ctx, s, line, msg.Timestamp)
				if err != nil {
					c.log.Warn().Err(err).Str("line", line).Msg("dropping malformed rmonitor line")
					continue
				}
				sessionPatch = sessionPatch.Merge(res.SessionPatch)
				if len(res.CarPatches) > 0 {
					carPatches = append(carPatches, res.CarPatches...)
					produced = true
				}
			}

		case MsgCompetitors:
			records, ok := msg.Payload.([]CompetitorRecord)
			if !ok {
				c.log.Warn().Str("type", string(msg.Type)).Msg("competitors message missing payload")
				break
			}
			for _, rec := range records {
				if p := c.applyCompetitorRecord(s, rec); p != nil {
					carPatches = append(carPatches, *p)
					produced = true
				}
			}

		case MsgMultiloop, MsgX2Pass, MsgX2Loop:
			var passings []Passing
			switch v := msg.Payload.(type) {
			case []Passing:
				passings = v
			case Passing:
				passings = []Passing{v}
			default:
				c.log.Warn().Str("type", string(msg.Type)).Msg("passing message missing payload")
			}
			for _, pass := range passings {
				if p := c.applyPassing(s, pass); p != nil {
					carPatches = append(carPatches, *p)
					produced = true
				}
			}

		case MsgFlags:
			if flags, ok := msg.Payload.([]session.FlagDuration); ok {
				s.FlagDurations = mergeFlagDurations(s.FlagDurations, flags)
			}

		case MsgConfigChanged:
			if cfg, ok := msg.Payload.(ConfigChangedPayload); ok {
				if len(cfg.ClassColors) > 0 {
					if s.ClassColors == nil {
						s.ClassColors = make(map[string]string, len(cfg.ClassColors))
					}
					for k, v := range cfg.ClassColors {
						s.ClassColors[k] = v
					}
				}
				if cfg.Announcements != nil {
					s.Announcements = cfg.Announcements
				}
			}

		default:
			c.log.Warn().Str("type", string(msg.Type)).Msg("unknown message type, dropping")
		}

		sessionPatch.Apply(s)

		if produced {
			carPatches = append(carPatches, c.observeStartingGrid(s, carPatches)...)

			if startgrid.ShouldRecover(c.ctx, s) {
				if ok, patches := startgrid.Recover(c.ctx, s, c.eventId, s.SessionId, c.lapStore); ok {
					carPatches = append(carPatches, patches...)
				}
			}

			carPatches = append(carPatches, c.runLapCompletion(s, prevLaps, msg.Timestamp)...)

			carPatches = append(carPatches, c.position.Enrich(c.ctx, s)...)

			carPatches = append(carPatches, c.overlay.Apply(c.ctx, s, c.snapshotAssessments())...)
		}

		// ObserveState must run on every Post that touched session-wide
		// state, not just ones that also produced a car patch: a
		// heartbeat-only $F line changes CurrentFlag but never a car, and
		// §4.8's finishing detection keys on exactly that transition.
		if c.sessionMon.ObserveState(s, msg.Timestamp) {
			c.sessionMon.Finalize(s.Clone(), msg.Timestamp)
		}
	})

	if err := c.consolidator.Submit(sessionPatch, carPatches); err != nil {
		c.log.Warn().Err(err).Msg("patch submission failed")
	}
}

// handleSessionChanged implements §4.1's "event-session-changed" message and
// §4.8's finalize-then-adopt transition. It bypasses the generic Post body
// because session.Context.NewSession takes its own write lock.
func (c *Coordinator) handleSessionChanged(msg Message) {
	payload, ok := msg.Payload.(SessionChangedPayload)
	if !ok {
		c.log.Warn().Msg("event-session-changed missing payload")
		return
	}

	last := c.ctx.ReadSnapshot()
	c.sessionMon.SessionChanged(payload.SessionId, payload.SessionName, msg.Timestamp, last)

	c.lapProc.Flush(msg.Timestamp)
	c.lapProc.Close()

	c.ctx.NewSession(payload.SessionId, payload.SessionName, msg.Timestamp)
	c.lapProc = lapproc.New(c.eventId, payload.SessionId, c.lapStore, c.log)
}

// applyCompetitorRecord mirrors rmonitor's $A/$COMP calculator for the
// out-of-band "competitors" feed (§4.1).
func (c *Coordinator) applyCompetitorRecord(s *session.State, rec CompetitorRecord) *session.CarPositionPatch {
	class := s.Classes[rec.ClassNum]
	if class == "" {
		class = rec.ClassNum
	}
	driverName := rec.First
	if rec.Last != "" {
		if driverName != "" {
			driverName += " "
		}
		driverName += rec.Last
	}

	s.EventEntries[rec.RegNum] = session.EventEntry{
		RegNum:        rec.RegNum,
		Number:        rec.Number,
		TransponderId: rec.TransponderId,
		DriverFirst:   rec.First,
		DriverLast:    rec.Last,
		Nationality:   rec.Nationality,
		ClassNum:      rec.ClassNum,
		Class:         class,
	}

	idx := s.CarByNumber(rec.Number)
	if idx < 0 {
		car := session.CarPosition{
			Number: rec.Number, Class: class, DriverName: driverName,
			TransponderId: rec.TransponderId, TrackFlag: session.Unknown, LocalFlag: session.Unknown,
		}
		if prev, ok := c.ctx.PreRestartLastLapTime(rec.Number); ok {
			car.LastLapTime = prev
		}
		c.ctx.UpdateCars(s, []session.CarPosition{car})

		p := session.NewCarPositionPatch(rec.Number)
		p.Class = session.Some(class)
		p.DriverName = session.Some(driverName)
		p.TransponderId = session.Some(rec.TransponderId)
		return &p
	}

	current := s.CarPositions[idx]
	p := session.NewCarPositionPatch(rec.Number)
	changed := false
	if current.Class != class {
		p.Class = session.Some(class)
		changed = true
	}
	if current.DriverName != driverName {
		p.DriverName = session.Some(driverName)
		changed = true
	}
	if current.TransponderId != rec.TransponderId {
		p.TransponderId = session.Some(rec.TransponderId)
		changed = true
	}
	if !changed {
		return nil
	}
	updated := current
	p.Apply(&updated)
	c.ctx.UpdateCars(s, []session.CarPosition{updated})
	return &p
}

// applyPassing resolves a transponder passing to its car and folds in the
// pit flags the loop kind implies, draining the lap processor's pending
// entry for that car so the crossing is reflected in the same log record
// (§4.3 "Pit correlation").
func (c *Coordinator) applyPassing(s *session.State, pass Passing) *session.CarPositionPatch {
	number, ok := c.ctx.GetCarNumberForTransponder(pass.TransponderId)
	if !ok {
		return nil
	}
	idx := s.CarByNumber(number)
	if idx < 0 {
		return nil
	}

	current := s.CarPositions[idx]
	p := session.NewCarPositionPatch(number)
	changed := false
	pitEvent := false

	switch pass.Loop {
	case LoopPitIn:
		pitEvent = true
		if !current.IsEnteredPit || !current.IsInPit {
			p.IsEnteredPit = session.Some(true)
			p.IsInPit = session.Some(true)
			changed = true
		}
	case LoopPitOut:
		pitEvent = true
		if current.IsInPit || !current.IsExitedPit {
			p.IsInPit = session.Some(false)
			p.IsExitedPit = session.Some(true)
			changed = true
		}
	case LoopStartFinish:
		if !current.IsPitStartFinish {
			p.IsPitStartFinish = session.Some(true)
			changed = true
		}
	}

	var result *session.CarPositionPatch
	if changed {
		p.Apply(&s.CarPositions[idx])
		result = &p
	}
	if pitEvent {
		c.lapProc.PitHook(pass.Timestamp, s.CarPositions[idx])
	}
	return result
}

// observeStartingGrid runs §4.7's live path for every car touched by this
// Post's primary patches, deduplicated and in deterministic order.
func (c *Coordinator) observeStartingGrid(s *session.State, carPatches []session.CarPositionPatch) []session.CarPositionPatch {
	touched := make(map[string]bool, len(carPatches))
	for _, p := range carPatches {
		if p.Number.Set {
			touched[p.Number.Value] = true
		}
	}
	numbers := make([]string, 0, len(touched))
	for n := range touched {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	var out []session.CarPositionPatch
	for _, n := range numbers {
		out = append(out, c.recovery.ObserveRaceInfo(s, n)...)
	}
	return out
}

// runLapCompletion drives §4.3 (deferred-commit lap logging) and §4.5's
// lap-triggered enrichers for every car whose LastLapCompleted advanced
// during this Post.
func (c *Coordinator) runLapCompletion(s *session.State, prevLaps map[string]int, now time.Time) []session.CarPositionPatch {
	var completed []string
	for i := range s.CarPositions {
		car := s.CarPositions[i]
		c.lapProc.Observe(now, car)
		if car.LastLapCompleted > prevLaps[car.Number] {
			completed = append(completed, car.Number)
		}
	}
	sort.Strings(completed)

	var out []session.CarPositionPatch
	for _, number := range completed {
		idx := s.CarByNumber(number)
		if idx < 0 {
			continue
		}
		if err := c.history.AddLap(c.eventId, s.CarPositions[idx]); err != nil {
			c.log.Warn().Err(err).Str("car", number).Msg("lap history append failed")
		}

		for _, p := range c.pace.OnLapCompleted(s, c.eventId, number) {
			if i := s.CarByNumber(p.Number.Value); i >= 0 {
				p.Apply(&s.CarPositions[i])
			}
			out = append(out, p)
		}

		if p, changed := c.projection.OnLapCompleted(s, c.eventId, number); changed {
			if i := s.CarByNumber(p.Number.Value); i >= 0 {
				p.Apply(&s.CarPositions[i])
			}
			out = append(out, p)
		}
	}
	return out
}

// RunConsistencyChecker runs §4.10's fixed-cadence consistency check loop
// until ctx is cancelled. On a transient sample error it throttles the next
// tick by an extra 10 s, per §4.10.
func (c *Coordinator) RunConsistencyChecker(ctx context.Context) {
	ticker := time.NewTicker(consistency.Cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := c.checker.Tick(now, func() (*session.State, error) { return c.ctx.ReadSnapshot(), nil }); err != nil {
				c.log.Warn().Err(err).Msg("consistency sample failed, throttling next tick")
				select {
				case <-ctx.Done():
					return
				case <-time.After(10 * time.Second):
				}
			}
		}
	}
}

// Close flushes and stops the lap processor and consolidator (§5
// "Cancellation": "§4.3 flushes once and stops ... §4.9 drops any
// accumulated patches after a final best-effort emit").
func (c *Coordinator) Close() error {
	c.postMu.Lock()
	defer c.postMu.Unlock()
	c.lapProc.Flush(time.Now())
	c.lapProc.Close()
	return c.consolidator.Close()
}

func snapshotLaps(s *session.State) map[string]int {
	m := make(map[string]int, len(s.CarPositions))
	for _, car := range s.CarPositions {
		m[car.Number] = car.LastLapCompleted
	}
	return m
}

// mergeFlagDurations folds incoming flag-duration ranges into existing:
// a range sharing (Flag, StartUtc) with an existing range, open or closed,
// updates its EndUtc; anything else is appended (§3 "FlagDuration").
func mergeFlagDurations(existing, incoming []session.FlagDuration) []session.FlagDuration {
	for _, fd := range incoming {
		matched := false
		for i := range existing {
			if existing[i].Flag == fd.Flag && existing[i].StartUtc.Equal(fd.StartUtc) {
				existing[i].EndUtc = fd.EndUtc
				matched = true
				break
			}
		}
		if !matched {
			existing = append(existing, fd)
		}
	}
	return existing
}
