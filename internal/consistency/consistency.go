// Package consistency implements the consistency checker and upstream
// resync publisher (§4.10): a periodic sanity check over the consolidated
// session state, with bounded re-sampling on failure and a rate-limited
// forced-reconnect escalation.
package consistency

import (
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/paddockwire/timingcore/internal/laptime"
	"github.com/paddockwire/timingcore/internal/session"
)

// Cadence is the fixed tick interval per event (§5 Timeouts).
const Cadence = 10 * time.Second

// resampleInterval and resampleAttempts implement "re-sample up to three
// times at 750 ms intervals" on a failed check.
const (
	resampleInterval = 750 * time.Millisecond
	resampleAttempts = 3
)

// forceReconnectWindowMin/Max bound the "previous [failed check] was between
// 1 and 2 minutes ago" condition of the two-tier ForceTimingDataReset
// policy.
const (
	forceReconnectWindowMin = 1 * time.Minute
	forceReconnectWindowMax = 2 * time.Minute
)

// forceReconnectCooldown is the "≥3 minutes since the last forced
// reconnect" side of the policy, enforced via catrate.Limiter.
const forceReconnectCooldown = 3 * time.Minute

// Sample pulls a read-locked, deep-copied snapshot of the live session
// state. It returns an error only for a transient read failure (e.g. an I/O
// error in a remote snapshot source) — a structurally-inconsistent but
// successfully-read State is not an error, it's what Tick is checking for.
type Sample func() (*session.State, error)

// ResyncRequest is published on sustained inconsistency (§4.10
// "RelayResetRequest").
type ResyncRequest struct {
	EventId              int
	ForceTimingDataReset bool
}

// Checker runs the per-event consistency check. Construct with New.
type Checker struct {
	eventId  int
	limiter  *catrate.Limiter
	onResync func(ResyncRequest)
	sleep    func(time.Duration)

	lastConsistencyError    time.Time
	lastRelayForceReconnect time.Time
}

// New creates a Checker for eventId. onResync may be nil (the check still
// runs, just without a resync being published anywhere).
func New(eventId int, onResync func(ResyncRequest)) *Checker {
	return &Checker{
		eventId:  eventId,
		limiter:  catrate.NewLimiter(map[time.Duration]int{forceReconnectCooldown: 1}),
		onResync: onResync,
		sleep:    time.Sleep,
	}
}

// Tick runs one check cycle (§4.10): sample, and on failure re-sample up to
// resampleAttempts times at resampleInterval apart. If every attempt comes
// back inconsistent, a ResyncRequest is published. The returned error is
// non-nil only when sample itself failed (a transient error, per §4.10,
// "throttle the next tick by 10s") — the caller's run loop should then wait
// an extra Cadence before ticking again.
func (c *Checker) Tick(now time.Time, sample Sample) error {
	s, err := sample()
	if err != nil {
		return err
	}
	if consistent(s) {
		return nil
	}

	for i := 0; i < resampleAttempts; i++ {
		c.sleep(resampleInterval)
		s, err = sample()
		if err != nil {
			return err
		}
		if consistent(s) {
			return nil
		}
	}

	c.publish(now)
	return nil
}

func (c *Checker) publish(now time.Time) {
	prevError := c.lastConsistencyError
	c.lastConsistencyError = now

	force := false
	if !prevError.IsZero() {
		since := now.Sub(prevError)
		if since >= forceReconnectWindowMin && since <= forceReconnectWindowMax {
			if _, ok := c.limiter.Allow(c.eventId); ok {
				force = true
				c.lastRelayForceReconnect = now
			}
		}
	}

	if c.onResync != nil {
		c.onResync(ResyncRequest{EventId: c.eventId, ForceTimingDataReset: force})
	}
}

// consistent implements §4.10's three checks: overall positions form a
// contiguous 1..N permutation, in-class positions likewise per class, and
// the leader holds the highest LastLapCompleted, tied with the lowest
// TotalTime among ties.
func consistent(s *session.State) bool {
	if len(s.CarPositions) == 0 {
		return true
	}

	n := len(s.CarPositions)
	seenOverall := make(map[int]bool, n)
	classSeen := make(map[string]map[int]bool)
	maxLaps := 0
	var leader *session.CarPosition

	for i := range s.CarPositions {
		c := &s.CarPositions[i]
		if c.OverallPosition < 1 || c.OverallPosition > n || seenOverall[c.OverallPosition] {
			return false
		}
		seenOverall[c.OverallPosition] = true

		if classSeen[c.Class] == nil {
			classSeen[c.Class] = make(map[int]bool)
		}
		if c.ClassPosition < 1 || classSeen[c.Class][c.ClassPosition] {
			return false
		}
		classSeen[c.Class][c.ClassPosition] = true

		if c.LastLapCompleted > maxLaps {
			maxLaps = c.LastLapCompleted
		}
		if c.OverallPosition == 1 {
			leader = c
		}
	}

	for _, seen := range classSeen {
		for i := 1; i <= len(seen); i++ {
			if !seen[i] {
				return false
			}
		}
	}

	if leader == nil || leader.LastLapCompleted != maxLaps {
		return false
	}

	minMs := -1
	for i := range s.CarPositions {
		c := &s.CarPositions[i]
		if c.LastLapCompleted != maxLaps {
			continue
		}
		ms := laptime.ParseMs(c.TotalTime)
		if ms <= 0 {
			continue
		}
		if minMs < 0 || ms < minMs {
			minMs = ms
		}
	}
	if minMs >= 0 {
		leaderMs := laptime.ParseMs(leader.TotalTime)
		if leaderMs <= 0 || leaderMs != minMs {
			return false
		}
	}
	return true
}
