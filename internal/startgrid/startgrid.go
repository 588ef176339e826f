// Package startgrid implements starting-grid position recovery (§4.7 of the
// timing spec): both the live path (captured while the field forms up
// before green) and the persisted-history recovery path used after a
// service restart that missed the green flag live.
package startgrid

import (
	"sort"

	"github.com/paddockwire/timingcore/internal/persistence"
	"github.com/paddockwire/timingcore/internal/session"
)

// racingFlags is the set of flags under which a lap counts toward the
// "any car completed > 3 laps" recovery gate (§4.7 "Recovery path").
var racingFlags = map[session.Flag]bool{
	session.Green:    true,
	session.Yellow:   true,
	session.Red:      true,
	session.Purple35: true,
}

// formingUpFlags is the set of flags under which the live path records a
// starting-position snapshot (§4.7 "Live path").
var formingUpFlags = map[session.Flag]bool{
	session.Unknown: true,
	session.Yellow:  true,
	session.Green:   true,
}

// Recovery implements both the live and persisted-history starting-position
// paths. The zero value is ready to use.
type Recovery struct{}

// ObserveRaceInfo implements the live path: on any $G received while
// LastLapCompleted==0 and CurrentFlag is still forming up, store the car's
// current overall position as its starting position (once), then
// re-derive in-class starting positions for its whole class.
// Returns the patches produced (may be empty).
func (Recovery) ObserveRaceInfo(s *session.State, carNumber string) []session.CarPositionPatch {
	idx := s.CarByNumber(carNumber)
	if idx < 0 {
		return nil
	}
	car := s.CarPositions[idx]
	if car.LastLapCompleted != 0 || !formingUpFlags[s.CurrentFlag] {
		return nil
	}
	if car.OverallStartingPosition != 0 {
		return nil
	}

	s.CarPositions[idx].OverallStartingPosition = car.OverallPosition
	var patches []session.CarPositionPatch
	p := session.NewCarPositionPatch(carNumber)
	p.OverallStartingPosition = session.Some(car.OverallPosition)
	patches = append(patches, p)

	patches = append(patches, assignInClassStarting(s, car.Class)...)
	return patches
}

// assignInClassStarting orders every car in class by OverallStartingPosition
// (falling back to OverallPosition for cars with none yet) and numbers them
// 1..N, emitting a patch for each car whose InClassStartingPosition changed.
func assignInClassStarting(s *session.State, class string) []session.CarPositionPatch {
	var idxs []int
	for i, c := range s.CarPositions {
		if c.Class == class {
			idxs = append(idxs, i)
		}
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		ca, cb := s.CarPositions[idxs[a]], s.CarPositions[idxs[b]]
		ra, rb := startingRank(ca), startingRank(cb)
		if ra != rb {
			return ra < rb
		}
		return ca.Number < cb.Number
	})

	var patches []session.CarPositionPatch
	for n, i := range idxs {
		want := n + 1
		if s.CarPositions[i].InClassStartingPosition == want {
			continue
		}
		s.CarPositions[i].InClassStartingPosition = want
		p := session.NewCarPositionPatch(s.CarPositions[i].Number)
		p.InClassStartingPosition = session.Some(want)
		patches = append(patches, p)
	}
	return patches
}

func startingRank(c session.CarPosition) int {
	if c.OverallStartingPosition > 0 {
		return c.OverallStartingPosition
	}
	return c.OverallPosition
}

// ShouldRecover reports whether the persisted-history recovery path (§4.7
// "Recovery path") should be invoked: the session hasn't already been
// checked, no car yet has a non-zero starting position, and at least one
// car has completed more than 3 laps under a racing flag.
func ShouldRecover(ctx *session.Context, s *session.State) bool {
	if ctx.StartingPositionsChecked() {
		return false
	}
	for _, c := range s.CarPositions {
		if c.OverallStartingPosition != 0 {
			return false
		}
	}
	if !racingFlags[s.CurrentFlag] {
		return false
	}
	for _, c := range s.CarPositions {
		if c.LastLapCompleted > 3 {
			return true
		}
	}
	return false
}

// Recover runs the persisted-history recovery procedure (§4.7 steps 1-4).
// It marks the session checked regardless of outcome (idempotence: the
// check is gated by ShouldRecover, re-invocation within the same session is
// a no-op per §4.7 "Idempotence").
func Recover(ctx *session.Context, s *session.State, eventId, sessionId int, store persistence.LapLogStore) (bool, []session.CarPositionPatch) {
	defer ctx.MarkStartingPositionsChecked()

	leaderNumber := ""
	for _, c := range s.CarPositions {
		if c.OverallPosition == 1 {
			leaderNumber = c.Number
			break
		}
	}
	if leaderNumber == "" {
		return false, nil
	}

	leaderLaps, err := store.Laps(eventId, sessionId, leaderNumber, 5)
	if err != nil {
		return false, nil
	}
	gLap := -1
	for _, l := range leaderLaps {
		if l.LapNumber < 0 || l.LapNumber > 4 {
			continue
		}
		if l.Flag == session.Green {
			gLap = l.LapNumber
			break
		}
	}
	if gLap <= 0 {
		return false, nil
	}
	gridLap := gLap - 1

	var patches []session.CarPositionPatch
	classesTouched := make(map[string]bool)
	for i := range s.CarPositions {
		car := &s.CarPositions[i]
		laps, err := store.Laps(eventId, sessionId, car.Number, 5)
		if err != nil {
			continue
		}
		for _, l := range laps {
			if l.LapNumber != gridLap {
				continue
			}
			if car.OverallStartingPosition == l.SerializedPosition.OverallPosition {
				break
			}
			car.OverallStartingPosition = l.SerializedPosition.OverallPosition
			p := session.NewCarPositionPatch(car.Number)
			p.OverallStartingPosition = session.Some(car.OverallStartingPosition)
			patches = append(patches, p)
			classesTouched[car.Class] = true
			break
		}
	}

	for class := range classesTouched {
		patches = append(patches, assignInClassStarting(s, class)...)
	}

	return true, patches
}
