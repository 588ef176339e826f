// Package enrich computes the derived car fields: fastest-average pace,
// projected lap time, and overall/in-class position, gap, and interval
// (§4.5, §4.6 of the timing spec). All of it runs inside the pipeline's
// write lock, against the live CarPositions slice.
package enrich

import (
	"sort"

	"github.com/paddockwire/timingcore/internal/laphistory"
	"github.com/paddockwire/timingcore/internal/laptime"
	"github.com/paddockwire/timingcore/internal/session"
)

// paceWindow is the number of most-recent laps averaged for the
// fastest-average-pace computation (§4.5 "average the first five
// entries").
const paceWindow = 5

// PaceEnricher computes the per-class InClassFastestAveragePace flag.
type PaceEnricher struct {
	History *laphistory.Store
}

// OnLapCompleted re-evaluates the fastest-average-pace winner for the
// class containing triggerCarNumber, and returns patches for any car
// whose flag value changed.
func (e *PaceEnricher) OnLapCompleted(s *session.State, eventId int, triggerCarNumber string) []session.CarPositionPatch {
	triggerIdx := s.CarByNumber(triggerCarNumber)
	if triggerIdx < 0 {
		return nil
	}
	class := s.CarPositions[triggerIdx].Class

	var candidates []paceCandidate
	var prevWinner string
	havePrevWinner := false

	for _, car := range s.CarPositions {
		if car.Class != class {
			continue
		}
		if car.InClassFastestAveragePace {
			prevWinner = car.Number
			havePrevWinner = true
		}
		laps, err := e.History.GetLaps(eventId, car.Number)
		if err != nil || len(laps) < paceWindow {
			continue
		}
		avg := averageFirstFive(laps)
		if avg <= 0 {
			continue
		}
		candidates = append(candidates, paceCandidate{number: car.Number, avg: avg})
	}

	winner, ok := pickPaceWinner(candidates, triggerCarNumber)

	var patches []session.CarPositionPatch
	if ok && winner != "" && (!havePrevWinner || prevWinner != winner) {
		p := session.NewCarPositionPatch(winner)
		p.InClassFastestAveragePace = session.Some(true)
		patches = append(patches, p)
	}
	if havePrevWinner && prevWinner != "" && (!ok || prevWinner != winner) {
		p := session.NewCarPositionPatch(prevWinner)
		p.InClassFastestAveragePace = session.Some(false)
		patches = append(patches, p)
	}
	return patches
}

func averageFirstFive(laps []session.CarPosition) int {
	ms := make([]int, 0, paceWindow)
	for i := 0; i < paceWindow && i < len(laps); i++ {
		ms = append(ms, laptime.ParseMs(laps[i].LastLapTime))
	}
	return laptime.Average(ms)
}

// paceCandidate is one class member with a valid five-lap average.
type paceCandidate struct {
	number string
	avg    int
}

// pickPaceWinner selects the minimum-positive-average candidate, breaking
// ties by: the triggering car first, then car number lexicographic order
// (§4.5 step 4).
func pickPaceWinner(candidates []paceCandidate, triggerCarNumber string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.avg != b.avg {
			return a.avg < b.avg
		}
		if a.number == triggerCarNumber && b.number != triggerCarNumber {
			return true
		}
		if b.number == triggerCarNumber && a.number != triggerCarNumber {
			return false
		}
		return a.number < b.number
	})
	return candidates[0].number, true
}
