package enrich

import (
	"sort"

	"github.com/paddockwire/timingcore/internal/laptime"
	"github.com/paddockwire/timingcore/internal/session"
)

// PositionEnricher assigns overall/in-class position, positions-gained,
// gap/interval, and best-time markers across the full CarPositions list
// (§4.6).
type PositionEnricher struct{}

// Enrich re-sorts s.CarPositions, recomputes every derived field, and
// returns one CarPositionPatch per car whose fields changed. ctx.Reindex
// must be called after Enrich reorders the slice, which Enrich does for
// the caller.
func (PositionEnricher) Enrich(ctx *session.Context, s *session.State) []session.CarPositionPatch {
	originals := make(map[string]session.CarPosition, len(s.CarPositions))
	for _, c := range s.CarPositions {
		originals[c.Number] = c
	}

	sortCars(s.CarPositions)
	ctx.Reindex(s)

	assignPositions(s.CarPositions)
	assignPositionsGained(s.CarPositions)
	assignGapInterval(s.CarPositions)
	assignBestTimeMarkers(s.CarPositions)

	var patches []session.CarPositionPatch
	for i := range s.CarPositions {
		next := s.CarPositions[i]
		prev, ok := originals[next.Number]
		if ok && prev == next {
			continue
		}
		patches = append(patches, diffCarPosition(prev, next))
	}
	return patches
}

// sortCars implements step 1: (LastLapCompleted desc, TotalTime asc),
// unknown total time sinking to the bottom of its lap tier.
func sortCars(cars []session.CarPosition) {
	sort.SliceStable(cars, func(i, j int) bool {
		a, b := cars[i], cars[j]
		if a.LastLapCompleted != b.LastLapCompleted {
			return a.LastLapCompleted > b.LastLapCompleted
		}
		aMs, aKnown := totalTimeKey(a.TotalTime)
		bMs, bKnown := totalTimeKey(b.TotalTime)
		if aKnown != bKnown {
			return aKnown // known sorts before unknown
		}
		if !aKnown {
			return a.Number < b.Number
		}
		return aMs < bMs
	})
}

func totalTimeKey(totalTime string) (ms int, known bool) {
	if totalTime == "" {
		return 0, false
	}
	parsed := laptime.ParseMs(totalTime)
	if parsed == 0 {
		return 0, false
	}
	return parsed, true
}

// assignPositions implements steps 2-3.
func assignPositions(cars []session.CarPosition) {
	classSeen := make(map[string]int)
	for i := range cars {
		cars[i].OverallPosition = i + 1
		classSeen[cars[i].Class]++
		cars[i].ClassPosition = classSeen[cars[i].Class]
	}
}

// assignPositionsGained implements step 4.
func assignPositionsGained(cars []session.CarPosition) {
	for i := range cars {
		c := &cars[i]
		if c.OverallStartingPosition > 0 {
			c.OverallPositionsGained = c.OverallStartingPosition - c.OverallPosition
		} else {
			c.OverallPositionsGained = session.InvalidPosition
		}
		if c.InClassStartingPosition > 0 {
			c.InClassPositionsGained = c.InClassStartingPosition - c.ClassPosition
		} else {
			c.InClassPositionsGained = session.InvalidPosition
		}
		c.IsOverallMostPositionsGained = false
		c.IsClassMostPositionsGained = false
	}

	if idx, ok := mostGainedIndex(cars, func(c session.CarPosition) int { return c.OverallPositionsGained }); ok {
		cars[idx].IsOverallMostPositionsGained = true
	}

	byClass := make(map[string][]int)
	for i, c := range cars {
		byClass[c.Class] = append(byClass[c.Class], i)
	}
	for _, idxs := range byClass {
		sub := make([]session.CarPosition, len(idxs))
		for k, idx := range idxs {
			sub[k] = cars[idx]
		}
		if winner, ok := mostGainedIndex(sub, func(c session.CarPosition) int { return c.InClassPositionsGained }); ok {
			cars[idxs[winner]].IsClassMostPositionsGained = true
		}
	}
}

// mostGainedIndex returns the index of the maximum value as reported by
// get, among entries whose value is not InvalidPosition, ties broken by
// lowest car number.
func mostGainedIndex(cars []session.CarPosition, get func(session.CarPosition) int) (int, bool) {
	best := -1
	for i, c := range cars {
		v := get(c)
		if v == session.InvalidPosition {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		bv := get(cars[best])
		if v > bv || (v == bv && cars[i].Number < cars[best].Number) {
			best = i
		}
	}
	return best, best >= 0
}

// assignGapInterval implements step 5.
func assignGapInterval(cars []session.CarPosition) {
	if len(cars) == 0 {
		return
	}
	leader := cars[0]
	for i := range cars {
		if i == 0 {
			cars[i].Gap = ""
			cars[i].Interval = ""
			continue
		}
		cars[i].Gap = gapOrInterval(leader, cars[i])
		cars[i].Interval = gapOrInterval(cars[i-1], cars[i])
	}
}

// gapOrInterval computes the displayed value for `to` relative to `ref`
// (ref is ahead of `to` in sort order).
func gapOrInterval(ref, to session.CarPosition) string {
	if to.LastLapCompleted > ref.LastLapCompleted {
		return "" // stale data: `to` is nominally ahead of `ref`
	}
	if to.LastLapCompleted == ref.LastLapCompleted {
		refMs, refKnown := totalTimeKey(ref.TotalTime)
		toMs, toKnown := totalTimeKey(to.TotalTime)
		if !refKnown || !toKnown {
			return ""
		}
		return laptime.FormatMs(toMs - refMs)
	}
	delta := ref.LastLapCompleted - to.LastLapCompleted
	if delta == 1 {
		return "1 lap"
	}
	return itoa(delta) + " laps"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

// assignBestTimeMarkers implements step 6.
func assignBestTimeMarkers(cars []session.CarPosition) {
	byClassBestMs := make(map[string]int)
	byClassBestSet := make(map[string]bool)
	for _, c := range cars {
		c.IsBestTime = c.BestLap != 0 && c.BestLap == c.LastLapCompleted
		ms := laptime.ParseMs(c.BestTime)
		if ms <= 0 {
			continue
		}
		if !byClassBestSet[c.Class] || ms < byClassBestMs[c.Class] {
			byClassBestMs[c.Class] = ms
			byClassBestSet[c.Class] = true
		}
	}
	for i := range cars {
		cars[i].IsBestTime = cars[i].BestLap != 0 && cars[i].BestLap == cars[i].LastLapCompleted
		ms := laptime.ParseMs(cars[i].BestTime)
		cars[i].IsBestTimeClass = ms > 0 && byClassBestSet[cars[i].Class] && ms == byClassBestMs[cars[i].Class]
	}
}

// diffCarPosition builds a patch from every field that differs between
// prev and next.
func diffCarPosition(prev, next session.CarPosition) session.CarPositionPatch {
	p := session.NewCarPositionPatch(next.Number)
	if prev.Class != next.Class {
		p.Class = session.Some(next.Class)
	}
	if prev.DriverName != next.DriverName {
		p.DriverName = session.Some(next.DriverName)
	}
	if prev.OverallPosition != next.OverallPosition {
		p.OverallPosition = session.Some(next.OverallPosition)
	}
	if prev.ClassPosition != next.ClassPosition {
		p.ClassPosition = session.Some(next.ClassPosition)
	}
	if prev.OverallStartingPosition != next.OverallStartingPosition {
		p.OverallStartingPosition = session.Some(next.OverallStartingPosition)
	}
	if prev.InClassStartingPosition != next.InClassStartingPosition {
		p.InClassStartingPosition = session.Some(next.InClassStartingPosition)
	}
	if prev.OverallPositionsGained != next.OverallPositionsGained {
		p.OverallPositionsGained = session.Some(next.OverallPositionsGained)
	}
	if prev.InClassPositionsGained != next.InClassPositionsGained {
		p.InClassPositionsGained = session.Some(next.InClassPositionsGained)
	}
	if prev.BestLap != next.BestLap {
		p.BestLap = session.Some(next.BestLap)
	}
	if prev.BestTime != next.BestTime {
		p.BestTime = session.Some(next.BestTime)
	}
	if prev.LastLapCompleted != next.LastLapCompleted {
		p.LastLapCompleted = session.Some(next.LastLapCompleted)
	}
	if prev.LastLapTime != next.LastLapTime {
		p.LastLapTime = session.Some(next.LastLapTime)
	}
	if prev.TotalTime != next.TotalTime {
		p.TotalTime = session.Some(next.TotalTime)
	}
	if prev.TransponderId != next.TransponderId {
		p.TransponderId = session.Some(next.TransponderId)
	}
	if prev.IsEnteredPit != next.IsEnteredPit {
		p.IsEnteredPit = session.Some(next.IsEnteredPit)
	}
	if prev.IsInPit != next.IsInPit {
		p.IsInPit = session.Some(next.IsInPit)
	}
	if prev.IsExitedPit != next.IsExitedPit {
		p.IsExitedPit = session.Some(next.IsExitedPit)
	}
	if prev.IsPitStartFinish != next.IsPitStartFinish {
		p.IsPitStartFinish = session.Some(next.IsPitStartFinish)
	}
	if prev.LapIncludedPit != next.LapIncludedPit {
		p.LapIncludedPit = session.Some(next.LapIncludedPit)
	}
	if !prev.LapStartTime.Equal(next.LapStartTime) {
		p.LapStartTime = session.Some(next.LapStartTime)
	}
	if prev.ProjectedLapTimeMs != next.ProjectedLapTimeMs {
		p.ProjectedLapTimeMs = session.Some(next.ProjectedLapTimeMs)
	}
	if prev.InClassFastestAveragePace != next.InClassFastestAveragePace {
		p.InClassFastestAveragePace = session.Some(next.InClassFastestAveragePace)
	}
	if prev.IsOverallMostPositionsGained != next.IsOverallMostPositionsGained {
		p.IsOverallMostPositionsGained = session.Some(next.IsOverallMostPositionsGained)
	}
	if prev.IsClassMostPositionsGained != next.IsClassMostPositionsGained {
		p.IsClassMostPositionsGained = session.Some(next.IsClassMostPositionsGained)
	}
	if prev.IsBestTime != next.IsBestTime {
		p.IsBestTime = session.Some(next.IsBestTime)
	}
	if prev.IsBestTimeClass != next.IsBestTimeClass {
		p.IsBestTimeClass = session.Some(next.IsBestTimeClass)
	}
	if prev.Gap != next.Gap {
		p.Gap = session.Some(next.Gap)
	}
	if prev.Interval != next.Interval {
		p.Interval = session.Some(next.Interval)
	}
	if prev.PenalityLaps != next.PenalityLaps {
		p.PenalityLaps = session.Some(next.PenalityLaps)
	}
	if prev.PenalityWarnings != next.PenalityWarnings {
		p.PenalityWarnings = session.Some(next.PenalityWarnings)
	}
	if prev.TrackFlag != next.TrackFlag {
		p.TrackFlag = session.Some(next.TrackFlag)
	}
	if prev.LocalFlag != next.LocalFlag {
		p.LocalFlag = session.Some(next.LocalFlag)
	}
	return p
}
