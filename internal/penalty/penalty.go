// Package penalty implements the post-position penalty overlay mentioned by
// §4.1 step 3 ("penalty overlay applied") and supplemented in SPEC_FULL.md:
// an assessment (penalty laps and warnings) keyed by car number is folded
// into the already-enriched CarPositions list as a position-tiebreak
// adjustment, without re-running the full sort.
package penalty

import "github.com/paddockwire/timingcore/internal/session"

// Assessment is one penalty decision for a car. Laps and Warnings are
// cumulative counts, matching CarPosition.PenalityLaps/PenalityWarnings.
type Assessment struct {
	CarNumber string
	Laps      int
	Warnings  int
}

// Overlay applies assessments after §4.6 position enrichment. A car under a
// non-zero lap penalty sorts behind every other same-lap car that carries no
// pending penalty; among penalized cars of the same lap count, relative
// order (and therefore OverallPosition/ClassPosition) is left untouched —
// only the boundary against unpenalized peers moves. Positions-gained, gap,
// and interval are not recomputed: §4.5's design notes exclude a penalty
// from changing lap counts or elapsed time.
type Overlay struct{}

// Apply applies assessments to s.CarPositions in place (caller holds the
// write lock) and returns one CarPositionPatch per car whose PenalityLaps or
// PenalityWarnings field actually changed, plus one per car whose
// OverallPosition or ClassPosition moved in the resulting reorder
// (idempotent: re-applying the same assessment yields no patch).
func (Overlay) Apply(ctx *session.Context, s *session.State, assessments []Assessment) []session.CarPositionPatch {
	if len(assessments) == 0 {
		return nil
	}

	var patches []session.CarPositionPatch
	patchIdx := make(map[string]int, len(assessments))
	touched := false
	for _, a := range assessments {
		idx := s.CarByNumber(a.CarNumber)
		if idx < 0 {
			continue
		}
		current := s.CarPositions[idx]
		if current.PenalityLaps == a.Laps && current.PenalityWarnings == a.Warnings {
			continue
		}
		p := session.NewCarPositionPatch(a.CarNumber)
		if current.PenalityLaps != a.Laps {
			p.PenalityLaps = session.Some(a.Laps)
		}
		if current.PenalityWarnings != a.Warnings {
			p.PenalityWarnings = session.Some(a.Warnings)
		}
		p.Apply(&s.CarPositions[idx])
		patchIdx[a.CarNumber] = len(patches)
		patches = append(patches, p)
		touched = true
	}

	if !touched {
		return patches
	}

	type prevPos struct{ overall, class int }
	before := make(map[string]prevPos, len(s.CarPositions))
	for _, c := range s.CarPositions {
		before[c.Number] = prevPos{c.OverallPosition, c.ClassPosition}
	}

	reorderPenalized(s.CarPositions)
	ctx.Reindex(s)
	for i := range s.CarPositions {
		s.CarPositions[i].OverallPosition = i + 1
	}
	classSeen := make(map[string]int)
	for i := range s.CarPositions {
		classSeen[s.CarPositions[i].Class]++
		s.CarPositions[i].ClassPosition = classSeen[s.CarPositions[i].Class]
	}

	// Reordering can bump an unpenalized car's position even though its own
	// penalty fields never changed; such a car still needs a dispatched
	// patch or clients' standings go stale.
	for i := range s.CarPositions {
		c := s.CarPositions[i]
		prev, ok := before[c.Number]
		if ok && prev.overall == c.OverallPosition && prev.class == c.ClassPosition {
			continue
		}
		if j, ok := patchIdx[c.Number]; ok {
			patches[j].OverallPosition = session.Some(c.OverallPosition)
			patches[j].ClassPosition = session.Some(c.ClassPosition)
			continue
		}
		p := session.NewCarPositionPatch(c.Number)
		p.OverallPosition = session.Some(c.OverallPosition)
		p.ClassPosition = session.Some(c.ClassPosition)
		patches = append(patches, p)
	}
	return patches
}

// reorderPenalized performs a stable pass within each equal-LastLapCompleted
// tier, moving penalized cars behind unpenalized cars of the same tier while
// otherwise preserving §4.6's sort order.
func reorderPenalized(cars []session.CarPosition) {
	start := 0
	for start < len(cars) {
		end := start + 1
		for end < len(cars) && cars[end].LastLapCompleted == cars[start].LastLapCompleted {
			end++
		}
		stablePartition(cars[start:end])
		start = end
	}
}

// stablePartition moves unpenalized entries before penalized ones, each
// group keeping its relative order.
func stablePartition(tier []session.CarPosition) {
	clean := make([]session.CarPosition, 0, len(tier))
	dirty := make([]session.CarPosition, 0, len(tier))
	for _, c := range tier {
		if c.PenalityLaps > 0 {
			dirty = append(dirty, c)
		} else {
			clean = append(clean, c)
		}
	}
	copy(tier, append(clean, dirty...))
}
