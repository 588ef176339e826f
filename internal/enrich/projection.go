package enrich

import (
	"math"

	"github.com/paddockwire/timingcore/internal/laphistory"
	"github.com/paddockwire/timingcore/internal/laptime"
	"github.com/paddockwire/timingcore/internal/session"
)

const (
	// projectionMinEntries is the minimum lap-history depth before a
	// projection is attempted at all (§4.5 "fewer than 3 entries -> 0").
	projectionMinEntries = 3
	// projectionWindow is the most-recent-entries slice considered.
	projectionWindow = 5
	// varianceRatioMax rejects a projection when max/min exceeds this.
	varianceRatioMax = 1.5
	// varianceStdDevFraction rejects a projection when stddev exceeds this
	// fraction of the mean.
	varianceStdDevFraction = 0.15
	// sanityFloorMs rejects any projected mean below this.
	sanityFloorMs = 10000
)

// ProjectionEnricher computes ProjectedLapTimeMs for the car that just
// completed a lap.
type ProjectionEnricher struct {
	History *laphistory.Store
}

// OnLapCompleted recomputes the projection for carNumber and returns a
// patch iff the value changed (§4.5 "ProjectedLapTime enricher").
func (e *ProjectionEnricher) OnLapCompleted(s *session.State, eventId int, carNumber string) (session.CarPositionPatch, bool) {
	idx := s.CarByNumber(carNumber)
	if idx < 0 {
		return session.CarPositionPatch{}, false
	}
	current := s.CarPositions[idx]

	newValue := e.project(s, eventId, carNumber)
	if newValue == current.ProjectedLapTimeMs {
		return session.CarPositionPatch{}, false
	}
	p := session.NewCarPositionPatch(carNumber)
	p.ProjectedLapTimeMs = session.Some(newValue)
	return p, true
}

func (e *ProjectionEnricher) project(s *session.State, eventId int, carNumber string) int {
	if carNumber == "" || s.CurrentFlag == session.Red || s.CurrentFlag == session.Checkered {
		return 0
	}

	laps, err := e.History.GetLaps(eventId, carNumber)
	if err != nil || len(laps) < projectionMinEntries {
		return 0
	}
	if len(laps) > projectionWindow {
		laps = laps[:projectionWindow]
	}

	qualifying := filterQualifying(laps, s.CurrentFlag, true)
	if len(qualifying) < projectionMinEntries {
		qualifying = filterQualifying(laps, s.CurrentFlag, false)
	}
	if len(qualifying) < projectionMinEntries {
		return 0
	}

	mean, maxV, minV, stddev := lapStats(qualifying)
	if minV <= 0 {
		return 0
	}
	if float64(maxV)/float64(minV) > varianceRatioMax {
		return 0
	}
	if stddev > varianceStdDevFraction*mean {
		return 0
	}
	meanMs := int(mean + 0.5)
	if meanMs < sanityFloorMs {
		return 0
	}
	return meanMs
}

// filterQualifying selects clean laps (!LapIncludedPit), optionally
// restricted to laps whose TrackFlag matches currentFlag.
func filterQualifying(laps []session.CarPosition, currentFlag session.Flag, matchFlag bool) []int {
	var out []int
	for _, lap := range laps {
		if lap.LapIncludedPit {
			continue
		}
		if matchFlag && lap.TrackFlag != currentFlag {
			continue
		}
		out = append(out, laptime.ParseMs(lap.LastLapTime))
	}
	return out
}

func lapStats(ms []int) (mean float64, maxV, minV int, stddev float64) {
	if len(ms) == 0 {
		return 0, 0, 0, 0
	}
	minV, maxV = ms[0], ms[0]
	sum := 0
	for _, v := range ms {
		sum += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	mean = float64(sum) / float64(len(ms))

	var sqDiffSum float64
	for _, v := range ms {
		d := float64(v) - mean
		sqDiffSum += d * d
	}
	stddev = math.Sqrt(sqDiffSum / float64(len(ms)))
	return mean, maxV, minV, stddev
}
