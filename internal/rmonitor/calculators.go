package rmonitor

import (
	"time"

	"github.com/paddockwire/timingcore/internal/session"
)

// Result is what a single command's state-change calculator produces:
// zero or one session-wide patch, plus zero or more per-car patches
// (§4.2 "GetChanges(current) → patch-or-null").
type Result struct {
	SessionPatch session.SessionStatePatch
	CarPatches   []session.CarPositionPatch
}

// ProcessLine parses one result-monitor line and applies its calculator
// against s (already locked for write by the caller — §4.1). A malformed
// line or unrecognized marker returns ErrMalformedLine/nil respectively;
// both are non-fatal to the batch (§4.2 "Unknown markers are logged and
// ignored; malformed lines ... do not abort the batch").
func ProcessLine(ctx *session.Context, s *session.State, raw string, now time.Time) (Result, error) {
	l, err := parseLine(raw)
	if err != nil {
		return Result{}, err
	}
	cmd, known := parseCommand(l)
	if !known {
		return Result{}, nil // unknown marker: logged by caller, dropped here
	}
	switch c := cmd.(type) {
	case Heartbeat:
		return applyHeartbeat(s, c), nil
	case RunInfo:
		return applyRunInfo(s, c), nil
	case ClassLabel:
		return applyClassLabel(s, c), nil
	case CompetitorLong:
		return applyCompetitor(ctx, s, now, c.RegNum, c.Number, c.TransponderId, c.First, c.Last, c.ClassNum), nil
	case CompetitorShort:
		return applyCompetitor(ctx, s, now, c.RegNum, c.Number, 0, c.First, c.Last, c.ClassNum), nil
	case Setting:
		applySetting(s, c)
		return Result{}, nil
	case RaceInfo:
		return applyRaceInfo(ctx, s, c), nil
	case PracticeInfo:
		return applyPracticeInfo(ctx, s, c), nil
	case InitReset:
		applyInitReset(ctx, s, now)
		return Result{}, nil
	case PassingInfo:
		return applyPassingInfo(ctx, s, c), nil
	case nil:
		return Result{}, nil // $COR, recognized and ignored
	default:
		return Result{}, nil
	}
}

func applyHeartbeat(s *session.State, c Heartbeat) Result {
	flag := session.ParseFlag(c.FlagText)
	p := session.SessionStatePatch{
		LapsToGo:        optIntIfChanged(s.LapsToGo, c.LapsToGo),
		TimeToGo:        optStrIfChanged(s.TimeToGo, c.TimeToGo),
		LocalTimeOfDay:  optStrIfChanged(s.LocalTimeOfDay, c.LocalTimeOfDay),
		RunningRaceTime: optStrIfChanged(s.RunningRaceTime, c.RunningRaceTime),
		CurrentFlag:     optFlagIfChanged(s.CurrentFlag, flag),
	}
	return Result{SessionPatch: p}
}

// applyRunInfo implements $B. A repeated identical sessionRef is suppressed
// entirely when it equals the current SessionId, guaranteeing at most one
// patch per distinct sessionRef.
func applyRunInfo(s *session.State, c RunInfo) Result {
	if c.SessionRef == s.SessionId {
		return Result{}
	}
	return Result{SessionPatch: session.SessionStatePatch{
		SessionId:   session.Some(c.SessionRef),
		SessionName: session.Some(c.SessionName),
	}}
}

// applyClassLabel implements $C: updates the class dictionary and
// re-resolves class labels on every car whose entry references this
// classNum.
func applyClassLabel(s *session.State, c ClassLabel) Result {
	s.Classes[c.ClassNum] = c.Label

	var patches []session.CarPositionPatch
	for regNum, entry := range s.EventEntries {
		if entry.ClassNum != c.ClassNum {
			continue
		}
		entry.Class = c.Label
		s.EventEntries[regNum] = entry

		idx := s.CarByNumber(entry.Number)
		if idx < 0 || s.CarPositions[idx].Class == c.Label {
			continue
		}
		p := session.NewCarPositionPatch(entry.Number)
		p.Class = session.Some(c.Label)
		p.Apply(&s.CarPositions[idx])
		patches = append(patches, p)
	}
	return Result{CarPatches: patches}
}

// applySetting implements $E. TRACKNAME/TRACKLENGTH have no field in §3's
// data model and no downstream consumer in the core; parsing (and logging)
// them satisfies §4.2's grammar without inventing an unused state field.
func applySetting(_ *session.State, _ Setting) {}

// applyCompetitor implements $A/$COMP: upsert EventEntry keyed by regNum,
// resolve the class label, and produce a CarPositionPatch for
// (Number, Class, DriverName, TransponderId) if anything changed.
func applyCompetitor(ctx *session.Context, s *session.State, now time.Time, regNum, number string, transponderId uint32, first, last, classNum string) Result {
	class := s.Classes[classNum]
	if class == "" {
		class = classNum
	}
	driverName := first
	if last != "" {
		if driverName != "" {
			driverName += " "
		}
		driverName += last
	}

	entry := session.EventEntry{
		RegNum:        regNum,
		Number:        number,
		TransponderId: transponderId,
		DriverFirst:   first,
		DriverLast:    last,
		ClassNum:      classNum,
		Class:         class,
	}
	s.EventEntries[regNum] = entry

	idx := s.CarByNumber(number)
	if idx < 0 {
		car := session.CarPosition{
			Number:        number,
			Class:         class,
			DriverName:    driverName,
			TransponderId: transponderId,
			TrackFlag:     session.Unknown,
			LocalFlag:     session.Unknown,
		}
		if prev, ok := ctx.PreRestartLastLapTime(number); ok && car.LastLapTime == "" {
			car.LastLapTime = prev
		}
		ctx.UpdateCars(s, []session.CarPosition{car})

		p := session.NewCarPositionPatch(number)
		p.Class = session.Some(class)
		p.DriverName = session.Some(driverName)
		p.TransponderId = session.Some(transponderId)
		return Result{CarPatches: []session.CarPositionPatch{p}}
	}

	current := s.CarPositions[idx]
	p := session.NewCarPositionPatch(number)
	changed := false
	if current.Class != class {
		p.Class = session.Some(class)
		changed = true
	}
	if current.DriverName != driverName {
		p.DriverName = session.Some(driverName)
		changed = true
	}
	if current.TransponderId != transponderId {
		p.TransponderId = session.Some(transponderId)
		changed = true
	}
	if !changed {
		return Result{}
	}
	updated := current
	p.Apply(&updated)
	ctx.UpdateCars(s, []session.CarPosition{updated})
	return Result{CarPatches: []session.CarPositionPatch{p}}
}

func applyRaceInfo(ctx *session.Context, s *session.State, c RaceInfo) Result {
	number, ok := numberForRegNum(s, c.RegNum)
	if !ok {
		return Result{}
	}
	idx := s.CarByNumber(number)
	if idx < 0 {
		return Result{}
	}
	current := s.CarPositions[idx]
	p := session.NewCarPositionPatch(number)
	p.OverallPosition = optIntIfChanged(current.OverallPosition, c.Position)
	p.LastLapCompleted = optIntIfChanged(current.LastLapCompleted, c.Laps)
	p.TotalTime = optStrIfChanged(current.TotalTime, c.RaceTime)
	if p.IsSemanticallyEmpty() {
		return Result{}
	}
	p.Apply(&s.CarPositions[idx])
	return Result{CarPatches: []session.CarPositionPatch{p}}
}

func applyPracticeInfo(ctx *session.Context, s *session.State, c PracticeInfo) Result {
	number, ok := numberForRegNum(s, c.RegNum)
	if !ok {
		return Result{}
	}
	idx := s.CarByNumber(number)
	if idx < 0 {
		return Result{}
	}
	current := s.CarPositions[idx]
	p := session.NewCarPositionPatch(number)
	p.BestLap = optIntIfChanged(current.BestLap, c.BestLap)
	p.BestTime = optStrIfChanged(current.BestTime, c.BestLapTime)
	if p.IsSemanticallyEmpty() {
		return Result{}
	}
	p.Apply(&s.CarPositions[idx])
	return Result{CarPatches: []session.CarPositionPatch{p}}
}

func applyPassingInfo(ctx *session.Context, s *session.State, c PassingInfo) Result {
	number, ok := numberForRegNum(s, c.RegNum)
	if !ok {
		return Result{}
	}
	idx := s.CarByNumber(number)
	if idx < 0 {
		return Result{}
	}
	current := s.CarPositions[idx]
	p := session.NewCarPositionPatch(number)
	p.LastLapTime = optStrIfChanged(current.LastLapTime, c.LapTime)
	p.TotalTime = optStrIfChanged(current.TotalTime, c.RaceTime)
	if p.IsSemanticallyEmpty() {
		return Result{}
	}
	p.Apply(&s.CarPositions[idx])
	return Result{CarPatches: []session.CarPositionPatch{p}}
}

func applyInitReset(ctx *session.Context, s *session.State, now time.Time) {
	ctx.ResetCommand(s, now)
}

func numberForRegNum(s *session.State, regNum string) (string, bool) {
	entry, ok := s.EventEntries[regNum]
	if !ok || entry.Number == "" {
		return "", false
	}
	return entry.Number, true
}

func optIntIfChanged(current, next int) session.Opt[int] {
	if current == next {
		return session.Opt[int]{}
	}
	return session.Some(next)
}

func optStrIfChanged(current, next string) session.Opt[string] {
	if current == next {
		return session.Opt[string]{}
	}
	return session.Some(next)
}

func optFlagIfChanged(current, next session.Flag) session.Opt[session.Flag] {
	if current == next {
		return session.Opt[session.Flag]{}
	}
	return session.Some(next)
}
