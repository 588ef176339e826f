package session

import (
	"encoding/json"
	"time"
)

// Opt is a sparse nullable field: Set reports whether the field is part of
// the patch at all, distinguishing "unchanged" from "changed to the zero
// value".
type Opt[T any] struct {
	Value T
	Set   bool
}

// Some returns a set Opt.
func Some[T any](v T) Opt[T] { return Opt[T]{Value: v, Set: true} }

// MarshalJSON encodes an unset Opt as null and a set Opt as its bare value,
// so a patch serializes as a sparse object over the wire (§6 "Outbound
// patches") rather than exposing the Value/Set pair.
func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON is the inverse of MarshalJSON: null clears Set, anything
// else is decoded into Value and marks the field present.
func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		var zero T
		o.Value = zero
		o.Set = false
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Set = true
	return nil
}

// merge returns b if set, else a — the field-wise right-biased merge rule
// used by every patch type.
func merge[T any](a, b Opt[T]) Opt[T] {
	if b.Set {
		return b
	}
	return a
}

// diff returns Some(next) iff next != current, else the unset Opt — the
// "compare new value against current, emit only if changed" rule every
// state-change calculator follows.
func diff[T comparable](current, next T) Opt[T] {
	if current == next {
		return Opt[T]{}
	}
	return Some(next)
}

// SessionStatePatch is the sparse diff for session-wide fields (§3, §6).
type SessionStatePatch struct {
	SessionId       Opt[int]    `json:"sessionId"`
	SessionName     Opt[string] `json:"sessionName"`
	CurrentFlag     Opt[Flag]   `json:"currentFlag"`
	LapsToGo        Opt[int]    `json:"lapsToGo"`
	TimeToGo        Opt[string] `json:"timeToGo"`
	LocalTimeOfDay  Opt[string] `json:"localTimeOfDay"`
	RunningRaceTime Opt[string] `json:"runningRaceTime"`
}

// IsEmpty reports whether the patch carries no changed fields.
func (p SessionStatePatch) IsEmpty() bool {
	return !p.SessionId.Set && !p.SessionName.Set && !p.CurrentFlag.Set &&
		!p.LapsToGo.Set && !p.TimeToGo.Set && !p.LocalTimeOfDay.Set &&
		!p.RunningRaceTime.Set
}

// Merge returns a ⊕ b: field-wise, b wins when present (§3 "merge of two
// patches").
func (a SessionStatePatch) Merge(b SessionStatePatch) SessionStatePatch {
	return SessionStatePatch{
		SessionId:       merge(a.SessionId, b.SessionId),
		SessionName:     merge(a.SessionName, b.SessionName),
		CurrentFlag:     merge(a.CurrentFlag, b.CurrentFlag),
		LapsToGo:        merge(a.LapsToGo, b.LapsToGo),
		TimeToGo:        merge(a.TimeToGo, b.TimeToGo),
		LocalTimeOfDay:  merge(a.LocalTimeOfDay, b.LocalTimeOfDay),
		RunningRaceTime: merge(a.RunningRaceTime, b.RunningRaceTime),
	}
}

// Apply mutates s in place to reflect the patch.
func (p SessionStatePatch) Apply(s *State) {
	if p.SessionId.Set {
		s.SessionId = p.SessionId.Value
	}
	if p.SessionName.Set {
		s.SessionName = p.SessionName.Value
	}
	if p.CurrentFlag.Set {
		s.CurrentFlag = p.CurrentFlag.Value
	}
	if p.LapsToGo.Set {
		s.LapsToGo = p.LapsToGo.Value
	}
	if p.TimeToGo.Set {
		s.TimeToGo = p.TimeToGo.Value
	}
	if p.LocalTimeOfDay.Set {
		s.LocalTimeOfDay = p.LocalTimeOfDay.Value
	}
	if p.RunningRaceTime.Set {
		s.RunningRaceTime = p.RunningRaceTime.Value
	}
}

// DiffSessionState computes the minimal patch turning current into next's
// heartbeat/session fields (property 1, "patch minimality"). Only the
// fields named are compared; callers build `next` as a full candidate and
// this extracts exactly what changed.
func DiffSessionState(current *State, next sessionCandidate) SessionStatePatch {
	p := SessionStatePatch{}
	if next.sessionId != nil {
		p.SessionId = diff(current.SessionId, *next.sessionId)
	}
	if next.sessionName != nil {
		p.SessionName = diff(current.SessionName, *next.sessionName)
	}
	if next.currentFlag != nil {
		p.CurrentFlag = diff(current.CurrentFlag, *next.currentFlag)
	}
	if next.lapsToGo != nil {
		p.LapsToGo = diff(current.LapsToGo, *next.lapsToGo)
	}
	if next.timeToGo != nil {
		p.TimeToGo = diff(current.TimeToGo, *next.timeToGo)
	}
	if next.localTimeOfDay != nil {
		p.LocalTimeOfDay = diff(current.LocalTimeOfDay, *next.localTimeOfDay)
	}
	if next.runningRaceTime != nil {
		p.RunningRaceTime = diff(current.RunningRaceTime, *next.runningRaceTime)
	}
	return p
}

// sessionCandidate carries only the fields a calculator intends to set;
// nil means "not part of this command's payload" (as opposed to Opt's
// "no change needed" — the distinction matters before the diff is taken).
type sessionCandidate struct {
	sessionId       *int
	sessionName     *string
	currentFlag     *Flag
	lapsToGo        *int
	timeToGo        *string
	localTimeOfDay  *string
	runningRaceTime *string
}

// CarPositionPatch is the sparse diff for one car (§3, §6). Number is
// mandatory and is always set as the key; every other field is nullable.
type CarPositionPatch struct {
	Number Opt[string] `json:"number"`

	Class      Opt[string] `json:"class"`
	DriverName Opt[string] `json:"driverName"`

	OverallPosition Opt[int] `json:"overallPosition"`
	ClassPosition   Opt[int] `json:"classPosition"`

	OverallStartingPosition Opt[int] `json:"overallStartingPosition"`
	InClassStartingPosition Opt[int] `json:"inClassStartingPosition"`

	OverallPositionsGained Opt[int] `json:"overallPositionsGained"`
	InClassPositionsGained Opt[int] `json:"inClassPositionsGained"`

	BestLap  Opt[int]    `json:"bestLap"`
	BestTime Opt[string] `json:"bestTime"`

	LastLapCompleted Opt[int]    `json:"lastLapCompleted"`
	LastLapTime      Opt[string] `json:"lastLapTime"`

	TotalTime Opt[string] `json:"totalTime"`

	TransponderId Opt[uint32] `json:"transponderId"`

	IsEnteredPit     Opt[bool] `json:"isEnteredPit"`
	IsInPit          Opt[bool] `json:"isInPit"`
	IsExitedPit      Opt[bool] `json:"isExitedPit"`
	IsPitStartFinish Opt[bool] `json:"isPitStartFinish"`
	LapIncludedPit   Opt[bool] `json:"lapIncludedPit"`

	LapStartTime       Opt[time.Time] `json:"lapStartTime"`
	ProjectedLapTimeMs Opt[int]       `json:"projectedLapTimeMs"`

	InClassFastestAveragePace Opt[bool] `json:"inClassFastestAveragePace"`

	IsOverallMostPositionsGained Opt[bool] `json:"isOverallMostPositionsGained"`
	IsClassMostPositionsGained   Opt[bool] `json:"isClassMostPositionsGained"`

	IsBestTime      Opt[bool] `json:"isBestTime"`
	IsBestTimeClass Opt[bool] `json:"isBestTimeClass"`

	Gap      Opt[string] `json:"gap"`
	Interval Opt[string] `json:"interval"`

	PenalityLaps     Opt[int] `json:"penalityLaps"`
	PenalityWarnings Opt[int] `json:"penalityWarnings"`

	TrackFlag Opt[Flag] `json:"trackFlag"`
	LocalFlag Opt[Flag] `json:"localFlag"`
}

// NewCarPositionPatch returns a patch keyed by number with no other fields
// set.
func NewCarPositionPatch(number string) CarPositionPatch {
	return CarPositionPatch{Number: Some(number)}
}

// IsSemanticallyEmpty reports whether only Number is set — such a patch
// carries no delta and must not be dispatched (§6 "Outbound patches").
func (p CarPositionPatch) IsSemanticallyEmpty() bool {
	return !p.Class.Set && !p.DriverName.Set &&
		!p.OverallPosition.Set && !p.ClassPosition.Set &&
		!p.OverallStartingPosition.Set && !p.InClassStartingPosition.Set &&
		!p.OverallPositionsGained.Set && !p.InClassPositionsGained.Set &&
		!p.BestLap.Set && !p.BestTime.Set &&
		!p.LastLapCompleted.Set && !p.LastLapTime.Set &&
		!p.TotalTime.Set && !p.TransponderId.Set &&
		!p.IsEnteredPit.Set && !p.IsInPit.Set && !p.IsExitedPit.Set &&
		!p.IsPitStartFinish.Set && !p.LapIncludedPit.Set &&
		!p.LapStartTime.Set && !p.ProjectedLapTimeMs.Set &&
		!p.InClassFastestAveragePace.Set &&
		!p.IsOverallMostPositionsGained.Set && !p.IsClassMostPositionsGained.Set &&
		!p.IsBestTime.Set && !p.IsBestTimeClass.Set &&
		!p.Gap.Set && !p.Interval.Set &&
		!p.PenalityLaps.Set && !p.PenalityWarnings.Set &&
		!p.TrackFlag.Set && !p.LocalFlag.Set
}

// Merge returns a ⊕ b, field-wise right-biased; Number always comes from
// whichever side has it set (both always carry the same key in practice).
func (a CarPositionPatch) Merge(b CarPositionPatch) CarPositionPatch {
	return CarPositionPatch{
		Number:                       merge(a.Number, b.Number),
		Class:                        merge(a.Class, b.Class),
		DriverName:                   merge(a.DriverName, b.DriverName),
		OverallPosition:              merge(a.OverallPosition, b.OverallPosition),
		ClassPosition:                merge(a.ClassPosition, b.ClassPosition),
		OverallStartingPosition:      merge(a.OverallStartingPosition, b.OverallStartingPosition),
		InClassStartingPosition:      merge(a.InClassStartingPosition, b.InClassStartingPosition),
		OverallPositionsGained:       merge(a.OverallPositionsGained, b.OverallPositionsGained),
		InClassPositionsGained:       merge(a.InClassPositionsGained, b.InClassPositionsGained),
		BestLap:                      merge(a.BestLap, b.BestLap),
		BestTime:                     merge(a.BestTime, b.BestTime),
		LastLapCompleted:             merge(a.LastLapCompleted, b.LastLapCompleted),
		LastLapTime:                  merge(a.LastLapTime, b.LastLapTime),
		TotalTime:                    merge(a.TotalTime, b.TotalTime),
		TransponderId:                merge(a.TransponderId, b.TransponderId),
		IsEnteredPit:                 merge(a.IsEnteredPit, b.IsEnteredPit),
		IsInPit:                      merge(a.IsInPit, b.IsInPit),
		IsExitedPit:                  merge(a.IsExitedPit, b.IsExitedPit),
		IsPitStartFinish:             merge(a.IsPitStartFinish, b.IsPitStartFinish),
		LapIncludedPit:               merge(a.LapIncludedPit, b.LapIncludedPit),
		LapStartTime:                 merge(a.LapStartTime, b.LapStartTime),
		ProjectedLapTimeMs:           merge(a.ProjectedLapTimeMs, b.ProjectedLapTimeMs),
		InClassFastestAveragePace:    merge(a.InClassFastestAveragePace, b.InClassFastestAveragePace),
		IsOverallMostPositionsGained: merge(a.IsOverallMostPositionsGained, b.IsOverallMostPositionsGained),
		IsClassMostPositionsGained:   merge(a.IsClassMostPositionsGained, b.IsClassMostPositionsGained),
		IsBestTime:                   merge(a.IsBestTime, b.IsBestTime),
		IsBestTimeClass:              merge(a.IsBestTimeClass, b.IsBestTimeClass),
		Gap:                          merge(a.Gap, b.Gap),
		Interval:                     merge(a.Interval, b.Interval),
		PenalityLaps:                 merge(a.PenalityLaps, b.PenalityLaps),
		PenalityWarnings:             merge(a.PenalityWarnings, b.PenalityWarnings),
		TrackFlag:                    merge(a.TrackFlag, b.TrackFlag),
		LocalFlag:                    merge(a.LocalFlag, b.LocalFlag),
	}
}

// Apply mutates c in place (c.Number is assumed to already match).
func (p CarPositionPatch) Apply(c *CarPosition) {
	if p.Class.Set {
		c.Class = p.Class.Value
	}
	if p.DriverName.Set {
		c.DriverName = p.DriverName.Value
	}
	if p.OverallPosition.Set {
		c.OverallPosition = p.OverallPosition.Value
	}
	if p.ClassPosition.Set {
		c.ClassPosition = p.ClassPosition.Value
	}
	if p.OverallStartingPosition.Set {
		c.OverallStartingPosition = p.OverallStartingPosition.Value
	}
	if p.InClassStartingPosition.Set {
		c.InClassStartingPosition = p.InClassStartingPosition.Value
	}
	if p.OverallPositionsGained.Set {
		c.OverallPositionsGained = p.OverallPositionsGained.Value
	}
	if p.InClassPositionsGained.Set {
		c.InClassPositionsGained = p.InClassPositionsGained.Value
	}
	if p.BestLap.Set {
		c.BestLap = p.BestLap.Value
	}
	if p.BestTime.Set {
		c.BestTime = p.BestTime.Value
	}
	if p.LastLapCompleted.Set {
		c.LastLapCompleted = p.LastLapCompleted.Value
	}
	if p.LastLapTime.Set {
		c.LastLapTime = p.LastLapTime.Value
	}
	if p.TotalTime.Set {
		c.TotalTime = p.TotalTime.Value
	}
	if p.TransponderId.Set {
		c.TransponderId = p.TransponderId.Value
	}
	if p.IsEnteredPit.Set {
		c.IsEnteredPit = p.IsEnteredPit.Value
	}
	if p.IsInPit.Set {
		c.IsInPit = p.IsInPit.Value
	}
	if p.IsExitedPit.Set {
		c.IsExitedPit = p.IsExitedPit.Value
	}
	if p.IsPitStartFinish.Set {
		c.IsPitStartFinish = p.IsPitStartFinish.Value
	}
	if p.LapIncludedPit.Set {
		c.LapIncludedPit = p.LapIncludedPit.Value
	}
	if p.LapStartTime.Set {
		c.LapStartTime = p.LapStartTime.Value
	}
	if p.ProjectedLapTimeMs.Set {
		c.ProjectedLapTimeMs = p.ProjectedLapTimeMs.Value
	}
	if p.InClassFastestAveragePace.Set {
		c.InClassFastestAveragePace = p.InClassFastestAveragePace.Value
	}
	if p.IsOverallMostPositionsGained.Set {
		c.IsOverallMostPositionsGained = p.IsOverallMostPositionsGained.Value
	}
	if p.IsClassMostPositionsGained.Set {
		c.IsClassMostPositionsGained = p.IsClassMostPositionsGained.Value
	}
	if p.IsBestTime.Set {
		c.IsBestTime = p.IsBestTime.Value
	}
	if p.IsBestTimeClass.Set {
		c.IsBestTimeClass = p.IsBestTimeClass.Value
	}
	if p.Gap.Set {
		c.Gap = p.Gap.Value
	}
	if p.Interval.Set {
		c.Interval = p.Interval.Value
	}
	if p.PenalityLaps.Set {
		c.PenalityLaps = p.PenalityLaps.Value
	}
	if p.PenalityWarnings.Set {
		c.PenalityWarnings = p.PenalityWarnings.Value
	}
	if p.TrackFlag.Set {
		c.TrackFlag = p.TrackFlag.Value
	}
	if p.LocalFlag.Set {
		c.LocalFlag = p.LocalFlag.Value
	}
}

// MergeCarPatches merges a batch of patches keyed by Number, preserving
// first-seen order for deterministic output.
func MergeCarPatches(patches []CarPositionPatch) []CarPositionPatch {
	order := make([]string, 0, len(patches))
	byNumber := make(map[string]CarPositionPatch, len(patches))
	for _, p := range patches {
		if !p.Number.Set {
			continue
		}
		n := p.Number.Value
		if existing, ok := byNumber[n]; ok {
			byNumber[n] = existing.Merge(p)
		} else {
			byNumber[n] = p
			order = append(order, n)
		}
	}
	out := make([]CarPositionPatch, 0, len(order))
	for _, n := range order {
		out = append(out, byNumber[n])
	}
	return out
}
