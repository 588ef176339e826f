// Package session owns the per-event live race state: the State graph
// (§3, §4.11 of the timing spec), its sparse patch types, and the
// write-locked Context that is the pipeline's single shared mutable
// structure.
package session

import (
	"encoding/json"
	"time"
)

// Flag is the session-wide track condition.
type Flag int

const (
	Unknown Flag = iota
	Green
	Yellow
	Red
	White
	Checkered
	Purple35
)

var flagNames = map[Flag]string{
	Unknown:   "unknown",
	Green:     "green",
	Yellow:    "yellow",
	Red:       "red",
	White:     "white",
	Checkered: "checkered",
	Purple35:  "purple35",
}

var flagFromName = map[string]Flag{
	"unknown":   Unknown,
	"green":     Green,
	"yellow":    Yellow,
	"red":       Red,
	"white":     White,
	"checkered": Checkered,
	"purple35":  Purple35,
}

func (f Flag) String() string {
	if s, ok := flagNames[f]; ok {
		return s
	}
	return "unknown"
}

func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := flagFromName[s]; ok {
		*f = v
	}
	return nil
}

// ParseFlag converts flag text as received on the wire (§4.2 heartbeat
// flagText: trimmed, case-insensitive match) into a Flag. An unrecognized
// string maps to Unknown.
func ParseFlag(text string) Flag {
	if v, ok := flagFromName[normalizeFlagText(text)]; ok {
		return v
	}
	return Unknown
}

func normalizeFlagText(text string) string {
	start, end := 0, len(text)
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	b := make([]byte, 0, end-start)
	for i := start; i < end; i++ {
		c := text[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b = append(b, c)
	}
	return string(b)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// InvalidPosition marks a positions-gained field that has not yet been
// computed (no starting position known).
const InvalidPosition = -9999

// FlagDuration is a single accumulated [StartUtc, EndUtc) range for a flag.
type FlagDuration struct {
	Flag     Flag       `json:"flag"`
	StartUtc time.Time  `json:"startUtc"`
	EndUtc   *time.Time `json:"endUtc,omitempty"`
}

// EventEntry is the registration record for one competitor (§3).
type EventEntry struct {
	RegNum        string `json:"regNum"`
	Number        string `json:"number"`
	TransponderId uint32 `json:"transponderId"`
	DriverFirst   string `json:"driverFirst"`
	DriverLast    string `json:"driverLast"`
	Nationality   string `json:"nationality"`
	ClassNum      string `json:"classNum"`
	Class         string `json:"class"`
	Sponsor       string `json:"sponsor,omitempty"`
	Crew          string `json:"crew,omitempty"`
}

// CarPosition is the live per-car row (§3).
type CarPosition struct {
	Number     string `json:"number"`
	Class      string `json:"class"`
	DriverName string `json:"driverName"`

	OverallPosition int `json:"overallPosition"`
	ClassPosition   int `json:"classPosition"`

	OverallStartingPosition int `json:"overallStartingPosition"`
	InClassStartingPosition int `json:"inClassStartingPosition"`

	OverallPositionsGained int `json:"overallPositionsGained"`
	InClassPositionsGained int `json:"inClassPositionsGained"`

	BestLap  int    `json:"bestLap"`
	BestTime string `json:"bestTime"`

	LastLapCompleted int    `json:"lastLapCompleted"`
	LastLapTime      string `json:"lastLapTime"`

	TotalTime string `json:"totalTime"`

	TransponderId uint32 `json:"transponderId"`

	IsEnteredPit     bool `json:"isEnteredPit"`
	IsInPit          bool `json:"isInPit"`
	IsExitedPit      bool `json:"isExitedPit"`
	IsPitStartFinish bool `json:"isPitStartFinish"`
	LapIncludedPit   bool `json:"lapIncludedPit"`

	LapStartTime       time.Time `json:"lapStartTime"`
	ProjectedLapTimeMs int       `json:"projectedLapTimeMs"`

	InClassFastestAveragePace bool `json:"inClassFastestAveragePace"`

	IsOverallMostPositionsGained bool `json:"isOverallMostPositionsGained"`
	IsClassMostPositionsGained   bool `json:"isClassMostPositionsGained"`

	IsBestTime      bool `json:"isBestTime"`
	IsBestTimeClass bool `json:"isBestTimeClass"`

	Gap      string `json:"gap"`
	Interval string `json:"interval"`

	PenalityLaps     int `json:"penalityLaps"`
	PenalityWarnings int `json:"penalityWarnings"`

	TrackFlag Flag `json:"trackFlag"`
	LocalFlag Flag `json:"localFlag"`
}

// State is the live in-memory projection for one session (§3 SessionState).
type State struct {
	SessionId   int    `json:"sessionId"`
	SessionName string `json:"sessionName"`

	CurrentFlag Flag `json:"currentFlag"`

	LapsToGo        int    `json:"lapsToGo"`
	TimeToGo        string `json:"timeToGo"`
	LocalTimeOfDay  string `json:"localTimeOfDay"`
	RunningRaceTime string `json:"runningRaceTime"`

	// CarPositions is the ordered sequence of live car rows. Ordering is
	// owned by the position enricher; never reorder by swapping to a
	// map/hash container.
	CarPositions []CarPosition `json:"carPositions"`

	// EventEntries is keyed by registration number (§3 EventEntry lifetime).
	EventEntries map[string]EventEntry `json:"eventEntries"`

	// Classes maps classNum -> class label, populated by $C (§4.2).
	Classes map[string]string `json:"classes"`

	FlagDurations []FlagDuration    `json:"flagDurations"`
	ClassColors   map[string]string `json:"classColors,omitempty"`
	Announcements []string          `json:"announcements,omitempty"`
}

// NewState returns an empty, ready-to-use State for a session.
func NewState(sessionId int, sessionName string) *State {
	return &State{
		SessionId:    sessionId,
		SessionName:  sessionName,
		EventEntries: make(map[string]EventEntry),
		Classes:      make(map[string]string),
	}
}

// Clone returns a deep copy: slices/maps are duplicated so the copy can be
// read after the lock is released without racing the live state.
func (s *State) Clone() *State {
	c := *s
	c.CarPositions = make([]CarPosition, len(s.CarPositions))
	copy(c.CarPositions, s.CarPositions)

	c.EventEntries = make(map[string]EventEntry, len(s.EventEntries))
	for k, v := range s.EventEntries {
		c.EventEntries[k] = v
	}

	c.Classes = make(map[string]string, len(s.Classes))
	for k, v := range s.Classes {
		c.Classes[k] = v
	}

	c.FlagDurations = append([]FlagDuration(nil), s.FlagDurations...)
	if s.ClassColors != nil {
		c.ClassColors = make(map[string]string, len(s.ClassColors))
		for k, v := range s.ClassColors {
			c.ClassColors[k] = v
		}
	}
	c.Announcements = append([]string(nil), s.Announcements...)
	return &c
}

// CarByNumber returns the index of the car with the given number, or -1.
func (s *State) CarByNumber(number string) int {
	for i := range s.CarPositions {
		if s.CarPositions[i].Number == number {
			return i
		}
	}
	return -1
}
