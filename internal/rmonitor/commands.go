package rmonitor

// Heartbeat is the $F command (§4.2).
type Heartbeat struct {
	LapsToGo        int
	TimeToGo        string
	LocalTimeOfDay  string
	RunningRaceTime string
	FlagText        string
}

// RunInfo is the $B command.
type RunInfo struct {
	SessionRef  int
	SessionName string
}

// CompetitorLong is the $A command.
type CompetitorLong struct {
	RegNum        string
	Number        string
	TransponderId uint32
	First         string
	Last          string
	Nationality   string
	ClassNum      string
}

// CompetitorShort is the $COMP command.
type CompetitorShort struct {
	RegNum      string
	Number      string
	ClassNum    string
	First       string
	Last        string
	Nationality string
	Sponsor     string
}

// ClassLabel is the $C command.
type ClassLabel struct {
	ClassNum string
	Label    string
}

// Setting is the $E command.
type Setting struct {
	Key   string
	Value string
}

// RaceInfo is the $G command.
type RaceInfo struct {
	Position int
	RegNum   string
	Laps     int
	RaceTime string
}

// PracticeInfo is the $H command.
type PracticeInfo struct {
	Position    int
	RegNum      string
	BestLap     int
	BestLapTime string
}

// InitReset is the $I command.
type InitReset struct {
	TimeOfDay string
	Date      string
}

// PassingInfo is the $J command.
type PassingInfo struct {
	RegNum   string
	LapTime  string
	RaceTime string
}

// parseCommand converts a tokenized line into its typed command value.
// ok is false only for an unrecognized marker. $COR is recognized and
// returns (nil, true) so the caller ignores it. Field counts are not
// checked here.
func parseCommand(l line) (any, bool) {
	f := l.fields
	switch l.marker {
	case "F":
		return Heartbeat{
			LapsToGo:        atoi(field(f, 0)),
			TimeToGo:        field(f, 1),
			LocalTimeOfDay:  field(f, 2),
			RunningRaceTime: field(f, 3),
			FlagText:        field(f, 4),
		}, true
	case "B":
		return RunInfo{
			SessionRef:  atoi(field(f, 0)),
			SessionName: field(f, 1),
		}, true
	case "A":
		return CompetitorLong{
			RegNum:        field(f, 0),
			Number:        field(f, 1),
			TransponderId: atou32(field(f, 2)),
			First:         field(f, 3),
			Last:          field(f, 4),
			Nationality:   field(f, 5),
			ClassNum:      field(f, 6),
		}, true
	case "COMP":
		return CompetitorShort{
			RegNum:      field(f, 0),
			Number:      field(f, 1),
			ClassNum:    field(f, 2),
			First:       field(f, 3),
			Last:        field(f, 4),
			Nationality: field(f, 5),
			Sponsor:     field(f, 6),
		}, true
	case "C":
		return ClassLabel{ClassNum: field(f, 0), Label: field(f, 1)}, true
	case "E":
		return Setting{Key: field(f, 0), Value: field(f, 1)}, true
	case "G":
		return RaceInfo{
			Position: atoi(field(f, 0)),
			RegNum:   field(f, 1),
			Laps:     atoi(field(f, 2)),
			RaceTime: field(f, 3),
		}, true
	case "H":
		return PracticeInfo{
			Position:    atoi(field(f, 0)),
			RegNum:      field(f, 1),
			BestLap:     atoi(field(f, 2)),
			BestLapTime: field(f, 3),
		}, true
	case "I":
		return InitReset{TimeOfDay: field(f, 0), Date: field(f, 1)}, true
	case "J":
		return PassingInfo{
			RegNum:   field(f, 0),
			LapTime:  field(f, 1),
			RaceTime: field(f, 2),
		}, true
	case "COR":
		return nil, true // recognized, deliberately ignored
	default:
		return nil, false
	}
}
