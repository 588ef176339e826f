package laphistory

import (
	"errors"
	"testing"

	"github.com/paddockwire/timingcore/internal/session"
	"github.com/paddockwire/timingcore/internal/timingerr"
)

func TestAddLapRejectsEmptyNumber(t *testing.T) {
	s := New(nil)
	err := s.AddLap(1, session.CarPosition{})
	if !errors.Is(err, timingerr.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestGetLapsRejectsEmptyNumber(t *testing.T) {
	s := New(nil)
	if _, err := s.GetLaps(1, ""); !errors.Is(err, timingerr.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestGetLapsUnknownKeyIsEmpty(t *testing.T) {
	s := New(nil)
	laps, err := s.GetLaps(1, "99")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(laps) != 0 {
		t.Fatalf("expected empty slice, got %v", laps)
	}
}

// Property 5: rolling window cap.
func TestRollingWindowCapAndOrder(t *testing.T) {
	s := New(nil)
	for i := 1; i <= 8; i++ {
		pos := session.CarPosition{Number: "12X", LastLapCompleted: i}
		if err := s.AddLap(1, pos); err != nil {
			t.Fatalf("AddLap(%d): %v", i, err)
		}
	}
	laps, err := s.GetLaps(1, "12X")
	if err != nil {
		t.Fatalf("GetLaps: %v", err)
	}
	if len(laps) != WindowSize {
		t.Fatalf("expected %d entries, got %d", WindowSize, len(laps))
	}
	want := []int{8, 7, 6, 5, 4}
	for i, w := range want {
		if laps[i].LastLapCompleted != w {
			t.Errorf("laps[%d].LastLapCompleted = %d, want %d", i, laps[i].LastLapCompleted, w)
		}
	}
}

func TestRollingWindowBelowCap(t *testing.T) {
	s := New(nil)
	for i := 1; i <= 3; i++ {
		if err := s.AddLap(1, session.CarPosition{Number: "7", LastLapCompleted: i}); err != nil {
			t.Fatalf("AddLap(%d): %v", i, err)
		}
	}
	laps, err := s.GetLaps(1, "7")
	if err != nil {
		t.Fatalf("GetLaps: %v", err)
	}
	if len(laps) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(laps))
	}
	if laps[0].LastLapCompleted != 3 || laps[2].LastLapCompleted != 1 {
		t.Fatalf("unexpected order: %+v", laps)
	}
}

func TestKeysAreIsolatedByEventAndCarNumber(t *testing.T) {
	s := New(nil)
	if err := s.AddLap(1, session.CarPosition{Number: "12X", LastLapCompleted: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddLap(2, session.CarPosition{Number: "12X", LastLapCompleted: 99}); err != nil {
		t.Fatal(err)
	}
	laps, err := s.GetLaps(1, "12X")
	if err != nil {
		t.Fatal(err)
	}
	if len(laps) != 1 || laps[0].LastLapCompleted != 1 {
		t.Fatalf("event isolation broken: %+v", laps)
	}
}

func TestGetLapsReturnsCopyNotAlias(t *testing.T) {
	s := New(nil)
	if err := s.AddLap(1, session.CarPosition{Number: "12X", LastLapCompleted: 1}); err != nil {
		t.Fatal(err)
	}
	laps, _ := s.GetLaps(1, "12X")
	laps[0].LastLapCompleted = 999
	laps2, _ := s.GetLaps(1, "12X")
	if laps2[0].LastLapCompleted != 1 {
		t.Fatalf("GetLaps leaked internal slice: %+v", laps2)
	}
}
