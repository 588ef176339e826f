package session

import (
	"testing"
	"time"
)

func TestResetCommandClearsEvenWhenSuppressedAsDuplicate(t *testing.T) {
	ctx := NewContext(1, "race")
	s := NewState(1, "race")
	s.CarPositions = []CarPosition{{Number: "12X", LastLapTime: "1:23.456"}}
	ctx.UpdateCars(s, nil)
	ctx.Reindex(s)
	ctx.startingPositionsChecked = true

	base := time.Now()
	if ok := ctx.ResetCommand(s, base); !ok {
		t.Fatal("first ResetCommand should not be suppressed")
	}
	if len(s.CarPositions) != 0 {
		t.Fatalf("CarPositions = %v, want cleared", s.CarPositions)
	}

	s.CarPositions = []CarPosition{{Number: "7", LastLapTime: "1:10.000"}}
	ctx.UpdateCars(s, nil)
	ctx.Reindex(s)
	ctx.startingPositionsChecked = true

	if ok := ctx.ResetCommand(s, base.Add(time.Second)); ok {
		t.Fatal("duplicate ResetCommand within the window should report suppressed")
	}
	if len(s.CarPositions) != 0 {
		t.Fatalf("duplicate ResetCommand within the window should still clear CarPositions, got %v", s.CarPositions)
	}
	if len(s.EventEntries) != 0 {
		t.Fatalf("duplicate ResetCommand within the window should still clear EventEntries, got %v", s.EventEntries)
	}
	if ctx.startingPositionsChecked {
		t.Fatal("duplicate ResetCommand within the window should still reset startingPositionsChecked")
	}
	if _, ok := ctx.GetCarNumberForTransponder(0); ok {
		t.Fatal("lookup tables should be cleared")
	}
}

func TestResetCommandSuppressesSnapshotWithinWindow(t *testing.T) {
	ctx := NewContext(1, "race")
	s := NewState(1, "race")
	s.CarPositions = []CarPosition{{Number: "12X", LastLapTime: "1:23.456"}}
	ctx.UpdateCars(s, nil)
	ctx.Reindex(s)

	base := time.Now()
	ctx.ResetCommand(s, base)

	s.CarPositions = []CarPosition{{Number: "7", LastLapTime: "1:10.000"}}
	ctx.UpdateCars(s, nil)
	ctx.Reindex(s)

	ctx.ResetCommand(s, base.Add(time.Second))
	snapshot := ctx.PreviousState()
	if len(snapshot.CarPositions) != 1 || snapshot.CarPositions[0].Number != "12X" {
		t.Fatalf("a duplicate reset within the window should not replace the previous snapshot, got %v", snapshot.CarPositions)
	}

	if _, ok := ctx.PreRestartLastLapTime("7"); ok {
		t.Fatal("a duplicate reset within the window should not capture last-lap times for the second snapshot")
	}
	lastLap, ok := ctx.PreRestartLastLapTime("12X")
	if !ok || lastLap != "1:23.456" {
		t.Fatalf("PreRestartLastLapTime(12X) = (%q, %v), want (1:23.456, true) from the first reset", lastLap, ok)
	}
}
