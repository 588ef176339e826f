package persistence

import "testing"

func TestMemLapLogStoreLapsReturnsAscendingByLapNumber(t *testing.T) {
	store := NewMemLapLogStore()
	for _, n := range []int{3, 1, 2} {
		if err := store.Append(CarLapLog{EventId: 1, SessionId: 1, CarNumber: "12X", LapNumber: n}); err != nil {
			t.Fatalf("Append(%d): %v", n, err)
		}
	}

	logs, err := store.Laps(1, 1, "12X", 4)
	if err != nil {
		t.Fatalf("Laps: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("len(logs) = %d, want 3", len(logs))
	}
	for i, want := range []int{1, 2, 3} {
		if logs[i].LapNumber != want {
			t.Fatalf("logs[%d].LapNumber = %d, want %d (logs = %+v)", i, logs[i].LapNumber, want, logs)
		}
	}
}

func TestMemLapLogStoreLapsFiltersByCount(t *testing.T) {
	store := NewMemLapLogStore()
	for n := 1; n <= 5; n++ {
		if err := store.Append(CarLapLog{EventId: 1, SessionId: 1, CarNumber: "12X", LapNumber: n}); err != nil {
			t.Fatalf("Append(%d): %v", n, err)
		}
	}

	logs, err := store.Laps(1, 1, "12X", 3)
	if err != nil {
		t.Fatalf("Laps: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2 (lap numbers < 3), got %+v", len(logs), logs)
	}
	for _, l := range logs {
		if l.LapNumber >= 3 {
			t.Fatalf("Laps(count=3) returned lap number %d, want < 3", l.LapNumber)
		}
	}
}
