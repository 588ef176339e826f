package sessionmon

import (
	"testing"
	"time"

	"github.com/paddockwire/timingcore/internal/persistence"
	"github.com/paddockwire/timingcore/internal/session"
)

func TestSessionChangedDebouncesSameSession(t *testing.T) {
	store := persistence.NewMemSessionRowStore()
	m := New(1, store, nil)
	t0 := time.Now()

	m.SessionChanged(5, "Race 1", t0, nil)
	row, ok, _ := store.Get(1, 5)
	if !ok || !row.IsLive {
		t.Fatal("expected session 5 to be live")
	}

	m.SessionChanged(5, "Race 1", t0.Add(500*time.Millisecond), nil)
	row2, _, _ := store.Get(1, 5)
	if !row2.LastUpdated.Equal(row.LastUpdated) {
		t.Fatal("expected debounced touch to be suppressed within 1.5s")
	}

	m.SessionChanged(5, "Race 1", t0.Add(2*time.Second), nil)
	row3, _, _ := store.Get(1, 5)
	if row3.LastUpdated.Equal(row.LastUpdated) {
		t.Fatal("expected touch to go through after debounce window")
	}
}

func TestSessionChangedFinalizesPrevious(t *testing.T) {
	store := persistence.NewMemSessionRowStore()
	var finalized []FinalizedSession
	m := New(1, store, func(f FinalizedSession) { finalized = append(finalized, f) })
	t0 := time.Now()

	m.SessionChanged(5, "Qualifying", t0, nil)
	prevSnap := session.NewState(5, "Qualifying")
	prevSnap.CurrentFlag = session.Checkered

	m.SessionChanged(6, "Race", t0.Add(time.Minute), prevSnap)

	if len(finalized) != 1 {
		t.Fatalf("expected 1 finalized session, got %d", len(finalized))
	}
	if finalized[0].Row.SessionId != 5 || finalized[0].Row.IsLive {
		t.Fatalf("expected session 5 finalized not-live, got %+v", finalized[0].Row)
	}
	if finalized[0].Row.Result == nil || finalized[0].Row.Result.SessionId != 5 {
		t.Fatal("expected finalized row to carry the previous session's result")
	}

	row6, ok, _ := store.Get(1, 6)
	if !ok || !row6.IsLive {
		t.Fatal("expected session 6 to now be live")
	}
	if m.LiveSessionId() != 6 {
		t.Fatalf("expected live session 6, got %d", m.LiveSessionId())
	}
}

func TestObserveStateFinalizesAfterCountdown(t *testing.T) {
	store := persistence.NewMemSessionRowStore()
	var finalized []FinalizedSession
	m := New(1, store, func(f FinalizedSession) { finalized = append(finalized, f) })
	t0 := time.Now()
	m.SessionChanged(5, "Race", t0, nil)

	s := session.NewState(5, "Race")
	s.CurrentFlag = session.Green
	s.CarPositions = []session.CarPosition{{Number: "1", LastLapCompleted: 10}}
	if m.ObserveState(s, t0.Add(time.Second)) {
		t.Fatal("should not finalize while still green")
	}

	s.CurrentFlag = session.Checkered
	if m.ObserveState(s, t0.Add(2*time.Second)) {
		t.Fatal("should not finalize immediately on checkered")
	}

	// no lap changes for 60s of event time.
	if !m.ObserveState(s, t0.Add(63*time.Second)) {
		t.Fatal("expected finalize after 60s with no lap change")
	}
	snap := s.Clone()
	m.Finalize(snap, t0.Add(63*time.Second))
	if len(finalized) != 1 {
		t.Fatalf("expected 1 finalized session, got %d", len(finalized))
	}
}

func TestObserveStateCountdownResetsOnLapChange(t *testing.T) {
	store := persistence.NewMemSessionRowStore()
	m := New(1, store, nil)
	t0 := time.Now()
	m.SessionChanged(5, "Race", t0, nil)

	s := session.NewState(5, "Race")
	s.CurrentFlag = session.White
	s.CarPositions = []session.CarPosition{{Number: "1", LastLapCompleted: 10}}
	m.ObserveState(s, t0)

	s.CurrentFlag = session.Checkered
	m.ObserveState(s, t0.Add(time.Second))

	s.CarPositions[0].LastLapCompleted = 11
	if m.ObserveState(s, t0.Add(50*time.Second)) {
		t.Fatal("lap change should reset the countdown")
	}
	if m.ObserveState(s, t0.Add(90*time.Second)) {
		t.Fatal("countdown should restart from the lap change, not the original checkered time")
	}
	if !m.ObserveState(s, t0.Add(112*time.Second)) {
		t.Fatal("expected finalize 60s after the last lap change")
	}
}
