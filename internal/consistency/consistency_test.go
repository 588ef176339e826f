package consistency

import (
	"errors"
	"testing"
	"time"

	"github.com/paddockwire/timingcore/internal/session"
)

func validState() *session.State {
	s := session.NewState(1, "race")
	s.CarPositions = []session.CarPosition{
		{Number: "1", Class: "GT3", OverallPosition: 1, ClassPosition: 1, LastLapCompleted: 10, TotalTime: "30:00.000"},
		{Number: "2", Class: "GT3", OverallPosition: 2, ClassPosition: 2, LastLapCompleted: 10, TotalTime: "30:05.000"},
		{Number: "3", Class: "GT4", OverallPosition: 3, ClassPosition: 1, LastLapCompleted: 9, TotalTime: "29:50.000"},
	}
	return s
}

func TestTickConsistentNoResync(t *testing.T) {
	c := New(1, func(ResyncRequest) { t.Fatal("unexpected resync publish") })
	c.sleep = func(time.Duration) {}
	if err := c.Tick(time.Now(), func() (*session.State, error) { return validState(), nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTickPropagatesTransientError(t *testing.T) {
	c := New(1, nil)
	c.sleep = func(time.Duration) {}
	wantErr := errors.New("boom")
	if err := c.Tick(time.Now(), func() (*session.State, error) { return nil, wantErr }); err != wantErr {
		t.Fatalf("expected sample error to propagate, got %v", err)
	}
}

func TestTickPublishesResyncAfterSustainedInconsistency(t *testing.T) {
	var published []ResyncRequest
	c := New(1, func(r ResyncRequest) { published = append(published, r) })
	c.sleep = func(time.Duration) {}

	bad := validState()
	bad.CarPositions[0].OverallPosition = 2
	bad.CarPositions[1].OverallPosition = 2

	if err := c.Tick(time.Now(), func() (*session.State, error) { return bad, nil }); err != nil {
		t.Fatal(err)
	}
	if len(published) != 1 {
		t.Fatalf("expected 1 resync publish, got %d", len(published))
	}
	if published[0].ForceTimingDataReset {
		t.Fatal("first-ever failure should not force a reconnect (no prior error timestamp)")
	}
}

func TestTickForcesReconnectInOneToTwoMinuteWindow(t *testing.T) {
	var published []ResyncRequest
	c := New(1, func(r ResyncRequest) { published = append(published, r) })
	c.sleep = func(time.Duration) {}

	bad := validState()
	bad.CarPositions[0].OverallPosition = 2
	bad.CarPositions[1].OverallPosition = 2
	sample := func() (*session.State, error) { return bad, nil }

	t0 := time.Now()
	if err := c.Tick(t0, sample); err != nil {
		t.Fatal(err)
	}
	if err := c.Tick(t0.Add(90*time.Second), sample); err != nil {
		t.Fatal(err)
	}
	if len(published) != 2 {
		t.Fatalf("expected 2 resync publishes, got %d", len(published))
	}
	if !published[1].ForceTimingDataReset {
		t.Fatal("expected the second failure (90s later) to force a reconnect")
	}
}

func TestTickDoesNotForceReconnectOutsideWindow(t *testing.T) {
	var published []ResyncRequest
	c := New(1, func(r ResyncRequest) { published = append(published, r) })
	c.sleep = func(time.Duration) {}

	bad := validState()
	bad.CarPositions[0].OverallPosition = 2
	bad.CarPositions[1].OverallPosition = 2
	sample := func() (*session.State, error) { return bad, nil }

	t0 := time.Now()
	c.Tick(t0, sample)
	c.Tick(t0.Add(30*time.Second), sample) // too soon: < 1 minute since previous error
	if published[1].ForceTimingDataReset {
		t.Fatal("should not force reconnect when previous failure was under 1 minute ago")
	}
}

func TestConsistentDetectsDuplicateOverallPosition(t *testing.T) {
	s := validState()
	s.CarPositions[1].OverallPosition = 1
	if consistent(s) {
		t.Fatal("expected duplicate overall position to be detected")
	}
}

func TestConsistentDetectsLeaderMismatch(t *testing.T) {
	s := validState()
	s.CarPositions[0].LastLapCompleted = 5 // leader now behind car 2 on laps
	if consistent(s) {
		t.Fatal("expected leader/laps mismatch to be detected")
	}
}

func TestConsistentEmptyFieldIsConsistent(t *testing.T) {
	s := session.NewState(1, "race")
	if !consistent(s) {
		t.Fatal("an empty field has nothing to be inconsistent about")
	}
}
