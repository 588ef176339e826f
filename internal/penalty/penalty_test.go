package penalty

import (
	"testing"

	"github.com/paddockwire/timingcore/internal/session"
)

func newCar(number, class string, lap, overall int) session.CarPosition {
	return session.CarPosition{Number: number, Class: class, LastLapCompleted: lap, OverallPosition: overall, ClassPosition: overall}
}

func TestOverlaySortsPenalizedBehindCleanPeers(t *testing.T) {
	ctx := session.NewContext(1, "race")
	s := session.NewState(1, "race")
	s.CarPositions = []session.CarPosition{
		newCar("1", "GT3", 10, 1),
		newCar("2", "GT3", 10, 2),
		newCar("3", "GT3", 10, 3),
	}
	ctx.UpdateCars(s, nil)
	ctx.Reindex(s)

	patches := Overlay{}.Apply(ctx, s, []Assessment{{CarNumber: "1", Laps: 1}})
	if len(patches) == 0 {
		t.Fatal("expected at least one patch")
	}

	if s.CarPositions[0].Number == "1" {
		t.Fatalf("penalized car should not lead its tier, got order %v", carNumbers(s.CarPositions))
	}
	if s.CarPositions[len(s.CarPositions)-1].Number != "1" {
		t.Fatalf("penalized car should sort last in its tier, got order %v", carNumbers(s.CarPositions))
	}
}

func TestOverlayIdempotent(t *testing.T) {
	ctx := session.NewContext(1, "race")
	s := session.NewState(1, "race")
	s.CarPositions = []session.CarPosition{newCar("1", "GT3", 10, 1), newCar("2", "GT3", 10, 2)}
	ctx.UpdateCars(s, nil)
	ctx.Reindex(s)

	Overlay{}.Apply(ctx, s, []Assessment{{CarNumber: "1", Laps: 1}})
	patches := Overlay{}.Apply(ctx, s, []Assessment{{CarNumber: "1", Laps: 1}})
	if len(patches) != 0 {
		t.Fatalf("re-applying the same assessment should produce no patch, got %d", len(patches))
	}
}

func TestOverlayPatchesBumpedCleanPeers(t *testing.T) {
	ctx := session.NewContext(1, "race")
	s := session.NewState(1, "race")
	s.CarPositions = []session.CarPosition{
		newCar("1", "GT3", 10, 1),
		newCar("2", "GT3", 10, 2),
		newCar("3", "GT3", 10, 3),
	}
	ctx.UpdateCars(s, nil)
	ctx.Reindex(s)

	patches := Overlay{}.Apply(ctx, s, []Assessment{{CarNumber: "1", Laps: 1}})

	byNumber := make(map[string]session.CarPositionPatch, len(patches))
	for _, p := range patches {
		byNumber[p.Number.Value] = p
	}

	p2, ok := byNumber["2"]
	if !ok {
		t.Fatal("expected a patch for car 2, whose position moved up despite no penalty change")
	}
	if !p2.OverallPosition.Set || p2.OverallPosition.Value != 1 {
		t.Fatalf("car 2 OverallPosition patch = %+v, want Set with value 1", p2.OverallPosition)
	}

	p3, ok := byNumber["3"]
	if !ok {
		t.Fatal("expected a patch for car 3, whose position moved up despite no penalty change")
	}
	if !p3.OverallPosition.Set || p3.OverallPosition.Value != 2 {
		t.Fatalf("car 3 OverallPosition patch = %+v, want Set with value 2", p3.OverallPosition)
	}
}

func TestOverlayUnknownCarIgnored(t *testing.T) {
	ctx := session.NewContext(1, "race")
	s := session.NewState(1, "race")
	s.CarPositions = []session.CarPosition{newCar("1", "GT3", 10, 1)}
	ctx.UpdateCars(s, nil)
	ctx.Reindex(s)

	patches := Overlay{}.Apply(ctx, s, []Assessment{{CarNumber: "99", Laps: 1}})
	if len(patches) != 0 {
		t.Fatalf("unknown car should produce no patch, got %d", len(patches))
	}
}

func carNumbers(cars []session.CarPosition) []string {
	out := make([]string, len(cars))
	for i, c := range cars {
		out[i] = c.Number
	}
	return out
}
