package enrich

import (
	"testing"

	"github.com/paddockwire/timingcore/internal/session"
)

func TestPositionEnricherSortAndAssign(t *testing.T) {
	ctx := session.NewContext(1, "")
	s := session.NewState(1, "")
	s.CarPositions = []session.CarPosition{
		{Number: "3", Class: "GT3", LastLapCompleted: 10, TotalTime: "01:00:00.000"},
		{Number: "1", Class: "GT3", LastLapCompleted: 10, TotalTime: "00:59:00.000"},
		{Number: "2", Class: "GTC", LastLapCompleted: 9, TotalTime: "00:58:00.000"},
	}

	PositionEnricher{}.Enrich(ctx, s)

	if s.CarPositions[0].Number != "1" || s.CarPositions[0].OverallPosition != 1 {
		t.Fatalf("expected car 1 leading, got %+v", s.CarPositions[0])
	}
	if s.CarPositions[1].Number != "3" || s.CarPositions[1].OverallPosition != 2 {
		t.Fatalf("expected car 3 second, got %+v", s.CarPositions[1])
	}
	if s.CarPositions[2].Number != "2" || s.CarPositions[2].OverallPosition != 3 {
		t.Fatalf("expected car 2 third (fewer laps), got %+v", s.CarPositions[2])
	}
	if s.CarPositions[2].ClassPosition != 1 {
		t.Fatalf("expected car 2 alone in its class at position 1, got %d", s.CarPositions[2].ClassPosition)
	}
}

func TestPositionEnricherUnknownTotalTimeSinksToBottom(t *testing.T) {
	ctx := session.NewContext(1, "")
	s := session.NewState(1, "")
	s.CarPositions = []session.CarPosition{
		{Number: "1", Class: "GT3", LastLapCompleted: 5, TotalTime: ""},
		{Number: "2", Class: "GT3", LastLapCompleted: 5, TotalTime: "00:50:00.000"},
	}
	PositionEnricher{}.Enrich(ctx, s)
	if s.CarPositions[0].Number != "2" {
		t.Fatalf("known total time should sort first, got %+v", s.CarPositions[0])
	}
}

func TestPositionEnricherGainedAndMostGained(t *testing.T) {
	ctx := session.NewContext(1, "")
	s := session.NewState(1, "")
	s.CarPositions = []session.CarPosition{
		{Number: "1", Class: "GT3", LastLapCompleted: 5, TotalTime: "00:50:00.000", OverallStartingPosition: 3},
		{Number: "2", Class: "GT3", LastLapCompleted: 5, TotalTime: "00:51:00.000", OverallStartingPosition: 1},
	}
	PositionEnricher{}.Enrich(ctx, s)

	byNumber := map[string]session.CarPosition{}
	for _, c := range s.CarPositions {
		byNumber[c.Number] = c
	}
	if byNumber["1"].OverallPositionsGained != 2 {
		t.Fatalf("car 1 gained = %d, want 2", byNumber["1"].OverallPositionsGained)
	}
	if byNumber["2"].OverallPositionsGained != -1 {
		t.Fatalf("car 2 gained = %d, want -1", byNumber["2"].OverallPositionsGained)
	}
	if !byNumber["1"].IsOverallMostPositionsGained {
		t.Fatalf("car 1 should be marked most positions gained")
	}
	if byNumber["2"].IsOverallMostPositionsGained {
		t.Fatalf("car 2 should not be marked most positions gained")
	}
}

func TestPositionEnricherInvalidPositionWhenNoStart(t *testing.T) {
	ctx := session.NewContext(1, "")
	s := session.NewState(1, "")
	s.CarPositions = []session.CarPosition{
		{Number: "1", Class: "GT3", LastLapCompleted: 5, TotalTime: "00:50:00.000"},
	}
	PositionEnricher{}.Enrich(ctx, s)
	if s.CarPositions[0].OverallPositionsGained != session.InvalidPosition {
		t.Fatalf("expected InvalidPosition sentinel, got %d", s.CarPositions[0].OverallPositionsGained)
	}
}

func TestPositionEnricherGapAndIntervalSameLap(t *testing.T) {
	ctx := session.NewContext(1, "")
	s := session.NewState(1, "")
	s.CarPositions = []session.CarPosition{
		{Number: "1", Class: "GT3", LastLapCompleted: 5, TotalTime: "90.000"},
		{Number: "2", Class: "GT3", LastLapCompleted: 5, TotalTime: "91.500"},
	}
	PositionEnricher{}.Enrich(ctx, s)
	if s.CarPositions[0].Gap != "" {
		t.Fatalf("leader gap should be blank, got %q", s.CarPositions[0].Gap)
	}
	if s.CarPositions[1].Gap != "1.500" {
		t.Fatalf("gap = %q, want 1.500", s.CarPositions[1].Gap)
	}
	if s.CarPositions[1].Interval != "1.500" {
		t.Fatalf("interval = %q, want 1.500", s.CarPositions[1].Interval)
	}
}

func TestPositionEnricherGapDifferentLaps(t *testing.T) {
	ctx := session.NewContext(1, "")
	s := session.NewState(1, "")
	s.CarPositions = []session.CarPosition{
		{Number: "1", Class: "GT3", LastLapCompleted: 6, TotalTime: "90.000"},
		{Number: "2", Class: "GT3", LastLapCompleted: 4, TotalTime: "91.500"},
	}
	PositionEnricher{}.Enrich(ctx, s)
	if s.CarPositions[1].Gap != "2 laps" {
		t.Fatalf("gap = %q, want %q", s.CarPositions[1].Gap, "2 laps")
	}
}

func TestPositionEnricherBestTimeMarkers(t *testing.T) {
	ctx := session.NewContext(1, "")
	s := session.NewState(1, "")
	s.CarPositions = []session.CarPosition{
		{Number: "1", Class: "GT3", LastLapCompleted: 5, BestLap: 5, BestTime: "88.000", TotalTime: "90.000"},
		{Number: "2", Class: "GT3", LastLapCompleted: 5, BestLap: 4, BestTime: "89.000", TotalTime: "91.000"},
	}
	PositionEnricher{}.Enrich(ctx, s)
	byNumber := map[string]session.CarPosition{}
	for _, c := range s.CarPositions {
		byNumber[c.Number] = c
	}
	if !byNumber["1"].IsBestTime {
		t.Fatalf("car 1 best lap equals last lap completed, expected IsBestTime")
	}
	if byNumber["2"].IsBestTime {
		t.Fatalf("car 2 best lap != last lap completed, expected not IsBestTime")
	}
	if !byNumber["1"].IsBestTimeClass {
		t.Fatalf("car 1 has the fastest BestTime in class, expected IsBestTimeClass")
	}
}
