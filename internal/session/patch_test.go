package session

import "testing"

func TestCarPositionPatchMergeRightBias(t *testing.T) {
	a := NewCarPositionPatch("12X")
	a.BestLap = Some(4)
	a.Gap = Some("1.234")

	b := NewCarPositionPatch("12X")
	b.BestLap = Some(5)

	got := a.Merge(b)
	if got.BestLap.Value != 5 {
		t.Fatalf("BestLap = %d, want 5 (b wins)", got.BestLap.Value)
	}
	if got.Gap.Value != "1.234" {
		t.Fatalf("Gap = %q, want unchanged from a", got.Gap.Value)
	}
}

func TestCarPositionPatchIsSemanticallyEmpty(t *testing.T) {
	p := NewCarPositionPatch("12X")
	if !p.IsSemanticallyEmpty() {
		t.Fatal("patch with only Number set should be semantically empty")
	}
	p.BestLap = Some(1)
	if p.IsSemanticallyEmpty() {
		t.Fatal("patch with BestLap set should not be semantically empty")
	}
}

func TestMergeCarPatchesPreservesOrderAndMerges(t *testing.T) {
	p1 := NewCarPositionPatch("1")
	p1.BestLap = Some(3)
	p2 := NewCarPositionPatch("2")
	p2.BestLap = Some(7)
	p1b := NewCarPositionPatch("1")
	p1b.BestLap = Some(4)

	merged := MergeCarPatches([]CarPositionPatch{p1, p2, p1b})
	if len(merged) != 2 {
		t.Fatalf("len = %d, want 2", len(merged))
	}
	if merged[0].Number.Value != "1" || merged[0].BestLap.Value != 4 {
		t.Fatalf("merged[0] = %+v", merged[0])
	}
	if merged[1].Number.Value != "2" || merged[1].BestLap.Value != 7 {
		t.Fatalf("merged[1] = %+v", merged[1])
	}
}

func TestDiffSessionStateMinimality(t *testing.T) {
	s := NewState(1, "Practice")
	flag := Green
	lapsToGo := 10
	cand := sessionCandidate{currentFlag: &flag, lapsToGo: &lapsToGo}

	p := DiffSessionState(s, cand)
	if !p.CurrentFlag.Set || p.CurrentFlag.Value != Green {
		t.Fatalf("CurrentFlag patch = %+v", p.CurrentFlag)
	}
	if !p.LapsToGo.Set || p.LapsToGo.Value != 10 {
		t.Fatalf("LapsToGo patch = %+v", p.LapsToGo)
	}
	if p.SessionName.Set || p.SessionId.Set || p.TimeToGo.Set {
		t.Fatalf("unexpected fields set in patch: %+v", p)
	}

	// Repeating with the same current state yields no patch (idempotent
	// re-apply of an unchanged value).
	s.CurrentFlag = Green
	s.LapsToGo = 10
	p2 := DiffSessionState(s, cand)
	if !p2.IsEmpty() {
		t.Fatalf("expected empty patch on repeat, got %+v", p2)
	}
}
