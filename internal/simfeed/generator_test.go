package simfeed

import (
	"context"
	"strings"
	"testing"

	"github.com/paddockwire/timingcore/internal/pipeline"
)

func TestGeneratorFirstPollAnnouncesSessionAndCompetitors(t *testing.T) {
	g := New(5, "Sim Feature Race", 1)

	msgs, err := g.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatal("expected at least one message on first poll")
	}
	if msgs[0].Type != pipeline.MsgRMonitor {
		t.Fatalf("Type = %v, want MsgRMonitor", msgs[0].Type)
	}
	if !strings.Contains(msgs[0].Data, `$B,5,"Sim Feature Race"`) {
		t.Errorf("expected $B line in first poll, got: %s", msgs[0].Data)
	}
	if !strings.Contains(msgs[0].Data, "$A,") {
		t.Errorf("expected $A competitor lines in first poll, got: %s", msgs[0].Data)
	}
}

func TestGeneratorProducesLapsOverTime(t *testing.T) {
	g := New(5, "Sim Feature Race", 2)
	ctx := context.Background()

	sawLap := false
	for i := 0; i < 300; i++ {
		msgs, err := g.Poll(ctx)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		for _, m := range msgs {
			if m.Type == pipeline.MsgRMonitor && strings.Contains(m.Data, "$G,") {
				sawLap = true
			}
		}
		if sawLap {
			break
		}
	}
	if !sawLap {
		t.Fatal("expected a $G lap-completion line within 300 ticks")
	}
}

func TestGeneratorEventuallyThrowsCheckered(t *testing.T) {
	g := New(5, "Sim Feature Race", 3)
	ctx := context.Background()

	for i := 0; i < 5000 && g.flag != "checkered"; i++ {
		if _, err := g.Poll(ctx); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if g.flag != "checkered" {
		t.Fatal("expected flag to reach checkered within 5000 ticks")
	}
}

func TestGeneratorRespectsCancelledContext(t *testing.T) {
	g := New(5, "Sim Feature Race", 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Poll(ctx); err == nil {
		t.Fatal("expected error from Poll on a cancelled context")
	}
}
