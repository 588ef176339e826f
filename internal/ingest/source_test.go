package ingest

import (
	"testing"

	"github.com/paddockwire/timingcore/internal/pipeline"
)

func TestDecodeFrame_RMonitorLine(t *testing.T) {
	msg, err := decodeFrame([]byte(`$COMP,"1","42","12345","John","Doe","USA","GT3"`))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if msg.Type != pipeline.MsgRMonitor {
		t.Fatalf("expected MsgRMonitor, got %v", msg.Type)
	}
}

func TestDecodeFrame_Passings(t *testing.T) {
	data := []byte(`{"type":"multiloop","payload":[{"transponderId":12345,"loop":1}]}`)
	msg, err := decodeFrame(data)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if msg.Type != pipeline.MsgMultiloop {
		t.Fatalf("expected MsgMultiloop, got %v", msg.Type)
	}
	passings, ok := msg.Payload.([]pipeline.Passing)
	if !ok || len(passings) != 1 {
		t.Fatalf("expected one decoded Passing, got %#v", msg.Payload)
	}
	if passings[0].TransponderId != 12345 || passings[0].Loop != pipeline.LoopPitIn {
		t.Errorf("unexpected passing: %+v", passings[0])
	}
}

func TestDecodeFrame_SessionChanged(t *testing.T) {
	data := []byte(`{"type":"event-session-changed","payload":{"sessionId":7,"sessionName":"Race 1"}}`)
	msg, err := decodeFrame(data)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	payload, ok := msg.Payload.(pipeline.SessionChangedPayload)
	if !ok || payload.SessionId != 7 || payload.SessionName != "Race 1" {
		t.Fatalf("unexpected payload: %#v", msg.Payload)
	}
}

func TestDecodeFrame_UnknownType(t *testing.T) {
	_, err := decodeFrame([]byte(`{"type":"nonsense","payload":{}}`))
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestDecodeFrame_MalformedJSON(t *testing.T) {
	_, err := decodeFrame([]byte(`not json and not a dollar line`))
	if err == nil {
		t.Fatal("expected error for malformed, non-rmonitor frame")
	}
}
