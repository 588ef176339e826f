package broadcast

import "github.com/paddockwire/timingcore/internal/session"

// MessageType names one of the outbound envelope kinds (§6 "Broadcast
// surface").
type MessageType string

const (
	MsgSessionPatch MessageType = "sessionPatch"
	MsgCarPatches   MessageType = "carPatches"
	MsgSnapshot     MessageType = "snapshot"
)

// Message is the outbound envelope. Seq is per-room and monotonically
// increasing, letting a client detect a gap and fall back to
// SendFullSnapshot.
type Message struct {
	Type    MessageType `json:"type"`
	EventId int         `json:"eventId"`
	Seq     uint64      `json:"seq"`
	Payload any         `json:"payload"`
}

// SessionPatchPayload carries ReceiveSessionPatch's argument (§6).
type SessionPatchPayload struct {
	Patch session.SessionStatePatch `json:"patch"`
}

// CarPatchesPayload carries ReceiveCarPatches's argument (§6).
type CarPatchesPayload struct {
	Patches []session.CarPositionPatch `json:"patches"`
}

// SnapshotPayload carries SendFullSnapshot's reply (§6).
type SnapshotPayload struct {
	State *session.State `json:"state"`
}
