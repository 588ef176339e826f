// Package ingest is the transport adapter between an upstream timing feed
// and a pipeline.Coordinator: it owns the connection, decodes frames into
// pipeline.Message, and tracks per-feed health. The core does not define
// the on-the-wire framing of the result-monitor protocol beyond the
// per-command grammar (spec §1 Non-goals), so that framing decision lives
// entirely in this package, not in internal/pipeline or internal/rmonitor.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paddockwire/timingcore/internal/pipeline"
	"github.com/paddockwire/timingcore/internal/session"
)

// pollReadTimeout bounds how long a single Poll call blocks waiting for the
// next frame before returning "nothing new this tick" — mirrors the
// teacher's poll-tick-returns-promptly contract for Source.Parse.
const pollReadTimeout = 200 * time.Millisecond

// Source discovers and decodes whatever a single upstream feed has
// produced since the last call. Implementations need not be safe for
// concurrent use; Monitor calls Poll from a single goroutine per source.
type Source interface {
	// Name is a short lowercase identifier for this feed, used in logs
	// and health reports.
	Name() string

	// Poll returns every message decoded since the previous call. An
	// empty, nil-error result means no new data arrived this tick.
	Poll(ctx context.Context) ([]pipeline.Message, error)
}

// WSSource is a Source backed by a single long-lived WebSocket connection
// to an upstream relay. Frames are decoded per decodeFrame: a line
// beginning with "$" is raw result-monitor text; anything else is a JSON
// envelope naming one of the other inbound message types (§6). Using
// gorilla/websocket here (the same client library the broadcast surface
// uses server-side) avoids pulling in a second transport dependency for
// what is structurally the same kind of framed, bidirectional connection.
type WSSource struct {
	name   string
	url    string
	header http.Header

	conn *websocket.Conn
}

// NewWSSource creates a Source that lazily dials url on the first Poll
// call and reconnects automatically after a read error.
func NewWSSource(name, url string, header http.Header) *WSSource {
	return &WSSource{name: name, url: url, header: header}
}

func (s *WSSource) Name() string { return s.name }

// Poll dials the upstream connection if not already connected, then reads
// every frame available within pollReadTimeout.
func (s *WSSource) Poll(ctx context.Context) ([]pipeline.Message, error) {
	if s.conn == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", s.name, err)
		}
		s.conn = conn
	}

	var msgs []pipeline.Message
	for {
		s.conn.SetReadDeadline(time.Now().Add(pollReadTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return msgs, nil
			}
			s.conn.Close()
			s.conn = nil
			return msgs, fmt.Errorf("%s read: %w", s.name, err)
		}

		msg, err := decodeFrame(data)
		if err != nil {
			return msgs, fmt.Errorf("%s decode: %w", s.name, err)
		}
		msgs = append(msgs, msg)
	}
}

// Close releases the underlying connection, if any.
func (s *WSSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// decodeFrame classifies one upstream frame and decodes it into a
// pipeline.Message. Raw result-monitor text is recognized by its leading
// "$" per §6's line grammar; everything else must be a JSON envelope
// {"type": ..., "payload": ...} naming one of the other inbound types.
func decodeFrame(data []byte) (pipeline.Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '$' {
		return pipeline.Message{Type: pipeline.MsgRMonitor, Data: string(data)}, nil
	}

	var envelope struct {
		Type    pipeline.MessageType `json:"type"`
		Payload json.RawMessage      `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return pipeline.Message{}, err
	}

	msg := pipeline.Message{Type: envelope.Type}
	switch envelope.Type {
	case pipeline.MsgMultiloop, pipeline.MsgX2Pass, pipeline.MsgX2Loop:
		var passings []pipeline.Passing
		if err := json.Unmarshal(envelope.Payload, &passings); err != nil {
			return pipeline.Message{}, err
		}
		msg.Payload = passings

	case pipeline.MsgFlags:
		var flags []session.FlagDuration
		if err := json.Unmarshal(envelope.Payload, &flags); err != nil {
			return pipeline.Message{}, err
		}
		msg.Payload = flags

	case pipeline.MsgSessionChanged:
		var p pipeline.SessionChangedPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return pipeline.Message{}, err
		}
		msg.Payload = p

	case pipeline.MsgConfigChanged:
		var p pipeline.ConfigChangedPayload
		if err := json.Unmarshal(envelope.Payload, &p); err != nil {
			return pipeline.Message{}, err
		}
		msg.Payload = p

	case pipeline.MsgCompetitors:
		var records []pipeline.CompetitorRecord
		if err := json.Unmarshal(envelope.Payload, &records); err != nil {
			return pipeline.Message{}, err
		}
		msg.Payload = records

	default:
		return pipeline.Message{}, fmt.Errorf("unknown message type %q", envelope.Type)
	}
	return msg, nil
}
