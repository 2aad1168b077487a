package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/events"
)

// Frame is one discrete outbound message. ID, when set, is the encoded cursor
// a client can hand back to resume after this frame.
type Frame struct {
	Type string
	ID   string
	Data []byte
}

// FrameWriter writes frames to a single connection. Dispatcher never calls it
// concurrently.
type FrameWriter interface {
	WriteFrame(Frame) error
	// WriteKeepalive writes a frame with no semantic content.
	WriteKeepalive() error
}

// EntryFrame renders an entry as a typed frame. The payload is the entry's
// fields plus type, topic and entryId.
func EntryFrame(e eventlog.Entry, cursor eventlog.Cursor) (Frame, error) {
	typ := events.FrameType(e.Topic)
	payload := make(map[string]string, len(e.Fields)+3)
	for k, v := range e.Fields {
		payload[k] = v
	}
	payload["type"] = typ
	payload["topic"] = e.Topic
	payload["entryId"] = e.ID.String()

	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s/%d: %w", e.Topic, e.ID, err)
	}
	return Frame{Type: typ, ID: cursor.Encode(), Data: data}, nil
}

func connectedFrame(connID string, sub *Subscription) Frame {
	data, _ := json.Marshal(struct {
		Type         string   `json:"type"`
		ConnectionID string   `json:"connectionId"`
		Topics       []string `json:"topics"`
	}{events.FrameConnected, connID, sub.Topics})
	return Frame{Type: events.FrameConnected, ID: sub.Cursor.Encode(), Data: data}
}
