package dto

import "encoding/json"

// Socket message and queued-event types. The delivery queues and the player
// socket protocol share the same {type, data} envelope.
const (
	TypePlayerHello    = "player.hello"
	TypePlayerState    = "player.state"
	TypePlayerTriggers = "player.triggers"

	TypeTriggerStart = "event.triggerStart"
	TypeTriggerEnd   = "event.triggerEnd"
	TypeAck          = "event.ack"
	TypeError        = "event.error"
)

// Envelope is the wire form of every event and socket message. Data stays
// raw until the type is known; unknown types are ignored for forward
// compatibility.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Ack acknowledges a socket message, naming the message type it answers.
type Ack struct {
	Ref      string `json:"ref"`
	Accepted *int   `json:"accepted,omitempty"`
	Rejected *int   `json:"rejected,omitempty"`
}

// ErrorData reports a failed socket message.
type ErrorData struct {
	Ref   string `json:"ref"`
	Error string `json:"error"`
}

// TriggerEvent is the payload of event.triggerStart / event.triggerEnd.
type TriggerEvent struct {
	ID string `json:"id"`
}

// HelloData is the payload of player.hello.
type HelloData struct {
	PlayerID string `json:"playerId"`
}

// StateData is the payload of player.state (socket and HTTP variants).
type StateData struct {
	PlayerID  string       `json:"playerId"`
	Content   []ContentRef `json:"content"`
	Timestamp int64        `json:"timestamp"`
}

type ContentRef struct {
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
}

// TriggersData is the payload of player.triggers. The list stays raw so a
// non-list payload can be rejected with the player id intact and invalid
// entries can be dropped individually without failing the batch.
type TriggersData struct {
	PlayerID string          `json:"playerId"`
	Triggers json.RawMessage `json:"triggers"`
}
