package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/your-org/signage/internal/observability"
	"github.com/your-org/signage/internal/store"
	"github.com/your-org/signage/pkg/dto"
)

const (
	ssePrefix = "sse:queue:"
	wsPrefix  = "ws:queue:"
)

// Broker publishes typed events into a per-player delivery queue. Each
// transport has its own broker (and so its own queue and backlog); a single
// trigger decision is published to both independently.
type Broker struct {
	store     *store.Store
	prefix    string
	transport string
}

// NewSSEBroker feeds the polling (SSE) transport.
func NewSSEBroker(s *store.Store) *Broker {
	return &Broker{store: s, prefix: ssePrefix, transport: "sse"}
}

// NewWSBroker feeds the persistent-socket transport.
func NewWSBroker(s *store.Store) *Broker {
	return &Broker{store: s, prefix: wsPrefix, transport: "ws"}
}

// QueueKey returns the delivery queue key for a player.
func (b *Broker) QueueKey(playerID string) string {
	return b.prefix + playerID
}

// Publish appends a {type, data} envelope to the player's queue.
// Fire-and-forget: serialization or store failures are logged and
// swallowed, there is no retry.
func (b *Broker) Publish(ctx context.Context, playerID, eventType string, data any) {
	raw, err := encodeData(data)
	if err == nil {
		var message []byte
		message, err = json.Marshal(dto.Envelope{Type: eventType, Data: raw})
		if err == nil {
			b.push(ctx, playerID, eventType, message)
			return
		}
	}
	slog.Error("encode event message", "transport", b.transport, "playerId", playerID, "eventType", eventType, "error", err)
}

func (b *Broker) push(ctx context.Context, playerID, eventType string, message []byte) {
	if err := b.store.RPush(ctx, b.QueueKey(playerID), string(message)); err != nil {
		slog.Error("publish event", "transport", b.transport, "playerId", playerID, "eventType", eventType, "error", err)
		return
	}

	observability.EventsPublished.WithLabelValues(b.transport).Inc()
	slog.Debug("event published", "transport", b.transport, "playerId", playerID, "eventType", eventType)
}

// BlockingPop waits up to timeout for one envelope on the player's queue.
// Returns nil on timeout, store failure or an undecodable payload (all
// logged); the SSE loop treats nil as "emit keepalive if due".
func (b *Broker) BlockingPop(ctx context.Context, playerID string, timeout time.Duration) *dto.Envelope {
	payload, found, err := b.store.BLPop(ctx, b.QueueKey(playerID), timeout)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("blocking pop", "transport", b.transport, "playerId", playerID, "error", err)
		}
		return nil
	}
	if !found {
		return nil
	}

	var env dto.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.Warn("decode queued event", "transport", b.transport, "playerId", playerID, "error", err)
		return nil
	}
	return &env
}

// Pop removes one raw payload without blocking; used by the socket drain,
// which relays the stored bytes verbatim.
func (b *Broker) Pop(ctx context.Context, playerID string) (string, bool) {
	payload, found, err := b.store.LPop(ctx, b.QueueKey(playerID))
	if err != nil {
		slog.Error("pop event", "transport", b.transport, "playerId", playerID, "error", err)
		return "", false
	}
	return payload, found
}

func encodeData(data any) (json.RawMessage, error) {
	if data == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}
