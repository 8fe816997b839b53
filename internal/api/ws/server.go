package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/signage/internal/broker"
	"github.com/your-org/signage/internal/config"
	"github.com/your-org/signage/internal/models"
	"github.com/your-org/signage/internal/observability"
	"github.com/your-org/signage/internal/player"
	"github.com/your-org/signage/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// client is one connected player socket. Writes go through writeMu so the
// drain ticker and the read loop's acks never interleave frames.
type client struct {
	id       string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	playerID string
}

func (c *client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server maintains the registry of connected players and drains their
// queued events on a shared ticker.
type Server struct {
	directory *player.Directory
	events    *broker.Broker

	drainInterval time.Duration
	maxPerTick    int

	mu      sync.RWMutex
	clients map[string]*client // keyed by connection id
}

func NewServer(directory *player.Directory, events *broker.Broker, cfg config.SocketConfig) *Server {
	return &Server{
		directory:     directory,
		events:        events,
		drainInterval: cfg.DrainInterval(),
		maxPerTick:    cfg.MaxMessagesPerTick,
		clients:       make(map[string]*client),
	}
}

// Run drains queued events to connected players until ctx is cancelled.
// Call this in a goroutine.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// drainTarget snapshots a client's identity while s.mu is held, so the
// read loop can rebind playerID without racing the drain tick.
type drainTarget struct {
	cl       *client
	playerID string
}

// drain pops up to maxPerTick queued events per identified player and
// forwards them. A write failure skips the rest of that client's tick;
// the read loop notices the dead connection and unregisters it.
func (s *Server) drain(ctx context.Context) {
	s.mu.RLock()
	targets := make([]drainTarget, 0, len(s.clients))
	for _, c := range s.clients {
		if c.playerID != "" {
			targets = append(targets, drainTarget{cl: c, playerID: c.playerID})
		}
	}
	s.mu.RUnlock()

	for _, tgt := range targets {
		for i := 0; i < s.maxPerTick; i++ {
			raw, ok := s.events.Pop(ctx, tgt.playerID)
			if !ok {
				break
			}
			tgt.cl.writeMu.Lock()
			err := tgt.cl.conn.WriteMessage(websocket.TextMessage, []byte(raw))
			tgt.cl.writeMu.Unlock()
			if err != nil {
				slog.Debug("ws event write failed", "playerId", tgt.playerID, "error", err)
				break
			}
		}
	}
}

// HandleWS upgrades the connection and serves the player message loop.
func (s *Server) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	cl := &client{
		id:   uuid.NewString(),
		conn: conn,
	}

	s.mu.Lock()
	s.clients[cl.id] = cl
	s.mu.Unlock()
	observability.WSConnections.Inc()
	slog.Debug("ws client connected", "connId", cl.id)

	// The request context dies when the handler returns, so the read
	// loop runs against the background context for store operations.
	go s.readLoop(context.Background(), cl)
}

func (s *Server) readLoop(ctx context.Context, cl *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, cl.id)
		s.mu.Unlock()
		cl.conn.Close()
		observability.WSConnections.Dec()
		slog.Debug("ws client disconnected", "connId", cl.id, "playerId", cl.playerID)
	}()

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(ctx, cl, data)
	}
}

// inbound is the envelope players send. Replies carry the inbound type
// as their ref so the player knows which message was answered.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) dispatch(ctx context.Context, cl *client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("ws malformed message", "connId", cl.id, "error", err)
		return
	}

	switch msg.Type {
	case dto.TypePlayerHello:
		s.handleHello(cl, msg)
	case dto.TypePlayerState:
		s.handleState(ctx, cl, msg)
	case dto.TypePlayerTriggers:
		s.handleTriggers(ctx, cl, msg)
	default:
		slog.Debug("ws unknown message type", "type", msg.Type, "connId", cl.id)
	}
}

func (s *Server) handleHello(cl *client, msg inbound) {
	var hello dto.HelloData
	if err := json.Unmarshal(msg.Data, &hello); err != nil || hello.PlayerID == "" {
		slog.Warn("ws hello without playerId", "connId", cl.id)
	} else {
		s.mu.Lock()
		cl.playerID = hello.PlayerID
		s.mu.Unlock()
		slog.Info("ws player identified", "playerId", hello.PlayerID, "connId", cl.id)
	}

	s.sendAck(cl, dto.TypePlayerHello, nil, nil)
}

func (s *Server) handleState(ctx context.Context, cl *client, msg inbound) {
	var state models.PlayerState
	if err := json.Unmarshal(msg.Data, &state); err != nil || state.PlayerID == "" {
		s.sendError(cl, dto.TypePlayerState, "state requires playerId")
		return
	}
	if state.Timestamp == 0 {
		state.Timestamp = time.Now().Unix()
	}

	if err := s.directory.SetState(ctx, state.PlayerID, state); err != nil {
		s.sendError(cl, dto.TypePlayerState, "failed to store state")
		return
	}

	if cl.playerID == "" {
		s.mu.Lock()
		cl.playerID = state.PlayerID
		s.mu.Unlock()
	}

	s.sendAck(cl, dto.TypePlayerState, nil, nil)
}

func (s *Server) handleTriggers(ctx context.Context, cl *client, msg inbound) {
	var payload dto.TriggersData
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.PlayerID == "" {
		slog.Warn("ws triggers without playerId", "connId", cl.id)
		return
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(payload.Triggers, &entries); err != nil {
		slog.Warn("ws triggers payload is not a list", "playerId", payload.PlayerID)
		return
	}

	accepted, rejected := 0, 0
	kept := make([]json.RawMessage, 0, len(entries))
	for _, entry := range entries {
		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(entry, &probe); err != nil || probe.ID == "" {
			rejected++
			continue
		}
		kept = append(kept, entry)
		accepted++
	}

	if err := s.directory.SetTriggers(ctx, payload.PlayerID, kept); err != nil {
		s.sendError(cl, dto.TypePlayerTriggers, "failed to store triggers")
		return
	}

	s.sendAck(cl, dto.TypePlayerTriggers, &accepted, &rejected)
	slog.Info("ws triggers replaced", "playerId", payload.PlayerID, "accepted", accepted, "rejected", rejected)
}

func (s *Server) sendAck(cl *client, ref string, accepted, rejected *int) {
	data, _ := json.Marshal(dto.Ack{Ref: ref, Accepted: accepted, Rejected: rejected})
	if err := cl.send(dto.Envelope{Type: dto.TypeAck, Data: data}); err != nil {
		slog.Debug("ws ack write failed", "connId", cl.id, "error", err)
	}
}

func (s *Server) sendError(cl *client, ref, reason string) {
	data, _ := json.Marshal(dto.ErrorData{Ref: ref, Error: reason})
	if err := cl.send(dto.Envelope{Type: dto.TypeError, Data: data}); err != nil {
		slog.Debug("ws error write failed", "connId", cl.id, "error", err)
	}
}
