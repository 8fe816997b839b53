package ingest

import (
	"context"
	"log/slog"

	"github.com/your-org/signage/internal/broker"
	"github.com/your-org/signage/internal/models"
	"github.com/your-org/signage/internal/observability"
	"github.com/your-org/signage/internal/player"
	"github.com/your-org/signage/internal/storage"
	"github.com/your-org/signage/internal/trigger"
	"github.com/your-org/signage/pkg/dto"
)

// Pipeline orchestrates one incoming frame: validate, resolve the player,
// evaluate triggers, publish decisions to both transports, and return the
// enriched payload for archive forwarding. Frames are independent; there is
// no cross-frame ordering and no per-player serialization here.
type Pipeline struct {
	directory *player.Directory
	engine    *trigger.Engine
	sse       *broker.Broker
	ws        *broker.Broker
	snapshots *storage.SnapshotStore // nil disables snapshot persistence
}

func NewPipeline(directory *player.Directory, engine *trigger.Engine, sse, ws *broker.Broker, snapshots *storage.SnapshotStore) *Pipeline {
	return &Pipeline{
		directory: directory,
		engine:    engine,
		sse:       sse,
		ws:        ws,
		snapshots: snapshots,
	}
}

// ProcessFrame handles one raw frame record. It returns the enriched,
// image-stripped payload ready for forwarding, or nil when the frame fails
// validation. Trigger evaluation and event publishing are best-effort and
// never fail the frame.
func (p *Pipeline) ProcessFrame(ctx context.Context, raw []byte) *models.Frame {
	frame, err := models.DecodeFrame(raw)
	if err != nil {
		slog.Info("frame validation failed", "error", err)
		observability.FramesRejected.Inc()
		return nil
	}

	slog.Debug("processing frame", "playerUUID", frame.PlayerUUID, "faceCount", len(frame.FaceDetections), "timestamp", frame.Timestamp)

	playerID := p.directory.Resolve(ctx, frame.CameraID, frame.PlayerUUID)

	p.saveSnapshot(ctx, frame, playerID)
	// Image data never travels further than the snapshot store.
	frame.ImgData = ""

	var state *models.PlayerState
	if playerID != "" {
		if state = p.directory.GetState(ctx, playerID); state != nil {
			content := make([]models.PlayerContent, 0, len(state.Content))
			for _, c := range state.Content {
				content = append(content, models.PlayerContent{ID: c.ContentID, Type: c.ContentType})
			}
			frame.Player = &models.PlayerContext{PlayerID: state.PlayerID, Content: content}
		}
	}

	if state != nil {
		triggers := p.directory.GetTriggers(ctx, state.PlayerID)
		decisions := p.engine.Evaluate(ctx, triggers, frame, state)
		p.publishDecisions(ctx, decisions)
	}

	observability.FramesAccepted.Inc()
	return frame
}

func (p *Pipeline) publishDecisions(ctx context.Context, decisions []trigger.Decision) {
	for _, d := range decisions {
		eventType := dto.TypeTriggerEnd
		if d.Type == trigger.DecisionStart {
			eventType = dto.TypeTriggerStart
		}
		slog.Info(eventType, "id", d.TriggerID, "playerId", d.PlayerID)

		data := dto.TriggerEvent{ID: d.TriggerID}
		p.sse.Publish(ctx, d.PlayerID, eventType, data)
		p.ws.Publish(ctx, d.PlayerID, eventType, data)
	}
}

func (p *Pipeline) saveSnapshot(ctx context.Context, frame *models.Frame, playerID string) {
	if p.snapshots == nil || frame.ImgData == "" {
		return
	}

	owner := playerID
	if owner == "" {
		owner = frame.CameraID
	}
	if err := p.snapshots.SaveSnapshot(ctx, owner, frame.Timestamp, frame.ImgData); err != nil {
		slog.Warn("save frame snapshot", "playerId", playerID, "timestamp", frame.Timestamp, "error", err)
	}
}
