package player

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/your-org/signage/internal/models"
	"github.com/your-org/signage/internal/store"
)

const (
	stateKeyPrefix    = "player:state:"
	triggersKeyPrefix = "player:triggers:"
	cameraMapKey      = "camera:player"
)

// Directory resolves player identity and holds per-player state and trigger
// rules in the shared store. Storage failures are logged and surfaced as
// not-found or no-op: a broken store must never fail frame ingestion.
type Directory struct {
	store *store.Store
}

func NewDirectory(s *store.Store) *Directory {
	return &Directory{store: s}
}

// Resolve returns the player id for a frame. An explicit playerUUID wins
// when a state exists for it; otherwise the camera binding is consulted.
// Returns "" when neither resolves.
func (d *Directory) Resolve(ctx context.Context, cameraID, playerUUID string) string {
	if playerUUID != "" {
		if state := d.GetState(ctx, playerUUID); state != nil {
			return playerUUID
		}
	}

	if cameraID != "" {
		playerID, found, err := d.store.HGet(ctx, cameraMapKey, cameraID)
		if err != nil {
			slog.Error("resolve camera binding", "cameraId", cameraID, "error", err)
			return ""
		}
		if found {
			return playerID
		}
	}

	return ""
}

func (d *Directory) GetState(ctx context.Context, playerID string) *models.PlayerState {
	raw, found, err := d.store.Get(ctx, stateKeyPrefix+playerID)
	if err != nil {
		slog.Error("get player state", "playerId", playerID, "error", err)
		return nil
	}
	if !found {
		return nil
	}

	var state models.PlayerState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		slog.Warn("decode player state", "playerId", playerID, "error", err)
		return nil
	}
	return &state
}

// SetState overwrites the player's state wholesale.
func (d *Directory) SetState(ctx context.Context, playerID string, state models.PlayerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		slog.Error("encode player state", "playerId", playerID, "error", err)
		return err
	}
	if err := d.store.Set(ctx, stateKeyPrefix+playerID, string(data)); err != nil {
		slog.Error("save player state", "playerId", playerID, "error", err)
		return err
	}

	slog.Debug("player state updated", "playerId", playerID, "contentCount", len(state.Content))
	return nil
}

// BindCamera maps a camera id to a player id, last writer wins.
func (d *Directory) BindCamera(ctx context.Context, cameraID, playerID string) error {
	if err := d.store.HSet(ctx, cameraMapKey, cameraID, playerID); err != nil {
		slog.Error("bind camera", "cameraId", cameraID, "playerId", playerID, "error", err)
		return err
	}
	slog.Debug("camera bound to player", "cameraId", cameraID, "playerId", playerID)
	return nil
}

// GetTriggers loads the player's active trigger-rule set.
func (d *Directory) GetTriggers(ctx context.Context, playerID string) []models.Trigger {
	raw, found, err := d.store.Get(ctx, triggersKeyPrefix+playerID)
	if err != nil {
		slog.Error("get player triggers", "playerId", playerID, "error", err)
		return nil
	}
	if !found {
		return nil
	}

	triggers := models.DecodeTriggers([]byte(raw))
	if triggers == nil {
		slog.Warn("decode player triggers", "playerId", playerID)
	}
	return triggers
}

// SetTriggers replaces the player's trigger-rule set with the given raw
// entries (already validated by the caller). Full replace, last writer wins.
func (d *Directory) SetTriggers(ctx context.Context, playerID string, triggers []json.RawMessage) error {
	data, err := json.Marshal(triggers)
	if err != nil {
		slog.Error("encode player triggers", "playerId", playerID, "error", err)
		return err
	}
	if err := d.store.Set(ctx, triggersKeyPrefix+playerID, string(data)); err != nil {
		slog.Error("save player triggers", "playerId", playerID, "error", err)
		return err
	}

	slog.Info("player triggers updated", "playerId", playerID, "triggerCount", len(triggers))
	return nil
}
