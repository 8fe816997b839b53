package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/signage/internal/models"
	"github.com/your-org/signage/internal/observability"
	"github.com/your-org/signage/internal/store"
)

const (
	activeKeyPrefix   = "trigger:active:"
	throttleKeyPrefix = "trigger:throttle:"
)

// DecisionType is the outcome of one trigger/face transition.
type DecisionType string

const (
	DecisionStart DecisionType = "start"
	DecisionEnd   DecisionType = "end"
)

// Decision tells the caller to notify a player that a trigger started or
// ended firing.
type Decision struct {
	Type      DecisionType
	TriggerID string
	PlayerID  string
}

// Engine evaluates a player's trigger rules against the faces in one frame.
// Active and throttle marks live in the shared store under TTL-scoped keys,
// so a player going silent cleans itself up.
//
// The active check and the subsequent mark write are separate single-key
// operations. Two concurrent evaluations for the same player can both
// observe "not active" and both emit a start; per-player serialization
// upstream is the only way to rule that out, and this engine does not
// impose it.
type Engine struct {
	store     *store.Store
	throttle  time.Duration
	activeTTL time.Duration

	// now is swappable for tests.
	now func() time.Time
}

func NewEngine(s *store.Store, throttle, activeTTL time.Duration) *Engine {
	return &Engine{
		store:     s,
		throttle:  throttle,
		activeTTL: activeTTL,
		now:       time.Now,
	}
}

// Evaluate returns start/end decisions for one frame. It never fails:
// unexpected store errors degrade to fewer (or no) decisions so that frame
// forwarding is never blocked on trigger state.
func (e *Engine) Evaluate(ctx context.Context, triggers []models.Trigger, frame *models.Frame, state *models.PlayerState) []Decision {
	if state == nil || state.PlayerID == "" || frame == nil || len(frame.FaceDetections) == 0 || len(triggers) == 0 {
		return nil
	}

	playerID := state.PlayerID
	active := e.activeTriggers(ctx, playerID)
	seen := make(map[string]bool)

	var decisions []Decision

	for _, face := range frame.FaceDetections {
		faceID := 0
		if face.FaceID != nil {
			faceID = *face.FaceID
		}

		for _, trig := range triggers {
			if trig.ID == "" {
				continue
			}

			pairKey := trig.ID + ":" + strconv.Itoa(faceID)
			isActive := active[pairKey]

			if matches(face, trig) {
				seen[pairKey] = true

				if !isActive && !e.isThrottled(ctx, playerID, trig.ID, faceID) {
					decisions = append(decisions, Decision{Type: DecisionStart, TriggerID: trig.ID, PlayerID: playerID})
					e.setActive(ctx, playerID, trig.ID, faceID)
					e.setThrottle(ctx, playerID, trig.ID, faceID)
					active[pairKey] = true
					observability.TriggerDecisions.WithLabelValues("start").Inc()

					slog.Debug("trigger activated", "playerId", playerID, "triggerId", trig.ID, "faceId", faceID)
				}
			} else if isActive {
				decisions = append(decisions, Decision{Type: DecisionEnd, TriggerID: trig.ID, PlayerID: playerID})
				e.removeActive(ctx, playerID, trig.ID, faceID)
				delete(active, pairKey)
				observability.TriggerDecisions.WithLabelValues("end").Inc()

				slog.Debug("trigger deactivated", "playerId", playerID, "triggerId", trig.ID, "faceId", faceID)
			}
		}
	}

	// Reconciliation: any mark not matched by a face in this frame means the
	// face left the frame. End it now instead of waiting for the TTL.
	for pairKey := range active {
		if seen[pairKey] {
			continue
		}
		triggerID, faceID, ok := splitPairKey(pairKey)
		if !ok {
			continue
		}

		decisions = append(decisions, Decision{Type: DecisionEnd, TriggerID: triggerID, PlayerID: playerID})
		e.removeActive(ctx, playerID, triggerID, faceID)
		observability.TriggerDecisions.WithLabelValues("end").Inc()

		slog.Debug("trigger ended, face disappeared", "playerId", playerID, "triggerId", triggerID, "faceId", faceID)
	}

	return decisions
}

// matches checks the predicate conjunction. Any configured predicate that
// fails short-circuits; an absent predicate passes.
func matches(face models.FaceDetection, trig models.Trigger) bool {
	if trig.Age != nil {
		if face.Age == nil || *face.Age < trig.Age[0] || *face.Age > trig.Age[1] {
			return false
		}
		if trig.AgeConfidence != nil && face.AgeConfidence < *trig.AgeConfidence {
			return false
		}
	}

	if trig.Gender != nil {
		expected := 1
		if *trig.Gender == "male" {
			expected = 0
		}
		if face.Gender == nil || *face.Gender != expected {
			return false
		}
		if trig.GenderConfidence != nil && face.GenderConfidence < *trig.GenderConfidence {
			return false
		}
	}

	if trig.Emotion != nil {
		if face.Emotion == nil || !containsInt(trig.Emotion, *face.Emotion) {
			return false
		}
		if trig.EmotionConfidence != nil && face.EmotionConfidence < *trig.EmotionConfidence {
			return false
		}
	}

	if trig.DwellTime != nil && int(face.DwellTime) < *trig.DwellTime {
		return false
	}

	if trig.AttentionTime != nil && int(face.AttentionTime) < *trig.AttentionTime {
		return false
	}

	if trig.Glasses != nil {
		expected := 0
		if *trig.Glasses == "glasses" {
			expected = 1
		}
		if face.Glasses == nil || *face.Glasses != expected {
			return false
		}
		if trig.GlassesConfidence != nil && face.GlassesConfidence < *trig.GlassesConfidence {
			return false
		}
	}

	if trig.FirstSeen != nil && *trig.FirstSeen && face.IsLastTimeSeen {
		return false
	}

	return true
}

func containsInt(s []int, v int) bool {
	for _, n := range s {
		if n == v {
			return true
		}
	}
	return false
}

// activeTriggers scans the player's active marks and returns the set of
// "triggerId:faceId" pairs currently firing.
func (e *Engine) activeTriggers(ctx context.Context, playerID string) map[string]bool {
	pattern := activeKeyPrefix + playerID + ":*"
	keys, err := e.store.Keys(ctx, pattern)
	if err != nil {
		slog.Error("scan active triggers", "playerId", playerID, "error", err)
		return map[string]bool{}
	}

	prefix := activeKeyPrefix + playerID + ":"
	active := make(map[string]bool, len(keys))
	for _, key := range keys {
		pair := strings.TrimPrefix(key, prefix)
		if pair != key && pair != "" {
			active[pair] = true
		}
	}
	return active
}

func (e *Engine) isThrottled(ctx context.Context, playerID, triggerID string, faceID int) bool {
	key := throttleKey(playerID, triggerID, faceID)
	raw, found, err := e.store.Get(ctx, key)
	if err != nil {
		slog.Error("check throttle", "playerId", playerID, "triggerId", triggerID, "faceId", faceID, "error", err)
		return false
	}
	if !found {
		return false
	}

	lastFireMs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return e.now().UnixMilli()-lastFireMs < e.throttle.Milliseconds()
}

func (e *Engine) setThrottle(ctx context.Context, playerID, triggerID string, faceID int) {
	key := throttleKey(playerID, triggerID, faceID)
	ttl := time.Duration((e.throttle.Milliseconds()+999)/1000) * time.Second
	value := strconv.FormatInt(e.now().UnixMilli(), 10)
	if err := e.store.SetEX(ctx, key, value, ttl); err != nil {
		slog.Error("set throttle", "playerId", playerID, "triggerId", triggerID, "faceId", faceID, "error", err)
	}
}

func (e *Engine) setActive(ctx context.Context, playerID, triggerID string, faceID int) {
	key := activeKey(playerID, triggerID, faceID)
	value := strconv.FormatInt(e.now().UnixMilli(), 10)
	if err := e.store.SetEX(ctx, key, value, e.activeTTL); err != nil {
		slog.Error("set active trigger", "playerId", playerID, "triggerId", triggerID, "faceId", faceID, "error", err)
	}
}

func (e *Engine) removeActive(ctx context.Context, playerID, triggerID string, faceID int) {
	if err := e.store.Del(ctx, activeKey(playerID, triggerID, faceID)); err != nil {
		slog.Error("remove active trigger", "playerId", playerID, "triggerId", triggerID, "faceId", faceID, "error", err)
	}
}

func activeKey(playerID, triggerID string, faceID int) string {
	return fmt.Sprintf("%s%s:%s:%d", activeKeyPrefix, playerID, triggerID, faceID)
}

func throttleKey(playerID, triggerID string, faceID int) string {
	return fmt.Sprintf("%s%s:%s:%d", throttleKeyPrefix, playerID, triggerID, faceID)
}

// splitPairKey splits "triggerId:faceId"; the face id is the final segment
// so trigger ids containing ':' keep working.
func splitPairKey(pair string) (string, int, bool) {
	idx := strings.LastIndex(pair, ":")
	if idx <= 0 {
		return "", 0, false
	}
	faceID, err := strconv.Atoi(pair[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return pair[:idx], faceID, true
}
