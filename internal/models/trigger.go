package models

import "encoding/json"

// Trigger is a named predicate over face attributes. Every field except ID
// is optional; an absent predicate is vacuously satisfied, so a trigger
// with only an ID matches every face.
type Trigger struct {
	ID                string   `json:"id"`
	Age               *[2]int  `json:"age,omitempty"`
	AgeConfidence     *float64 `json:"ageConfidence,omitempty"`
	Gender            *string  `json:"gender,omitempty"`
	GenderConfidence  *float64 `json:"genderConfidence,omitempty"`
	Emotion           []int    `json:"emotion,omitempty"`
	EmotionConfidence *float64 `json:"emotionConfidence,omitempty"`
	DwellTime         *int     `json:"dwellTime,omitempty"`
	AttentionTime     *int     `json:"attentionTime,omitempty"`
	Glasses           *string  `json:"glasses,omitempty"`
	GlassesConfidence *float64 `json:"glassesConfidence,omitempty"`
	FirstSeen         *bool    `json:"firstSeen,omitempty"`
}

// DecodeTriggers parses a stored trigger-rule list. Like frame decoding it
// is tolerant: a wrongly-typed predicate becomes absent rather than
// discarding the trigger, and entries without a string id are dropped.
func DecodeTriggers(raw []byte) []Trigger {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	triggers := make([]Trigger, 0, len(items))
	for _, m := range items {
		id, ok := m["id"].(string)
		if !ok || id == "" {
			continue
		}
		triggers = append(triggers, triggerFromMap(id, m))
	}
	return triggers
}

func triggerFromMap(id string, m map[string]any) Trigger {
	t := Trigger{ID: id}

	if arr, ok := m["age"].([]any); ok && len(arr) == 2 {
		lo, okLo := asInt64(arr[0])
		hi, okHi := asInt64(arr[1])
		if okLo && okHi {
			t.Age = &[2]int{int(lo), int(hi)}
		}
	}
	t.AgeConfidence = asFloatPtr(m["ageConfidence"])

	if g, ok := m["gender"].(string); ok {
		t.Gender = &g
	}
	t.GenderConfidence = asFloatPtr(m["genderConfidence"])

	if arr, ok := m["emotion"].([]any); ok {
		// Keep an empty set distinct from an absent predicate: an empty
		// set matches no face.
		t.Emotion = make([]int, 0, len(arr))
		for _, e := range arr {
			if n, ok := asInt64(e); ok {
				t.Emotion = append(t.Emotion, int(n))
			}
		}
	}
	t.EmotionConfidence = asFloatPtr(m["emotionConfidence"])

	if p := asIntPtr(m["dwellTime"]); p != nil {
		t.DwellTime = p
	}
	if p := asIntPtr(m["attentionTime"]); p != nil {
		t.AttentionTime = p
	}

	if g, ok := m["glasses"].(string); ok {
		t.Glasses = &g
	}
	t.GlassesConfidence = asFloatPtr(m["glassesConfidence"])

	if b, ok := m["firstSeen"].(bool); ok {
		t.FirstSeen = &b
	}

	return t
}
