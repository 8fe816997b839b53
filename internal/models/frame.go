package models

import (
	"encoding/json"
	"errors"
	"strconv"
)

// ErrMissingTimestamp marks a frame that cannot be ingested at all.
var ErrMissingTimestamp = errors.New("frame has no timestamp")

// ContentRef is one entry of a player's content assignment.
type ContentRef struct {
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
}

// PlayerState is the last content-assignment report for a player.
// Overwritten wholesale on each update, never merged.
type PlayerState struct {
	PlayerID  string       `json:"playerId"`
	Content   []ContentRef `json:"content"`
	Timestamp int64        `json:"timestamp"`
}

// PlayerContext is the enrichment attached to outbound frame payloads.
type PlayerContext struct {
	PlayerID string          `json:"playerId"`
	Content  []PlayerContent `json:"content"`
}

type PlayerContent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// FaceDetection is one detected face within a frame. Numeric attributes are
// pointers where absence must stay distinguishable from zero; confidences
// default to 0 when missing.
type FaceDetection struct {
	FaceID            *int     `json:"faceID,omitempty"`
	Age               *int     `json:"age,omitempty"`
	AgeConfidence     float64  `json:"ageConfidence,omitempty"`
	Gender            *int     `json:"gender,omitempty"`
	GenderConfidence  float64  `json:"genderConfidence,omitempty"`
	DwellTime         float64  `json:"dwellTime,omitempty"`
	AttentionTime     float64  `json:"attentionTime,omitempty"`
	Emotion           *int     `json:"emotion,omitempty"`
	EmotionConfidence float64  `json:"emotionConfidence,omitempty"`
	Glasses           *int     `json:"glasses,omitempty"`
	GlassesConfidence float64  `json:"glassesConfidence,omitempty"`
	FirstTimeSeen     *int64   `json:"firstTimeSeen,omitempty"`
	IsLastTimeSeen    bool     `json:"isLastTimeSeen,omitempty"`
	X                 *float64 `json:"x,omitempty"`
	Y                 *float64 `json:"y,omitempty"`
	Width             *float64 `json:"width,omitempty"`
	Height            *float64 `json:"height,omitempty"`
}

// Frame is one timestamped detection report from a player or camera.
// ImgData holds the raw base64 image when the device sent one; it is never
// marshalled back out; the snapshot store is its only consumer.
type Frame struct {
	Timestamp      int64           `json:"timestamp"`
	PlayerUUID     string          `json:"playerUUID,omitempty"`
	CameraID       string          `json:"cameraId,omitempty"`
	ImgWidth       *int            `json:"imgWidth,omitempty"`
	ImgHeight      *int            `json:"imgHeight,omitempty"`
	FaceDetections []FaceDetection `json:"faceDetections"`
	Player         *PlayerContext  `json:"player,omitempty"`
	ImgData        string          `json:"-"`
}

// DecodeFrame parses one frame from its wire form. Decoding is tolerant:
// a missing or wrongly-typed optional field becomes absent instead of
// failing the frame. Only an unparseable document or a missing timestamp
// rejects the frame.
func DecodeFrame(raw []byte) (*Frame, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return FrameFromMap(m)
}

// FrameFromMap builds a Frame from an already-decoded JSON object.
func FrameFromMap(m map[string]any) (*Frame, error) {
	ts, ok := asInt64(m["timestamp"])
	if !ok {
		return nil, ErrMissingTimestamp
	}

	f := &Frame{
		Timestamp:  ts,
		PlayerUUID: asString(m["playerUUID"]),
		CameraID:   asString(m["cameraId"]),
		ImgWidth:   asIntPtr(m["imgWidth"]),
		ImgHeight:  asIntPtr(m["imgHeight"]),
		ImgData:    asString(m["imgDataBase64"]),
	}

	if faces, ok := m["faceDetections"].([]any); ok {
		f.FaceDetections = make([]FaceDetection, 0, len(faces))
		for _, item := range faces {
			fm, ok := item.(map[string]any)
			if !ok {
				continue
			}
			f.FaceDetections = append(f.FaceDetections, decodeFace(fm))
		}
	}

	return f, nil
}

func decodeFace(m map[string]any) FaceDetection {
	return FaceDetection{
		FaceID:            asIntPtr(m["faceID"]),
		Age:               asIntPtr(m["age"]),
		AgeConfidence:     asFloat(m["ageConfidence"]),
		Gender:            asIntPtr(m["gender"]),
		GenderConfidence:  asFloat(m["genderConfidence"]),
		DwellTime:         asFloat(m["dwellTime"]),
		AttentionTime:     asFloat(m["attentionTime"]),
		Emotion:           asIntPtr(m["emotion"]),
		EmotionConfidence: asFloat(m["emotionConfidence"]),
		Glasses:           normalizeGlasses(m["glasses"]),
		GlassesConfidence: asFloat(m["glassesConfidence"]),
		FirstTimeSeen:     asInt64Ptr(m["firstTimeSeen"]),
		IsLastTimeSeen:    truthy(m["isLastTimeSeen"]),
		X:                 asFloatPtr(m["x"]),
		Y:                 asFloatPtr(m["y"]),
		Width:             asFloatPtr(m["width"]),
		Height:            asFloatPtr(m["height"]),
	}
}

// normalizeGlasses folds the loosely-typed wire value (bool, number or
// string) into 0/1, or absent when unrecognized.
func normalizeGlasses(v any) *int {
	switch g := v.(type) {
	case bool:
		n := 0
		if g {
			n = 1
		}
		return &n
	case float64:
		n := 0
		if g != 0 {
			n = 1
		}
		return &n
	case string:
		switch g {
		case "1", "glasses", "true":
			n := 1
			return &n
		case "0", "no_glasses", "false":
			n := 0
			return &n
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "0" && t != "false"
	}
	return false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	f, _ := asFloatOK(v)
	return f
}

func asFloatOK(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	f, ok := asFloatOK(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func asIntPtr(v any) *int {
	f, ok := asFloatOK(v)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}

func asInt64Ptr(v any) *int64 {
	n, ok := asInt64(v)
	if !ok {
		return nil
	}
	return &n
}

func asFloatPtr(v any) *float64 {
	f, ok := asFloatOK(v)
	if !ok {
		return nil
	}
	return &f
}
