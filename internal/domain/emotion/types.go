package emotion

// Modality selects one of the two analysis channels.
type Modality string

const (
	Face  Modality = "face"
	Voice Modality = "voice"
)

// Result is the normalized analysis outcome. Percentage fields arrive on a
// 0-100 scale from the backends and pass through unmodified. Labels are an
// open set supplied by the remote service, not a fixed enum.
type Result struct {
	Modality      Modality
	DominantLabel string
	Confidence    float64
	// Scores holds the per-label breakdown (face only).
	Scores map[string]float64
	// Energy and PitchHz are voice-only acoustic features.
	Energy  float64
	PitchHz float64
}

type faceResponse struct {
	DominantEmotion string             `json:"dominant_emotion"`
	Confidence      float64            `json:"confidence"`
	AllEmotions     map[string]float64 `json:"all_emotions"`
}

type voiceResponse struct {
	Emotion      string  `json:"emotion"`
	EmotionLower string  `json:"emotion_lower"`
	Confidence   float64 `json:"confidence"`
	Energy       float64 `json:"energy"`
	Pitch        float64 `json:"pitch"`
}
