package eventbus

// Topics published on the process bus.
const (
	// EventEmotionDetected fires when a capture panel completes an analysis.
	EventEmotionDetected = "emotion:detected"
	// EventSessionSeeded fires when the session manager accepts a seed.
	EventSessionSeeded = "session:seeded"
	// EventPlaybackFinished fires after an assistant audio clip is delivered.
	EventPlaybackFinished = "playback:finished"
	// EventPanelChanged fires on every capture panel state transition.
	EventPanelChanged = "panel:changed"
	// EventChatChanged fires whenever the conversation history or pending
	// state changes.
	EventChatChanged = "chat:changed"
)

// EmotionDetectedEvent is the payload of EventEmotionDetected.
type EmotionDetectedEvent struct {
	Modality   string  `json:"modality"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// PlaybackFinishedEvent is the payload of EventPlaybackFinished.
type PlaybackFinishedEvent struct {
	MessageID string `json:"message_id"`
	Err       string `json:"error,omitempty"`
}
