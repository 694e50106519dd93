package conversation

// StartResult is the reply to a session initiation.
type StartResult struct {
	SessionID     string `json:"conversation_id"`
	Emotion       string `json:"emotion"`
	AssistantText string `json:"response_text"`
	// AudioURL is a server-relative path. It may be empty when no speech
	// synthesis is available; that is not an error.
	AudioURL string `json:"audio_url"`
}

// TextResult is the reply to a typed turn.
type TextResult struct {
	SessionID     string `json:"conversation_id"`
	AssistantText string `json:"response_text"`
	AudioURL      string `json:"audio_url"`
}

// VoiceResult is the reply to a voice turn. The server performs the
// transcription; the transcript becomes the user's message content.
type VoiceResult struct {
	SessionID     string `json:"conversation_id"`
	Transcript    string `json:"transcription"`
	AssistantText string `json:"response_text"`
	AudioURL      string `json:"audio_url"`
}
