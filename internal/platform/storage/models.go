package storage

import (
	"time"

	"gorm.io/datatypes"
)

// TranscriptMessage is one line of conversation history, persisted so a
// session survives a gateway restart.
type TranscriptMessage struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	SessionID string         `gorm:"index;not null" json:"session_id"`
	MessageID string         `gorm:"uniqueIndex;not null" json:"message_id"`
	Role      string         `gorm:"not null" json:"role"`
	Text      string         `gorm:"type:text" json:"text"`
	AudioURL  string         `json:"audio_url,omitempty"`
	Extra     datatypes.JSON `json:"extra,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (TranscriptMessage) TableName() string {
	return "transcript_messages"
}

// Detection archives a completed emotion analysis.
type Detection struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Modality   string         `gorm:"index;not null" json:"modality"`
	Label      string         `gorm:"not null" json:"label"`
	Confidence float64        `json:"confidence"`
	Scores     datatypes.JSON `json:"scores,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (Detection) TableName() string {
	return "detections"
}
