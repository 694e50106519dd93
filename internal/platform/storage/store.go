// Package storage persists conversation transcripts and detection history in
// a local SQLite database.
package storage

import (
	"context"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"maitri-console-go/internal/domain/emotion"
	"maitri-console-go/internal/platform/errors"
)

// Store wraps the gorm handle behind the two repositories the gateway needs.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at dsn and migrates the
// schema. Use ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to open database", err)
	}

	if err := db.AutoMigrate(&TranscriptMessage{}, &Detection{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.migrate", "failed to migrate schema", err)
	}

	return &Store{db: db}, nil
}

// SaveMessage appends one transcript line. Replays of an already stored
// message id are ignored at the insert itself (ON CONFLICT DO NOTHING); the
// sqlite driver does not translate constraint violations into a sentinel the
// caller could check after the fact.
func (s *Store) SaveMessage(ctx context.Context, msg *TranscriptMessage) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).
		Create(msg).Error
	if err != nil {
		return errors.Wrap(errors.KindStorage, "transcript.save", "failed to save message", err)
	}
	return nil
}

// ListMessages returns the transcript of one session in insertion order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]TranscriptMessage, error) {
	var messages []TranscriptMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id asc").
		Find(&messages).Error
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "transcript.list", "failed to list messages", err)
	}
	return messages, nil
}

// SaveDetection archives a completed analysis result.
func (s *Store) SaveDetection(ctx context.Context, result *emotion.Result) error {
	var scores datatypes.JSON
	if len(result.Scores) > 0 {
		raw, err := sonic.Marshal(result.Scores)
		if err != nil {
			return errors.Wrap(errors.KindStorage, "detection.save", "failed to encode scores", err)
		}
		scores = datatypes.JSON(raw)
	}

	model := &Detection{
		Modality:   string(result.Modality),
		Label:      result.DominantLabel,
		Confidence: result.Confidence,
		Scores:     scores,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "detection.save", "failed to save detection", err)
	}
	return nil
}

// ListDetections returns the most recent detections, newest first.
func (s *Store) ListDetections(ctx context.Context, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 50
	}
	var detections []Detection
	err := s.db.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&detections).Error
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "detection.list", "failed to list detections", err)
	}
	return detections, nil
}
