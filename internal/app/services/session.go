package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"maitri-console-go/internal/domain/conversation"
	"maitri-console-go/internal/domain/eventbus"
	"maitri-console-go/internal/domain/media"
	"maitri-console-go/internal/domain/remote"
	"maitri-console-go/internal/platform/logging"
	"maitri-console-go/internal/platform/storage"
)

// WelcomeText is the greeting shown before any backend session exists.
const WelcomeText = "Hello, I'm Maitri. How are you feeling today?"

// NeutralSeed is the seed used when the first user turn arrives before any
// emotion handoff.
const NeutralSeed = "neutral"

var (
	// ErrTurnInFlight means a turn is already pending; the caller must wait.
	ErrTurnInFlight = errors.New("session: a turn is already in flight")
	// ErrNoRecording means StopVoiceTurn ran without a matching StartVoiceTurn.
	ErrNoRecording = errors.New("session: no voice recording in progress")
)

// Role labels one side of the transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one line of the in-memory conversation history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	AudioURL  string    `json:"audio_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSnapshot is an immutable copy of the manager's display state.
type SessionSnapshot struct {
	SessionID string    `json:"session_id"`
	Pending   bool      `json:"pending"`
	Recording bool      `json:"recording"`
	Notice    string    `json:"notice,omitempty"`
	History   []Message `json:"history"`
}

// Dialer is the slice of the conversation client the manager depends on.
type Dialer interface {
	StartSession(ctx context.Context, seedEmotion string) (*conversation.StartResult, error)
	SendText(ctx context.Context, sessionID, text string) (*conversation.TextResult, error)
	SendVoice(ctx context.Context, sessionID string, audio []byte) (*conversation.VoiceResult, error)
}

// Player schedules assistant audio for delivery.
type Player interface {
	Enqueue(messageID, audioURL string)
}

// TranscriptWriter persists history lines. Write failures are logged, never
// surfaced.
type TranscriptWriter interface {
	SaveMessage(ctx context.Context, msg *storage.TranscriptMessage) error
}

// SessionConfig wires a SessionManager.
type SessionConfig struct {
	Dialer  Dialer
	Player  Player
	Adapter media.Adapter
	// Store may be nil when persistence is disabled.
	Store  TranscriptWriter
	Logger *logging.Logger
	Bus    evbusPublisher
}

// SessionManager owns one conversational session. It moves from Uninitialized
// to Active on the first seed or user turn, serializes turns behind a single
// pending gate and appends history before any playback starts.
type SessionManager struct {
	dialer  Dialer
	player  Player
	adapter media.Adapter
	store   TranscriptWriter
	logger  *logging.Logger
	bus     evbusPublisher

	mu        sync.Mutex
	sessionID string
	pending   bool
	notice    string
	history   []Message

	voiceStream media.Stream
	recording   media.Recording
}

func NewSessionManager(cfg *SessionConfig) *SessionManager {
	m := &SessionManager{
		dialer:  cfg.Dialer,
		player:  cfg.Player,
		adapter: cfg.Adapter,
		store:   cfg.Store,
		logger:  cfg.Logger,
		bus:     cfg.Bus,
	}
	// The greeting is local; no backend session exists yet.
	m.history = append(m.history, Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Text:      WelcomeText,
		CreatedAt: time.Now(),
	})
	return m
}

// Seed initializes the session from a detected emotion. It fires once: a
// second seed against an Active session is a no-op.
func (m *SessionManager) Seed(ctx context.Context, seedEmotion string) error {
	m.mu.Lock()
	if m.sessionID != "" {
		m.mu.Unlock()
		return nil
	}
	if m.pending {
		m.mu.Unlock()
		return ErrTurnInFlight
	}
	m.pending = true
	m.mu.Unlock()
	m.publishChanged()

	result, err := m.dialer.StartSession(ctx, seedEmotion)

	m.mu.Lock()
	m.pending = false
	if err != nil {
		m.notice = turnNotice(err)
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Warn("session seed %q failed: %v", seedEmotion, err)
		}
		m.publishChanged()
		return err
	}
	m.sessionID = result.SessionID
	m.mu.Unlock()

	m.appendMessage(ctx, RoleAssistant, result.AssistantText, result.AudioURL)
	if m.bus != nil {
		m.bus.Publish(eventbus.EventSessionSeeded, seedEmotion)
	}
	if m.logger != nil {
		m.logger.InfoTag("session", "seeded with %q, session id %s", seedEmotion, result.SessionID)
	}
	m.publishChanged()
	return nil
}

// SendText performs a typed turn. When no session exists yet, exactly one
// neutral-seeded StartSession runs first and its reply lands in history ahead
// of the user's message.
func (m *SessionManager) SendText(ctx context.Context, text string) error {
	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		return ErrTurnInFlight
	}
	m.pending = true
	sessionID := m.sessionID
	m.mu.Unlock()
	m.publishChanged()

	if sessionID == "" {
		seed, err := m.dialer.StartSession(ctx, NeutralSeed)
		if err != nil {
			m.failTurn(err)
			return err
		}
		m.mu.Lock()
		m.sessionID = seed.SessionID
		sessionID = seed.SessionID
		m.mu.Unlock()
		// seed reply precedes the user's message in history
		m.appendMessage(ctx, RoleAssistant, seed.AssistantText, seed.AudioURL)
	}

	m.appendMessage(ctx, RoleUser, text, "")

	result, err := m.dialer.SendText(ctx, sessionID, text)
	if err != nil {
		// the user's message stays in history; only the gate resets
		m.failTurn(err)
		return err
	}

	m.appendMessage(ctx, RoleAssistant, result.AssistantText, result.AudioURL)
	m.finishTurn()
	return nil
}

// StartVoiceTurn acquires the microphone and begins buffering. The recording
// only becomes a turn on StopVoiceTurn.
func (m *SessionManager) StartVoiceTurn(ctx context.Context) error {
	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		return ErrTurnInFlight
	}
	if m.recording != nil {
		m.mu.Unlock()
		return media.ErrDeviceBusy
	}
	m.mu.Unlock()

	stream, err := m.adapter.Acquire(ctx, media.Audio)
	if err != nil {
		return err
	}
	recording, err := m.adapter.RecordContinuous(stream)
	if err != nil {
		m.adapter.Release(stream)
		return err
	}

	m.mu.Lock()
	m.voiceStream = stream
	m.recording = recording
	m.mu.Unlock()
	m.publishChanged()
	return nil
}

// StopVoiceTurn finishes the recording, releases the microphone before any
// network I/O and sends the audio as a turn. The server-side transcript
// becomes the user's message. A pending turn rejects the stop and leaves the
// recording running, so the caller can stop again once the gate clears.
func (m *SessionManager) StopVoiceTurn(ctx context.Context) error {
	m.mu.Lock()
	if m.pending {
		m.mu.Unlock()
		return ErrTurnInFlight
	}
	recording := m.recording
	stream := m.voiceStream
	m.recording = nil
	m.voiceStream = nil
	if recording == nil {
		m.mu.Unlock()
		return ErrNoRecording
	}
	m.pending = true
	sessionID := m.sessionID
	m.mu.Unlock()

	blob := recording.Stop()
	m.adapter.Release(stream)
	m.publishChanged()

	if sessionID == "" {
		seed, err := m.dialer.StartSession(ctx, NeutralSeed)
		if err != nil {
			m.failTurn(err)
			return err
		}
		m.mu.Lock()
		m.sessionID = seed.SessionID
		sessionID = seed.SessionID
		m.mu.Unlock()
		m.appendMessage(ctx, RoleAssistant, seed.AssistantText, seed.AudioURL)
	}

	result, err := m.dialer.SendVoice(ctx, sessionID, blob)
	if err != nil {
		m.failTurn(err)
		return err
	}

	m.appendMessage(ctx, RoleUser, result.Transcript, "")
	m.appendMessage(ctx, RoleAssistant, result.AssistantText, result.AudioURL)
	m.finishTurn()
	return nil
}

// CancelVoiceTurn discards an in-progress recording without sending it.
func (m *SessionManager) CancelVoiceTurn() {
	m.mu.Lock()
	stream := m.voiceStream
	m.recording = nil
	m.voiceStream = nil
	m.mu.Unlock()

	if stream != nil {
		m.adapter.Release(stream)
	}
	m.publishChanged()
}

// DismissNotice clears the transient error notification.
func (m *SessionManager) DismissNotice() {
	m.mu.Lock()
	m.notice = ""
	m.mu.Unlock()
	m.publishChanged()
}

// Snapshot returns a copy of the current session state.
func (m *SessionManager) Snapshot() SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]Message, len(m.history))
	copy(history, m.history)
	return SessionSnapshot{
		SessionID: m.sessionID,
		Pending:   m.pending,
		Recording: m.recording != nil,
		Notice:    m.notice,
		History:   history,
	}
}

// appendMessage commits a history line, persists it and, for assistant lines
// carrying audio, schedules playback. History append always happens before
// playback starts and is never rolled back.
func (m *SessionManager) appendMessage(ctx context.Context, role Role, text, audioURL string) {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		AudioURL:  audioURL,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.history = append(m.history, msg)
	sessionID := m.sessionID
	m.mu.Unlock()

	if m.store != nil {
		err := m.store.SaveMessage(ctx, &storage.TranscriptMessage{
			SessionID: sessionID,
			MessageID: msg.ID,
			Role:      string(role),
			Text:      text,
			AudioURL:  audioURL,
		})
		if err != nil && m.logger != nil {
			m.logger.Warn("transcript write failed for %s: %v", msg.ID, err)
		}
	}

	if role == RoleAssistant && audioURL != "" && m.player != nil {
		m.player.Enqueue(msg.ID, audioURL)
	}
	m.publishChanged()
}

func (m *SessionManager) failTurn(err error) {
	m.mu.Lock()
	m.pending = false
	m.notice = turnNotice(err)
	m.mu.Unlock()
	if m.logger != nil {
		m.logger.Warn("turn failed: %v", err)
	}
	m.publishChanged()
}

func (m *SessionManager) finishTurn() {
	m.mu.Lock()
	m.pending = false
	m.notice = ""
	m.mu.Unlock()
	m.publishChanged()
}

func (m *SessionManager) publishChanged() {
	if m.bus != nil {
		m.bus.Publish(eventbus.EventChatChanged, m.Snapshot())
	}
}

func turnNotice(err error) string {
	var remoteErr *remote.RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Message
	}
	return "Failed to connect to backend."
}
