// Package ws implements the device bridge: the websocket link through which
// the browser client lends its camera, microphone and speaker to the gateway.
// The bridge fulfils the media adapter contract on top of a command/ack
// protocol, so the rest of the gateway never knows devices live remotely.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"maitri-console-go/internal/app/services"
	"maitri-console-go/internal/domain/media"
	"maitri-console-go/internal/platform/logging"
)

const (
	msgAcquire      = "acquire"
	msgRelease      = "release"
	msgCaptureFrame = "capture_frame"
	msgPlay         = "play"
	msgAck          = "ack"
	msgFrame        = "frame"
	msgChunk        = "chunk"
	msgPlayed       = "played"
	msgState        = "state"

	// failure codes carried in ack errors
	failPermissionDenied = "permission_denied"
	failUnavailable      = "unavailable"
	failBusy             = "busy"
	failNotReady         = "not_ready"
)

// envelope is the single wire shape of the bridge protocol. Data rides as
// base64 via the standard []byte JSON encoding.
type envelope struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Kind       string `json:"kind,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Data       []byte `json:"data,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BridgeConfig tunes the bridge timeouts and buffers.
type BridgeConfig struct {
	// AckTimeout bounds every command round-trip to the client.
	AckTimeout time.Duration
	// MaxRecordingBytes bounds buffered microphone audio. 0 means unbounded.
	MaxRecordingBytes int64
	// PlayGrace extends the play acknowledgement wait beyond the clip length.
	PlayGrace time.Duration
}

// Bridge relays device commands to the attached browser client. It implements
// media.Adapter and the playback sink. At most one client is attached; a new
// connection replaces the previous one.
type Bridge struct {
	cfg    BridgeConfig
	logger *logging.Logger

	upgrader websocket.Upgrader

	mu         sync.Mutex
	conn       *Connection
	pending    map[string]chan *envelope
	held       map[media.Kind]*bridgeStream
	recordings map[*bridgeStream]*media.ChunkBuffer
}

type bridgeStream struct {
	kind     media.Kind
	released bool
}

func (s *bridgeStream) Kind() media.Kind { return s.kind }

func NewBridge(cfg BridgeConfig, logger *logging.Logger) *Bridge {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	return &Bridge{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pending:    make(map[string]chan *envelope),
		held:       make(map[media.Kind]*bridgeStream),
		recordings: make(map[*bridgeStream]*media.ChunkBuffer),
	}
}

// HandleUpgrade upgrades an HTTP request into the bridge connection and runs
// its read loop until the client goes away.
func (b *Bridge) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	socket, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("bridge upgrade failed: %v", err)
		}
		return
	}

	conn := NewConnection(uuid.NewString(), socket)
	b.attach(conn)
	if b.logger != nil {
		b.logger.InfoTag("WebSocket", "bridge client %s attached", conn.GetID())
	}

	b.readLoop(conn)

	b.detach(conn)
	if b.logger != nil {
		b.logger.InfoTag("WebSocket", "bridge client %s detached", conn.GetID())
	}
}

// Attached reports whether a client is currently connected.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && !b.conn.IsClosed()
}

func (b *Bridge) attach(conn *Connection) {
	b.mu.Lock()
	previous := b.conn
	b.conn = conn
	// device state belongs to the departed client
	b.held = make(map[media.Kind]*bridgeStream)
	b.recordings = make(map[*bridgeStream]*media.ChunkBuffer)
	b.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
}

func (b *Bridge) detach(conn *Connection) {
	conn.Close()

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
		b.held = make(map[media.Kind]*bridgeStream)
		b.recordings = make(map[*bridgeStream]*media.ChunkBuffer)
	}
	// wake all waiters; their commands can never be answered now
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.mu.Unlock()
}

func (b *Bridge) readLoop(conn *Connection) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg envelope
		if err := sonic.Unmarshal(payload, &msg); err != nil {
			if b.logger != nil {
				b.logger.Debug("bridge dropped malformed message: %v", err)
			}
			continue
		}
		b.dispatch(&msg)
	}
}

func (b *Bridge) dispatch(msg *envelope) {
	switch msg.Type {
	case msgAck, msgFrame, msgPlayed:
		b.mu.Lock()
		ch, ok := b.pending[msg.ID]
		if ok {
			delete(b.pending, msg.ID)
		}
		b.mu.Unlock()
		if ok {
			ch <- msg
			close(ch)
		}
	case msgChunk:
		b.mu.Lock()
		var buffers []*media.ChunkBuffer
		for _, buffer := range b.recordings {
			buffers = append(buffers, buffer)
		}
		b.mu.Unlock()
		for _, buffer := range buffers {
			buffer.AppendChunk(msg.Data)
		}
	default:
		if b.logger != nil {
			b.logger.Debug("bridge ignored message type %q", msg.Type)
		}
	}
}

// roundTrip sends a command and waits for its correlated reply.
func (b *Bridge) roundTrip(ctx context.Context, msg *envelope, timeout time.Duration) (*envelope, error) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil || conn.IsClosed() {
		b.mu.Unlock()
		return nil, ErrNoClient
	}
	ch := make(chan *envelope, 1)
	b.pending[msg.ID] = ch
	b.mu.Unlock()

	raw, err := sonic.Marshal(msg)
	if err == nil {
		err = conn.WriteMessage(websocket.TextMessage, raw)
	}
	if err != nil {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply, ok := <-ch:
		if !ok || reply == nil {
			return nil, ErrConnClosed
		}
		return reply, nil
	case <-timer.C:
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
		return nil, ErrAckTimeout
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (b *Bridge) send(msg *envelope) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	raw, err := sonic.Marshal(msg)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, raw)
}

// stateEnvelope carries gateway state snapshots down to the client.
type stateEnvelope struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// PushState forwards a state snapshot to the attached client. Snapshots are
// advisory display updates; they are dropped silently when no client is
// connected.
func (b *Bridge) PushState(topic string, payload interface{}) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return
	}
	raw, err := sonic.Marshal(stateEnvelope{Type: msgState, Topic: topic, Payload: payload})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, raw)
}

// Acquire asks the client to open the device of the given kind.
func (b *Bridge) Acquire(ctx context.Context, kind media.Kind) (media.Stream, error) {
	b.mu.Lock()
	if _, busy := b.held[kind]; busy {
		b.mu.Unlock()
		return nil, media.ErrDeviceBusy
	}
	b.mu.Unlock()

	reply, err := b.roundTrip(ctx, &envelope{
		Type: msgAcquire,
		ID:   uuid.NewString(),
		Kind: string(kind),
	}, b.cfg.AckTimeout)
	if err != nil {
		if err == ErrNoClient {
			return nil, media.ErrDeviceUnavailable
		}
		return nil, err
	}
	if reply.Error != "" {
		return nil, decodeFailure(reply.Error)
	}

	stream := &bridgeStream{kind: kind}
	b.mu.Lock()
	if _, busy := b.held[kind]; busy {
		b.mu.Unlock()
		b.send(&envelope{Type: msgRelease, Kind: string(kind)})
		return nil, media.ErrDeviceBusy
	}
	b.held[kind] = stream
	b.mu.Unlock()
	return stream, nil
}

// Release tells the client to stop the device tracks. Fire-and-forget.
func (b *Bridge) Release(s media.Stream) {
	stream, ok := s.(*bridgeStream)
	if !ok || stream == nil {
		return
	}

	b.mu.Lock()
	if stream.released {
		b.mu.Unlock()
		return
	}
	stream.released = true
	delete(b.recordings, stream)
	if b.held[stream.kind] == stream {
		delete(b.held, stream.kind)
	}
	b.mu.Unlock()

	b.send(&envelope{Type: msgRelease, Kind: string(stream.kind)})
}

// CaptureFrame asks the client for the current camera frame as JPEG bytes.
func (b *Bridge) CaptureFrame(ctx context.Context, s media.Stream) ([]byte, error) {
	stream, ok := s.(*bridgeStream)
	if !ok || stream == nil {
		return nil, media.ErrReleased
	}
	b.mu.Lock()
	released := stream.released
	b.mu.Unlock()
	if released {
		return nil, media.ErrReleased
	}
	if stream.kind != media.Video {
		return nil, media.ErrDeviceUnavailable
	}

	reply, err := b.roundTrip(ctx, &envelope{
		Type: msgCaptureFrame,
		ID:   uuid.NewString(),
	}, b.cfg.AckTimeout)
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, decodeFailure(reply.Error)
	}
	if len(reply.Data) == 0 {
		return nil, media.ErrNotReady
	}
	return reply.Data, nil
}

// RecordContinuous buffers microphone chunks streamed by the client.
func (b *Bridge) RecordContinuous(s media.Stream) (media.Recording, error) {
	stream, ok := s.(*bridgeStream)
	if !ok || stream == nil {
		return nil, media.ErrReleased
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if stream.released {
		return nil, media.ErrReleased
	}
	if stream.kind != media.Audio {
		return nil, media.ErrDeviceUnavailable
	}

	buffer := media.NewChunkBuffer(b.cfg.MaxRecordingBytes)
	b.recordings[stream] = buffer
	return buffer, nil
}

// Play delivers an assistant clip to the client speaker and waits for the
// playback acknowledgement.
func (b *Bridge) Play(ctx context.Context, clip services.Clip) error {
	wait := b.cfg.AckTimeout + clip.Duration + b.cfg.PlayGrace

	reply, err := b.roundTrip(ctx, &envelope{
		Type:       msgPlay,
		ID:         uuid.NewString(),
		MessageID:  clip.MessageID,
		Data:       clip.Data,
		DurationMS: clip.Duration.Milliseconds(),
		URL:        clip.URL,
	}, wait)
	if err != nil {
		return err
	}
	if reply.Error != "" {
		return &playbackError{message: reply.Error}
	}
	return nil
}

type playbackError struct {
	message string
}

func (e *playbackError) Error() string {
	return "client playback failed: " + e.message
}

func decodeFailure(code string) error {
	switch code {
	case failPermissionDenied:
		return media.ErrPermissionDenied
	case failUnavailable:
		return media.ErrDeviceUnavailable
	case failBusy:
		return media.ErrDeviceBusy
	case failNotReady:
		return media.ErrNotReady
	default:
		return media.ErrDeviceUnavailable
	}
}
