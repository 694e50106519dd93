package services

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"maitri-console-go/internal/domain/eventbus"
	"maitri-console-go/internal/platform/config"
	"maitri-console-go/internal/platform/logging"
	"maitri-console-go/internal/platform/observability"
	"maitri-console-go/internal/util"
)

// Clip is one assistant audio reply ready for delivery.
type Clip struct {
	MessageID string
	URL       string
	Path      string
	Data      []byte
	Duration  time.Duration
}

// Sink receives resolved clips. The device bridge implements this for the
// browser; tests substitute an in-memory sink. Play returns once the clip has
// been delivered (or played out), keeping clips strictly serialized.
type Sink interface {
	Play(ctx context.Context, clip Clip) error
}

type playbackItem struct {
	messageID string
	audioURL  string
}

// PlaybackService fetches assistant audio and feeds it to the sink one clip
// at a time. Playback failures are logged and skipped; they never surface as
// conversation errors.
type PlaybackService struct {
	logger *logging.Logger
	bus    evbusPublisher

	queue *util.Queue[playbackItem]
	cache *AudioCache
	httpc *http.Client

	audioOrigin string
	ackGrace    time.Duration

	sink Sink

	stopChan chan struct{}
	running  bool
	mu       sync.RWMutex
}

type evbusPublisher interface {
	Publish(topic string, args ...interface{})
}

// PlaybackConfig wires the playback service.
type PlaybackConfig struct {
	Playback    *config.PlaybackConfig
	AudioOrigin string
	Sink        Sink
	Logger      *logging.Logger
	Bus         evbusPublisher
}

func NewPlaybackService(cfg *PlaybackConfig) *PlaybackService {
	queueSize := cfg.Playback.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	fetchTimeout := cfg.Playback.FetchTimeout.Std()
	if fetchTimeout <= 0 {
		fetchTimeout = 15 * time.Second
	}

	return &PlaybackService{
		logger:      cfg.Logger,
		bus:         cfg.Bus,
		queue:       util.NewQueue[playbackItem](queueSize),
		cache:       NewAudioCache(cfg.Playback.CacheDir),
		httpc:       &http.Client{Timeout: fetchTimeout},
		audioOrigin: strings.TrimRight(cfg.AudioOrigin, "/"),
		ackGrace:    cfg.Playback.AckGrace.Std(),
		sink:        cfg.Sink,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the playback worker.
func (s *PlaybackService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.processQueue()
}

// Stop halts the worker and drops any queued clips.
func (s *PlaybackService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	s.queue.Close()
}

// Enqueue schedules a clip for playback. An empty audio URL is a no-op; a
// full queue drops the clip with a warning rather than blocking the caller.
func (s *PlaybackService) Enqueue(messageID, audioURL string) {
	if audioURL == "" {
		return
	}
	if err := s.queue.Push(playbackItem{messageID: messageID, audioURL: audioURL}); err != nil {
		if s.logger != nil {
			s.logger.Warn("playback queue rejected clip %s: %v", messageID, err)
		}
	}
}

// ResolveURL turns a server-relative audio path into an absolute URL against
// the audio-serving origin. Absolute URLs pass through untouched.
func (s *PlaybackService) ResolveURL(audioURL string) string {
	if strings.HasPrefix(audioURL, "http://") || strings.HasPrefix(audioURL, "https://") {
		return audioURL
	}
	if !strings.HasPrefix(audioURL, "/") {
		audioURL = "/" + audioURL
	}
	return s.audioOrigin + audioURL
}

func (s *PlaybackService) processQueue() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopChan
		cancel()
	}()

	for {
		item, err := s.queue.Pop(ctx, 0)
		if err != nil {
			return
		}
		s.playOne(ctx, item)
	}
}

func (s *PlaybackService) playOne(ctx context.Context, item playbackItem) {
	_, spanEnd := observability.StartSpan(ctx, "playback", "play_clip")

	clip, err := s.prepare(ctx, item)
	if err == nil && s.sink != nil {
		err = s.sink.Play(ctx, *clip)
	}
	spanEnd(err)

	if err != nil {
		// Logged only: a failed clip never rolls back history or blocks
		// the next one.
		if s.logger != nil {
			s.logger.WarnTag("playback", "clip %s failed: %v", item.messageID, err)
		}
		s.publishFinished(item.messageID, err)
		return
	}

	if s.ackGrace > 0 {
		select {
		case <-time.After(s.ackGrace):
		case <-ctx.Done():
		}
	}
	s.publishFinished(item.messageID, nil)
}

func (s *PlaybackService) prepare(ctx context.Context, item playbackItem) (*Clip, error) {
	resolved := s.ResolveURL(item.audioURL)

	var data []byte
	path := s.cache.FindCached(resolved)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			data = raw
		}
	}

	if data == nil {
		raw, err := s.fetch(ctx, resolved)
		if err != nil {
			return nil, err
		}
		data = raw
		if stored, err := s.cache.SaveCached(resolved, data); err == nil {
			path = stored
		} else if s.logger != nil {
			s.logger.Debug("audio cache write failed for %s: %v", resolved, err)
		}
	}

	return &Clip{
		MessageID: item.messageID,
		URL:       resolved,
		Path:      path,
		Data:      data,
		Duration:  clipDuration(data),
	}, nil
}

func (s *PlaybackService) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{url: url, status: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

func (s *PlaybackService) publishFinished(messageID string, err error) {
	if s.bus == nil {
		return
	}
	event := eventbus.PlaybackFinishedEvent{MessageID: messageID}
	if err != nil {
		event.Err = err.Error()
	}
	s.bus.Publish(eventbus.EventPlaybackFinished, event)
}

type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return "fetch " + e.url + ": unexpected status " + http.StatusText(e.status)
}

// clipDuration decodes an MP3 header to report playback length. Non-MP3 or
// undecodable payloads yield zero, which sinks treat as "unknown".
func clipDuration(data []byte) time.Duration {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	sampleRate := decoder.SampleRate()
	if sampleRate <= 0 {
		return 0
	}
	// stereo 16-bit output, 4 bytes per sample
	samples := decoder.Length() / 4
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
