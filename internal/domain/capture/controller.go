// Package capture implements the per-modality panel controllers. Each
// controller is a small state machine coordinating the media adapter and the
// emotion analysis client, and exposes its full display state via Snapshot.
package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"maitri-console-go/internal/domain/emotion"
	"maitri-console-go/internal/domain/eventbus"
	imgvalidate "maitri-console-go/internal/domain/image"
	"maitri-console-go/internal/domain/media"
	"maitri-console-go/internal/domain/remote"
	"maitri-console-go/internal/platform/logging"
)

// State is the panel's device-facing phase.
type State string

const (
	// Idle means no device is held and no artifact exists yet.
	Idle State = "idle"
	// Streaming means the device is acquired and producing data.
	Streaming State = "streaming"
	// Captured means an artifact exists and the device has been released.
	Captured State = "captured"
)

// AnalysisState tracks the asynchronous analysis of the current artifact.
type AnalysisState string

const (
	AnalysisNone    AnalysisState = "none"
	AnalysisPending AnalysisState = "pending"
	AnalysisDone    AnalysisState = "done"
	AnalysisFailed  AnalysisState = "failed"
)

// ErrBadState reports a command issued in a phase that does not accept it.
var ErrBadState = errors.New("capture: command not valid in current state")

// Analyzer is the slice of the emotion client the controller depends on.
type Analyzer interface {
	CheckReachable(ctx context.Context, modality emotion.Modality) bool
	Analyze(ctx context.Context, modality emotion.Modality, blob []byte) (*emotion.Result, error)
}

// DetectionArchiver persists completed detections. Optional; archive failures
// are logged and never affect panel state.
type DetectionArchiver interface {
	SaveDetection(ctx context.Context, result *emotion.Result) error
}

// Snapshot is an immutable copy of the panel's display state.
type Snapshot struct {
	Modality      emotion.Modality `json:"modality"`
	Reachable     bool             `json:"reachable"`
	State         State            `json:"state"`
	AnalysisState AnalysisState    `json:"analysis_state"`
	ArtifactSize  int              `json:"artifact_size"`
	Result        *emotion.Result  `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Options wires a controller's collaborators.
type Options struct {
	Modality emotion.Modality
	Adapter  media.Adapter
	Analyzer Analyzer
	// Validator is consulted for video frames before analysis. Nil skips
	// local validation.
	Validator *imgvalidate.Validator
	// Archiver receives completed detections. Nil disables archiving.
	Archiver DetectionArchiver
	// OnDetected fires after a successful analysis is committed, outside the
	// controller lock. Used for the session seed handoff.
	OnDetected func(result *emotion.Result)
	Bus        evbusPublisher
	Logger     *logging.Logger
}

// evbusPublisher is satisfied by EventBus.Bus.
type evbusPublisher interface {
	Publish(topic string, args ...interface{})
}

// Controller drives one capture panel. All commands are serialized by an
// internal lock; analysis runs on its own goroutine and commits its outcome
// only if the artifact it was issued for is still current.
type Controller struct {
	mu sync.Mutex

	modality  emotion.Modality
	adapter   media.Adapter
	analyzer  Analyzer
	validator *imgvalidate.Validator
	archiver  DetectionArchiver
	onDetect  func(result *emotion.Result)
	bus       evbusPublisher
	logger    *logging.Logger

	state         State
	analysisState AnalysisState
	reachable     bool
	probed        bool
	// transitioning guards commands that drop the lock across device I/O;
	// a second command arriving mid-transition is rejected, not interleaved.
	transitioning bool

	stream    media.Stream
	recording media.Recording

	artifact    []byte
	artifactTag string
	result      *emotion.Result
	errMessage  string

	closed bool
}

func NewController(opts Options) *Controller {
	return &Controller{
		modality:      opts.Modality,
		adapter:       opts.Adapter,
		analyzer:      opts.Analyzer,
		validator:     opts.Validator,
		archiver:      opts.Archiver,
		onDetect:      opts.OnDetected,
		bus:           opts.Bus,
		logger:        opts.Logger,
		state:         Idle,
		analysisState: AnalysisNone,
	}
}

func (c *Controller) kind() media.Kind {
	if c.modality == emotion.Voice {
		return media.Audio
	}
	return media.Video
}

// Mount runs the one-time connectivity probe. The outcome is display state
// only and is never refreshed automatically.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.probed || c.closed {
		c.mu.Unlock()
		return
	}
	c.probed = true
	c.mu.Unlock()

	reachable := c.analyzer.CheckReachable(ctx, c.modality)

	c.mu.Lock()
	c.reachable = reachable
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("panel %s mounted, backend reachable=%v", c.modality, reachable)
	}
	c.publishChanged()
}

// Start moves Idle to Streaming by acquiring the device. For the voice panel
// continuous recording begins immediately. Acquisition failures reduce the
// panel back to Idle with a user-facing message.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state != Idle || c.transitioning {
		c.mu.Unlock()
		return ErrBadState
	}
	c.transitioning = true
	c.mu.Unlock()

	stream, err := c.adapter.Acquire(ctx, c.kind())
	if err != nil {
		c.mu.Lock()
		c.transitioning = false
		c.errMessage = c.acquireMessage(err)
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Warn("panel %s device acquisition failed: %v", c.modality, err)
		}
		c.publishChanged()
		return err
	}

	var recording media.Recording
	if c.kind() == media.Audio {
		recording, err = c.adapter.RecordContinuous(stream)
		if err != nil {
			c.adapter.Release(stream)
			c.mu.Lock()
			c.transitioning = false
			c.errMessage = c.acquireMessage(err)
			c.mu.Unlock()
			c.publishChanged()
			return err
		}
	}

	c.mu.Lock()
	c.transitioning = false
	if c.closed {
		c.mu.Unlock()
		c.adapter.Release(stream)
		return ErrBadState
	}
	c.state = Streaming
	c.stream = stream
	c.recording = recording
	c.errMessage = ""
	c.mu.Unlock()
	c.publishChanged()
	return nil
}

// Capture moves Streaming to Captured. For video it grabs the current frame;
// for audio it stops the continuous recording. The device is released before
// any network I/O, then analysis starts asynchronously.
func (c *Controller) Capture(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state != Streaming || c.transitioning {
		c.mu.Unlock()
		return ErrBadState
	}
	c.transitioning = true
	stream := c.stream
	recording := c.recording
	c.mu.Unlock()

	var blob []byte
	var err error
	if c.kind() == media.Audio {
		blob = recording.Stop()
	} else {
		blob, err = c.adapter.CaptureFrame(ctx, stream)
	}

	// Device goes dark before the analysis round-trip either way.
	c.adapter.Release(stream)

	if err != nil {
		c.mu.Lock()
		c.transitioning = false
		c.state = Idle
		c.stream = nil
		c.recording = nil
		c.errMessage = c.acquireMessage(err)
		c.mu.Unlock()
		c.publishChanged()
		return err
	}

	if c.kind() == media.Video && c.validator != nil {
		if vr := c.validator.ValidateFrame(blob); !vr.IsValid {
			c.mu.Lock()
			c.transitioning = false
			c.state = Idle
			c.stream = nil
			c.recording = nil
			c.errMessage = "Captured frame is not usable. Please retry."
			c.mu.Unlock()
			if c.logger != nil {
				c.logger.Warn("panel %s frame rejected: %v", c.modality, vr.Error)
			}
			c.publishChanged()
			return vr.Error
		}
	}

	tag := uuid.NewString()

	c.mu.Lock()
	c.transitioning = false
	c.state = Captured
	c.stream = nil
	c.recording = nil
	c.artifact = blob
	c.artifactTag = tag
	c.result = nil
	c.errMessage = ""
	c.analysisState = AnalysisPending
	c.mu.Unlock()
	c.publishChanged()

	// The analysis outlives the capture command; a teardown discards the
	// late result instead of aborting the request.
	go c.analyze(context.Background(), tag, blob)
	return nil
}

// Retake clears the prior artifact, result and error and re-acquires the
// device. An analysis still in flight for the replaced artifact is orphaned;
// its eventual resolution is discarded by tag comparison.
func (c *Controller) Retake(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.state != Captured || c.transitioning {
		c.mu.Unlock()
		return ErrBadState
	}
	c.state = Idle
	c.artifact = nil
	c.artifactTag = ""
	c.result = nil
	c.errMessage = ""
	c.analysisState = AnalysisNone
	c.mu.Unlock()

	return c.Start(ctx)
}

// Stop releases any held device and returns the panel to Idle, discarding an
// unanalyzed in-flight recording.
func (c *Controller) Stop() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.recording = nil
	c.state = Idle
	c.artifact = nil
	c.artifactTag = ""
	c.analysisState = AnalysisNone
	c.mu.Unlock()

	if stream != nil {
		c.adapter.Release(stream)
	}
	c.publishChanged()
}

// Close tears the panel down (unmount). Late analysis results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stream := c.stream
	c.stream = nil
	c.recording = nil
	c.artifactTag = ""
	c.mu.Unlock()

	if stream != nil {
		c.adapter.Release(stream)
	}
}

// Snapshot returns a copy of the current display state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Modality:      c.modality,
		Reachable:     c.reachable,
		State:         c.state,
		AnalysisState: c.analysisState,
		ArtifactSize:  len(c.artifact),
		Result:        c.result,
		Error:         c.errMessage,
	}
}

func (c *Controller) analyze(ctx context.Context, tag string, blob []byte) {
	result, err := c.analyzer.Analyze(ctx, c.modality, blob)

	c.mu.Lock()
	if c.closed || c.artifactTag != tag || c.state != Captured {
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Debug("panel %s discarding stale analysis response tag=%s", c.modality, tag)
		}
		return
	}

	if err != nil {
		c.analysisState = AnalysisFailed
		c.errMessage = analysisMessage(err)
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Warn("panel %s analysis failed: %v", c.modality, err)
		}
		c.publishChanged()
		return
	}

	c.analysisState = AnalysisDone
	c.result = result
	c.errMessage = ""
	onDetect := c.onDetect
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.InfoTag("capture", "%s analysis complete: %s (%.1f)",
			c.modality, result.DominantLabel, result.Confidence)
	}

	if c.archiver != nil {
		if archiveErr := c.archiver.SaveDetection(ctx, result); archiveErr != nil && c.logger != nil {
			c.logger.Warn("panel %s detection archive failed: %v", c.modality, archiveErr)
		}
	}

	if c.bus != nil {
		c.bus.Publish(eventbus.EventEmotionDetected, eventbus.EmotionDetectedEvent{
			Modality:   string(result.Modality),
			Label:      result.DominantLabel,
			Confidence: result.Confidence,
		})
	}
	c.publishChanged()

	if onDetect != nil {
		onDetect(result)
	}
}

func (c *Controller) publishChanged() {
	if c.bus != nil {
		c.bus.Publish(eventbus.EventPanelChanged, c.Snapshot())
	}
}

func (c *Controller) acquireMessage(err error) string {
	device := "camera"
	if c.kind() == media.Audio {
		device = "microphone"
	}
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return "Access to the " + device + " was denied. Please allow " + device + " access and try again."
	case errors.Is(err, media.ErrDeviceUnavailable):
		return "No " + device + " is available."
	case errors.Is(err, media.ErrDeviceBusy):
		return "The " + device + " is already in use."
	case errors.Is(err, media.ErrNotReady):
		return "The " + device + " is not ready yet. Please retry."
	default:
		return "Could not access the " + device + "."
	}
}

func analysisMessage(err error) string {
	var remoteErr *remote.RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Message
	}
	return "Failed to connect to backend."
}
