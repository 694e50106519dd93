package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"maitri-console-go/internal/domain/emotion"
	"maitri-console-go/internal/domain/media"
	"maitri-console-go/internal/domain/remote"
)

// fakeAnalyzer lets tests control when each analysis resolves.
type fakeAnalyzer struct {
	mu        sync.Mutex
	reachable bool
	calls     int
	results   []analysisOutcome
	gates     []chan struct{}
}

type analysisOutcome struct {
	result *emotion.Result
	err    error
}

func (f *fakeAnalyzer) CheckReachable(ctx context.Context, modality emotion.Modality) bool {
	return f.reachable
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, modality emotion.Modality, blob []byte) (*emotion.Result, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	var gate chan struct{}
	if idx < len(f.gates) {
		gate = f.gates[idx]
	}
	outcome := analysisOutcome{result: &emotion.Result{
		Modality:      modality,
		DominantLabel: "neutral",
		Confidence:    50,
	}}
	if idx < len(f.results) {
		outcome = f.results[idx]
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return outcome.result, outcome.err
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func frameSupplier() func() []byte {
	return func() []byte { return []byte("jpeg-frame") }
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestController_DeviceHeldAtMostOnce(t *testing.T) {
	adapter := media.NewLoopback(media.LoopbackConfig{VideoFrame: frameSupplier()})
	ctrl := NewController(Options{
		Modality: emotion.Face,
		Adapter:  adapter,
		Analyzer: &fakeAnalyzer{},
	})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !adapter.Held(media.Video) {
		t.Fatal("device should be held while streaming")
	}
	if err := ctrl.Start(context.Background()); !errors.Is(err, ErrBadState) {
		t.Fatalf("second start should be rejected, got %v", err)
	}

	if err := ctrl.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if adapter.Held(media.Video) {
		t.Fatal("device must be released before analysis")
	}
}

// gatedAdapter holds Acquire open so tests can overlap commands.
type gatedAdapter struct {
	media.Adapter
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedAdapter) Acquire(ctx context.Context, kind media.Kind) (media.Stream, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	return g.Adapter.Acquire(ctx, kind)
}

func TestController_OverlappingStartRejected(t *testing.T) {
	adapter := &gatedAdapter{
		Adapter: media.NewLoopback(media.LoopbackConfig{VideoFrame: frameSupplier()}),
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	ctrl := NewController(Options{
		Modality: emotion.Face,
		Adapter:  adapter,
		Analyzer: &fakeAnalyzer{},
	})

	done := make(chan error, 1)
	go func() { done <- ctrl.Start(context.Background()) }()
	<-adapter.entered

	// the first Start is still acquiring; a second one must lose cleanly
	// instead of clobbering the panel state afterwards
	if err := ctrl.Start(context.Background()); !errors.Is(err, ErrBadState) {
		t.Fatalf("overlapping start should be rejected, got %v", err)
	}

	close(adapter.gate)
	if err := <-done; err != nil {
		t.Fatalf("first start failed: %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.State != Streaming {
		t.Fatalf("winner's state was overwritten, got %s", snap.State)
	}
	if snap.Error != "" {
		t.Errorf("loser must not leave an error behind, got %q", snap.Error)
	}
	if err := ctrl.Capture(context.Background()); err != nil {
		t.Errorf("panel unusable after overlapping starts: %v", err)
	}
}

func TestController_AcquireFailureReturnsToIdle(t *testing.T) {
	adapter := media.NewLoopback(media.LoopbackConfig{DenyVideo: true})
	ctrl := NewController(Options{
		Modality: emotion.Face,
		Adapter:  adapter,
		Analyzer: &fakeAnalyzer{},
	})

	err := ctrl.Start(context.Background())
	if !errors.Is(err, media.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.State != Idle {
		t.Errorf("panel should fall back to Idle, got %s", snap.State)
	}
	if snap.Error == "" {
		t.Error("expected a user-facing error message")
	}
}

func TestController_SuccessfulFaceAnalysis(t *testing.T) {
	analyzer := &fakeAnalyzer{results: []analysisOutcome{{
		result: &emotion.Result{
			Modality:      emotion.Face,
			DominantLabel: "sad",
			Confidence:    82.3,
			Scores:        map[string]float64{"sad": 82.3, "neutral": 10.1},
		},
	}}}
	adapter := media.NewLoopback(media.LoopbackConfig{VideoFrame: frameSupplier()})
	ctrl := NewController(Options{
		Modality: emotion.Face,
		Adapter:  adapter,
		Analyzer: analyzer,
	})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ctrl.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}

	waitFor(t, func() bool { return ctrl.Snapshot().AnalysisState == AnalysisDone })

	snap := ctrl.Snapshot()
	if snap.Result == nil || snap.Result.DominantLabel != "sad" {
		t.Fatalf("unexpected result %+v", snap.Result)
	}
	if snap.Result.Confidence != 82.3 {
		t.Errorf("confidence must pass through unscaled, got %v", snap.Result.Confidence)
	}
	if len(snap.Result.Scores) != 2 {
		t.Errorf("expected two score entries, got %d", len(snap.Result.Scores))
	}
}

func TestController_RemoteErrorMessageSurfaced(t *testing.T) {
	analyzer := &fakeAnalyzer{results: []analysisOutcome{{
		err: &remote.RemoteError{Message: "no face detected"},
	}}}
	adapter := media.NewLoopback(media.LoopbackConfig{VideoFrame: frameSupplier()})
	ctrl := NewController(Options{
		Modality: emotion.Face,
		Adapter:  adapter,
		Analyzer: analyzer,
	})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ctrl.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}

	waitFor(t, func() bool { return ctrl.Snapshot().AnalysisState == AnalysisFailed })

	snap := ctrl.Snapshot()
	if snap.Error != "no face detected" {
		t.Errorf("expected backend message, got %q", snap.Error)
	}
	if adapter.Held(media.Video) {
		t.Error("device must stay released after a failed analysis")
	}
	// a retake after failure must be possible
	if err := ctrl.Retake(context.Background()); err != nil {
		t.Errorf("retake after failure: %v", err)
	}
}

func TestController_TransportErrorMessage(t *testing.T) {
	analyzer := &fakeAnalyzer{results: []analysisOutcome{{
		err: &remote.TransportError{Op: "analyze-face", Err: errors.New("connection refused")},
	}}}
	adapter := media.NewLoopback(media.LoopbackConfig{VideoFrame: frameSupplier()})
	ctrl := NewController(Options{
		Modality: emotion.Face,
		Adapter:  adapter,
		Analyzer: analyzer,
	})

	_ = ctrl.Start(context.Background())
	_ = ctrl.Capture(context.Background())

	waitFor(t, func() bool { return ctrl.Snapshot().AnalysisState == AnalysisFailed })

	if got := ctrl.Snapshot().Error; got != "Failed to connect to backend." {
		t.Errorf("unexpected transport message %q", got)
	}
}

func TestController_RetakeClearsPriorState(t *testing.T) {
	analyzer := &fakeAnalyzer{results: []analysisOutcome{{
		result: &emotion.Result{Modality: emotion.Face, DominantLabel: "happy", Confidence: 90},
	}}}
	adapter := media.NewLoopback(media.LoopbackConfig{VideoFrame: frameSupplier()})
	ctrl := NewController(Options{
		Modality: emotion.Face,
		Adapter:  adapter,
		Analyzer: analyzer,
	})

	_ = ctrl.Start(context.Background())
	_ = ctrl.Capture(context.Background())
	waitFor(t, func() bool { return ctrl.Snapshot().AnalysisState == AnalysisDone })

	if err := ctrl.Retake(context.Background()); err != nil {
		t.Fatalf("retake: %v", err)
	}

	snap := ctrl.Snapshot()
	if snap.State != Streaming {
		t.Errorf("retake should re-acquire the device, got %s", snap.State)
	}
	if snap.Result != nil || snap.Error != "" || snap.ArtifactSize != 0 {
		t.Errorf("retake must clear result/error/artifact, got %+v", snap)
	}
}

func TestController_StaleAnalysisDiscarded(t *testing.T) {
	gate := make(chan struct{})
	analyzer := &fakeAnalyzer{
		gates: []chan struct{}{gate, nil},
		results: []analysisOutcome{
			{result: &emotion.Result{Modality: emotion.Face, DominantLabel: "angry", Confidence: 70}},
			{result: &emotion.Result{Modality: emotion.Face, DominantLabel: "happy", Confidence: 95}},
		},
	}
	adapter := media.NewLoopback(media.LoopbackConfig{VideoFrame: frameSupplier()})
	ctrl := NewController(Options{
		Modality: emotion.Face,
		Adapter:  adapter,
		Analyzer: analyzer,
	})

	_ = ctrl.Start(context.Background())
	_ = ctrl.Capture(context.Background())
	waitFor(t, func() bool { return analyzer.callCount() == 1 })

	// retake while the first analysis is still in flight, then capture again
	if err := ctrl.Retake(context.Background()); err != nil {
		t.Fatalf("retake: %v", err)
	}
	if err := ctrl.Capture(context.Background()); err != nil {
		t.Fatalf("second capture: %v", err)
	}
	waitFor(t, func() bool { return ctrl.Snapshot().AnalysisState == AnalysisDone })

	// the orphaned first analysis resolves now; it must not overwrite
	close(gate)
	time.Sleep(50 * time.Millisecond)

	snap := ctrl.Snapshot()
	if snap.Result == nil || snap.Result.DominantLabel != "happy" {
		t.Fatalf("stale response overwrote current result: %+v", snap.Result)
	}
}

func TestController_VoiceFlow(t *testing.T) {
	analyzer := &fakeAnalyzer{results: []analysisOutcome{{
		result: &emotion.Result{Modality: emotion.Voice, DominantLabel: "calm", Confidence: 65},
	}}}
	adapter := media.NewLoopback(media.LoopbackConfig{})
	ctrl := NewController(Options{
		Modality: emotion.Voice,
		Adapter:  adapter,
		Analyzer: analyzer,
	})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	adapter.FeedAudio([]byte("chunk-1"))
	adapter.FeedAudio([]byte("chunk-2"))

	if err := ctrl.Capture(context.Background()); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if adapter.Held(media.Audio) {
		t.Error("microphone must be released on stop")
	}

	waitFor(t, func() bool { return ctrl.Snapshot().AnalysisState == AnalysisDone })
	snap := ctrl.Snapshot()
	if snap.ArtifactSize != len("chunk-1chunk-2") {
		t.Errorf("recording should concatenate chunks, got size %d", snap.ArtifactSize)
	}
	if snap.Result.DominantLabel != "calm" {
		t.Errorf("unexpected result %+v", snap.Result)
	}
}

func TestController_DetectionHandoff(t *testing.T) {
	detected := make(chan *emotion.Result, 1)
	analyzer := &fakeAnalyzer{results: []analysisOutcome{{
		result: &emotion.Result{Modality: emotion.Face, DominantLabel: "surprise", Confidence: 88},
	}}}
	adapter := media.NewLoopback(media.LoopbackConfig{VideoFrame: frameSupplier()})
	ctrl := NewController(Options{
		Modality:   emotion.Face,
		Adapter:    adapter,
		Analyzer:   analyzer,
		OnDetected: func(result *emotion.Result) { detected <- result },
	})

	_ = ctrl.Start(context.Background())
	_ = ctrl.Capture(context.Background())

	select {
	case result := <-detected:
		if result.DominantLabel != "surprise" {
			t.Errorf("handoff carried wrong label %q", result.DominantLabel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("detection handoff never fired")
	}
}

func TestController_MountProbeIsDisplayOnly(t *testing.T) {
	analyzer := &fakeAnalyzer{reachable: false}
	adapter := media.NewLoopback(media.LoopbackConfig{VideoFrame: frameSupplier()})
	ctrl := NewController(Options{
		Modality: emotion.Face,
		Adapter:  adapter,
		Analyzer: analyzer,
	})

	ctrl.Mount(context.Background())
	if ctrl.Snapshot().Reachable {
		t.Error("probe failure must resolve to unreachable")
	}

	// an unreachable probe never gates capture
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start should not be gated by connectivity: %v", err)
	}
}

func TestController_CloseDiscardsLateResult(t *testing.T) {
	gate := make(chan struct{})
	analyzer := &fakeAnalyzer{
		gates: []chan struct{}{gate},
		results: []analysisOutcome{{
			result: &emotion.Result{Modality: emotion.Face, DominantLabel: "fear", Confidence: 60},
		}},
	}
	adapter := media.NewLoopback(media.LoopbackConfig{VideoFrame: frameSupplier()})
	ctrl := NewController(Options{
		Modality: emotion.Face,
		Adapter:  adapter,
		Analyzer: analyzer,
	})

	_ = ctrl.Start(context.Background())
	_ = ctrl.Capture(context.Background())
	waitFor(t, func() bool { return analyzer.callCount() == 1 })

	ctrl.Close()
	close(gate)
	time.Sleep(50 * time.Millisecond)

	if snap := ctrl.Snapshot(); snap.Result != nil {
		t.Errorf("late result after close must be discarded, got %+v", snap.Result)
	}
}
