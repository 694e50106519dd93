// Package bootstrap wires the gateway together: configuration, logging,
// observability, storage, domain clients, panel controllers, the session
// manager and the transports, then runs the process until shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"maitri-console-go/internal/app/services"
	"maitri-console-go/internal/domain/capture"
	"maitri-console-go/internal/domain/conversation"
	"maitri-console-go/internal/domain/emotion"
	"maitri-console-go/internal/domain/eventbus"
	domainimage "maitri-console-go/internal/domain/image"
	platformconfig "maitri-console-go/internal/platform/config"
	platformerrors "maitri-console-go/internal/platform/errors"
	platformlogging "maitri-console-go/internal/platform/logging"
	platformobservability "maitri-console-go/internal/platform/observability"
	platformstorage "maitri-console-go/internal/platform/storage"
	httptransport "maitri-console-go/internal/transport/http"
	"maitri-console-go/internal/transport/http/consoleapi"
	"maitri-console-go/internal/transport/ws"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config                *platformconfig.Config
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	store                 *platformstorage.Store

	emotionClient *emotion.Client
	dialer        *conversation.Client

	bridge   *ws.Bridge
	playback *services.PlaybackService
	session  *services.SessionManager

	facePanel  *capture.Controller
	voicePanel *capture.Controller

	router *httptransport.Router
}

// Run starts the full gateway lifecycle: init graph, servers, graceful stop.
func Run(ctx context.Context) error {
	state := &appState{}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}

	logBootstrapGraph(InitGraph(), logger)

	if shutdown := state.observabilityShutdown; shutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.WarnTag("bootstrap", "observability shutdown failed: %v", err)
			}
		}()
	}

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	state.playback.Start()
	defer state.playback.Stop()

	// one-time connectivity probes, advisory only
	go state.facePanel.Mount(rootCtx)
	go state.voicePanel.Mount(rootCtx)

	if err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	if err := waitForShutdown(signalCtx, cancel, logger, group); err != nil {
		return err
	}

	state.facePanel.Close()
	state.voicePanel.Close()

	logger.InfoTag("bootstrap", "gateway stopped cleanly")
	logger.Close()
	return nil
}

func startHTTPServer(state *appState, group *errgroup.Group, ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", state.config.Server.IP, state.config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: state.router.Engine,
	}

	group.Go(func() error {
		state.logger.InfoTag("HTTP", "listening on %s", addr)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return platformerrors.Wrap(platformerrors.KindTransport, "http:serve", "http server failed", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return nil
}

func waitForShutdown(
	signalCtx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	group *errgroup.Group,
) error {
	<-signalCtx.Done()
	logger.InfoTag("bootstrap", "shutdown signal received")
	cancel()

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("bootstrap", "initialisation order:")
	for _, step := range steps {
		logger.InfoTag("bootstrap", "  %s", step.Title)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(platformerrors.KindBootstrap, step.ID, "missing execute function")
		}
		if err := step.Execute(ctx, state); err != nil {
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph declares the initialisation steps and their dependencies.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init",
			Title:     "Initialise logging",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init"},
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:open",
			Title:     "Open transcript store",
			DependsOn: []string{"config:load", "logging:init"},
			Kind:      platformerrors.KindStorage,
			Execute:   openStorageStep,
		},
		{
			ID:        "clients:init",
			Title:     "Initialise backend clients",
			DependsOn: []string{"config:load", "logging:init"},
			Execute:   initClientsStep,
		},
		{
			ID:        "bridge:init",
			Title:     "Initialise device bridge",
			DependsOn: []string{"config:load", "logging:init"},
			Execute:   initBridgeStep,
		},
		{
			ID:        "session:init",
			Title:     "Initialise session manager",
			DependsOn: []string{"clients:init", "bridge:init", "storage:open"},
			Execute:   initSessionStep,
		},
		{
			ID:        "panels:init",
			Title:     "Initialise capture panels",
			DependsOn: []string{"clients:init", "bridge:init", "session:init"},
			Execute:   initPanelsStep,
		},
		{
			ID:        "transport:build",
			Title:     "Build HTTP transport",
			DependsOn: []string{"panels:init", "session:init"},
			Kind:      platformerrors.KindTransport,
			Execute:   buildTransportStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	config, err := platformconfig.NewLoader().WithDotEnv(true).Load()
	if err != nil {
		return err
	}
	state.config = config
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return err
	}
	state.logger = logger
	logger.InfoTag("bootstrap", "logging ready [%s]", state.config.Log.Level)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	cfg := platformobservability.Config{
		Enabled: state.config.Observability.Enabled ||
			strings.EqualFold(state.config.Log.Level, "debug"),
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return err
	}
	state.observabilityShutdown = shutdown
	return nil
}

func openStorageStep(_ context.Context, state *appState) error {
	if !state.config.Storage.Enabled {
		state.logger.InfoTag("bootstrap", "persistence disabled")
		return nil
	}
	store, err := platformstorage.Open(state.config.Storage.DSN)
	if err != nil {
		return err
	}
	state.store = store
	return nil
}

func initClientsStep(_ context.Context, state *appState) error {
	services := state.config.Services
	state.emotionClient = emotion.NewClient(emotion.ClientConfig{
		FaceURL:        services.FaceURL,
		VoiceURL:       services.VoiceURL,
		RequestTimeout: services.RequestTimeout.Std(),
		HealthTimeout:  services.HealthTimeout.Std(),
	}, state.logger)
	state.dialer = conversation.NewClient(conversation.ClientConfig{
		ChatURL:        services.ChatURL,
		RequestTimeout: services.RequestTimeout.Std(),
	}, state.logger)
	return nil
}

func initBridgeStep(_ context.Context, state *appState) error {
	state.bridge = ws.NewBridge(ws.BridgeConfig{
		AckTimeout:        state.config.Media.BridgeAckTimeout.Std(),
		MaxRecordingBytes: state.config.Media.MaxRecordingBytes,
		PlayGrace:         state.config.Playback.AckGrace.Std(),
	}, state.logger)

	// state snapshots ride the bridge down to the client as display updates
	bridge := state.bridge
	if err := eventbus.SubscribeAsync(eventbus.EventPanelChanged, func(snapshot capture.Snapshot) {
		bridge.PushState("panel", snapshot)
	}); err != nil {
		return err
	}
	if err := eventbus.SubscribeAsync(eventbus.EventChatChanged, func(snapshot services.SessionSnapshot) {
		bridge.PushState("chat", snapshot)
	}); err != nil {
		return err
	}
	if err := eventbus.SubscribeAsync(eventbus.EventPlaybackFinished, func(event eventbus.PlaybackFinishedEvent) {
		bridge.PushState("playback", event)
	}); err != nil {
		return err
	}
	return nil
}

func initSessionStep(_ context.Context, state *appState) error {
	state.playback = services.NewPlaybackService(&services.PlaybackConfig{
		Playback:    &state.config.Playback,
		AudioOrigin: state.config.Services.AudioOrigin,
		Sink:        state.bridge,
		Logger:      state.logger,
		Bus:         eventbus.Get(),
	})

	sessionCfg := &services.SessionConfig{
		Dialer:  state.dialer,
		Player:  state.playback,
		Adapter: state.bridge,
		Logger:  state.logger,
		Bus:     eventbus.Get(),
	}
	if state.store != nil {
		sessionCfg.Store = state.store
	}
	state.session = services.NewSessionManager(sessionCfg)
	return nil
}

func initPanelsStep(_ context.Context, state *appState) error {
	validator := domainimage.NewValidator(&state.config.Media, state.logger)

	onDetected := func(result *emotion.Result) {
		// the seed handoff must never block or fail the panel
		go func() {
			seedCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := state.session.Seed(seedCtx, result.DominantLabel); err != nil {
				state.logger.Debug("seed handoff skipped: %v", err)
			}
		}()
	}

	var archiver capture.DetectionArchiver
	if state.store != nil {
		archiver = state.store
	}

	state.facePanel = capture.NewController(capture.Options{
		Modality:   emotion.Face,
		Adapter:    state.bridge,
		Analyzer:   state.emotionClient,
		Validator:  validator,
		Archiver:   archiver,
		OnDetected: onDetected,
		Bus:        eventbus.Get(),
		Logger:     state.logger,
	})
	state.voicePanel = capture.NewController(capture.Options{
		Modality:   emotion.Voice,
		Adapter:    state.bridge,
		Analyzer:   state.emotionClient,
		Archiver:   archiver,
		OnDetected: onDetected,
		Bus:        eventbus.Get(),
		Logger:     state.logger,
	})
	return nil
}

func buildTransportStep(ctx context.Context, state *appState) error {
	router, err := httptransport.Build(httptransport.Options{
		Config: state.config,
		Logger: state.logger,
	})
	if err != nil {
		return err
	}

	api, err := consoleapi.NewService(
		state.config,
		state.logger,
		state.facePanel,
		state.voicePanel,
		state.session,
		state.store,
	)
	if err != nil {
		return err
	}
	if err := api.Register(ctx, router.API); err != nil {
		return err
	}

	wsPath := state.config.Server.WebSocketPath
	if wsPath == "" {
		wsPath = "/bridge"
	}
	router.Engine.GET(wsPath, func(c *gin.Context) {
		state.bridge.HandleUpgrade(c.Writer, c.Request)
	})

	state.router = router
	return nil
}
