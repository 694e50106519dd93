// Package consoleapi exposes the capture panels and the conversational
// session over the gateway's control API.
package consoleapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"maitri-console-go/internal/app/services"
	"maitri-console-go/internal/domain/capture"
	"maitri-console-go/internal/domain/emotion"
	"maitri-console-go/internal/domain/media"
	"maitri-console-go/internal/domain/remote"
	"maitri-console-go/internal/platform/config"
	platerrors "maitri-console-go/internal/platform/errors"
	"maitri-console-go/internal/platform/logging"
	"maitri-console-go/internal/platform/storage"
	httptransport "maitri-console-go/internal/transport/http"
)

// Service wires the domain controllers into HTTP handlers.
type Service struct {
	logger  *logging.Logger
	config  *config.Config
	panels  map[emotion.Modality]*capture.Controller
	session *services.SessionManager
	// store may be nil when persistence is disabled
	store *storage.Store
}

// NewService creates the control API service.
func NewService(
	cfg *config.Config,
	logger *logging.Logger,
	facePanel, voicePanel *capture.Controller,
	session *services.SessionManager,
	store *storage.Store,
) (*Service, error) {
	if cfg == nil {
		return nil, platerrors.New(platerrors.KindConfig, "consoleapi.new", "config is required")
	}
	if facePanel == nil || voicePanel == nil || session == nil {
		return nil, platerrors.New(platerrors.KindConfig, "consoleapi.new", "panels and session are required")
	}

	return &Service{
		logger: logger,
		config: cfg,
		panels: map[emotion.Modality]*capture.Controller{
			emotion.Face:  facePanel,
			emotion.Voice: voicePanel,
		},
		session: session,
		store:   store,
	}, nil
}

// Register mounts all control API routes.
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.GET("/health", s.handleHealth)
	router.GET("/system/status", s.handleSystemStatus)

	panels := router.Group("/panels")
	panels.GET("", s.handlePanelsGet)
	panels.GET("/:modality", s.handlePanelGet)
	panels.POST("/:modality/start", s.panelCommand(func(c *capture.Controller, ctx context.Context) error {
		return c.Start(ctx)
	}))
	panels.POST("/:modality/capture", s.panelCommand(func(c *capture.Controller, ctx context.Context) error {
		return c.Capture(ctx)
	}))
	panels.POST("/:modality/retake", s.panelCommand(func(c *capture.Controller, ctx context.Context) error {
		return c.Retake(ctx)
	}))
	panels.POST("/:modality/stop", s.panelCommand(func(c *capture.Controller, ctx context.Context) error {
		c.Stop()
		return nil
	}))

	chat := router.Group("/chat")
	chat.GET("", s.handleChatGet)
	chat.POST("/text", s.handleChatText)
	chat.POST("/seed", s.handleChatSeed)
	chat.POST("/voice/start", s.handleVoiceStart)
	chat.POST("/voice/stop", s.handleVoiceStop)
	chat.POST("/voice/cancel", s.handleVoiceCancel)
	chat.POST("/notice/dismiss", s.handleNoticeDismiss)

	if s.store != nil {
		router.GET("/transcript/:session_id", s.handleTranscript)
		router.GET("/detections", s.handleDetections)
	}

	if s.logger != nil {
		s.logger.InfoTag("HTTP", "console API routes registered")
	}
	return nil
}

func (s *Service) panel(c *gin.Context) (*capture.Controller, bool) {
	modality := emotion.Modality(c.Param("modality"))
	panel, ok := s.panels[modality]
	if !ok {
		httptransport.RespondError(c, http.StatusNotFound, "unknown modality", nil)
		return nil, false
	}
	return panel, true
}

func (s *Service) handlePanelsGet(c *gin.Context) {
	snapshots := map[string]capture.Snapshot{}
	for modality, panel := range s.panels {
		snapshots[string(modality)] = panel.Snapshot()
	}
	httptransport.RespondSuccess(c, http.StatusOK, snapshots, "")
}

func (s *Service) handlePanelGet(c *gin.Context) {
	panel, ok := s.panel(c)
	if !ok {
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, panel.Snapshot(), "")
}

func (s *Service) panelCommand(run func(*capture.Controller, context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		panel, ok := s.panel(c)
		if !ok {
			return
		}
		if err := run(panel, c.Request.Context()); err != nil {
			// the snapshot carries the user-facing message; the command
			// outcome only reports whether the transition was accepted
			httptransport.RespondError(c, commandStatus(err), err.Error(), panel.Snapshot())
			return
		}
		httptransport.RespondSuccess(c, http.StatusOK, panel.Snapshot(), "")
	}
}

func (s *Service) handleChatGet(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, s.session.Snapshot(), "")
}

type textRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Service) handleChatText(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "text is required", nil)
		return
	}
	if err := s.session.SendText(c.Request.Context(), req.Text); err != nil {
		httptransport.RespondError(c, commandStatus(err), err.Error(), s.session.Snapshot())
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, s.session.Snapshot(), "")
}

type seedRequest struct {
	Emotion string `json:"emotion" binding:"required"`
}

func (s *Service) handleChatSeed(c *gin.Context) {
	var req seedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "emotion is required", nil)
		return
	}
	if err := s.session.Seed(c.Request.Context(), req.Emotion); err != nil {
		httptransport.RespondError(c, commandStatus(err), err.Error(), s.session.Snapshot())
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, s.session.Snapshot(), "")
}

func (s *Service) handleVoiceStart(c *gin.Context) {
	if err := s.session.StartVoiceTurn(c.Request.Context()); err != nil {
		httptransport.RespondError(c, commandStatus(err), err.Error(), s.session.Snapshot())
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, s.session.Snapshot(), "")
}

func (s *Service) handleVoiceStop(c *gin.Context) {
	if err := s.session.StopVoiceTurn(c.Request.Context()); err != nil {
		httptransport.RespondError(c, commandStatus(err), err.Error(), s.session.Snapshot())
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, s.session.Snapshot(), "")
}

func (s *Service) handleVoiceCancel(c *gin.Context) {
	s.session.CancelVoiceTurn()
	httptransport.RespondSuccess(c, http.StatusOK, s.session.Snapshot(), "")
}

func (s *Service) handleNoticeDismiss(c *gin.Context) {
	s.session.DismissNotice()
	httptransport.RespondSuccess(c, http.StatusOK, s.session.Snapshot(), "")
}

func (s *Service) handleTranscript(c *gin.Context) {
	messages, err := s.store.ListMessages(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to read transcript", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, messages, "")
}

func (s *Service) handleDetections(c *gin.Context) {
	detections, err := s.store.ListDetections(c.Request.Context(), 50)
	if err != nil {
		httptransport.RespondError(c, http.StatusInternalServerError, "failed to read detections", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, detections, "")
}

func (s *Service) handleHealth(c *gin.Context) {
	snapshots := map[string]bool{}
	for modality, panel := range s.panels {
		snapshots[string(modality)+"_backend"] = panel.Snapshot().Reachable
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"gateway":  "ok",
		"backends": snapshots,
	}, "")
}

func (s *Service) handleSystemStatus(c *gin.Context) {
	status := gin.H{"time": time.Now().Format(time.RFC3339)}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["mem_percent"] = vm.UsedPercent
		status["mem_total"] = vm.Total
	}
	if uptime, err := host.Uptime(); err == nil {
		status["host_uptime_sec"] = uptime
	}

	httptransport.RespondSuccess(c, http.StatusOK, status, "")
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, capture.ErrBadState),
		errors.Is(err, services.ErrTurnInFlight),
		errors.Is(err, services.ErrNoRecording),
		errors.Is(err, media.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, media.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, media.ErrDeviceUnavailable),
		errors.Is(err, media.ErrNotReady):
		return http.StatusServiceUnavailable
	case remote.IsRemote(err):
		return http.StatusBadGateway
	case remote.IsTransport(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
