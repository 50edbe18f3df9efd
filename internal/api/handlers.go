package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/evotalks/backup-agent/internal/archive"
	"github.com/evotalks/backup-agent/internal/config"
	"github.com/evotalks/backup-agent/internal/evotalks"
	"github.com/evotalks/backup-agent/internal/health"
	"github.com/evotalks/backup-agent/internal/orchestrator"
	"github.com/evotalks/backup-agent/internal/requestid"
	"github.com/evotalks/backup-agent/internal/scheduler"
	"github.com/evotalks/backup-agent/internal/store"
)

// Runner triggers backup cycles.
type Runner interface {
	RunBackupCycle(ctx context.Context, trigger string) orchestrator.Result
}

// RemoteClient is the slice of the remote client the API exposes directly.
type RemoteClient interface {
	FetchChatDetail(ctx context.Context, creds evotalks.Credentials, chatID int) evotalks.DetailResult
	FetchCleaningInfo(ctx context.Context, creds evotalks.Credentials) evotalks.CleaningResult
}

// ArchiveReader is the slice of the archive store the API reads from.
type ArchiveReader interface {
	List(dir string) ([]archive.Record, error)
	Materialize(dir string, chatID int) (archive.View, error)
	LastBackupTime(dir string) (time.Time, bool)
}

// RunHistory lists recorded backup runs.
type RunHistory interface {
	ListRuns(limit int) ([]store.Run, error)
}

// Handlers holds dependencies for the HTTP handlers.
type Handlers struct {
	archive  ArchiveReader
	configs  *config.Store
	schedule *scheduler.Manager
	runner   Runner
	client   RemoteClient
	runs     RunHistory
	checker  *health.Checker
	logger   zerolog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(
	archiveStore ArchiveReader,
	configs *config.Store,
	schedule *scheduler.Manager,
	runner Runner,
	client RemoteClient,
	runs RunHistory,
	checker *health.Checker,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		archive:  archiveStore,
		configs:  configs,
		schedule: schedule,
		runner:   runner,
		client:   client,
		runs:     runs,
		checker:  checker,
		logger:   logger.With().Str("component", "handlers").Logger(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())

	allOK := true
	for _, s := range results {
		if s == health.StatusDown {
			allOK = false
			break
		}
	}

	status := fiber.StatusOK
	state := "ready"
	if !allOK {
		status = fiber.StatusServiceUnavailable
		state = "not_ready"
	}
	return c.Status(status).JSON(fiber.Map{"status": state, "checks": results})
}

// ListChats handles GET /api/v1/chats.
func (h *Handlers) ListChats(c *fiber.Ctx) error {
	cfg, err := h.configs.Load()
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"config_error", "Internal Server Error", err.Error())
	}
	if cfg.DownloadPath == "" {
		return c.JSON(ChatListResponse{Chats: []archive.Record{}})
	}

	records, err := h.archive.List(cfg.DownloadPath)
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"archive_error", "Internal Server Error", err.Error())
	}
	if records == nil {
		records = []archive.Record{}
	}
	return c.JSON(ChatListResponse{Chats: records, Total: len(records)})
}

// GetChat handles GET /api/v1/chats/:id.
func (h *Handlers) GetChat(c *fiber.Ctx) error {
	chatID, err := c.ParamsInt("id")
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_chat_id", "Bad Request", "Chat id must be an integer")
	}

	cfg, err := h.configs.Load()
	if err != nil || cfg.DownloadPath == "" {
		return problemResponse(c, fiber.StatusNotFound,
			"not_downloaded", "Not Found", "No download directory configured")
	}

	view, err := h.archive.Materialize(cfg.DownloadPath, chatID)
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"archive_error", "Internal Server Error", err.Error())
	}
	if view.Metadata == nil && view.Transcript == "" && len(view.Files) == 0 {
		return problemResponse(c, fiber.StatusNotFound,
			"not_downloaded", "Not Found", "No stored record for this chat")
	}
	return c.JSON(view)
}

// GetChatDetail handles GET /api/v1/chats/:id/detail (remote metadata).
func (h *Handlers) GetChatDetail(c *fiber.Ctx) error {
	chatID, err := c.ParamsInt("id")
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_chat_id", "Bad Request", "Chat id must be an integer")
	}

	creds, ok := h.credentials(c)
	if !ok {
		return nil
	}

	res := h.client.FetchChatDetail(c.Context(), creds, chatID)
	if res.Status != evotalks.StatusOK {
		return remoteProblem(c, res.Status)
	}
	return c.JSON(res.Detail)
}

// GetCleaningInfo handles GET /api/v1/cleaning.
func (h *Handlers) GetCleaningInfo(c *fiber.Ctx) error {
	creds, ok := h.credentials(c)
	if !ok {
		return nil
	}

	res := h.client.FetchCleaningInfo(c.Context(), creds)
	if res.Status != evotalks.StatusOK {
		return remoteProblem(c, res.Status)
	}
	return c.JSON(res.Info)
}

// RunBackup handles POST /api/v1/backup/run. The cycle runs in the
// background; an already-running cycle absorbs the fire via the run-lock.
func (h *Handlers) RunBackup(c *fiber.Ctx) error {
	ctx := requestid.WithRequestID(context.Background(), requestid.FromContext(c.Context()))
	go h.runner.RunBackupCycle(ctx, orchestrator.TriggerManual)
	return c.Status(fiber.StatusAccepted).JSON(RunAcceptedResponse{
		Accepted: true,
		Trigger:  orchestrator.TriggerManual,
	})
}

// LastBackup handles GET /api/v1/backup/last.
func (h *Handlers) LastBackup(c *fiber.Ctx) error {
	cfg, err := h.configs.Load()
	if err != nil || cfg.DownloadPath == "" {
		return c.JSON(LastBackupResponse{})
	}
	if t, ok := h.archive.LastBackupTime(cfg.DownloadPath); ok {
		return c.JSON(LastBackupResponse{LastBackup: &t})
	}
	return c.JSON(LastBackupResponse{})
}

// GetConfig handles GET /api/v1/config.
func (h *Handlers) GetConfig(c *fiber.Ctx) error {
	cfg, err := h.configs.Load()
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"config_error", "Internal Server Error", err.Error())
	}
	return c.JSON(ConfigResponse{
		APIKeySet:    cfg.APIKey != "",
		InstanceURL:  cfg.InstanceURL,
		DownloadPath: cfg.DownloadPath,
		WeekSchedule: cfg.WeekSchedule,
	})
}

// PutConfig handles PUT /api/v1/config. An empty apiKey in the request
// keeps the stored key. A changed week schedule is applied immediately.
func (h *Handlers) PutConfig(c *fiber.Ctx) error {
	var req UpdateConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}

	current, err := h.configs.Load()
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"config_error", "Internal Server Error", err.Error())
	}

	next := config.AppConfig{
		APIKey:       req.APIKey,
		InstanceURL:  req.InstanceURL,
		DownloadPath: req.DownloadPath,
		WeekSchedule: req.WeekSchedule,
	}
	if next.APIKey == "" {
		next.APIKey = current.APIKey
	}
	if next.WeekSchedule == nil {
		next.WeekSchedule = current.WeekSchedule
	}

	if err := h.saveAndReschedule(next); err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"config_error", "Internal Server Error", err.Error())
	}
	return c.JSON(fiber.Map{"saved": true})
}

// GetSchedule handles GET /api/v1/schedule.
func (h *Handlers) GetSchedule(c *fiber.Ctx) error {
	cfg, err := h.configs.Load()
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"config_error", "Internal Server Error", err.Error())
	}

	active := []int{}
	for _, day := range h.schedule.Active() {
		active = append(active, int(day))
	}
	return c.JSON(ScheduleResponse{WeekSchedule: cfg.WeekSchedule, ActiveDays: active})
}

// PutSchedule handles PUT /api/v1/schedule: persists the week schedule and
// rebuilds the trigger table. Saving the same schedule twice is a no-op for
// the active trigger set.
func (h *Handlers) PutSchedule(c *fiber.Ctx) error {
	var req UpdateScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}
	if req.WeekSchedule == nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_schedule", "Bad Request", "weekSchedule is required")
	}

	cfg, err := h.configs.Load()
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"config_error", "Internal Server Error", err.Error())
	}
	cfg.WeekSchedule = req.WeekSchedule

	if err := h.saveAndReschedule(cfg); err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"schedule_error", "Internal Server Error", err.Error())
	}
	return c.JSON(fiber.Map{"saved": true})
}

// ListRuns handles GET /api/v1/runs.
func (h *Handlers) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	runs, err := h.runs.ListRuns(limit)
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"store_error", "Internal Server Error", err.Error())
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return c.JSON(RunListResponse{Runs: runs})
}

func (h *Handlers) saveAndReschedule(cfg config.AppConfig) error {
	if err := h.configs.Save(cfg); err != nil {
		return err
	}
	return h.schedule.RestoreFromConfig(cfg.WeekSchedule)
}

// credentials loads remote credentials, writing a problem response and
// returning ok=false when they are missing.
func (h *Handlers) credentials(c *fiber.Ctx) (evotalks.Credentials, bool) {
	cfg, err := h.configs.Load()
	if err != nil {
		_ = problemResponse(c, fiber.StatusInternalServerError,
			"config_error", "Internal Server Error", err.Error())
		return evotalks.Credentials{}, false
	}
	if !cfg.RemoteConfigured() {
		_ = problemResponse(c, fiber.StatusConflict,
			"remote_not_configured", "Conflict",
			"Remote credentials are not configured")
		return evotalks.Credentials{}, false
	}
	return evotalks.Credentials{APIKey: cfg.APIKey, InstanceURL: cfg.InstanceURL}, true
}

func remoteProblem(c *fiber.Ctx, status evotalks.Status) error {
	if status == evotalks.StatusNetworkError {
		return problemResponse(c, fiber.StatusGatewayTimeout,
			"remote_network_error", "Gateway Timeout",
			"The remote instance did not respond")
	}
	return problemResponse(c, fiber.StatusBadGateway,
		"remote_unavailable", "Bad Gateway",
		"The remote instance rejected the request")
}
