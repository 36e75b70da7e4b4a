package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"ranktrack/internal/scheduler"
)

// SchedulerHandler exposes lifecycle control over the background scan loop.
type SchedulerHandler struct {
	sched  *scheduler.Scheduler
	repos  *Repos
	logger *zap.Logger
}

func NewSchedulerHandler(sched *scheduler.Scheduler, repos *Repos, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		sched:  sched,
		repos:  repos,
		logger: logger,
	}
}

func (h *SchedulerHandler) Status(c echo.Context) error {
	return successResponse(c, "scheduler status", h.sched.Snapshot())
}

func (h *SchedulerHandler) Start(c echo.Context) error {
	if err := h.sched.Start(); err != nil {
		return errorResponse(c, http.StatusConflict, err.Error())
	}
	return successResponse(c, "scheduler started", h.sched.Snapshot())
}

func (h *SchedulerHandler) Pause(c echo.Context) error {
	h.sched.Pause()
	return successResponse(c, "scheduler paused", h.sched.Snapshot())
}

// Resume also clears a tripped circuit breaker, so it doubles as the
// operator's recovery action after an error halt.
func (h *SchedulerHandler) Resume(c echo.Context) error {
	h.sched.Resume()
	return successResponse(c, "scheduler resumed", h.sched.Snapshot())
}

func (h *SchedulerHandler) Stop(c echo.Context) error {
	h.sched.Stop()
	return successResponse(c, "scheduler stopped", h.sched.Snapshot())
}

type purgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// Purge removes observations older than the requested horizon. It is the
// manual counterpart of the nightly retention job.
func (h *SchedulerHandler) Purge(c echo.Context) error {
	var req purgeRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}
	if req.OlderThanDays <= 0 {
		return errorResponse(c, http.StatusBadRequest, "older_than_days must be positive")
	}

	horizon := time.Duration(req.OlderThanDays) * 24 * time.Hour
	removed, err := h.repos.Observation.PurgeOlderThan(horizon)
	if err != nil {
		h.logger.Error("Manual purge failed", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "purge failed")
	}

	h.logger.Info("Manual purge completed",
		zap.Int("older_than_days", req.OlderThanDays),
		zap.Int64("removed", removed),
	)
	return successResponse(c, "purge completed", map[string]int64{"removed": removed})
}
