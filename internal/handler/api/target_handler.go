package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"ranktrack/internal/models"
	"ranktrack/internal/resolver"
)

// TargetHandler manages tracking targets and serves their observation
// history.
type TargetHandler struct {
	repos    *Repos
	schedule ScheduleInvalidator
	logger   *zap.Logger
}

func NewTargetHandler(repos *Repos, schedule ScheduleInvalidator, logger *zap.Logger) *TargetHandler {
	return &TargetHandler{repos: repos, schedule: schedule, logger: logger}
}

// List returns targets with pagination and optional search.
func (h *TargetHandler) List(c echo.Context) error {
	limit := queryInt(c, "limit", 50)
	page := queryInt(c, "page", 1)

	targets, total, err := h.repos.Target.FindAll(limit, page, c.QueryParam("q"))
	if err != nil {
		h.logger.Error("List targets failed", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to list targets")
	}
	return successResponse(c, "ok", paginatedResponse(targets, total, page, limit))
}

type createTargetRequest struct {
	Product  string `json:"product"` // product URL or bare id token
	Name     string `json:"name"`
	MallName string `json:"mall_name"`
	Brand    string `json:"brand"`
	Category string `json:"category"`
}

// Create registers a tracking target, extracting the product id from the
// supplied URL or token.
func (h *TargetHandler) Create(c echo.Context) error {
	var req createTargetRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}

	productID := resolver.ExtractCandidateID(req.Product)
	if productID == "" {
		return errorResponse(c, http.StatusBadRequest, "no product id recognized in input")
	}

	target := &models.TrackingTarget{
		ProductID: productID,
		Name:      req.Name,
		MallName:  req.MallName,
		Brand:     req.Brand,
		Category:  req.Category,
		IsActive:  true,
	}
	if err := h.repos.Target.Create(target); err != nil {
		h.logger.Error("Create target failed", zap.String("product_id", productID), zap.Error(err))
		return errorResponse(c, http.StatusBadRequest, "target already exists or is invalid")
	}

	h.schedule.InvalidateSchedule(c.Request().Context())
	return successResponse(c, "target created", target)
}

// SetActive toggles a target's activation flag.
func (h *TargetHandler) SetActive(active bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramUint(c, "id")
		if err != nil {
			return errorResponse(c, http.StatusBadRequest, "invalid target id")
		}
		if err := h.repos.Target.SetActive(id, active); err != nil {
			h.logger.Error("Set target active failed", zap.Uint("id", id), zap.Error(err))
			return errorResponse(c, http.StatusInternalServerError, "failed to update target")
		}
		h.schedule.InvalidateSchedule(c.Request().Context())
		return successResponse(c, "target updated", nil)
	}
}

// History returns a target's observations since ?since (RFC3339 date or
// datetime; defaults to the last 30 days), oldest first.
func (h *TargetHandler) History(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid target id")
	}

	since := time.Now().AddDate(0, 0, -30)
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := parseFlexibleDate(raw)
		if err != nil {
			return errorResponse(c, http.StatusBadRequest, "invalid since date")
		}
		since = parsed
	}

	history, err := h.repos.Observation.History(id, since)
	if err != nil {
		h.logger.Error("History failed", zap.Uint("target_id", id), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to load history")
	}
	return successResponse(c, "ok", history)
}

// Latest returns the most recent observation of a target.
func (h *TargetHandler) Latest(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid target id")
	}

	latest, err := h.repos.Observation.Latest(id)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "failed to load observation")
	}
	if latest == nil {
		return errorResponse(c, http.StatusNotFound, "no observations for target")
	}
	return successResponse(c, "ok", latest)
}

// Delta returns the change between the two most recent successful
// observations, or 404 when fewer than two exist.
func (h *TargetHandler) Delta(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid target id")
	}

	delta, err := h.repos.Observation.Delta(id)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "failed to compute delta")
	}
	if delta == nil {
		return errorResponse(c, http.StatusNotFound, "needs at least two successful observations")
	}
	return successResponse(c, "ok", delta)
}

// Statistics summarizes a target's observations between ?from and ?to
// (defaults: last 30 days through now).
func (h *TargetHandler) Statistics(c echo.Context) error {
	id, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid target id")
	}

	from := time.Now().AddDate(0, 0, -30)
	to := time.Now()
	if raw := c.QueryParam("from"); raw != "" {
		if from, err = parseFlexibleDate(raw); err != nil {
			return errorResponse(c, http.StatusBadRequest, "invalid from date")
		}
	}
	if raw := c.QueryParam("to"); raw != "" {
		if to, err = parseFlexibleDate(raw); err != nil {
			return errorResponse(c, http.StatusBadRequest, "invalid to date")
		}
	}

	stats, err := h.repos.Observation.Statistics(id, from, to)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "failed to compute statistics")
	}
	if stats == nil {
		return errorResponse(c, http.StatusNotFound, "no observations in range")
	}
	return successResponse(c, "ok", stats)
}

func parseFlexibleDate(raw string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02"}
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, raw)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
