package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"ranktrack/internal/models"
)

// ScheduleInvalidator drops the cached scan schedule after a write.
type ScheduleInvalidator interface {
	InvalidateSchedule(ctx context.Context)
}

// KeywordHandler manages tracked keywords and their target relations.
type KeywordHandler struct {
	repos    *Repos
	schedule ScheduleInvalidator
	logger   *zap.Logger
}

func NewKeywordHandler(repos *Repos, schedule ScheduleInvalidator, logger *zap.Logger) *KeywordHandler {
	return &KeywordHandler{repos: repos, schedule: schedule, logger: logger}
}

// List returns keywords with pagination and optional search.
func (h *KeywordHandler) List(c echo.Context) error {
	limit := queryInt(c, "limit", 50)
	page := queryInt(c, "page", 1)

	keywords, total, err := h.repos.Keyword.FindAll(limit, page, c.QueryParam("q"))
	if err != nil {
		h.logger.Error("List keywords failed", zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "failed to list keywords")
	}
	return successResponse(c, "ok", paginatedResponse(keywords, total, page, limit))
}

type createKeywordRequest struct {
	Query string `json:"query"`
}

// Create registers a new tracked keyword.
func (h *KeywordHandler) Create(c echo.Context) error {
	var req createKeywordRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}

	keyword := &models.Keyword{Query: req.Query, IsActive: true}
	if err := h.repos.Keyword.Create(keyword); err != nil {
		h.logger.Error("Create keyword failed", zap.String("query", req.Query), zap.Error(err))
		return errorResponse(c, http.StatusBadRequest, "keyword already exists or is invalid")
	}

	h.schedule.InvalidateSchedule(c.Request().Context())
	return successResponse(c, "keyword created", keyword)
}

// SetActive toggles a keyword's activation flag.
func (h *KeywordHandler) SetActive(active bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := paramUint(c, "id")
		if err != nil {
			return errorResponse(c, http.StatusBadRequest, "invalid keyword id")
		}
		if err := h.repos.Keyword.SetActive(id, active); err != nil {
			h.logger.Error("Set keyword active failed", zap.Uint("id", id), zap.Error(err))
			return errorResponse(c, http.StatusInternalServerError, "failed to update keyword")
		}
		h.schedule.InvalidateSchedule(c.Request().Context())
		return successResponse(c, "keyword updated", nil)
	}
}

// Link attaches a target to a keyword's schedule.
func (h *KeywordHandler) Link(c echo.Context) error {
	keywordID, err := paramUint(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid keyword id")
	}
	targetID, err := paramUint(c, "targetID")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid target id")
	}

	if err := h.repos.Keyword.Link(keywordID, targetID); err != nil {
		h.logger.Error("Link failed",
			zap.Uint("keyword_id", keywordID),
			zap.Uint("target_id", targetID),
			zap.Error(err),
		)
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	h.schedule.InvalidateSchedule(c.Request().Context())
	return successResponse(c, "target linked", nil)
}

// SetRelationActive toggles a keyword-target relation; deactivating
// excludes the target from the keyword's schedule without losing history.
func (h *KeywordHandler) SetRelationActive(active bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		keywordID, err := paramUint(c, "id")
		if err != nil {
			return errorResponse(c, http.StatusBadRequest, "invalid keyword id")
		}
		targetID, err := paramUint(c, "targetID")
		if err != nil {
			return errorResponse(c, http.StatusBadRequest, "invalid target id")
		}

		if err := h.repos.Keyword.SetRelationActive(keywordID, targetID, active); err != nil {
			return errorResponse(c, http.StatusNotFound, "relation not found")
		}
		h.schedule.InvalidateSchedule(c.Request().Context())
		return successResponse(c, "relation updated", nil)
	}
}
