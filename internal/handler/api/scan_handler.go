package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ranktrack/internal/models"
	"ranktrack/internal/resolver"
	"ranktrack/internal/scanner"
	"ranktrack/internal/searchapi"
)

// ScanHandler runs on-demand rank scans outside the scheduler loop.
type ScanHandler struct {
	repos   *Repos
	scanner *scanner.Scanner
	search  scanner.SearchClient
	logger  *zap.Logger
}

func NewScanHandler(repos *Repos, sc *scanner.Scanner, search scanner.SearchClient, logger *zap.Logger) *ScanHandler {
	return &ScanHandler{
		repos:   repos,
		scanner: sc,
		search:  search,
		logger:  logger,
	}
}

type scanRequest struct {
	Keyword       string `json:"keyword"`
	Product       string `json:"product"`
	AllowFallback bool   `json:"allow_fallback"`
	MaxDepth      int    `json:"max_depth"`
}

type scanResponse struct {
	Keyword      string          `json:"keyword"`
	ProductID    string          `json:"product_id"`
	EffectiveID  string          `json:"effective_id,omitempty"`
	Rank         *int            `json:"rank"`
	Status       string          `json:"status"`
	Detail       string          `json:"detail,omitempty"`
	TotalScanned int             `json:"total_scanned"`
	MatchedItem  *searchapi.Item `json:"matched_item,omitempty"`
	CheckedAt    time.Time       `json:"checked_at"`
}

// Scan checks one product against one keyword right now. When the keyword
// and product are already tracked, the outcome is recorded as a regular
// observation; ad-hoc pairs are scanned without being persisted.
func (h *ScanHandler) Scan(c echo.Context) error {
	var req scanRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Keyword == "" {
		return errorResponse(c, http.StatusBadRequest, "keyword is required")
	}

	query := models.NormalizeQuery(req.Keyword)
	ctx := c.Request().Context()

	candidate := resolver.ExtractCandidateID(req.Product)
	if candidate == "" && !req.AllowFallback {
		return errorResponse(c, http.StatusBadRequest, "no product id could be extracted; pass allow_fallback to rank the first result instead")
	}

	target := scanner.Target{ProductID: candidate}

	var tracked *models.TrackingTarget
	if candidate != "" {
		row, err := h.repos.Target.FindByProductID(candidate)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, http.StatusInternalServerError, "failed to look up target")
		}
		if row != nil {
			tracked = row
			target.EffectiveID = row.EffectiveID
		}
	} else {
		// Fallback mode: adopt the top result for this keyword as the
		// effective id and report its rank.
		effective, err := h.firstResultID(ctx, query)
		if err != nil {
			return h.searchFailure(c, query, err)
		}
		if effective == "" {
			return successResponse(c, "keyword returned no results", scanResponse{
				Keyword:   query,
				Status:    models.StatusNotExposed,
				Detail:    "no results to fall back to",
				CheckedAt: time.Now(),
			})
		}
		target.ProductID = effective
		target.EffectiveID = effective
	}

	result, err := h.scanner.Scan(ctx, query, target, scanner.Options{MaxDepth: req.MaxDepth})
	if err != nil {
		return h.searchFailure(c, query, err)
	}

	checkedAt := time.Now()
	h.persistOutcome(query, target, result, tracked, checkedAt)

	return successResponse(c, "scan completed", scanResponse{
		Keyword:      query,
		ProductID:    target.ProductID,
		EffectiveID:  result.ResolvedID,
		Rank:         result.Rank,
		Status:       result.Status,
		Detail:       result.Detail,
		TotalScanned: result.TotalScanned,
		MatchedItem:  result.MatchedItem,
		CheckedAt:    checkedAt,
	})
}

type scanBatchRequest struct {
	KeywordID  uint `json:"keyword_id"`
	Exhaustive bool `json:"exhaustive"`
}

// ScanBatch scans every active target linked to a tracked keyword in one
// shared page traversal and records the observations.
func (h *ScanHandler) ScanBatch(c echo.Context) error {
	var req scanBatchRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}

	keyword, err := h.repos.Keyword.FindByID(req.KeywordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, http.StatusNotFound, "keyword not found")
		}
		return errorResponse(c, http.StatusInternalServerError, "failed to look up keyword")
	}

	targets, err := h.repos.Keyword.LinkedTargets(keyword.ID)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, "failed to load linked targets")
	}
	if len(targets) == 0 {
		return errorResponse(c, http.StatusBadRequest, "keyword has no active targets")
	}

	scanTargets := make([]scanner.Target, 0, len(targets))
	byProduct := make(map[string]*models.TrackingTarget, len(targets))
	for i := range targets {
		t := &targets[i]
		scanTargets = append(scanTargets, scanner.Target{
			ProductID:   t.ProductID,
			EffectiveID: t.EffectiveID,
		})
		byProduct[t.ProductID] = t
	}

	results, err := h.scanner.ScanBatch(c.Request().Context(), keyword.Query, scanTargets, scanner.Options{
		Exhaustive: req.Exhaustive,
	})
	if err != nil {
		return h.searchFailure(c, keyword.Query, err)
	}

	checkedAt := time.Now()
	observations := make([]*models.Observation, 0, len(results))
	responses := make([]scanResponse, 0, len(results))
	for productID, result := range results {
		row := byProduct[productID]
		if row != nil {
			observations = append(observations, observationFromResult(keyword.ID, row.ID, result, checkedAt))
			if result.ResolvedID != "" && result.ResolvedID != row.EffectiveID {
				if err := h.repos.Target.SetEffectiveID(row.ID, result.ResolvedID); err != nil {
					h.logger.Warn("failed to store resolved id",
						zap.Uint("target_id", row.ID), zap.Error(err))
				}
			}
		}
		responses = append(responses, scanResponse{
			Keyword:      keyword.Query,
			ProductID:    productID,
			EffectiveID:  result.ResolvedID,
			Rank:         result.Rank,
			Status:       result.Status,
			Detail:       result.Detail,
			TotalScanned: result.TotalScanned,
			MatchedItem:  result.MatchedItem,
			CheckedAt:    checkedAt,
		})
	}

	if err := h.repos.Observation.RecordBatch(observations); err != nil {
		h.logger.Error("failed to record batch scan observations",
			zap.Uint("keyword_id", keyword.ID), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "scan succeeded but observations could not be recorded")
	}

	return successResponse(c, "batch scan completed", responses)
}

// persistOutcome records the scan as an observation when both sides of the
// pair are tracked rows. Ad-hoc scans leave no trace.
func (h *ScanHandler) persistOutcome(query string, target scanner.Target, result *scanner.Result, tracked *models.TrackingTarget, checkedAt time.Time) {
	if tracked == nil {
		return
	}
	keyword, err := h.repos.Keyword.FindByQuery(query)
	if err != nil {
		return
	}

	if result.ResolvedID != "" && result.ResolvedID != tracked.EffectiveID {
		if err := h.repos.Target.SetEffectiveID(tracked.ID, result.ResolvedID); err != nil {
			h.logger.Warn("failed to store resolved id",
				zap.Uint("target_id", tracked.ID), zap.Error(err))
		}
	}

	obs := observationFromResult(keyword.ID, tracked.ID, result, checkedAt)
	if err := h.repos.Observation.Record(obs); err != nil {
		h.logger.Warn("failed to record on-demand observation",
			zap.Uint("target_id", tracked.ID), zap.Error(err))
	}
}

func (h *ScanHandler) firstResultID(ctx context.Context, query string) (string, error) {
	page, err := h.search.Search(ctx, searchapi.Params{
		Query:   query,
		Start:   searchapi.MinStart,
		Display: 1,
		Sort:    searchapi.SortSimilarity,
	})
	if err != nil {
		return "", err
	}
	return resolver.ResolveFirstItem(page.Items), nil
}

// searchFailure maps upstream search errors onto gateway statuses so the
// caller can tell a bad credential from a transient outage.
func (h *ScanHandler) searchFailure(c echo.Context, query string, err error) error {
	h.logger.Warn("on-demand scan failed", zap.String("keyword", query), zap.Error(err))
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorResponse(c, http.StatusGatewayTimeout, "scan cancelled before completion")
	case searchapi.IsFatal(err):
		return errorResponse(c, http.StatusBadGateway, "search API rejected the request: "+err.Error())
	case searchapi.IsRetryable(err):
		return errorResponse(c, http.StatusServiceUnavailable, "search API is temporarily unavailable, try again later")
	default:
		return errorResponse(c, http.StatusInternalServerError, "scan failed: "+err.Error())
	}
}

func observationFromResult(keywordID, targetID uint, result *scanner.Result, checkedAt time.Time) *models.Observation {
	return &models.Observation{
		KeywordID:    keywordID,
		TargetID:     targetID,
		Rank:         result.Rank,
		Status:       result.Status,
		TotalScanned: result.TotalScanned,
		ErrorDetail:  result.Detail,
		CheckedAt:    checkedAt,
	}
}
