package searchapi

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"ranktrack/internal/config"
)

// Client is the rate-limited, retrying HTTP client over the shopping search
// endpoint. It keeps a persistent connection pool across calls, sleeps a
// jittered delay before every request to stay under the external rate limit
// without synchronized bursts, and retries transient failures with
// exponential backoff.
type Client struct {
	r        *resty.Client
	baseURL  string
	delayMin time.Duration
	delayMax time.Duration
	logger   *zap.Logger
}

// Retry wait bounds. Resty clamps every retry delay, including the value
// returned by the SetRetryAfter hook, into [retryWaitTime, retryMaxWaitTime],
// so the ceiling must sit above any Retry-After a rate-limiting upstream
// plausibly sends or the server's hold-off would be silently shortened.
// Exponential backoff itself stays in single-digit seconds at sane retry
// counts; only the header path reaches higher.
const (
	retryWaitTime    = 1 * time.Second
	retryMaxWaitTime = 2 * time.Minute
)

// New creates a search client from configured credentials and tunables.
func New(cfg *config.SearchAPIConfig, logger *zap.Logger) *Client {
	r := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("X-Naver-Client-Id", cfg.ClientID).
		SetHeader("X-Naver-Client-Secret", cfg.ClientSecret).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(retryWaitTime).
		SetRetryMaxWaitTime(retryMaxWaitTime).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return retryableStatus(resp)
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			// A server-specified Retry-After overrides the backoff delay.
			if d := retryAfterHeader(resp); d > 0 {
				if d > retryMaxWaitTime {
					d = retryMaxWaitTime
				}
				return d, nil
			}
			return 0, nil
		})

	return &Client{
		r:        r,
		baseURL:  cfg.BaseURL,
		delayMin: cfg.DelayMin,
		delayMax: cfg.DelayMax,
		logger:   logger,
	}
}

// Search fetches one page of ranked results. Start and Display are clamped
// to the bounds the endpoint enforces.
func (c *Client) Search(ctx context.Context, p Params) (*Result, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	query := map[string]string{
		"query":   p.Query,
		"start":   strconv.Itoa(clamp(p.Start, MinStart, MaxStart)),
		"display": strconv.Itoa(clamp(p.Display, MinDisplay, MaxDisplay)),
	}
	if p.Sort != "" {
		query["sort"] = p.Sort
	}
	if p.Filter != "" {
		query["filter"] = p.Filter
	}
	if p.Exclude != "" {
		query["exclude"] = p.Exclude
	}

	resp, err := c.r.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(c.baseURL)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.IsError() {
		return nil, c.statusError(resp)
	}

	var result Result
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &StatusError{Status: resp.StatusCode(), Detail: "malformed response body"}
	}

	c.logger.Debug("search page fetched",
		zap.String("query", p.Query),
		zap.Int("start", p.Start),
		zap.Int("items", len(result.Items)),
		zap.Int("total", result.Total),
	)
	return &result, nil
}

// throttle sleeps a random delay inside the configured window, honoring
// cancellation.
func (c *Client) throttle(ctx context.Context) error {
	delay := c.delayMin
	if span := c.delayMax - c.delayMin; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) statusError(resp *resty.Response) error {
	status := resp.StatusCode()
	detail := errorDetail(resp.Body())

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if isQuotaDetail(detail) {
			return &QuotaError{Detail: detail}
		}
		return &AuthError{Status: status, Detail: detail}
	case status == http.StatusTooManyRequests:
		if isQuotaDetail(detail) {
			return &QuotaError{Detail: detail}
		}
		return &RateLimitError{RetryAfter: retryAfterHeader(resp)}
	default:
		return &StatusError{Status: status, Detail: detail}
	}
}

func retryableStatus(resp *resty.Response) bool {
	switch resp.StatusCode() {
	case http.StatusTooManyRequests:
		// Quota exhaustion answers 429 too but retrying cannot help.
		return !isQuotaDetail(errorDetail(resp.Body()))
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryAfterHeader(resp *resty.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := strings.TrimSpace(resp.Header().Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func errorDetail(body []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.ErrorMessage != "" {
		if apiErr.ErrorCode != "" {
			return apiErr.ErrorCode + ": " + apiErr.ErrorMessage
		}
		return apiErr.ErrorMessage
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}

// isQuotaDetail recognizes the daily-cap error body ("012" is the endpoint's
// quota-exceeded error code).
func isQuotaDetail(detail string) bool {
	lower := strings.ToLower(detail)
	return strings.HasPrefix(detail, "012") || strings.Contains(lower, "quota")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
