package searchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"ranktrack/internal/config"
)

func newTestClient(t *testing.T, baseURL string, maxRetries int) *Client {
	t.Helper()
	return New(&config.SearchAPIConfig{
		BaseURL:      baseURL,
		ClientID:     "test-id",
		ClientSecret: "test-secret",
		Timeout:      5 * time.Second,
		MaxRetries:   maxRetries,
	}, zap.NewNop())
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestSearchSendsCredentialsAndParams(t *testing.T) {
	var gotReq *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		writeJSON(t, w, http.StatusOK, Result{
			Total:   2,
			Start:   1,
			Display: 2,
			Items: []Item{
				{Title: "Keyboard A", ProductID: "111", MallName: "mall-a", LowPrice: "32000"},
				{Title: "Keyboard B", ProductID: "222", MallName: "mall-b", LowPrice: "28900"},
			},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	result, err := client.Search(context.Background(), Params{
		Query:   "wireless keyboard",
		Start:   1,
		Display: 2,
		Sort:    SortSimilarity,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if gotReq.Header.Get("X-Naver-Client-Id") != "test-id" {
		t.Errorf("client id header = %q", gotReq.Header.Get("X-Naver-Client-Id"))
	}
	if gotReq.Header.Get("X-Naver-Client-Secret") != "test-secret" {
		t.Errorf("client secret header = %q", gotReq.Header.Get("X-Naver-Client-Secret"))
	}
	q := gotReq.URL.Query()
	if q.Get("query") != "wireless keyboard" || q.Get("start") != "1" || q.Get("display") != "2" || q.Get("sort") != "sim" {
		t.Errorf("unexpected query params: %v", q)
	}

	want := &Result{
		Total:   2,
		Start:   1,
		Display: 2,
		Items: []Item{
			{Title: "Keyboard A", ProductID: "111", MallName: "mall-a", LowPrice: "32000"},
			{Title: "Keyboard B", ProductID: "222", MallName: "mall-b", LowPrice: "28900"},
		},
	}
	if diff := cmp.Diff(want, result); diff != "" {
		t.Errorf("Search() result mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchClampsOutOfRangeParams(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"start":   r.URL.Query().Get("start"),
			"display": r.URL.Query().Get("display"),
		}
		writeJSON(t, w, http.StatusOK, Result{})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	if _, err := client.Search(context.Background(), Params{Query: "q", Start: 5000, Display: 0}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if gotQuery["start"] != "1000" {
		t.Errorf("start = %s, want clamped to 1000", gotQuery["start"])
	}
	if gotQuery["display"] != "1" {
		t.Errorf("display = %s, want clamped to 1", gotQuery["display"])
	}
}

func TestSearchRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(t, w, http.StatusInternalServerError, apiError{ErrorCode: "500", ErrorMessage: "upstream hiccup"})
			return
		}
		writeJSON(t, w, http.StatusOK, Result{Total: 1, Items: []Item{{ProductID: "111"}}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	result, err := client.Search(context.Background(), Params{Query: "q", Start: 1, Display: 10})
	if err != nil {
		t.Fatalf("Search() error = %v, want recovery on retry", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
	if len(result.Items) != 1 || result.Items[0].ProductID != "111" {
		t.Errorf("unexpected result after retry: %+v", result)
	}
}

func TestSearchDoesNotRetryAuthFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(t, w, http.StatusUnauthorized, apiError{ErrorCode: "024", ErrorMessage: "Authentication failed"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, err := client.Search(context.Background(), Params{Query: "q"})

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Search() error = %v, want *AuthError", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server saw %d calls, want 1 (auth failures must not be retried)", got)
	}
	if !IsFatal(err) {
		t.Errorf("IsFatal(%v) = false, want true", err)
	}
}

func TestSearchQuotaExhaustionIsFatalNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(t, w, http.StatusTooManyRequests, apiError{ErrorCode: "012", ErrorMessage: "Daily quota exceeded"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, err := client.Search(context.Background(), Params{Query: "q"})

	var quotaErr *QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("Search() error = %v, want *QuotaError", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server saw %d calls, want 1 (quota exhaustion must not be retried)", got)
	}
	if IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = true, want false", err)
	}
}

func TestSearchMapsPlainRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		writeJSON(t, w, http.StatusTooManyRequests, apiError{ErrorCode: "011", ErrorMessage: "Too many requests"})
	}))
	defer srv.Close()

	// Zero retries so the mapped error surfaces immediately.
	client := newTestClient(t, srv.URL, 0)
	_, err := client.Search(context.Background(), Params{Query: "q"})

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("Search() error = %v, want *RateLimitError", err)
	}
	if rateErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %s, want 7s", rateErr.RetryAfter)
	}
	if !IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = false, want true", err)
	}
}

func TestSearchHonorsRetryAfterDelay(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out a real Retry-After delay")
	}

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "3")
			writeJSON(t, w, http.StatusTooManyRequests, apiError{ErrorCode: "011", ErrorMessage: "slow down"})
			return
		}
		writeJSON(t, w, http.StatusOK, Result{Total: 1, Items: []Item{{ProductID: "111"}}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1)
	start := time.Now()
	result, err := client.Search(context.Background(), Params{Query: "q"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("server saw %d calls, want 2", got)
	}

	// The default backoff for a first retry is well under 3s; only the
	// header can push the wait this far.
	if elapsed := time.Since(start); elapsed < 3*time.Second {
		t.Errorf("retry fired after %s, want the 3s Retry-After honored", elapsed)
	}
	if len(result.Items) != 1 {
		t.Errorf("unexpected result after rate-limit retry: %+v", result)
	}
}

func TestRetryWaitCeilingCoversServerHoldOffs(t *testing.T) {
	// Resty clamps every retry delay to retryMaxWaitTime, the Retry-After
	// override included. The ceiling has to exceed the hold-offs rate
	// limiters actually send (tens of seconds) or they would be shortened.
	if retryMaxWaitTime < 30*time.Second {
		t.Fatalf("retryMaxWaitTime = %s, too low to honor a realistic Retry-After", retryMaxWaitTime)
	}
}

func TestSearchCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, Result{})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, srv.URL, 0)
	if _, err := client.Search(ctx, Params{Query: "q"}); err == nil {
		t.Fatal("Search() with cancelled context returned nil error")
	}
}

func TestRetryAfterHeaderParsing(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "seconds", header: "12", want: 12 * time.Second},
		{name: "blank", header: "", want: 0},
		{name: "garbage", header: "soon", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				writeJSON(t, w, http.StatusTooManyRequests, apiError{ErrorCode: "011", ErrorMessage: "slow down"})
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL, 0)
			_, err := client.Search(context.Background(), Params{Query: "q"})

			var rateErr *RateLimitError
			if !errors.As(err, &rateErr) {
				t.Fatalf("Search() error = %v, want *RateLimitError", err)
			}
			if rateErr.RetryAfter != tt.want {
				t.Errorf("RetryAfter = %s, want %s", rateErr.RetryAfter, tt.want)
			}
		})
	}
}

func TestIsQuotaDetail(t *testing.T) {
	tests := []struct {
		detail string
		want   bool
	}{
		{detail: "012: Daily quota exceeded", want: true},
		{detail: "API quota limit reached", want: true},
		{detail: "011: Too many requests", want: false},
		{detail: "", want: false},
	}

	for _, tt := range tests {
		if got := isQuotaDetail(tt.detail); got != tt.want {
			t.Errorf("isQuotaDetail(%q) = %v, want %v", tt.detail, got, tt.want)
		}
	}
}
