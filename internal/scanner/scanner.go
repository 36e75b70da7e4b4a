// Package scanner locates tracking targets inside paginated shopping
// search results.
package scanner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ranktrack/internal/models"
	"ranktrack/internal/resolver"
	"ranktrack/internal/searchapi"
)

// SearchClient is the one-page search contract the scanner consumes.
type SearchClient interface {
	Search(ctx context.Context, p searchapi.Params) (*searchapi.Result, error)
}

// Target is a product to locate. EffectiveID, when already known from a
// prior resolution, is compared directly across the full scan depth;
// otherwise the ProductID candidate is resolved against the first page and
// an unresolvable candidate short-circuits that target as not exposed.
type Target struct {
	ProductID   string
	EffectiveID string
}

// Result is the outcome of scanning one target under one keyword.
type Result struct {
	Rank         *int            // 1-based position; nil when not located
	MatchedItem  *searchapi.Item // the result entry that matched
	ResolvedID   string          // effective id confirmed by this scan
	TotalScanned int             // items actually examined for this target
	Status       string          // models.Status*
	Detail       string          // context for error/negative statuses
}

// Options tune one scan invocation. Zero values fall back to the scanner's
// configured depth, page size and similarity sort; Exhaustive disables the
// early stop so the full depth is scanned even after every target is found.
type Options struct {
	MaxDepth   int
	PageSize   int
	Sort       string
	Exhaustive bool
}

type pendingTarget struct {
	key       string
	effective string
}

// Scanner pages through search results up to a bounded depth.
type Scanner struct {
	client   SearchClient
	logger   *zap.Logger
	maxDepth int
	pageSize int
}

// New creates a scanner with the given default depth and page size.
func New(client SearchClient, maxDepth, pageSize int, logger *zap.Logger) *Scanner {
	if maxDepth <= 0 || maxDepth > searchapi.MaxStart {
		maxDepth = searchapi.MaxStart
	}
	if pageSize <= 0 || pageSize > searchapi.MaxDisplay {
		pageSize = searchapi.MaxDisplay
	}
	return &Scanner{
		client:   client,
		logger:   logger,
		maxDepth: maxDepth,
		pageSize: pageSize,
	}
}

// Scan locates a single target. It is the batch scan over one element, so
// single and batch results always agree.
func (s *Scanner) Scan(ctx context.Context, keyword string, target Target, opts Options) (*Result, error) {
	results, err := s.ScanBatch(ctx, keyword, []Target{target}, opts)
	if err != nil {
		return nil, err
	}
	result, ok := results[target.ProductID]
	if !ok {
		return nil, fmt.Errorf("scan produced no result for target %s", target.ProductID)
	}
	return result, nil
}

// ScanBatch checks every target against a single shared page traversal.
// Pages are fetched in strictly increasing offset order; the scan exits as
// soon as all targets are located (unless Exhaustive), or when the reported
// total or the depth bound is exhausted.
func (s *Scanner) ScanBatch(ctx context.Context, keyword string, targets []Target, opts Options) (map[string]*Result, error) {
	depth := opts.MaxDepth
	if depth <= 0 || depth > s.maxDepth {
		depth = s.maxDepth
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > s.pageSize {
		pageSize = s.pageSize
	}
	sort := opts.Sort
	if sort == "" {
		sort = searchapi.SortSimilarity
	}

	results := make(map[string]*Result, len(targets))

	pending := make([]*pendingTarget, 0, len(targets))
	for _, t := range targets {
		if t.ProductID == "" && t.EffectiveID == "" {
			results[t.ProductID] = &Result{
				Status: models.StatusError,
				Detail: "target has no product identifier",
			}
			continue
		}
		pending = append(pending, &pendingTarget{key: t.ProductID, effective: t.EffectiveID})
	}

	scanned := 0
	total := -1

	for start := 1; start <= depth && len(pending) > 0; start += pageSize {
		// Cooperative stop boundary: in-flight requests complete, the next
		// page is never fetched.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		display := pageSize
		if remaining := depth - start + 1; display > remaining {
			display = remaining
		}

		page, err := s.client.Search(ctx, searchapi.Params{
			Query:   keyword,
			Start:   start,
			Display: display,
			Sort:    sort,
		})
		if err != nil {
			return nil, fmt.Errorf("scan %q page at %d: %w", keyword, start, err)
		}
		if total < 0 {
			total = page.Total
		}

		if start == 1 {
			pending = s.resolvePending(keyword, pending, page.Items, results)
		}

		// The whole page is examined even when a match lands mid-page.
		pageEnd := scanned + len(page.Items)

		for idx := range page.Items {
			item := page.Items[idx]
			for i := 0; i < len(pending); i++ {
				p := pending[i]
				if item.ProductID != p.effective {
					continue
				}
				rank := scanned + idx + 1
				results[p.key] = &Result{
					Rank:         &rank,
					MatchedItem:  &item,
					ResolvedID:   p.effective,
					TotalScanned: pageEnd,
					Status:       models.StatusFound,
				}
				pending = append(pending[:i], pending[i+1:]...)
				i--
			}
		}

		scanned += len(page.Items)

		if len(page.Items) == 0 {
			break
		}
		if !opts.Exhaustive && len(pending) == 0 {
			break
		}
		if total >= 0 && scanned >= total {
			break
		}
	}

	for _, p := range pending {
		results[p.key] = &Result{
			ResolvedID:   p.effective,
			TotalScanned: scanned,
			Status:       models.StatusNotFound,
			Detail:       fmt.Sprintf("rank > %d", scanned),
		}
	}

	s.logger.Debug("scan finished",
		zap.String("keyword", keyword),
		zap.Int("targets", len(targets)),
		zap.Int("scanned", scanned),
		zap.Int("total", total),
	)
	return results, nil
}

// resolvePending resolves effective ids against the first page for targets
// that do not carry one yet. An unresolvable candidate means the product is
// not exposed under this keyword: the target is closed out immediately and
// costs no further page fetches.
func (s *Scanner) resolvePending(keyword string, pending []*pendingTarget, items []searchapi.Item, results map[string]*Result) []*pendingTarget {
	kept := pending[:0]
	for _, p := range pending {
		if p.effective != "" {
			kept = append(kept, p)
			continue
		}
		if eff := resolver.ResolveEffectiveID(p.key, items); eff != "" {
			p.effective = eff
			kept = append(kept, p)
			continue
		}
		results[p.key] = &Result{
			TotalScanned: len(items),
			Status:       models.StatusNotExposed,
			Detail:       "product not exposed for keyword",
		}
		s.logger.Debug("target not exposed",
			zap.String("keyword", keyword),
			zap.String("candidate", p.key),
		)
	}
	return kept
}
