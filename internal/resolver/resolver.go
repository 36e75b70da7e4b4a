// Package resolver extracts product identifiers from operator input and
// decides which identifier will actually appear inside search result pages.
package resolver

import (
	"net/url"
	"regexp"
	"strings"

	"ranktrack/internal/searchapi"
)

var (
	bareIDPattern  = regexp.MustCompile(`^\d+$`)
	catalogPattern = regexp.MustCompile(`(?i)search\.shopping\.[^/]+/catalog/(\d+)`)
	storePattern   = regexp.MustCompile(`(?i)smartstore\.[^/]+/[^/]+/products/(\d+)`)
	brandPattern   = regexp.MustCompile(`(?i)brand\.[^/]+/[^/]+/products/(\d+)`)
)

// Query parameters that carry a product id on shared/shortened links.
var idQueryParams = []string{"nvMid", "nv_mid", "productId", "id"}

// ExtractCandidateID pulls a candidate product id out of a URL or raw
// token. It accepts a bare numeric token, the known product URL shapes
// (catalog listing, store product, brand product), and finally falls back
// to an id-carrying query parameter. Returns "" when nothing matches.
func ExtractCandidateID(urlOrToken string) string {
	input := strings.TrimSpace(urlOrToken)
	if input == "" {
		return ""
	}

	if bareIDPattern.MatchString(input) {
		return input
	}

	for _, re := range []*regexp.Regexp{catalogPattern, storePattern, brandPattern} {
		if m := re.FindStringSubmatch(input); m != nil {
			return m[1]
		}
	}

	parsed, err := url.Parse(input)
	if err != nil {
		return ""
	}
	values := parsed.Query()
	for _, param := range idQueryParams {
		if v := strings.TrimSpace(values.Get(param)); v != "" && bareIDPattern.MatchString(v) {
			return v
		}
	}
	return ""
}

// ResolveEffectiveID determines the identifier that matches the target
// inside result pages. Only a direct match counts: if some item's own id
// equals the candidate, the candidate is the effective id. When no item
// matches, the product is not exposed under this keyword and "" is
// returned; the target is never silently substituted with an unrelated
// result.
func ResolveEffectiveID(candidateID string, items []searchapi.Item) string {
	if candidateID == "" {
		return ""
	}
	for _, item := range items {
		if item.ProductID == candidateID {
			return candidateID
		}
	}
	return ""
}

// ResolveFirstItem returns the first resolvable item's id. This is the
// caller-opted fallback for input that yielded no candidate at all (e.g. a
// pasted query instead of a URL); it is never applied automatically.
func ResolveFirstItem(items []searchapi.Item) string {
	for _, item := range items {
		if item.ProductID != "" {
			return item.ProductID
		}
	}
	return ""
}
