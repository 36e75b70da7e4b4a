package searchapi

// Sort modes accepted by the shopping search endpoint.
const (
	SortSimilarity = "sim"
	SortDate       = "date"
	SortPriceAsc   = "asc"
	SortPriceDesc  = "dsc"
)

// Offset and page-size bounds enforced by the endpoint.
const (
	MinStart   = 1
	MaxStart   = 1000
	MinDisplay = 1
	MaxDisplay = 100
)

// Params is one page request against the shopping search endpoint.
// Start is 1-based.
type Params struct {
	Query   string
	Start   int
	Display int
	Sort    string
	Filter  string // optional refinement, e.g. "naverpay"
	Exclude string // optional exclusion, e.g. "used:rental"
}

// Item is one ranked entry of a result page. Price fields are returned as
// decimal strings by the API and kept as-is.
type Item struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Image       string `json:"image"`
	LowPrice    string `json:"lprice"`
	HighPrice   string `json:"hprice"`
	MallName    string `json:"mallName"`
	ProductID   string `json:"productId"`
	ProductType string `json:"productType"`
	Brand       string `json:"brand"`
	Maker       string `json:"maker"`
	Category1   string `json:"category1"`
	Category2   string `json:"category2"`
	Category3   string `json:"category3"`
	Category4   string `json:"category4"`
}

// Result is one page of ranked results.
type Result struct {
	Total   int    `json:"total"`
	Start   int    `json:"start"`
	Display int    `json:"display"`
	Items   []Item `json:"items"`
}

type apiError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}
