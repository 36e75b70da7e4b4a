package models

import "time"

// Scan outcome statuses recorded on an Observation. "not_exposed" and
// "not_found" are valid terminal outcomes, not faults; "error" records a
// request failure with detail.
const (
	StatusFound      = "found"
	StatusNotFound   = "not_found"
	StatusNotExposed = "not_exposed"
	StatusError      = "error"
)

// Observation maps to the `observations` table: one immutable recorded
// outcome of checking a target's rank for a keyword. Rows are append-only;
// corrections are new rows, and the retention purge is the only delete path.
type Observation struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	KeywordID    uint      `gorm:"column:keyword_id;index:idx_observations_keyword_time,priority:1" json:"keyword_id"`
	TargetID     uint      `gorm:"column:target_id;index:idx_observations_target_time,priority:1" json:"target_id"`
	Rank         *int      `gorm:"column:rank" json:"rank"`
	Status       string    `gorm:"column:status;size:30" json:"status"`
	TotalScanned int       `gorm:"column:total_scanned" json:"total_scanned"`
	ErrorDetail  string    `gorm:"column:error_detail;type:text" json:"error_detail,omitempty"`
	CheckedAt    time.Time `gorm:"column:checked_at;index:idx_observations_keyword_time,priority:2;index:idx_observations_target_time,priority:2" json:"checked_at"`
}

func (Observation) TableName() string {
	return "observations"
}

// Successful reports whether the observation carries a usable rank.
func (o *Observation) Successful() bool {
	return o.Status == StatusFound && o.Rank != nil
}

// RankDelta holds the two most recent successful observations of a target
// and the positional change between them.
type RankDelta struct {
	Current  Observation `json:"current"`
	Previous Observation `json:"previous"`
	Change   int         `json:"change"` // previous - current; positive = moved up
}

// RankStatistics summarizes a target's observations inside a date range.
type RankStatistics struct {
	AvgRank        float64 `json:"avg_rank"`
	MinRank        int     `json:"min_rank"`
	MaxRank        int     `json:"max_rank"`
	SuccessRate    float64 `json:"success_rate"`
	TrendDirection string  `json:"trend_direction"`
	Observations   int     `json:"observations"`
}
