// Package trend classifies rank movement between consecutive observations.
package trend

import "ranktrack/internal/models"

// Direction is the categorical movement of a target's rank.
type Direction string

const (
	Up       Direction = "up"
	Down     Direction = "down"
	Same     Direction = "same"
	NewEntry Direction = "new_entry" // no prior rank existed, one does now
	Dropped  Direction = "dropped"   // a prior rank existed, none does now
	Unknown  Direction = "unknown"   // neither observation carries a rank
)

// Movement is a classified rank change. Change is previous - current:
// positive means the target moved up, since a lower rank number is better.
type Movement struct {
	Direction Direction `json:"direction"`
	Change    int       `json:"change"`
}

// Classify compares two chronologically ordered observations of the same
// target. Either side may be nil or unranked; the whole function is pure.
func Classify(previous, current *models.Observation) Movement {
	prevRanked := previous != nil && previous.Successful()
	currRanked := current != nil && current.Successful()

	switch {
	case !prevRanked && !currRanked:
		return Movement{Direction: Unknown}
	case !prevRanked:
		return Movement{Direction: NewEntry}
	case !currRanked:
		return Movement{Direction: Dropped}
	}

	change := *previous.Rank - *current.Rank
	switch {
	case change > 0:
		return Movement{Direction: Up, Change: change}
	case change < 0:
		return Movement{Direction: Down, Change: change}
	default:
		return Movement{Direction: Same}
	}
}

// StatDirection classifies window-level movement with a dead-band: changes
// of at most band positions count as stable to keep noise from flip-flopping
// the reported trend.
func StatDirection(earliestRank, latestRank, band int) string {
	change := earliestRank - latestRank
	switch {
	case change > band:
		return "improving"
	case change < -band:
		return "declining"
	default:
		return "stable"
	}
}
