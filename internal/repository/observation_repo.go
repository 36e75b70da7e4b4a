package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ranktrack/internal/models"
	"ranktrack/internal/trend"
)

// statDeadBand is the ± positions treated as noise when classifying the
// window-level trend in Statistics.
const statDeadBand = 5

// ObservationRepository is the append-only store of rank checks. Rows are
// never updated; the retention purge is the only deletion path.
type ObservationRepository struct {
	db *gorm.DB
}

func NewObservationRepository(db *gorm.DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// Record appends a single observation.
func (r *ObservationRepository) Record(obs *models.Observation) error {
	if obs.CheckedAt.IsZero() {
		obs.CheckedAt = time.Now().UTC()
	}
	return r.db.Create(obs).Error
}

// RecordBatch appends a set of observations atomically, so a batch scan's
// outcome is either fully persisted or not at all.
func (r *ObservationRepository) RecordBatch(observations []*models.Observation) error {
	if len(observations) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, obs := range observations {
			if obs.CheckedAt.IsZero() {
				obs.CheckedAt = now
			}
			if err := tx.Create(obs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Latest returns the most recent observation of a target, or nil when the
// target has never been checked.
func (r *ObservationRepository) Latest(targetID uint) (*models.Observation, error) {
	var obs models.Observation
	err := r.db.Where("target_id = ?", targetID).
		Order("checked_at DESC, id DESC").
		First(&obs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// LatestSuccessful returns the most recent observation of a target that
// carries a rank, or nil when none exists. It is the baseline for movement
// classification: transient error or not-found rows in between must not
// reset a target's trend.
func (r *ObservationRepository) LatestSuccessful(targetID uint) (*models.Observation, error) {
	var obs models.Observation
	err := r.db.Where("target_id = ? AND status = ? AND rank IS NOT NULL",
		targetID, models.StatusFound).
		Order("checked_at DESC, id DESC").
		First(&obs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// History returns a target's observations since the given time, oldest
// first.
func (r *ObservationRepository) History(targetID uint, since time.Time) ([]models.Observation, error) {
	var observations []models.Observation
	err := r.db.Where("target_id = ? AND checked_at >= ?", targetID, since).
		Order("checked_at ASC, id ASC").
		Find(&observations).Error
	return observations, err
}

// RecentByKeyword returns the latest observations recorded under a keyword,
// newest first.
func (r *ObservationRepository) RecentByKeyword(keywordID uint, limit int) ([]models.Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	var observations []models.Observation
	err := r.db.Where("keyword_id = ?", keywordID).
		Order("checked_at DESC, id DESC").
		Limit(limit).
		Find(&observations).Error
	return observations, err
}

// Delta compares the two most recent successful observations of a target.
// It returns nil when fewer than two exist; a baseline is never fabricated.
func (r *ObservationRepository) Delta(targetID uint) (*models.RankDelta, error) {
	var observations []models.Observation
	err := r.db.Where("target_id = ? AND status = ? AND rank IS NOT NULL",
		targetID, models.StatusFound).
		Order("checked_at DESC, id DESC").
		Limit(2).
		Find(&observations).Error
	if err != nil {
		return nil, err
	}
	if len(observations) < 2 {
		return nil, nil
	}

	current, previous := observations[0], observations[1]
	return &models.RankDelta{
		Current:  current,
		Previous: previous,
		Change:   *previous.Rank - *current.Rank,
	}, nil
}

// Statistics summarizes a target's observations inside [from, to]. Rank
// aggregates cover successful observations only; the success rate covers
// all of them. The trend compares the earliest and latest successful rank
// in the window with a dead-band so small wiggles read as stable.
func (r *ObservationRepository) Statistics(targetID uint, from, to time.Time) (*models.RankStatistics, error) {
	var observations []models.Observation
	err := r.db.Where("target_id = ? AND checked_at >= ? AND checked_at <= ?",
		targetID, from, to).
		Order("checked_at ASC, id ASC").
		Find(&observations).Error
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, nil
	}

	stats := &models.RankStatistics{
		TrendDirection: "stable",
		Observations:   len(observations),
	}

	var ranked []int
	for i := range observations {
		if observations[i].Successful() {
			ranked = append(ranked, *observations[i].Rank)
		}
	}
	stats.SuccessRate = float64(len(ranked)) / float64(len(observations))

	if len(ranked) == 0 {
		return stats, nil
	}

	sum := 0
	stats.MinRank = ranked[0]
	stats.MaxRank = ranked[0]
	for _, rank := range ranked {
		sum += rank
		if rank < stats.MinRank {
			stats.MinRank = rank
		}
		if rank > stats.MaxRank {
			stats.MaxRank = rank
		}
	}
	stats.AvgRank = float64(sum) / float64(len(ranked))
	stats.TrendDirection = trend.StatDirection(ranked[0], ranked[len(ranked)-1], statDeadBand)
	return stats, nil
}

// PurgeOlderThan deletes observations past the retention horizon and
// returns the number removed. This is the store's only mutation besides
// inserts.
func (r *ObservationRepository) PurgeOlderThan(horizon time.Duration) (int64, error) {
	if horizon <= 0 {
		return 0, fmt.Errorf("retention horizon must be positive")
	}
	cutoff := time.Now().UTC().Add(-horizon)
	result := r.db.Where("checked_at < ?", cutoff).Delete(&models.Observation{})
	return result.RowsAffected, result.Error
}
