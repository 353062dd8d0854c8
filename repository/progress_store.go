package repository

import (
	"context"
	"fmt"

	"challenge-platform/models"
	"challenge-platform/services"

	"gorm.io/gorm"
)

// ProgressStore keeps UserProgress in postgres. CompareAndSwap is a conditional UPDATE on the
// version column followed by a rewrite of the child sets, all in one transaction.
type ProgressStore struct {
	DB *gorm.DB
}

func NewProgressStore(db *gorm.DB) *ProgressStore {
	return &ProgressStore{DB: db}
}

func (s *ProgressStore) Load(ctx context.Context, userID string) (*models.UserProgress, int64, error) {
	var p models.UserProgress
	err := s.DB.WithContext(ctx).
		Preload("CompletedChallenges").
		Preload("StartedChallenges").
		Preload("CreditedProjects").
		Preload("Certificates").
		Where("external_user_id = ?", userID).
		First(&p).Error
	if err != nil {
		return nil, 0, notFound(err, "progress for "+userID)
	}
	return &p, p.Version, nil
}

func (s *ProgressStore) Create(ctx context.Context, progress *models.UserProgress) error {
	err := s.DB.WithContext(ctx).Omit(
		"CompletedChallenges", "StartedChallenges", "CreditedProjects", "Certificates",
	).Create(progress).Error
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

func (s *ProgressStore) CompareAndSwap(ctx context.Context, userID string, version int64, p *models.UserProgress) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.UserProgress{}).
			Where("external_user_id = ? AND version = ?", userID, version).
			Updates(map[string]interface{}{
				"points":                    p.Points,
				"completed_challenge_count": p.CompletedChallengeCount,
				"completed_project_count":   p.CompletedProjectCount,
				"rank":                      p.Rank,
				"streak":                    p.Streak,
				"streak_savers":             p.StreakSavers,
				"last_login":                p.LastLogin,
				"ban_until":                 p.BanUntil,
				"last_rank_up_at":           p.LastRankUpAt,
				"version":                   version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("progress for %s at version %d: %w", userID, version, services.ErrConcurrentModification)
		}
		return replaceChildren(tx, p)
	})
}

func replaceChildren(tx *gorm.DB, p *models.UserProgress) error {
	for i := range p.CompletedChallenges {
		p.CompletedChallenges[i].UserProgressID = p.ID
	}
	for i := range p.StartedChallenges {
		p.StartedChallenges[i].UserProgressID = p.ID
	}
	for i := range p.CreditedProjects {
		p.CreditedProjects[i].UserProgressID = p.ID
	}
	for i := range p.Certificates {
		p.Certificates[i].UserProgressID = p.ID
	}

	sets := []struct {
		model interface{}
		rows  interface{}
		n     int
	}{
		{&models.ChallengeCompletion{}, &p.CompletedChallenges, len(p.CompletedChallenges)},
		{&models.ChallengeStart{}, &p.StartedChallenges, len(p.StartedChallenges)},
		{&models.ProjectCredit{}, &p.CreditedProjects, len(p.CreditedProjects)},
		{&models.Certificate{}, &p.Certificates, len(p.Certificates)},
	}
	for _, set := range sets {
		if err := tx.Where("user_progress_id = ?", p.ID).Delete(set.model).Error; err != nil {
			return err
		}
		if set.n == 0 {
			continue
		}
		if err := tx.Create(set.rows).Error; err != nil {
			return err
		}
	}
	return nil
}
