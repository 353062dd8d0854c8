package repository

import (
	"context"
	"fmt"
	"time"

	"challenge-platform/models"
	"challenge-platform/services"

	"gorm.io/gorm"
)

// ChallengeRepository reads challenges owned by the content service.
type ChallengeRepository struct {
	DB *gorm.DB
}

func NewChallengeRepository(db *gorm.DB) *ChallengeRepository {
	return &ChallengeRepository{DB: db}
}

func (r *ChallengeRepository) Get(ctx context.Context, id string) (*models.Challenge, error) {
	var c models.Challenge
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err, "challenge "+id)
	}
	return &c, nil
}

type ProjectRepository struct {
	DB *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{DB: db}
}

func (r *ProjectRepository) Get(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err, "project "+id)
	}
	return &p, nil
}

// ListAll returns every project, oldest first.
func (r *ProjectRepository) ListAll(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	err := r.DB.WithContext(ctx).Order("created_at ASC").Find(&projects).Error
	return projects, err
}

type SharedChallengeRepository struct {
	DB *gorm.DB
}

func NewSharedChallengeRepository(db *gorm.DB) *SharedChallengeRepository {
	return &SharedChallengeRepository{DB: db}
}

func (r *SharedChallengeRepository) Get(ctx context.Context, id string) (*models.SharedChallenge, error) {
	var s models.SharedChallenge
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, notFound(err, "shared challenge "+id)
	}
	return &s, nil
}

func (r *SharedChallengeRepository) Save(ctx context.Context, shared *models.SharedChallenge) error {
	return r.DB.WithContext(ctx).Save(shared).Error
}

func (r *SharedChallengeRepository) FindByOwnerAndChallenge(ctx context.Context, ownerUserID, challengeID string) (*models.SharedChallenge, error) {
	var s models.SharedChallenge
	err := r.DB.WithContext(ctx).
		Where("owner_user_id = ? AND challenge_id = ?", ownerUserID, challengeID).
		Order("created_at ASC").
		First(&s).Error
	if err != nil {
		return nil, notFound(err, "shared challenge for "+challengeID)
	}
	return &s, nil
}

func (r *SharedChallengeRepository) Highlight(ctx context.Context, id, ownerUserID string, now, expiresAt time.Time) error {
	res := r.DB.WithContext(ctx).
		Model(&models.SharedChallenge{}).
		Where("id = ? AND owner_user_id = ?", id, ownerUserID).
		Where("highlighted = ? OR (highlight_expires_at IS NOT NULL AND highlight_expires_at <= ?)", false, now).
		Updates(map[string]interface{}{
			"highlighted":          true,
			"highlight_expires_at": expiresAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("shared challenge %s: %w", id, services.ErrAlreadyHighlighted)
	}
	return nil
}

func (r *SharedChallengeRepository) ExpireHighlights(ctx context.Context, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).
		Model(&models.SharedChallenge{}).
		Where("highlighted = ? AND highlight_expires_at <= ?", true, now).
		Updates(map[string]interface{}{
			"highlighted":          false,
			"highlight_expires_at": nil,
		})
	return res.RowsAffected, res.Error
}
