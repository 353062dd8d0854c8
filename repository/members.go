package repository

import (
	"context"
	"time"

	"challenge-platform/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemberRepository is the local mirror of profile-service users.
type MemberRepository struct {
	DB *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{DB: db}
}

func (r *MemberRepository) Get(ctx context.Context, userID string) (*models.Member, error) {
	var m models.Member
	if err := r.DB.WithContext(ctx).Where("external_user_id = ?", userID).First(&m).Error; err != nil {
		return nil, notFound(err, "member "+userID)
	}
	return &m, nil
}

// Upsert inserts or refreshes the member keyed by external_user_id.
func (r *MemberRepository) Upsert(ctx context.Context, m *models.Member) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "email", "first_name", "last_name", "track", "banned_until", "updated_at",
		}),
	}).Create(m).Error
}

// LastUpdatedAt is the newest profile timestamp mirrored so far, zero when empty.
func (r *MemberRepository) LastUpdatedAt(ctx context.Context) (time.Time, error) {
	var last *time.Time
	err := r.DB.WithContext(ctx).
		Model(&models.Member{}).
		Select("MAX(updated_at)").
		Scan(&last).Error
	if err != nil || last == nil {
		return time.Time{}, err
	}
	return *last, nil
}

// RedemptionRepository appends to the redemption audit log.
type RedemptionRepository struct {
	DB *gorm.DB
}

func NewRedemptionRepository(db *gorm.DB) *RedemptionRepository {
	return &RedemptionRepository{DB: db}
}

func (r *RedemptionRepository) Append(ctx context.Context, redemption *models.RewardRedemption) error {
	return r.DB.WithContext(ctx).Create(redemption).Error
}
