package repository

import (
	"context"

	"campusconnect/backend/messaging/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.Profile, error)
	GetByUserIDs(ctx context.Context, userIDs []string) ([]models.Profile, error)
	Upsert(ctx context.Context, profile *models.Profile) error
	Delete(ctx context.Context, userID string) error
}

type GormProfileRepository struct {
	db *gorm.DB
}

func NewGormProfileRepository(db *gorm.DB) *GormProfileRepository {
	return &GormProfileRepository{db: db}
}

func (r *GormProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *GormProfileRepository) GetByUserIDs(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	profiles := []models.Profile{}
	if len(userIDs) == 0 {
		return profiles, nil
	}
	err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&profiles).Error
	return profiles, err
}

func (r *GormProfileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "avatar_url", "role", "updated_at"}),
	}).Create(profile).Error
}

func (r *GormProfileRepository) Delete(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Profile{}).Error
}
