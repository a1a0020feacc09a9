package repository

import (
	"context"

	"campusconnect/backend/messaging/models"

	"gorm.io/gorm"
)

type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	ListBetween(ctx context.Context, userA, userB string) ([]models.Message, error)
	ListBetweenPaginated(ctx context.Context, userA, userB string, limit, offset int) ([]models.Message, error)
	LatestBetween(ctx context.Context, userA, userB string) (*models.Message, error)
	LatestPerCounterpart(ctx context.Context, userID string) ([]models.Message, error)
}

type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *GormMessageRepository) ListBetween(ctx context.Context, userA, userB string) ([]models.Message, error) {
	messages := []models.Message{}
	err := r.between(ctx, userA, userB).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

func (r *GormMessageRepository) ListBetweenPaginated(ctx context.Context, userA, userB string, limit, offset int) ([]models.Message, error) {
	messages := []models.Message{}
	err := r.between(ctx, userA, userB).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, err
}

// LatestBetween returns the last inserted message of the pair, picked by id like
// LatestPerCounterpart. It returns gorm.ErrRecordNotFound when the pair never exchanged a message.
func (r *GormMessageRepository) LatestBetween(ctx context.Context, userA, userB string) (*models.Message, error) {
	var message models.Message
	err := r.between(ctx, userA, userB).
		Order("id DESC").
		First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// LatestPerCounterpart returns the most recent message exchanged with each distinct counterpart,
// newest first. Ids grow with insertion order, so MAX(id) picks the latest row of each group.
func (r *GormMessageRepository) LatestPerCounterpart(ctx context.Context, userID string) ([]models.Message, error) {
	latest := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS counterpart_id, MAX(id) AS last_id", userID).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Group("counterpart_id")

	messages := []models.Message{}
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("messages.*").
		Joins("JOIN (?) AS latest ON latest.last_id = messages.id", latest).
		Order("messages.created_at DESC, messages.id DESC").
		Find(&messages).Error
	return messages, err
}

func (r *GormMessageRepository) between(ctx context.Context, userA, userB string) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA)
}
