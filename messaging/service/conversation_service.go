package service

import (
	"context"
	"errors"

	"campusconnect/backend/messaging/models"
	"campusconnect/backend/messaging/repository"
	"campusconnect/backend/pkg/logger"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// ProfileReader resolves profiles for conversation decoration
type ProfileReader interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
	Lookup(ctx context.Context, userIDs []string) (map[string]models.Profile, error)
}

// ConversationService derives conversation summaries from the message store
type ConversationService struct {
	messages      repository.MessageRepository
	profiles      ProfileReader
	previewLength int
	log           *logger.Logger
}

// NewConversationService creates a conversation service
func NewConversationService(messages repository.MessageRepository, profiles ProfileReader, previewLength int, log *logger.Logger) *ConversationService {
	return &ConversationService{
		messages:      messages,
		profiles:      profiles,
		previewLength: previewLength,
		log:           log,
	}
}

// ListConversations returns one entry per counterpart of userID, most recent first.
// A user without messages gets an empty, non-nil slice.
func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.ListConversations")
	defer span.End()

	if userID == "" {
		return nil, ErrAuthorization
	}

	latest, err := s.messages.LatestPerCounterpart(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, transportError("list conversations", err)
	}
	span.SetAttributes(attribute.Int("conversations", len(latest)))

	counterparts := lo.Map(latest, func(m models.Message, _ int) string {
		return m.CounterpartOf(userID)
	})

	profiles, err := s.profiles.Lookup(ctx, counterparts)
	if err != nil {
		// names are decoration, the list is still correct without them
		s.log.WithContext(ctx).LogError(err, "Failed to decorate conversations")
	}

	return lo.Map(latest, func(m models.Message, _ int) models.Conversation {
		var profile *models.Profile
		if p, ok := profiles[m.CounterpartOf(userID)]; ok {
			profile = &p
		}
		return models.NewConversation(userID, m, profile, s.previewLength)
	}), nil
}

// OpenConversation returns the conversation between userID and counterpartID.
// When the pair has not exchanged any message yet, a placeholder built from
// the counterpart's profile is returned instead.
func (s *ConversationService) OpenConversation(ctx context.Context, userID, counterpartID string) (models.Conversation, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.OpenConversation")
	defer span.End()

	if userID == "" {
		return models.Conversation{}, ErrAuthorization
	}
	if counterpartID == "" {
		return models.Conversation{}, ErrMissingReceiver
	}

	last, err := s.messages.LatestBetween(ctx, userID, counterpartID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile, err := s.profiles.Get(ctx, counterpartID)
		if err != nil {
			return models.Conversation{}, err
		}
		return models.NewPlaceholderConversation(*profile), nil
	case err != nil:
		span.RecordError(err)
		return models.Conversation{}, transportError("open conversation", err)
	}

	var profile *models.Profile
	p, err := s.profiles.Get(ctx, counterpartID)
	switch {
	case err == nil:
		profile = p
	case !errors.Is(err, ErrProfileNotFound):
		s.log.WithContext(ctx).LogError(err, "Failed to decorate conversation", "counterpart_id", counterpartID)
	}

	return models.NewConversation(userID, *last, profile, s.previewLength), nil
}
