package service

import (
	"context"
	"errors"

	"campusconnect/backend/messaging/models"
	"campusconnect/backend/messaging/repository"
	"campusconnect/backend/pkg/cache"

	"gorm.io/gorm"
)

// ProfileService resolves display names and avatars for user ids. Lookups
// go through an in-memory cache that the identity webhook invalidates.
type ProfileService struct {
	repo  repository.ProfileRepository
	cache *cache.Cache[models.Profile]
}

// NewProfileService creates a profile service. A nil cache disables caching.
func NewProfileService(repo repository.ProfileRepository, c *cache.Cache[models.Profile]) *ProfileService {
	return &ProfileService{repo: repo, cache: c}
}

// Get returns the profile of userID, or ErrProfileNotFound
func (s *ProfileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	if p, ok := s.fromCache(userID); ok {
		return &p, nil
	}

	profile, err := s.repo.GetByUserID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, transportError("get profile", err)
	}

	s.remember(*profile)
	return profile, nil
}

// Lookup returns the known profiles among userIDs keyed by user id. Unknown
// ids are simply absent from the result.
func (s *ProfileService) Lookup(ctx context.Context, userIDs []string) (map[string]models.Profile, error) {
	found := make(map[string]models.Profile, len(userIDs))
	missing := make([]string, 0, len(userIDs))

	for _, id := range userIDs {
		if _, seen := found[id]; seen {
			continue
		}
		if p, ok := s.fromCache(id); ok {
			found[id] = p
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return found, nil
	}

	profiles, err := s.repo.GetByUserIDs(ctx, missing)
	if err != nil {
		return found, transportError("lookup profiles", err)
	}
	for _, p := range profiles {
		found[p.UserID] = p
		s.remember(p)
	}

	return found, nil
}

// Upsert stores the profile and drops any cached copy
func (s *ProfileService) Upsert(ctx context.Context, profile *models.Profile) error {
	if err := s.repo.Upsert(ctx, profile); err != nil {
		return transportError("upsert profile", err)
	}
	s.forget(profile.UserID)
	return nil
}

// Delete removes the profile and drops any cached copy
func (s *ProfileService) Delete(ctx context.Context, userID string) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return transportError("delete profile", err)
	}
	s.forget(userID)
	return nil
}

func (s *ProfileService) fromCache(userID string) (models.Profile, bool) {
	if s.cache == nil {
		return models.Profile{}, false
	}
	return s.cache.Get(userID)
}

func (s *ProfileService) remember(p models.Profile) {
	if s.cache != nil {
		s.cache.Set(p.UserID, p)
	}
}

func (s *ProfileService) forget(userID string) {
	if s.cache != nil {
		s.cache.Delete(userID)
	}
}
