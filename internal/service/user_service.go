package service

import (
	"context"
	"net/mail"
	"strings"

	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/storage"
)

// UserService manages users and their watch lists
type UserService struct {
	store storage.Store
}

// NewUserService creates a user service
func NewUserService(store storage.Store) *UserService {
	return &UserService{store: store}
}

// CreateUser validates and stores a user
func (s *UserService) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.TrimSpace(user.Email)
	addr, err := mail.ParseAddress(user.Email)
	if err != nil || addr.Address != user.Email {
		return apperrors.NewValidationError("email", "not a valid address")
	}
	user.Name = strings.TrimSpace(user.Name)
	return s.store.CreateUser(ctx, user)
}

// GetUser returns a user by id
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}

// Watch adds a listing to a user's watch list, or updates the note of an
// existing entry
func (s *UserService) Watch(ctx context.Context, userID, listingID, note string) (*models.WatchEntry, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError("userId", "required")
	}
	entry := &models.WatchEntry{ListingID: listingID, UserID: userID, Note: strings.TrimSpace(note)}
	if err := s.store.AddWatch(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Unwatch removes a listing from a user's watch list
func (s *UserService) Unwatch(ctx context.Context, userID, listingID string) error {
	if userID == "" {
		return apperrors.NewValidationError("userId", "required")
	}
	return s.store.RemoveWatch(ctx, listingID, userID)
}

// Watched returns the user's watch list, including deactivated listings
func (s *UserService) Watched(ctx context.Context, userID string) ([]*models.WatchedListing, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListWatched(ctx, userID)
}
