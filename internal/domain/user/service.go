package user

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUsername    = errors.New("username must be 3-32 characters of letters, digits, '_', '.' or '-'")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
	ErrBioTooLong         = errors.New("bio must be at most 500 characters")
)

const (
	MinPasswordLength = 6
	MaxBioLength      = 500
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// Service provides business logic for accounts, profiles and presence status.
type Service struct {
	repo       Repository
	bcryptCost int
	policy     *bluemonday.Policy
	now        func() time.Time
}

// NewService creates a new user Service. A non-positive bcryptCost selects bcrypt.DefaultCost.
func NewService(repo Repository, bcryptCost int) *Service {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:       repo,
		bcryptCost: bcryptCost,
		policy:     bluemonday.StrictPolicy(),
		now:        time.Now,
	}
}

// Register validates the credentials, hashes the password and creates the account.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	existing, err := s.repo.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	u := &User{
		Username:     username,
		PasswordHash: string(hash),
		Status:       StatusOffline,
		LastSeen:     now,
		Avatar:       DefaultAvatar,
		CreatedAt:    now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// Authenticate checks the password and marks the account online.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.repo.SetStatus(ctx, u.ID, StatusOnline, now); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	u.Status = StatusOnline
	u.LastSeen = now
	return u, nil
}

// GetUser returns the user with the given id or ErrUserNotFound.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return u, nil
}

// SetStatus persists status and last-seen time.
func (s *Service) SetStatus(ctx context.Context, id int64, status Status, lastSeen time.Time) error {
	if err := s.repo.SetStatus(ctx, id, status, lastSeen.UTC()); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to set status for user %d: %w", id, err)
	}
	return nil
}

// SanitizeBio strips markup from bio and enforces MaxBioLength on the result.
func (s *Service) SanitizeBio(bio string) (string, error) {
	bio = strings.TrimSpace(s.policy.Sanitize(bio))
	if utf8.RuneCountInString(bio) > MaxBioLength {
		return "", ErrBioTooLong
	}
	return bio, nil
}

// UpdateProfile sanitizes the bio and stores it. An empty avatar keeps the current one.
func (s *Service) UpdateProfile(ctx context.Context, id int64, bio, avatar string) (*User, error) {
	bio, err := s.SanitizeBio(bio)
	if err != nil {
		return nil, err
	}

	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if avatar == "" {
		avatar = u.AvatarOrDefault()
	}

	if err := s.repo.UpdateProfile(ctx, id, bio, avatar); err != nil {
		return nil, fmt.Errorf("failed to update profile for user %d: %w", id, err)
	}
	u.Bio = bio
	u.Avatar = avatar
	return u, nil
}

// Roster lists every user other than viewerID.
func (s *Service) Roster(ctx context.Context, viewerID int64) ([]*User, error) {
	users, err := s.repo.ListOthers(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}
