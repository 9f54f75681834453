package user

import (
	"context"
	"time"
)

// Repository defines the interface for interacting with user and profile storage.
type Repository interface {
	// Create stores the user together with an empty profile and fills in ID.
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	SetStatus(ctx context.Context, id int64, status Status, lastSeen time.Time) error
	UpdateProfile(ctx context.Context, id int64, bio, avatar string) error
	// ListOthers returns every user except excludeID, online users first, then by username.
	ListOthers(ctx context.Context, excludeID int64) ([]*User, error)
}
