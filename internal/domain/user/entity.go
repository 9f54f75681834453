package user

import "time"

// Status is the presence state mirrored into the user directory.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// DefaultAvatar is the avatar reference given to every new profile.
const DefaultAvatar = "/static/default-avatar.png"

// User represents a registered account joined with its 1:1 profile.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // never serialized
	Status       Status    `json:"status"`
	LastSeen     time.Time `json:"last_seen"`
	Bio          string    `json:"bio"`
	Avatar       string    `json:"avatar"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsOnline reports whether the stored status is online.
func (u *User) IsOnline() bool {
	return u.Status == StatusOnline
}

// AvatarOrDefault returns the avatar reference, falling back to DefaultAvatar.
func (u *User) AvatarOrDefault() string {
	if u == nil || u.Avatar == "" {
		return DefaultAvatar
	}
	return u.Avatar
}
