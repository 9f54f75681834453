package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/yebrai/dmchat/internal/domain/user"
)

const (
	userCachePrefixByID       = "user:id:"
	userCachePrefixByUsername = "user:username:"
	defaultUserCacheTTL       = 1 * time.Hour
)

// cachedUser mirrors user.User including the password hash, which the
// public JSON form omits.
type cachedUser struct {
	ID           int64       `json:"id"`
	Username     string      `json:"username"`
	PasswordHash string      `json:"password_hash"`
	Status       user.Status `json:"status"`
	LastSeen     time.Time   `json:"last_seen"`
	Bio          string      `json:"bio"`
	Avatar       string      `json:"avatar"`
	CreatedAt    time.Time   `json:"created_at"`
}

func toCached(u *user.User) cachedUser {
	return cachedUser{
		ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash, Status: u.Status,
		LastSeen: u.LastSeen, Bio: u.Bio, Avatar: u.Avatar, CreatedAt: u.CreatedAt,
	}
}

func (c cachedUser) toUser() *user.User {
	return &user.User{
		ID: c.ID, Username: c.Username, PasswordHash: c.PasswordHash, Status: c.Status,
		LastSeen: c.LastSeen, Bio: c.Bio, Avatar: c.Avatar, CreatedAt: c.CreatedAt,
	}
}

// RedisUserRepository is a cached implementation of user.Repository.
// Users are cached by id; the username key stores only the id, so every write
// invalidates a single entry. Roster listings always go to the source repository.
type RedisUserRepository struct {
	source      user.Repository
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *slog.Logger
}

// NewRedisUserRepository creates a new RedisUserRepository.
func NewRedisUserRepository(source user.Repository, redisClient *redis.Client, cacheTTL time.Duration, logger *slog.Logger) *RedisUserRepository {
	if cacheTTL <= 0 {
		cacheTTL = defaultUserCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisUserRepository{
		source:      source,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
		logger:      logger.With("component", "user_cache"),
	}
}

var _ user.Repository = (*RedisUserRepository)(nil)

func cacheKeyID(id int64) string {
	return userCachePrefixByID + strconv.FormatInt(id, 10)
}

func cacheKeyUsername(username string) string {
	return userCachePrefixByUsername + username
}

// Create creates the user in the source repository and then caches it.
func (r *RedisUserRepository) Create(ctx context.Context, u *user.User) error {
	if err := r.source.Create(ctx, u); err != nil {
		return err
	}
	r.store(ctx, u)
	return nil
}

// FindByID tries the cache first; on a miss it reads the source and caches the result.
func (r *RedisUserRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	data, err := r.redisClient.Get(ctx, cacheKeyID(id)).Bytes()
	if err == nil {
		var c cachedUser
		jsonErr := json.Unmarshal(data, &c)
		if jsonErr == nil {
			return c.toUser(), nil
		}
		r.logger.Warn("discarding undecodable cache entry", "user_id", id, "error", jsonErr)
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn("cache read failed, falling back to database", "user_id", id, "error", err)
	}

	u, err := r.source.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, u)
	return u, nil
}

// FindByUsername resolves the username to an id through the cache when possible.
func (r *RedisUserRepository) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	idStr, err := r.redisClient.Get(ctx, cacheKeyUsername(username)).Result()
	if err == nil {
		if id, parseErr := strconv.ParseInt(idStr, 10, 64); parseErr == nil {
			if u, findErr := r.FindByID(ctx, id); findErr == nil && u.Username == username {
				return u, nil
			}
		}
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn("cache read failed, falling back to database", "username", username, "error", err)
	}

	u, err := r.source.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	r.store(ctx, u)
	return u, nil
}

// SetStatus updates the source and drops the cached entry.
func (r *RedisUserRepository) SetStatus(ctx context.Context, id int64, status user.Status, lastSeen time.Time) error {
	if err := r.source.SetStatus(ctx, id, status, lastSeen); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// UpdateProfile updates the source and drops the cached entry.
func (r *RedisUserRepository) UpdateProfile(ctx context.Context, id int64, bio, avatar string) error {
	if err := r.source.UpdateProfile(ctx, id, bio, avatar); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// ListOthers is not cached; presence changes too often for a cached roster.
func (r *RedisUserRepository) ListOthers(ctx context.Context, excludeID int64) ([]*user.User, error) {
	return r.source.ListOthers(ctx, excludeID)
}

func (r *RedisUserRepository) store(ctx context.Context, u *user.User) {
	data, err := json.Marshal(toCached(u))
	if err != nil {
		r.logger.Warn("failed to encode user for cache", "user_id", u.ID, "error", err)
		return
	}
	pipe := r.redisClient.TxPipeline()
	pipe.Set(ctx, cacheKeyID(u.ID), data, r.cacheTTL)
	pipe.Set(ctx, cacheKeyUsername(u.Username), strconv.FormatInt(u.ID, 10), r.cacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("failed to cache user", "user_id", u.ID, "error", err)
	}
}

func (r *RedisUserRepository) invalidate(ctx context.Context, id int64) {
	if err := r.redisClient.Del(ctx, cacheKeyID(id)).Err(); err != nil {
		r.logger.Warn("failed to invalidate cached user", "user_id", id, "error", err)
	}
}
