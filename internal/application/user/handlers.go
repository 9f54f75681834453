// Package userapp serves the account, session and profile endpoints.
package userapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/yebrai/dmchat/internal/application/respond"
	"github.com/yebrai/dmchat/internal/domain/user"
	"github.com/yebrai/dmchat/internal/infrastructure/auth"
	"github.com/yebrai/dmchat/internal/infrastructure/storage"
)

// UserService is the subset of user.Service the handlers use.
type UserService interface {
	Register(ctx context.Context, username, password string) (*user.User, error)
	Authenticate(ctx context.Context, username, password string) (*user.User, error)
	GetUser(ctx context.Context, id int64) (*user.User, error)
	SetStatus(ctx context.Context, id int64, status user.Status, lastSeen time.Time) error
	SanitizeBio(bio string) (string, error)
	UpdateProfile(ctx context.Context, id int64, bio, avatar string) (*user.User, error)
	Roster(ctx context.Context, viewerID int64) ([]*user.User, error)
}

// Sessions starts and ends browser sessions.
type Sessions interface {
	Issue(w http.ResponseWriter, userID int64, username string) (string, error)
	Clear(w http.ResponseWriter)
}

// Presence drops the live realtime connection of a user who logs out.
type Presence interface {
	Evict(ctx context.Context, userID int64) bool
}

// UserHandler handles HTTP requests related to users.
type UserHandler struct {
	users    UserService
	sessions Sessions
	presence Presence
	avatars  storage.AvatarStore
	logger   *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(users UserService, sessions Sessions, presence Presence, avatars storage.AvatarStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		sessions: sessions,
		presence: presence,
		avatars:  avatars,
		logger:   logger.With("component", "user_handler"),
	}
}

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionResponse is returned when a session starts.
type SessionResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	User    *user.User `json:"user"`
	Token   string     `json:"token"`
}

// Register handles new user registration.
// POST /register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := respond.DecodeJSONBody(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request payload: "+err.Error())
		return
	}

	created, err := h.users.Register(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, user.ErrInvalidUsername), errors.Is(err, user.ErrPasswordTooShort):
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, user.ErrUsernameTaken):
		respond.Error(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("registration failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	token, err := h.sessions.Issue(w, created.ID, created.Username)
	if err != nil {
		h.logger.Error("failed to issue session", "user_id", created.ID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	h.logger.Info("user registered", "user_id", created.ID, "username", created.Username)
	respond.JSON(w, http.StatusCreated, SessionResponse{
		Success: true,
		Message: "registration successful",
		User:    created,
		Token:   token,
	})
}

// Login handles user authentication.
// POST /login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := respond.DecodeJSONBody(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request payload: "+err.Error())
		return
	}

	u, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			respond.Error(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.logger.Error("login failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := h.sessions.Issue(w, u.ID, u.Username)
	if err != nil {
		h.logger.Error("failed to issue session", "user_id", u.ID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	respond.JSON(w, http.StatusOK, SessionResponse{
		Success: true,
		Message: "login successful",
		User:    u,
		Token:   token,
	})
}

// Logout marks the caller offline, drops their realtime connection and
// clears the session cookie. GET redirects to the index page.
// POST|GET /logout
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		if err := h.users.SetStatus(r.Context(), id.UserID, user.StatusOffline, time.Now().UTC()); err != nil && !errors.Is(err, user.ErrUserNotFound) {
			h.logger.Error("failed to persist offline status", "user_id", id.UserID, "error", err)
		}
		h.presence.Evict(r.Context(), id.UserID)
		h.logger.Info("user logged out", "user_id", id.UserID)
	}
	h.sessions.Clear(w)

	if r.Method == http.MethodGet {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "logged out"})
}

// ProfileView is the public profile of a user.
type ProfileView struct {
	UserID int64  `json:"user_id"`
	Bio    string `json:"bio"`
	Avatar string `json:"avatar"`
}

// CheckAuthResponse reports whether the request carries a valid session.
type CheckAuthResponse struct {
	Authenticated bool         `json:"authenticated"`
	UserID        int64        `json:"user_id,omitempty"`
	Username      string       `json:"username,omitempty"`
	Profile       *ProfileView `json:"profile,omitempty"`
}

// CheckAuth reports the session state. It never fails with 401.
// GET /api/check-auth
func (h *UserHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respond.JSON(w, http.StatusOK, CheckAuthResponse{})
		return
	}
	u, err := h.users.GetUser(r.Context(), id.UserID)
	if err != nil {
		if !errors.Is(err, user.ErrUserNotFound) {
			h.logger.Error("failed to load session user", "user_id", id.UserID, "error", err)
		}
		respond.JSON(w, http.StatusOK, CheckAuthResponse{})
		return
	}
	respond.JSON(w, http.StatusOK, CheckAuthResponse{
		Authenticated: true,
		UserID:        u.ID,
		Username:      u.Username,
		Profile:       profileOf(u),
	})
}

// GetProfile returns the caller's own profile.
// GET /api/profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	u, err := h.users.GetUser(r.Context(), id.UserID)
	if err != nil {
		h.respondLookupError(w, err, "profile not found")
		return
	}
	respond.JSON(w, http.StatusOK, profileOf(u))
}

// UpdateProfileRequest is the JSON form of a profile update.
type UpdateProfileRequest struct {
	Bio    string `json:"bio"`
	Avatar string `json:"avatar"`
}

// UpdateProfile replaces the caller's bio and optionally the avatar. It
// accepts JSON or a multipart form with an "avatar" file.
// POST /profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())

	var (
		req UpdateProfileRequest
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = h.readProfileForm(w, r)
	} else if err = respond.DecodeJSONBody(w, r, &req); err != nil {
		err = errBadRequest{err}
	}
	if err != nil {
		h.respondUploadError(w, err)
		return
	}

	if req.Avatar != "" && !validAvatarRef(req.Avatar) {
		respond.Error(w, http.StatusBadRequest, "invalid avatar reference")
		return
	}

	u, err := h.users.UpdateProfile(r.Context(), id.UserID, req.Bio, req.Avatar)
	if err != nil {
		if errors.Is(err, user.ErrBioTooLong) {
			respond.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondLookupError(w, err, "profile not found")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "profile updated",
		"profile": profileOf(u),
	})
}

type errBadRequest struct{ err error }

func (e errBadRequest) Error() string { return e.err.Error() }
func (e errBadRequest) Unwrap() error { return e.err }

// readProfileForm parses a multipart profile update and stores the uploaded
// avatar, if any. Nothing is stored unless the bio is acceptable.
func (h *UserHandler) readProfileForm(w http.ResponseWriter, r *http.Request) (UpdateProfileRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxAvatarSize+64<<10)
	if err := r.ParseMultipartForm(storage.MaxAvatarSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return UpdateProfileRequest{}, storage.ErrFileTooLarge
		}
		return UpdateProfileRequest{}, errBadRequest{err}
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := UpdateProfileRequest{
		Bio:    r.FormValue("bio"),
		Avatar: r.FormValue("avatar"),
	}
	if _, err := h.users.SanitizeBio(req.Bio); err != nil {
		return UpdateProfileRequest{}, err
	}

	file, header, err := r.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return UpdateProfileRequest{}, errBadRequest{err}
	}
	defer file.Close()

	if header.Filename == "" {
		return req, nil
	}
	if header.Size > storage.MaxAvatarSize {
		return UpdateProfileRequest{}, storage.ErrFileTooLarge
	}
	key, contentType, err := storage.NewAvatarKey(header.Filename)
	if err != nil {
		return UpdateProfileRequest{}, err
	}
	url, err := h.avatars.Save(r.Context(), key, contentType, file)
	if err != nil {
		return UpdateProfileRequest{}, err
	}
	h.logger.Info("avatar stored", "key", key)
	req.Avatar = url
	return req, nil
}

func (h *UserHandler) respondUploadError(w http.ResponseWriter, err error) {
	var bad errBadRequest
	switch {
	case errors.Is(err, storage.ErrFileTooLarge):
		respond.Error(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, storage.ErrUnsupportedFileType), errors.Is(err, user.ErrBioTooLong):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &bad):
		respond.Error(w, http.StatusBadRequest, "invalid request payload: "+err.Error())
	default:
		h.logger.Error("failed to store avatar", "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to store avatar")
	}
}

// PlayerView is one roster entry.
type PlayerView struct {
	ID       int64       `json:"id"`
	Username string      `json:"username"`
	Status   user.Status `json:"status"`
	LastSeen *time.Time  `json:"last_seen"`
	Avatar   string      `json:"avatar"`
}

// Players lists every other user, online first.
// GET /api/players
func (h *UserHandler) Players(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	users, err := h.users.Roster(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("failed to load roster", "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to load players")
		return
	}
	players := make([]PlayerView, 0, len(users))
	for _, u := range users {
		players = append(players, PlayerView{
			ID:       u.ID,
			Username: u.Username,
			Status:   u.Status,
			LastSeen: lastSeen(u.LastSeen),
			Avatar:   u.AvatarOrDefault(),
		})
	}
	respond.JSON(w, http.StatusOK, players)
}

// UserCard is the detail view of another user.
type UserCard struct {
	PlayerView
	Bio string `json:"bio"`
}

// GetUser returns the card of the user in the path.
// GET /api/user/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || userID <= 0 {
		respond.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}
	u, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		h.respondLookupError(w, err, "User not found")
		return
	}
	respond.JSON(w, http.StatusOK, UserCard{
		PlayerView: PlayerView{
			ID:       u.ID,
			Username: u.Username,
			Status:   u.Status,
			LastSeen: lastSeen(u.LastSeen),
			Avatar:   u.AvatarOrDefault(),
		},
		Bio: u.Bio,
	})
}

func (h *UserHandler) respondLookupError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, user.ErrUserNotFound) {
		respond.Error(w, http.StatusNotFound, notFound)
		return
	}
	h.logger.Error("user lookup failed", "error", err)
	respond.Error(w, http.StatusInternalServerError, "internal error")
}

func profileOf(u *user.User) *ProfileView {
	return &ProfileView{UserID: u.ID, Bio: u.Bio, Avatar: u.AvatarOrDefault()}
}

func lastSeen(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// validAvatarRef accepts site-relative static paths and absolute http(s) URLs.
func validAvatarRef(ref string) bool {
	if strings.ContainsAny(ref, "\"'<> \t\r\n") {
		return false
	}
	if strings.HasPrefix(ref, "/static/") && !strings.Contains(ref, "..") {
		return true
	}
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}
