package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SessionCookieName is the cookie that carries the session token.
const SessionCookieName = "session"

// Identity is the authenticated user attached to a request.
type Identity struct {
	UserID   int64
	Username string
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && id.UserID > 0
}

// SessionManager binds JWT session tokens to HTTP requests and responses.
type SessionManager struct {
	jwt    *JWTService
	secure bool
}

// NewSessionManager creates a SessionManager. secure marks the cookie HTTPS-only.
func NewSessionManager(jwt *JWTService, secure bool) *SessionManager {
	return &SessionManager{jwt: jwt, secure: secure}
}

// Issue signs a token for the user and sets it as the session cookie.
// The token is returned for clients that prefer a bearer header.
func (m *SessionManager) Issue(w http.ResponseWriter, userID int64, username string) (string, error) {
	token, err := m.jwt.GenerateToken(userID, username)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.jwt.TTL() / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// Clear expires the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Resolve extracts and validates the session token of r. The session cookie
// wins over an Authorization bearer header, which wins over a "token" query
// parameter (browsers cannot set headers on websocket handshakes).
func (m *SessionManager) Resolve(r *http.Request) (Identity, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	claims, err := m.jwt.ValidateToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}
