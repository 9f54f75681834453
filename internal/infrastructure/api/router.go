package api

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	chatapp "github.com/yebrai/dmchat/internal/application/chat"
	"github.com/yebrai/dmchat/internal/application/respond"
	userapp "github.com/yebrai/dmchat/internal/application/user"
	"github.com/yebrai/dmchat/internal/metrics"
	"github.com/yebrai/dmchat/internal/websocket"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators the router wires into routes.
type Deps struct {
	Users       *userapp.UserHandler
	Chat        *chatapp.ChatHandler
	Hub         *websocket.Hub
	Sessions    IdentityResolver
	AuthLimiter *RateLimiter
	Health      HealthChecker
	// Metrics and Gatherer are optional; /metrics is served only with a Gatherer.
	Metrics    HTTPMetrics
	Gatherer   prometheus.Gatherer
	StaticDir  string
	CORSOrigin string
	Logger     *slog.Logger
}

// NewRouter builds the HTTP surface: session endpoints, the JSON API,
// the websocket endpoint and static files.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()
	router.Use(RecoverMiddleware(d.Logger), LoggingMiddleware(d.Logger, d.Metrics), CORSMiddleware(d.CORSOrigin))
	// Routes declare their real methods only. A preflight therefore lands here,
	// where middleware registered with Use does not run.
	router.MethodNotAllowedHandler = LoggingMiddleware(d.Logger, d.Metrics)(
		CORSMiddleware(d.CORSOrigin)(http.HandlerFunc(methodNotAllowed)))

	router.HandleFunc("/health", healthHandler(d.Health)).Methods(http.MethodGet)
	if d.Gatherer != nil {
		router.Handle("/metrics", metrics.Handler(d.Gatherer)).Methods(http.MethodGet)
	}

	// Session endpoints
	limited := func(h http.HandlerFunc) http.Handler {
		if d.AuthLimiter == nil {
			return h
		}
		return d.AuthLimiter.Middleware(h)
	}
	optional := OptionalAuth(d.Sessions)
	router.Handle("/register", limited(d.Users.Register)).Methods(http.MethodPost)
	router.Handle("/login", limited(d.Users.Login)).Methods(http.MethodPost)
	router.Handle("/logout", optional(http.HandlerFunc(d.Users.Logout))).Methods(http.MethodGet, http.MethodPost)
	router.Handle("/api/check-auth", optional(http.HandlerFunc(d.Users.CheckAuth))).Methods(http.MethodGet)

	// Authenticated routes
	authed := router.NewRoute().Subrouter()
	authed.Use(RequireAuth(d.Sessions))
	authed.HandleFunc("/api/profile", d.Users.GetProfile).Methods(http.MethodGet)
	authed.HandleFunc("/profile", d.Users.UpdateProfile).Methods(http.MethodPost)
	authed.HandleFunc("/api/players", d.Users.Players).Methods(http.MethodGet)
	authed.HandleFunc("/api/user/{id}", d.Users.GetUser).Methods(http.MethodGet)
	authed.HandleFunc("/api/messages", d.Chat.GetMessages).Methods(http.MethodGet)
	authed.HandleFunc("/api/conversations", d.Chat.GetConversations).Methods(http.MethodGet)

	router.HandleFunc("/ws", serveWs(d.Hub, d.Sessions, newUpgrader(d.CORSOrigin), d.Logger.With("component", "ws"))).
		Methods(http.MethodGet)

	if d.StaticDir != "" {
		router.PathPrefix("/static/").
			Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(d.StaticDir))))
		router.Path("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, filepath.Join(d.StaticDir, "index.html"))
		})
	}

	return router
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
}

func healthHandler(hc HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hc != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := hc.PingContext(ctx); err != nil {
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
