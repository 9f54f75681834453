// Package app wires configuration, storage, services and transports into the
// running chat process.
package app

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	chatapp "github.com/yebrai/dmchat/internal/application/chat"
	userapp "github.com/yebrai/dmchat/internal/application/user"
	"github.com/yebrai/dmchat/internal/config"
	"github.com/yebrai/dmchat/internal/domain/chat"
	"github.com/yebrai/dmchat/internal/domain/user"
	"github.com/yebrai/dmchat/internal/infrastructure/api"
	"github.com/yebrai/dmchat/internal/infrastructure/auth"
	"github.com/yebrai/dmchat/internal/infrastructure/persistence"
	"github.com/yebrai/dmchat/internal/infrastructure/storage"
	"github.com/yebrai/dmchat/internal/logging"
	"github.com/yebrai/dmchat/internal/metrics"
	"github.com/yebrai/dmchat/internal/server"
	"github.com/yebrai/dmchat/internal/websocket"
)

// Run parses args, prepares the database and executes the selected command.
// Logs go to w.
func Run(ctx context.Context, w io.Writer, args []string) error {
	cmd, rest, err := ParseCommand(args)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("dmchat "+string(cmd), flag.ContinueOnError)
	fs.SetOutput(w)
	cfg, err := config.Parse(fs, rest)
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	logger := logging.Setup(w, cfg.LogFormat, level)

	dialect := persistence.Dialect(cfg.DBDriver)
	db, err := persistence.Open(ctx, dialect, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if err := persistence.Migrate(ctx, db, dialect, logger); err != nil {
		return err
	}
	if cmd == CommandMigrate {
		logger.Info("migrations applied", "driver", cfg.DBDriver)
		return nil
	}

	a, err := Build(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	return a.Serve(ctx, ln)
}

// App is the assembled HTTP surface and its realtime hub.
type App struct {
	Handler http.Handler
	Hub     *websocket.Hub

	closers []func() error
	logger  *slog.Logger
}

// Serve handles HTTP on ln until ctx ends. Once the server has stopped it
// shuts the hub down, so every connected user is persisted offline before
// Serve returns.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := server.New(ln.Addr().String(), a.Handler, a.logger).Serve(ctx, ln)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	if err := a.Hub.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to drain realtime connections", "error", err)
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// Close releases the connections Build opened.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to release resource", "error", err)
		}
	}
}

// Build wires repositories, services, the hub and the router on top of an
// already migrated database.
func Build(ctx context.Context, cfg config.Config, db *sql.DB, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}
	dialect := persistence.Dialect(cfg.DBDriver)

	var userRepo user.Repository = persistence.NewSQLUserRepository(db, dialect)
	if cfg.RedisURL != "" {
		rdb, err := persistence.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		userRepo = persistence.NewRedisUserRepository(userRepo, rdb, cfg.UserCacheTTL, logger)
		logger.Info("user cache enabled", "ttl", cfg.UserCacheTTL)
	}

	users := user.NewService(userRepo, cfg.BcryptCost)
	messages := chat.NewService(persistence.NewSQLMessageRepository(db, dialect), users)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	hub := websocket.NewHub(users, messages, logger,
		websocket.WithMetrics(collector),
		websocket.WithInboundLimit(rate.Limit(cfg.WSRate), cfg.WSBurst),
	)

	avatars, err := newAvatarStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	jwtService, err := auth.NewJWTService(cfg.JWTSecret, cfg.SessionTTL, cfg.JWTIssuer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create jwt service: %w", err)
	}
	sessions := auth.NewSessionManager(jwtService, cfg.CookieSecure)

	a.Hub = hub
	a.Handler = api.NewRouter(api.Deps{
		Users:       userapp.NewUserHandler(users, sessions, hub, avatars, logger),
		Chat:        chatapp.NewChatHandler(messages, logger),
		Hub:         hub,
		Sessions:    sessions,
		AuthLimiter: api.NewRateLimiter(rate.Limit(cfg.AuthRate), cfg.AuthBurst, logger.With("component", "auth_limiter")),
		Health:      db,
		Metrics:     collector,
		Gatherer:    reg,
		StaticDir:   cfg.StaticDir,
		CORSOrigin:  cfg.CORSOrigin,
		Logger:      logger,
	})
	return a, nil
}

func newAvatarStore(ctx context.Context, cfg config.Config) (storage.AvatarStore, error) {
	switch cfg.AvatarBackend {
	case config.AvatarBackendLocal:
		return storage.NewLocalAvatarStore(cfg.UploadDir, cfg.UploadURLPrefix)
	case config.AvatarBackendS3:
		return storage.NewS3AvatarStore(ctx, storage.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
			KeyPrefix:     cfg.S3KeyPrefix,
		})
	default:
		return nil, errors.New("unsupported avatar backend " + cfg.AvatarBackend)
	}
}
