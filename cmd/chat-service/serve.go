package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/events"
	"github.com/weiawesome/wes-io-chat/internal/handler"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/lifecycle"
	"github.com/weiawesome/wes-io-chat/internal/membership"
	"github.com/weiawesome/wes-io-chat/internal/metrics"
	"github.com/weiawesome/wes-io-chat/internal/presence"
	"github.com/weiawesome/wes-io-chat/internal/ratelimit"
	"github.com/weiawesome/wes-io-chat/internal/registry"
	"github.com/weiawesome/wes-io-chat/internal/repository"
	"github.com/weiawesome/wes-io-chat/internal/router"
	"github.com/weiawesome/wes-io-chat/internal/service"
	"github.com/weiawesome/wes-io-chat/internal/typing"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve websocket and REST traffic",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// 1. Configuration and logging
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	initLogger(cfg)
	logger := pkglog.L()

	policy, err := lifecycle.ParsePolicy(cfg.Lifecycle.GroupStatusPolicy)
	if err != nil {
		return err
	}

	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenDuration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// 2. Database
	db, err := database.New(databaseConfig(cfg))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	// 3. Event bus and presence directory
	bus, err := pubsub.NewPublisher(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	pub := events.NewPublisher(bus)
	defer pub.Close()

	var directory registry.Directory = registry.NoopDirectory{}
	if cfg.Redis.Address != "" {
		dir, err := registry.NewRedisDirectory(cfg.Redis, uuid.NewString())
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, presence directory disabled")
		} else {
			directory = dir
			logger.Info().Str("addr", cfg.Redis.Address).Msg("presence directory connected")
		}
	}
	defer directory.Close()

	// 4. Core: registry, membership, router, presence, lifecycle
	store := repository.NewGormStore(db)
	wsHub := hub.NewHub(cfg.Registry.Shards)
	authority := membership.NewAuthority(store)
	r := router.New(wsHub, authority)
	broadcaster := presence.NewBroadcaster(wsHub, r, directory, pub)
	wsHub.OnChange(broadcaster.Notify)
	tracker := lifecycle.NewTracker(store, authority, r, pub, policy)

	// 5. Services
	sendLimiter := ratelimit.NewPerMinute(cfg.RateLimit.MessagesPerMinute, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL)
	apiLimiter := ratelimit.NewPerMinute(cfg.RateLimit.APIRequestsPerMinute, cfg.RateLimit.APIRequestsPerMinute, cfg.RateLimit.IdleTTL)

	messages := service.NewMessageService(store, authority, r, sendLimiter)
	groups := service.NewGroupService(authority, r, pub)
	users := service.NewUserService(store)
	chat := service.NewChatService(wsHub, tracker, typing.NewRelay(r), messages)

	authMiddleware := middleware.NewAuthMiddleware(tokens, func(c *gin.Context, claims *jwt.Claims) error {
		_, err := users.EnsureUser(c.Request.Context(), claims.UserID, claims.Username, claims.FullName)
		return err
	})

	// 6. HTTP
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(pkglog.GinMiddleware(logger))
	if cfg.Metrics.Enabled {
		engine.GET(cfg.Metrics.Path, metrics.Handler())
	}
	handler.NewHandler(messages, groups, users, broadcaster.Snapshot, authMiddleware, apiLimiter.Middleware()).RegisterRoutes(engine)
	handler.NewWSHandler(wsHub, chat, users, tokens, cfg.WebSocket).RegisterRoutes(engine)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: engine}

	// 7. Run until signalled
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := directory.StartHeartbeat(ctx); err != nil {
		return fmt.Errorf("start presence heartbeat: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return broadcaster.Run(gctx) })
	g.Go(func() error { return sendLimiter.Run(gctx) })
	g.Go(func() error { return apiLimiter.Run(gctx) })
	g.Go(func() error {
		logger.Info().Str("addr", addr).Str("group_status_policy", string(policy)).Msg("chat-service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
		}
		wsHub.CloseAll()
		directory.StopHeartbeat()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("chat-service stopped")
	return nil
}
