package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nocturnechat/nocturne-gateway/internal/api"
	"github.com/nocturnechat/nocturne-gateway/internal/auth"
	"github.com/nocturnechat/nocturne-gateway/internal/channel"
	"github.com/nocturnechat/nocturne-gateway/internal/config"
	"github.com/nocturnechat/nocturne-gateway/internal/gateway"
	"github.com/nocturnechat/nocturne-gateway/internal/guild"
	"github.com/nocturnechat/nocturne-gateway/internal/httputil"
	"github.com/nocturnechat/nocturne-gateway/internal/invite"
	"github.com/nocturnechat/nocturne-gateway/internal/member"
	"github.com/nocturnechat/nocturne-gateway/internal/message"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/role"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/store"
	"github.com/nocturnechat/nocturne-gateway/internal/user"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// server holds the shared handlers wired over the domain services, ready for route registration.
type server struct {
	cfg     *config.Config
	db      *store.PostgresRepository
	rdb     *redis.Client
	hub     *gateway.Hub
	invites *invite.Service

	guildHandler   *api.GuildHandler
	channelHandler *api.ChannelHandler
	roleHandler    *api.RoleHandler
	memberHandler  *api.MemberHandler
	inviteHandler  *api.InviteHandler
	messageHandler *api.MessageHandler
	typingHandler  *api.TypingHandler
	userHandler    *api.UserHandler
	gatewayHandler *api.GatewayHandler
	healthHandler  *api.HealthHandler
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("Starting Nocturne Gateway")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("CORS_ALLOW_ORIGINS is set to a wildcard. Set an explicit origin when in production.")
	}

	ctx := context.Background()

	pool, err := store.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	if err := store.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("Redis connected")

	repo := store.NewPostgresRepository(pool)
	ids := snowflake.NewGenerator()

	channels := channel.NewService(repo)
	roles := role.NewService(repo)
	guilds := guild.NewService(repo, channels, roles, ids)
	members := member.NewService(repo)
	users := user.NewService(repo)
	messages := message.NewService(repo)
	invites := invite.NewService(repo)

	validator := auth.NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer)
	limiter := gateway.NewRateLimiter(rdb)
	hub := gateway.NewHub(cfg, log.Logger, validator, limiter, users, guilds, channels, roles, members)
	authz := api.NewAuthorizer(guilds, roles, members)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()

	go runWithBackoff(subCtx, "invite-janitor", func(ctx context.Context) error {
		janitor(ctx, invites, cfg.InviteJanitorInterval)
		return ctx.Err()
	})

	srv := &server{
		cfg:     cfg,
		db:      repo,
		rdb:     rdb,
		hub:     hub,
		invites: invites,

		guildHandler:   api.NewGuildHandler(guilds, members, authz, hub, ids, log.Logger),
		channelHandler: api.NewChannelHandler(channels, guilds, hub, ids, log.Logger),
		roleHandler:    api.NewRoleHandler(roles, guilds, authz, hub, ids, log.Logger),
		memberHandler:  api.NewMemberHandler(members, guilds, roles, authz, hub, log.Logger),
		inviteHandler:  api.NewInviteHandler(invites, channels, guilds, members, hub, log.Logger),
		messageHandler: api.NewMessageHandler(messages, channels, hub, ids, log.Logger),
		typingHandler:  api.NewTypingHandler(channels, hub, log.Logger),
		userHandler:    api.NewUserHandler(users, guilds, log.Logger),
		gatewayHandler: api.NewGatewayHandler(hub),
		healthHandler:  &api.HealthHandler{DB: pool, Redis: rdb},
	}

	app := fiber.New(fiber.Config{
		AppName: "Nocturne Gateway",
		// ErrorHandler catches errors returned by handlers that are not already mapped to structured API responses
		// (e.g. Fiber's built-in 404/405). errors.AsType is a generic helper added in Go 1.26.
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			apiCode := protocol.InternalError
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
				apiCode = fiberStatusToAPICode(e.Code)
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return c.Status(status).JSON(httputil.ErrorResponse{
				Error: httputil.ErrorBody{
					Code:    apiCode,
					Message: message,
				},
			})
		},
	})

	app.Use(requestid.New())
	if cfg.LogHealthRequests {
		app.Use(httputil.RequestLogger(log.Logger))
	} else {
		app.Use(httputil.RequestLogger(log.Logger, "/api/health"))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	srv.registerRoutes(app, validator)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// registerRoutes wires every handler into the fiber route table. Guild, channel, role, member,
// and message routes nest under their parent resource per SPEC_FULL.md §4.5.1; the gateway
// upgrade and health check sit outside /api and the bearer-auth requirement respectively.
func (s *server) registerRoutes(app *fiber.App, validator auth.TokenValidator) {
	requireAuth := auth.RequireAuth(validator)

	app.Get("/api/health", s.healthHandler.Health)
	app.Get("/gateway", s.gatewayHandler.Upgrade)

	apiGroup := app.Group("/api", requireAuth)

	userGroup := apiGroup.Group("/users")
	userGroup.Get("/@me", s.userHandler.GetSelf)
	userGroup.Get("/@me/guilds", s.userHandler.ListGuilds)
	userGroup.Get("/:id", s.userHandler.GetUser)

	guildGroup := apiGroup.Group("/guilds")
	guildGroup.Post("/", s.guildHandler.Create)
	guildGroup.Patch("/:id", s.guildHandler.Update)
	guildGroup.Delete("/:id", s.guildHandler.Delete)
	guildGroup.Put("/:id/bans/:user_id", s.guildHandler.Ban)
	guildGroup.Delete("/:id/bans/:user_id", s.guildHandler.Unban)

	guildGroup.Post("/:id/channels", s.channelHandler.Create)
	guildGroup.Patch("/:id/channels/:channelID", s.channelHandler.Update)
	guildGroup.Delete("/:id/channels/:channelID", s.channelHandler.Delete)

	guildGroup.Get("/:id/roles", s.roleHandler.ListRoles)
	guildGroup.Post("/:id/roles", s.roleHandler.CreateRole)
	guildGroup.Patch("/:id/roles/:roleID", s.roleHandler.UpdateRole)
	guildGroup.Delete("/:id/roles/:roleID", s.roleHandler.DeleteRole)

	guildGroup.Get("/:id/members", s.memberHandler.ListMembers)
	guildGroup.Patch("/:id/members/:user_id", s.memberHandler.UpdateMember)
	guildGroup.Delete("/:id/members/:user_id", s.memberHandler.KickMember)
	guildGroup.Put("/:id/members/:user_id/roles/:roleID", s.memberHandler.AssignRole)
	guildGroup.Delete("/:id/members/:user_id/roles/:roleID", s.memberHandler.RemoveRole)

	guildGroup.Get("/:id/invites", s.inviteHandler.ListGuildInvites)

	inviteGroup := apiGroup.Group("/invites")
	inviteGroup.Post("/:code", s.inviteHandler.AcceptInvite)
	inviteGroup.Delete("/:code", s.inviteHandler.DeleteInvite)

	channelGroup := apiGroup.Group("/channels")
	channelGroup.Post("/:id/invites", s.inviteHandler.CreateInvite)
	channelGroup.Post("/:id/typing", s.typingHandler.StartTyping)

	channelGroup.Get("/:id/messages", s.messageHandler.ListMessages)
	channelGroup.Post("/:id/messages", s.messageHandler.CreateMessage)
	channelGroup.Post("/:id/messages/bulk-delete", s.messageHandler.BulkDeleteMessages)
	channelGroup.Patch("/:id/messages/:messageID", s.messageHandler.EditMessage)
	channelGroup.Delete("/:id/messages/:messageID", s.messageHandler.DeleteMessage)
	channelGroup.Put("/:id/messages/:messageID/pin", s.messageHandler.PinMessage)
	channelGroup.Delete("/:id/messages/:messageID/pin", s.messageHandler.UnpinMessage)

	// Catch-all handler returns 404 for any request that does not match a defined route. Fiber v3 treats app.Use()
	// middleware as route matches, so without this terminal handler the router considers unmatched requests
	// "handled" and returns the default 200 status with an empty body.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

// janitor purges expired invites once and then on every tick of interval until ctx is cancelled.
func janitor(ctx context.Context, invites *invite.Service, interval time.Duration) {
	purge := func() {
		deleted, err := invites.PurgeExpired(ctx, time.Now())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to purge expired invites")
		} else if deleted > 0 {
			log.Info().Int64("deleted", deleted).Msg("Purged expired invites")
		}
	}
	purge()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when it returns a non-nil, non-cancelled error.
// If fn returns nil or context.Canceled the goroutine exits. The delay starts at 1 second and doubles on each
// consecutive failure up to a 2-minute cap.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("Background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}

// fiberStatusToAPICode maps an HTTP status code from Fiber's built-in errors (404, 405, etc.) to the closest
// protocol error code. protocol.Code has no generic "not found"/"payload too large" member (only domain-specific
// Unknown* codes), so unmatched 4xx statuses fall back to ValidationError rather than inventing a new code.
func fiberStatusToAPICode(status int) protocol.Code {
	switch status {
	case fiber.StatusTooManyRequests:
		return protocol.RateLimited
	case fiber.StatusServiceUnavailable:
		return protocol.ServiceUnavailable
	default:
		if status >= 400 && status < 500 {
			return protocol.ValidationError
		}
		return protocol.InternalError
	}
}
