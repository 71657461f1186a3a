// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"strings"
	"time"

	_ "intouch/docs" // swagger docs
	"intouch/internal/bootstrap"
	"intouch/internal/config"
	"intouch/internal/database"
	"intouch/internal/featureflags"
	"intouch/internal/middleware"
	"intouch/internal/models"
	"intouch/internal/notifications"
	"intouch/internal/repository"
	"intouch/internal/service"
	"intouch/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	blobs          storage.BlobStore
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc
	userRepo       repository.UserRepository
	tokenRepo      repository.TokenRepository
	relationRepo   repository.RelationRepository
	chatRepo       repository.ChatRepository
	gateway        *notifications.Gateway
	featureFlags   *featureflags.Manager
	authService    *service.AuthService
	userService    *service.UserService
	relationSvc    *service.RelationshipService
	chatService    *service.ChatService
	avatarService  *service.AvatarService
	fileService    *service.FileService
}

// NewServer connects the runtime dependencies and builds a Server.
func NewServer(cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(cfg, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	return NewServerWithDeps(cfg, rt.DB, rt.Redis, rt.Blobs)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// The bootstrap layer establishes DB, Redis and the blob store; tests pass
// SQLite, miniredis and an in-memory store. A nil Redis client keeps the
// gateway local and disables tickets and the token blacklist.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, blobs storage.BlobStore) (*Server, error) {
	if blobs == nil {
		blobs = storage.NewMemoryStore()
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		blobs:          blobs,
		promMiddleware: middleware.InitMetrics("intouch-api"),
		userRepo:       repository.NewUserRepository(db),
		tokenRepo:      repository.NewTokenRepository(db),
		relationRepo:   repository.NewRelationRepository(db),
		chatRepo:       repository.NewChatRepository(db),
		gateway:        notifications.NewGateway(redisClient),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
	}
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())

	mailer := service.LogMailer{Logger: middleware.Logger, BaseURL: cfg.PublicBaseURL}
	s.avatarService = service.NewAvatarService(s.userRepo, blobs, cfg)
	s.fileService = service.NewFileService(blobs, cfg)
	s.authService = service.NewAuthService(s.userRepo, s.tokenRepo, redisClient, mailer, cfg)
	s.userService = service.NewUserService(s.userRepo, s.tokenRepo, s.avatarService, cfg.AvatarURLPrefix)
	s.relationSvc = service.NewRelationshipService(s.relationRepo, s.userRepo, cfg.AvatarURLPrefix)
	s.chatService = service.NewChatService(s.chatRepo, s.userRepo)

	s.gateway.OnPresenceChange(
		func(userID string) { s.broadcastPresence(userID, true) },
		func(userID string) { s.broadcastPresence(userID, false) },
	)

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())

	// Propagates request, user and trace ids into the request context.
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so error responses still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		ExposeHeaders:    paginationHeader,
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Errors: []string{"Too many requests, please try again later."},
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "inTouch Backend Metrics Dashboard",
	}))

	api.Get("/swagger/*", swagger.HandlerDefault)

	// Stored avatars and attachments when no external blob host serves them.
	api.Get("/blobs/*", s.ServeBlob)

	auth := api.Group("/auth")
	auth.Post("/register", middleware.RateLimit(
		s.redis, 3, 10*time.Minute, "register"), s.Register)
	auth.Get("/confirm-email", s.ConfirmEmail)
	auth.Get("/confirm-email-change", s.ConfirmEmailChange)
	auth.Post("/login", middleware.RateLimit(
		s.redis, 10, 5*time.Minute, "login"), s.Login)
	auth.Post("/refresh", s.Refresh)
	auth.Post("/logout", s.AuthRequired(), s.Logout)

	// Registered ahead of the protected group, whose middleware covers every
	// /api path; a second AuthRequired pass would find the ticket spent.
	api.Post("/ws/ticket", s.AuthRequired(), s.IssueWSTicket)
	ws := api.Group("/ws", s.AuthRequired())
	ws.Get("/chat", s.WebSocketChatHandler())
	ws.Get("/sessions", s.ListWSSessions)

	protected := api.Group("", s.AuthRequired())

	account := protected.Group("/account")
	account.Put("/", s.UpdateAccount)
	account.Post("/change-password", s.ChangePassword)
	account.Post("/change-email", s.ChangeEmail)
	account.Post("/avatar", middleware.RateLimit(
		s.redis, 10, 10*time.Minute, "avatar_upload"), s.UploadAvatar)
	account.Delete("/avatar", s.DeleteAvatar)
	account.Delete("/", s.DeleteAccount)

	// Specific /users routes before generic /:id
	users := protected.Group("/users")
	users.Get("/search", middleware.RateLimit(
		s.redis, 30, time.Minute, "user_search"), s.SearchUsers)
	users.Get("/me", s.GetMyProfile)
	users.Post("/invite", middleware.RateLimit(
		s.redis, 10, time.Hour, "platform_invite"), s.InviteToPlatform)
	users.Get("/:id", s.GetUserProfile)

	relations := protected.Group("/relations")
	relations.Get("/", s.ListRelations)
	relations.Get("/pending", s.ListPendingInvites)
	relations.Get("/:userId", s.GetRelation)
	relations.Post("/:userId/invite", middleware.RateLimit(
		s.redis, 20, 5*time.Minute, "invite"), s.SendInvite)
	relations.Post("/:userId/accept", s.AcceptInvite)
	relations.Post("/:userId/reject", s.RejectInvite)
	relations.Delete("/:userId/invite", s.CancelInvite)
	relations.Post("/:userId/block", s.BlockUser)
	relations.Delete("/:userId/block", s.UnblockUser)
	relations.Delete("/:userId/friend", s.RemoveFriend)

	chats := protected.Group("/chat")
	chats.Get("/", s.ListChats)
	chats.Post("/private", s.CreatePrivateChat)
	chats.Post("/group", s.CreateGroupChat)
	// Specific /:chatId/:resource routes before generic /:chatId
	chats.Get("/:chatId/messages", s.GetMessages)
	chats.Post("/:chatId/messages", middleware.RateLimit(
		s.redis, 30, time.Minute, "send_chat"), s.SendMessage)
	chats.Post("/:chatId/files", middleware.RateLimit(
		s.redis, 10, time.Minute, "send_file"), s.UploadFile)
	chats.Post("/:chatId/members", s.AddMember)
	chats.Delete("/:chatId/members/:userId", s.RemoveMember)
	chats.Post("/:chatId/leave", s.LeaveChat)
	chats.Put("/:chatId", s.UpdateGroupChat)
	chats.Get("/:chatId", s.GetChat)

	protected.Get("/features", s.GetFeatureFlags)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := database.Ping(ctx, s.db); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		// Tickets, blacklisting and cross-instance fan-out need Redis.
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"version": "1.0.0",
		"status":  overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// AuthRequired returns the authentication middleware. WebSocket paths accept
// a single-use ticket; everything else requires a bearer access token whose
// id has not been blacklisted by logout.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isWSPath := strings.HasPrefix(c.Path(), "/api/ws/")

		if ticket := c.Query("ticket"); ticket != "" && s.redis != nil {
			userID, err := s.consumeWSTicket(c.Context(), ticket)
			if err == nil && userID != "" {
				s.authenticate(c, userID, "")
				return c.Next()
			}
			if isWSPath {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Invalid or expired WebSocket ticket"))
			}
		}

		tokenString, ok := middleware.BearerToken(c)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		claims, err := middleware.ParseAccessToken(s.config.JWTSecret, tokenString)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}
		if claims.JwtID != "" && s.authService.IsRevoked(c.Context(), claims.JwtID) {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Token has been revoked"))
		}

		s.authenticate(c, claims.UserID, claims.JwtID)
		return c.Next()
	}
}

func (s *Server) authenticate(c *fiber.Ctx, userID, jti string) {
	c.Locals("userID", userID)
	c.Locals("jti", jti)
	c.SetUserContext(middleware.WithUserID(c.UserContext(), userID))
}

// App builds the fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:   "inTouch API",
		BodyLimit: (s.config.FileMaxUploadSizeMB + 1) * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Errors: []string{fe.Message}})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// Start wires the gateway to Redis and starts listening.
func (s *Server) Start() error {
	app := s.App()

	go func() {
		if err := s.gateway.StartWiring(s.shutdownCtx); err != nil {
			middleware.Logger.Error("failed to start gateway wiring",
				"hub", s.gateway.Name(), "error", err)
		}
	}()

	middleware.Logger.Info("Server starting", "port", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	// WebSocket handlers return once their write pumps drain, so the gateway
	// goes first.
	if err := s.gateway.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down gateway", "error", err)
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", "error", err)
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", "error", cerr)
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", "error", rerr)
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
