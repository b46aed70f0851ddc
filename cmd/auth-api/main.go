package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/oakmart/auth-api/api/swagger"
	"github.com/oakmart/auth-api/internal/handler"
	internalmiddleware "github.com/oakmart/auth-api/internal/middleware"
	"github.com/oakmart/auth-api/internal/models"
	"github.com/oakmart/auth-api/internal/repository"
	"github.com/oakmart/auth-api/internal/service"
	"github.com/oakmart/auth-api/pkg/cache"
	"github.com/oakmart/auth-api/pkg/config"
	"github.com/oakmart/auth-api/pkg/database"
	"github.com/oakmart/auth-api/pkg/logger"
	"github.com/oakmart/auth-api/pkg/mailer"
	corsmiddleware "github.com/oakmart/auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/oakmart/auth-api/pkg/middleware/requestid"
)

// @title OakMart Auth API
// @version 1.0.0
// @description Authentication and account lifecycle service
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := database.Migrate(migrateCtx, db); err != nil {
		logr.Sugar().Fatalw("failed to run migrations", "error", err)
	}

	// Redis backs the login rate limiter only. The limiter fails open, so an
	// unreachable Redis degrades protection but not availability.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, rate limiting disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	mail := mailer.New(cfg.SMTP)

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)

	issuer := service.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenExpiry)
	authService := service.NewAuthService(userRepo, tokenRepo, issuer, mail, validate, logr, metrics, service.AuthConfig{
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
		ResetTokenExpiry:   cfg.Auth.ResetTokenExpiry,
		BcryptCost:         cfg.Auth.BcryptCost,
	})
	userService := service.NewUserService(userRepo, tokenRepo, validate, logr)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var limiter gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		limiter = internalmiddleware.RateLimit(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window, metrics, logr)
	} else {
		limiter = func(c *gin.Context) { c.Next() }
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", limiter, authHandler.Login)
		auth.POST("/refresh-token", authHandler.Refresh)
		auth.POST("/forgot-password", limiter, authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)
		auth.POST("/verify-email", authHandler.VerifyEmail)

		secured := auth.Group("", internalmiddleware.Authenticate(authService))
		secured.POST("/logout", authHandler.Logout)
		secured.POST("/change-password", authHandler.ChangePassword)
		secured.GET("/me", authHandler.Me)
	}

	users := api.Group("/users", internalmiddleware.Authenticate(authService))
	{
		users.GET("", internalmiddleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.GET("/:id", internalmiddleware.RBAC(string(models.RoleAdmin), internalmiddleware.SelfRole), userHandler.Get)
		users.PATCH("/:id", internalmiddleware.RequireRoles(models.RoleAdmin), userHandler.Update)
		users.DELETE("/:id", internalmiddleware.RequireRoles(models.RoleAdmin), userHandler.Deactivate)
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if n, err := tokenRepo.DeleteExpired(ctx, time.Now().UTC()); err != nil {
				logr.Warn("refresh token cleanup failed", zap.Error(err))
			} else if n > 0 {
				logr.Info("purged expired refresh tokens", zap.Int64("count", n))
			}
			cancel()
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
