package server

import (
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"time"

	"storefront-catalog/internal/cache"
	"storefront-catalog/internal/config"
	"storefront-catalog/internal/domain"
	"storefront-catalog/internal/events"
	custommiddleware "storefront-catalog/internal/middleware"
	"storefront-catalog/internal/repository"
	"storefront-catalog/internal/service"
	"storefront-catalog/internal/storage"
	"storefront-catalog/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies are the external resources the server is built on.
type Dependencies struct {
	DB        *sql.DB
	Redis     *redis.Client
	Publisher events.Publisher
	Images    storage.ImageStore
	// Closers are released after the database and redis on Close.
	Closers []io.Closer
}

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	deps   Dependencies
}

func NewServer(cfg *config.Config, logger *zap.Logger, deps Dependencies) *Server {
	router := chi.NewRouter()

	for _, mw := range custommiddleware.DefaultMiddlewareStack() {
		router.Use(mw)
	}
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.Server.AllowedOrigins, cfg.Server.IsDevelopment()))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))

	router.Get("/health", healthHandler(deps))

	// Repositories
	userRepo := repository.NewUserRepository(deps.DB)
	refreshTokenRepo := repository.NewRefreshTokenRepository(deps.DB)
	catalogRepo := repository.NewCatalogRepository(deps.DB)
	productRepo := repository.NewProductRepository(deps.DB)
	txRunner := repository.NewTxRunner(deps.DB)

	catalogCache := cache.NewRedisCatalogCache(deps.Redis, cfg.Redis.CacheTTL, logger)

	// Services
	userService := service.NewUserService(userRepo, refreshTokenRepo, cfg.JWT.Secret,
		service.WithTokenExpiry(
			time.Duration(cfg.JWT.AccessExpiry)*time.Minute,
			time.Duration(cfg.JWT.RefreshExpiry)*24*time.Hour,
		),
	)
	categoryService := service.NewCategoryService(txRunner, catalogRepo, catalogCache, deps.Publisher, logger)
	productService := service.NewProductService(txRunner, catalogRepo, productRepo, deps.Images, catalogCache, deps.Publisher, logger)

	// Handlers
	userHandler := transport.NewUserHandler(userService, logger)
	categoryHandler := transport.NewCategoryHandler(categoryService, productService, logger)
	productHandler := transport.NewProductHandler(productService, logger)

	// Guards
	policy := domain.RolePolicy{}
	auth := custommiddleware.AuthMiddleware(cfg.JWT.Secret, logger)
	rateLimit := custommiddleware.RateLimitMiddleware(deps.Redis, custommiddleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.Requests,
		Window:            cfg.RateLimit.Window,
		KeyPrefix:         "rate_limit:auth",
	}, logger)
	require := func(perm domain.Permission) func(http.Handler) http.Handler {
		return custommiddleware.RequirePermission(policy, perm, logger)
	}

	userHandler.RegisterRoutes(router, auth, rateLimit, require(domain.PermissionManageUsers))
	categoryHandler.RegisterRoutes(router, auth, require(domain.PermissionManageCategories))
	productHandler.RegisterRoutes(router, auth, require(domain.PermissionManageProducts))

	return &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
		deps:   deps,
	}
}

// healthHandler reports the database and redis status; either being down yields 503.
func healthHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "database": "up", "redis": "up"}
		code := http.StatusOK

		if err := deps.DB.PingContext(r.Context()); err != nil {
			status["database"] = "down"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
		if err := deps.Redis.Ping(r.Context()).Err(); err != nil {
			status["redis"] = "down"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}

		custommiddleware.RespondWithJSON(w, code, status)
	}
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.deps.DB != nil {
		if err := s.deps.DB.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}
	if s.deps.Redis != nil {
		if err := s.deps.Redis.Close(); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	for _, c := range s.deps.Closers {
		if err := c.Close(); err != nil {
			s.logger.Error("Failed to close resource", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
