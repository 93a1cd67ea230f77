package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/config"
	callbackHandler "github.com/meghabhansali2911/customer-engagement-platform/internal/handler/http/callback"
	callrequestHandler "github.com/meghabhansali2911/customer-engagement-platform/internal/handler/http/callrequest"
	tokenHandler "github.com/meghabhansali2911/customer-engagement-platform/internal/handler/http/tokenapi"
	uploadHandler "github.com/meghabhansali2911/customer-engagement-platform/internal/handler/http/upload"
	wsHandler "github.com/meghabhansali2911/customer-engagement-platform/internal/handler/ws"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/middleware"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/provider/memhub"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/queue"
	storageService "github.com/meghabhansali2911/customer-engagement-platform/internal/service/storage"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/token"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/metrics"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/response"
)

func main() {
	cfg := config.Load()

	// 1. Logger
	if err := logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 2. Metrics
	appMetrics := metrics.New("call-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 3. Token issuer
	issuer := token.NewIssuer(cfg.Token.APIKey, cfg.Token.Secret, cfg.TokenTTL)

	// 4. Session hub, queue and coordinator
	hub := memhub.New(issuer, appMetrics)
	callQueue := queue.New(hub, issuer, appMetrics, cfg.TokenTTL)
	coordinator := queue.NewCoordinator(callQueue, issuer, cfg.TokenTTL)

	// 5. Redis for the cross-instance signaling relay; absent Redis degrades
	// to single-instance fan-out
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, signaling relay disabled", zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
			defer redisClient.Close()
		}
		cancel()
	}

	// 6. Object storage; absent MinIO degrades to file sharing disabled
	var storageSvc *storageService.Service
	minioClient, err := storageService.NewClient(cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.Secure)
	if err == nil {
		storageSvc, err = storageService.NewService(minioClient, cfg.Storage.Bucket, cfg.Storage.URLTTL, appMetrics)
	}
	if err != nil {
		logger.Warn("object storage unavailable, file sharing disabled", zap.Error(err))
		storageSvc = nil
	} else {
		logger.Info("connected to object storage",
			zap.String("endpoint", cfg.Storage.Endpoint),
			zap.String("bucket", cfg.Storage.Bucket))
	}

	// 7. Handlers
	callrequestHdlr := callrequestHandler.NewHandler(callQueue, coordinator)
	tokenHdlr := tokenHandler.NewHandler(issuer)
	callbackHdlr := callbackHandler.NewHandler()
	gateway := wsHandler.NewGateway(issuer, redisClient, appMetrics, cfg.MaxSignalingConnections)

	// 8. Router
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	api := router.Group("/api")
	{
		api.POST("/call-request", callrequestHdlr.Create)
		api.GET("/call-requests", callrequestHdlr.List)
		api.POST("/call-request/:id/joined", callrequestHdlr.Joined)
		api.POST("/call-request/:id/decline", callrequestHdlr.Decline)
		api.POST("/call-request/:id/error", callrequestHdlr.Errored)

		api.POST("/token", tokenHdlr.Issue)
		api.POST("/callback", callbackHdlr.Receive)

		if storageSvc != nil {
			uploadHdlr := uploadHandler.NewHandler(storageSvc)
			api.POST("/upload", uploadHdlr.Upload)
		} else {
			api.POST("/upload", func(c *gin.Context) {
				response.UploadError(c, "File sharing is unavailable")
			})
		}
	}

	router.GET("/ws/signal", gateway.ServeWS)

	// 9. Serve with graceful shutdown
	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("call service starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
