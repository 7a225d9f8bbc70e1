package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/db"
	"messaging-service/internal/guard"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	jwtIssuer := getEnv("JWT_ISSUER", "auth-service")
	environment := getEnv("ENVIRONMENT", "dev")

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), os.Getenv("OTLP_ENDPOINT"), "messaging-service", environment)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	// Guard state is in-memory per instance unless a shared Redis is
	// configured; with Redis, replay and quota decisions hold across the
	// whole cluster without any call-site change.
	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}

	var nonceStore guard.NonceStore
	if rdb != nil {
		nonceStore = guard.NewRedisNonceStore(rdb, "nonce")
	} else {
		nonceStore = guard.NewMemoryNonceStore(guard.DefaultSweepInterval)
	}
	replay := guard.NewReplayGuard(nonceStore, guard.DefaultNonceTTL)
	defer replay.Close()

	sendCfg := guard.Config{
		Window:               time.Duration(getEnvInt("SEND_WINDOW_MS", 60_000)) * time.Millisecond,
		MaxRequests:          getEnvInt("SEND_MAX_REQUESTS", 30),
		MaxTrackedIdentities: getEnvInt("SEND_MAX_TRACKED", 10_000),
	}
	fetchCfg := guard.Config{
		Window:               time.Duration(getEnvInt("FETCH_WINDOW_MS", 60_000)) * time.Millisecond,
		MaxRequests:          getEnvInt("FETCH_MAX_REQUESTS", 120),
		MaxTrackedIdentities: getEnvInt("FETCH_MAX_TRACKED", 10_000),
	}
	sendLimiter := guard.NewRateLimiter(newQuotaStore(rdb, "send"), sendCfg)
	fetchLimiter := guard.NewRateLimiter(newQuotaStore(rdb, "fetch"), fetchCfg)
	defer sendLimiter.Close()
	defer fetchLimiter.Close()

	amqpURL := os.Getenv("AMQP_URL")
	auditPublisher := rabbitmq.NewPublisher(amqpURL, getEnv("AMQP_EXCHANGE", "messaging.events"))
	defer auditPublisher.Close()
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.messaging", "messaging-service", environment)

	if eventPublisher, err := observability.NewAMQPPublisher(amqpURL, getEnv("AMQP_EVENTS_EXCHANGE", "messaging.ws")); err == nil {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	} else {
		log.Printf("ws event publisher disabled: %v", err)
	}

	groupRepo := repositories.NewGroupRepo(database)
	keyRepo := repositories.NewKeyRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()

	groupHandler := handlers.NewGroupHandler(groupRepo, keyRepo, audit)
	keyHandler := handlers.NewKeyHandler(keyRepo)
	messageHandler := handlers.NewMessageHandler(groupRepo, keyRepo, messageRepo, replay, sendLimiter, fetchLimiter, hub, audit)
	groupWS := ws.NewGroupWebSocketHandler(hub, groupRepo, jwtSecret, jwtIssuer)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("messaging-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(jwtSecret, jwtIssuer)

	router.POST("/groups", authMiddleware, groupHandler.CreateGroup)
	router.GET("/groups", authMiddleware, groupHandler.ListGroups)
	router.POST("/groups/:group_id/keys/rotate", authMiddleware, groupHandler.RotateKey)
	router.POST("/groups/:group_id/keys/:key_id/revoke", authMiddleware, groupHandler.RevokeKey)
	router.POST("/groups/:group_id/messages", authMiddleware, messageHandler.SendMessage)
	router.GET("/groups/:group_id/messages", authMiddleware, messageHandler.GetMessages)
	router.POST("/groups/:group_id/messages/read", authMiddleware, messageHandler.MarkRead)
	router.POST("/keys/public", authMiddleware, keyHandler.RegisterPublicKey)
	router.GET("/keys/public/:user_id", authMiddleware, keyHandler.GetPublicKey)

	router.GET("/ws/groups/:group_id", groupWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		if err := database.Ping(); err != nil {
			c.JSON(503, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func newQuotaStore(rdb *redis.Client, class string) guard.QuotaStore {
	if rdb != nil {
		return guard.NewRedisQuotaStore(rdb, class)
	}
	store := guard.NewMemoryQuotaStore()
	store.OnEvict = observability.IncLimiterEviction
	return store
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
