package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/auth"
	"messaging-service/internal/chat"
	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/middleware"
	"messaging-service/internal/notifications"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("redis unreachable at startup: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	if mode := rabbitmq.PublisherMode(publisher); mode != "amqp" {
		log.Printf("event publisher mode=%s reason=%q", mode, rabbitmq.PublisherNoopReason(publisher))
	}
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	inboxRepo := repositories.NewInboxRepo(database)

	tracker := presence.NewRedisTracker(rdb)
	hub := ws.NewHub()
	notifier := notifications.NewGateway(tracker, publisher)
	service := chat.NewService(conversationRepo, messageRepo, inboxRepo, hub, notifier, audit)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	gateway := ws.NewGateway(hub, service, tracker, verifier, audit)

	conversationHandler := handlers.NewConversationHandler(service)
	messageHandler := handlers.NewMessageHandler(service)
	healthHandler := handlers.NewHealthHandler(database, rdb)

	router := gin.Default()
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	conversations := router.Group("/conversations", authMiddleware)
	{
		conversations.POST("", conversationHandler.Create)
		conversations.GET("", conversationHandler.List)
		conversations.GET("/recent", conversationHandler.Recent)
		conversations.PATCH("/recent/:id", conversationHandler.UpdateRecent)
		conversations.GET("/:id", conversationHandler.Get)
		conversations.DELETE("/:id", conversationHandler.Delete)
		conversations.POST("/:id/members", conversationHandler.AddMembers)
		conversations.DELETE("/:id/members/:memberId", conversationHandler.RemoveMember)
		conversations.POST("/:id/leave", conversationHandler.Leave)
		conversations.DELETE("/:id/clear", conversationHandler.Clear)
		conversations.POST("/:id/archive", conversationHandler.Archive)
		conversations.POST("/:id/unarchive", conversationHandler.Unarchive)
	}

	messages := router.Group("/messages", authMiddleware)
	{
		messages.GET("/conversation/:conversationId", messageHandler.ListByConversation)
		messages.GET("/:messageId/context", messageHandler.Context)
		messages.PATCH("/:messageId", messageHandler.Edit)
		messages.DELETE("/:messageId", messageHandler.Delete)
		messages.POST("/read/:conversationId", messageHandler.MarkRead)
		messages.POST("/:messageId/reactions", messageHandler.AddReaction)
		messages.DELETE("/:messageId/reactions/:emoji", messageHandler.RemoveReaction)
		messages.POST("/:messageId/pin", messageHandler.Pin)
		messages.DELETE("/:messageId/pin", messageHandler.Unpin)
	}

	router.GET("/ws", gateway.Handle)
	router.GET("/health", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, hub, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
