package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frozenbots60-source/kust-chat/config"
	"github.com/frozenbots60-source/kust-chat/internal/blob"
	"github.com/frozenbots60-source/kust-chat/internal/bus"
	"github.com/frozenbots60-source/kust-chat/internal/handlers"
	"github.com/frozenbots60-source/kust-chat/internal/history"
	"github.com/frozenbots60-source/kust-chat/internal/hub"
	"github.com/frozenbots60-source/kust-chat/internal/middleware"
	"github.com/frozenbots60-source/kust-chat/internal/redis"
	"github.com/frozenbots60-source/kust-chat/internal/voice"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to Redis
	rdb, err := redis.Connect(context.Background(), cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	log.Println("Redis connection established")

	blobs, err := blob.NewStore(cfg.Blob.Dir, cfg.Blob.URLSecret,
		time.Duration(cfg.Blob.URLTTLSeconds)*time.Second)
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}

	registry := hub.NewRegistry()
	srv := &handlers.Server{
		Config:    cfg,
		Registry:  registry,
		Names:     hub.NewRedisNames(rdb, 24*time.Hour),
		Bus:       bus.NewRedisBus(rdb, cfg.BusChannel),
		History:   history.NewRedisLog(rdb),
		Voice:     voice.NewCoordinator(),
		Directory: handlers.NewRedisDirectory(rdb),
		Blobs:     blobs,
	}

	// One bus subscription per process, alive for the process's lifetime.
	listener := hub.NewListener(srv.Bus, registry, srv.Voice)
	go func() {
		if err := listener.Run(context.Background()); err != nil {
			log.Printf("Bus listener stopped: %v", err)
		}
	}()

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Room directory
		apiGroup.GET("/rooms", srv.ListRooms)
		apiGroup.POST("/rooms", middleware.JWTAuth(cfg.JWTSecret), srv.CreateRoom)
		apiGroup.GET("/rooms/:room", srv.GetRoom)
		apiGroup.GET("/rooms/:room/history", srv.RoomHistory)

		// Attachment upload
		apiGroup.POST("/upload", srv.Upload)
	}

	// Signed attachment downloads
	router.GET("/files/:id", srv.ServeFile)

	// WebSocket relay endpoint
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/rooms/:room", srv.HandleRelay)
	}

	// Start server
	log.Printf("Starting relay server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
