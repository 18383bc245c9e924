package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/frozenbots60-source/kust-chat/internal/models"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomExists    = errors.New("room already exists")
	ErrWrongPassword = errors.New("wrong room password")
)

// RoomDirectory is the room catalog the relay core consults to decide
// whether a connect attempt must be gated. The core only ever reads it.
type RoomDirectory interface {
	Get(ctx context.Context, name string) (*models.RoomMetadata, error)
	Create(ctx context.Context, meta *models.RoomMetadata) error
	List(ctx context.Context) ([]*models.RoomMetadata, error)
	// CheckPassword returns nil for public rooms and for private rooms
	// when the password matches; ErrWrongPassword otherwise.
	CheckPassword(ctx context.Context, name, password string) error
}

// RedisDirectory stores room metadata as JSON under room:<name> plus a
// rooms index set, shared by every process.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

func roomKey(name string) string {
	return "room:" + name
}

func (d *RedisDirectory) Get(ctx context.Context, name string) (*models.RoomMetadata, error) {
	data, err := d.client.Get(ctx, roomKey(name)).Result()
	if err == redis.Nil {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", name, err)
	}
	var meta models.RoomMetadata
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("parse room %s: %w", name, err)
	}
	return &meta, nil
}

func (d *RedisDirectory) Create(ctx context.Context, meta *models.RoomMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal room %s: %w", meta.Name, err)
	}
	ok, err := d.client.SetNX(ctx, roomKey(meta.Name), data, 0).Result()
	if err != nil {
		return fmt.Errorf("store room %s: %w", meta.Name, err)
	}
	if !ok {
		return ErrRoomExists
	}
	if err := d.client.SAdd(ctx, "rooms", meta.Name).Err(); err != nil {
		return fmt.Errorf("index room %s: %w", meta.Name, err)
	}
	return nil
}

func (d *RedisDirectory) List(ctx context.Context) ([]*models.RoomMetadata, error) {
	names, err := d.client.SMembers(ctx, "rooms").Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]*models.RoomMetadata, 0, len(names))
	for _, name := range names {
		meta, err := d.Get(ctx, name)
		if err != nil {
			log.Printf("Skipping unreadable room %s: %v", name, err)
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (d *RedisDirectory) CheckPassword(ctx context.Context, name, password string) error {
	meta, err := d.Get(ctx, name)
	if err != nil {
		return err
	}
	return checkRoomPassword(meta, password)
}

// MemoryDirectory is an in-process RoomDirectory for single-process
// deployments and tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	rooms map[string]*models.RoomMetadata
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{rooms: make(map[string]*models.RoomMetadata)}
}

func (d *MemoryDirectory) Get(_ context.Context, name string) (*models.RoomMetadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	meta, ok := d.rooms[name]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *meta
	return &cp, nil
}

func (d *MemoryDirectory) Create(_ context.Context, meta *models.RoomMetadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[meta.Name]; ok {
		return ErrRoomExists
	}
	cp := *meta
	d.rooms[meta.Name] = &cp
	return nil
}

func (d *MemoryDirectory) List(_ context.Context) ([]*models.RoomMetadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*models.RoomMetadata, 0, len(d.rooms))
	for _, meta := range d.rooms {
		cp := *meta
		out = append(out, &cp)
	}
	return out, nil
}

func (d *MemoryDirectory) CheckPassword(ctx context.Context, name, password string) error {
	meta, err := d.Get(ctx, name)
	if err != nil {
		return err
	}
	return checkRoomPassword(meta, password)
}

func checkRoomPassword(meta *models.RoomMetadata, password string) error {
	if !meta.Private {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(meta.PasswordHash), []byte(password)) != nil {
		return ErrWrongPassword
	}
	return nil
}

// CreateRoom creates a room (requires authentication)
func (s *Server) CreateRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Private && req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Private rooms require a password"})
		return
	}

	meta := &models.RoomMetadata{
		Name:      req.Name,
		CreatorID: userID.(string),
		CreatedAt: time.Now(),
		Private:   req.Private,
	}
	if req.Private {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
			return
		}
		meta.PasswordHash = string(hash)
	}

	if err := s.Directory.Create(c.Request.Context(), meta); err != nil {
		if errors.Is(err, ErrRoomExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Room already exists"})
			return
		}
		log.Printf("Failed to create room %s: %v", req.Name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	log.Printf("Room created: %s (private: %v) by user %s", req.Name, req.Private, userID)
	c.JSON(http.StatusCreated, models.CreateRoomResponse{Name: req.Name})
}

// ListRooms returns the room catalog. Member counts are this process's local
// presence only.
func (s *Server) ListRooms(c *gin.Context) {
	rooms, err := s.Directory.List(c.Request.Context())
	if err != nil {
		log.Printf("Failed to list rooms: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rooms"})
		return
	}
	for _, meta := range rooms {
		meta.PasswordHash = ""
		meta.MemberCount = len(s.Registry.Presence(meta.Name))
	}
	c.JSON(http.StatusOK, rooms)
}

// GetRoom returns one room's metadata (public)
func (s *Server) GetRoom(c *gin.Context) {
	meta, err := s.Directory.Get(c.Request.Context(), c.Param("room"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	meta.PasswordHash = ""
	meta.MemberCount = len(s.Registry.Presence(meta.Name))
	c.JSON(http.StatusOK, meta)
}

// RoomHistory pages a room's message history in append order.
func (s *Server) RoomHistory(c *gin.Context) {
	room := c.Param("room")
	if _, err := s.Directory.Get(c.Request.Context(), room); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	limit := s.Config.HistoryReplay
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	messages, err := s.History.Read(c.Request.Context(), room, limit)
	if err != nil {
		log.Printf("Failed to read history for %s: %v", room, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read history"})
		return
	}
	c.JSON(http.StatusOK, messages)
}
