package models

import "time"

// RoomMetadata stores directory information about a room
type RoomMetadata struct {
	Name         string    `json:"name"`
	CreatorID    string    `json:"creatorId"` // User ID from JWT who created the room
	CreatedAt    time.Time `json:"createdAt"`
	Private      bool      `json:"private"`
	PasswordHash string    `json:"passwordHash,omitempty"` // bcrypt; stripped before client responses
	MemberCount  int       `json:"memberCount"`
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=64"`
	Private  bool   `json:"private"`
	Password string `json:"password,omitempty"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	Name string `json:"name"`
}
