package types

import (
	"time"
)

// Participant is a user currently joined to a room.
type Participant struct {
	UserId    string    `json:"user_id"`
	Nickname  string    `json:"nickname"`
	Avatar    string    `json:"avatar"`
	IsCreator bool      `json:"is_creator"`
	JoinedAt  time.Time `json:"joined_at"`
}

type Message struct {
	Id          string    `json:"id"`
	RoomId      string    `json:"room_id"`
	Text        string    `json:"text"`
	SenderId    string    `json:"sender_id"`
	Nickname    string    `json:"nickname"`
	Avatar      string    `json:"avatar"`
	Timestamp   time.Time `json:"timestamp"`
	IsInvisible bool      `json:"is_invisible,omitempty"`
}

// RoomMetadata describes a room outside its participant set. PasswordHash
// is empty for public rooms. Active is cleared when the creator panics the
// room, after which join/send/kick are refused.
type RoomMetadata struct {
	RoomId          string    `json:"room_id"`
	Name            string    `json:"name"`
	PasswordHash    string    `json:"-"`
	MaxParticipants int       `json:"max_participants"`
	Private         bool      `json:"private"`
	Active          bool      `json:"active"`
	Panicked        bool      `json:"panicked"`
	CreatedAt       time.Time `json:"created_at"`
}

// HealthState is the coarse availability of the dual-tier store.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

type Health struct {
	State    HealthState `json:"status"`
	Redis    bool        `json:"redis"`
	Fallback bool        `json:"fallback"`
	Detail   string      `json:"detail,omitempty"`
}
