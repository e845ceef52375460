package api

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

const (
	ActionJoinRoom        = "join-room"
	ActionSendMessage     = "send-message"
	ActionGetMessages     = "get-messages"
	ActionTyping          = "typing"
	ActionGetTypingStatus = "get-typing-status"
	ActionLeaveRoom       = "leave-room"
	ActionKickUser        = "kick-user"
	ActionCreateRoom      = "create-room"
	ActionPanicRoom       = "panic-room"
)

const (
	roomIdLength     = 8
	maxMessageLength = 1000
)

// ActionRequest is the tagged envelope every room action shares. Data is
// decoded into the action's own variant after the tag is matched.
type ActionRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type JoinRoomData struct {
	RoomId        string `json:"roomId"`
	UserId        string `json:"userId"`
	Nickname      string `json:"nickname"`
	Avatar        string `json:"avatar"`
	Password      string `json:"password,omitempty"`
	ClaimsCreator bool   `json:"isCreator,omitempty"`
}

type SendMessageData struct {
	RoomId      string `json:"roomId"`
	UserId      string `json:"userId"`
	Message     string `json:"message"`
	Nickname    string `json:"nickname"`
	Avatar      string `json:"avatar"`
	IsInvisible bool   `json:"isInvisible,omitempty"`
}

type GetMessagesData struct {
	RoomId string `json:"roomId"`
}

type TypingData struct {
	RoomId   string `json:"roomId"`
	UserId   string `json:"userId"`
	Nickname string `json:"nickname"`
	IsTyping bool   `json:"isTyping"`
}

type GetTypingStatusData struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId,omitempty"`
}

type LeaveRoomData struct {
	RoomId   string `json:"roomId"`
	UserId   string `json:"userId"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type KickUserData struct {
	RoomId       string `json:"roomId"`
	TargetUserId string `json:"targetUserId"`
	KickedBy     string `json:"kickedBy"`
}

type CreateRoomData struct {
	Name            string `json:"name"`
	Password        string `json:"password,omitempty"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
	Private         bool   `json:"private,omitempty"`
}

type PanicRoomData struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

func validateRoomId(roomId string) error {
	if roomId == "" {
		return fmt.Errorf("roomId is required")
	}
	if len(roomId) != roomIdLength {
		return fmt.Errorf("roomId must be %d characters", roomIdLength)
	}
	return nil
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

func (d *JoinRoomData) Validate() error {
	if err := validateRoomId(d.RoomId); err != nil {
		return err
	}
	return requireFields(map[string]string{
		"userId":   d.UserId,
		"nickname": d.Nickname,
		"avatar":   d.Avatar,
	})
}

func (d *SendMessageData) Validate() error {
	if err := validateRoomId(d.RoomId); err != nil {
		return err
	}
	if err := requireFields(map[string]string{
		"userId":   d.UserId,
		"nickname": d.Nickname,
		"avatar":   d.Avatar,
	}); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(d.Message); n == 0 || n > maxMessageLength {
		return fmt.Errorf("message must be between 1 and %d characters", maxMessageLength)
	}
	return nil
}

func (d *GetMessagesData) Validate() error {
	return validateRoomId(d.RoomId)
}

func (d *TypingData) Validate() error {
	if err := validateRoomId(d.RoomId); err != nil {
		return err
	}
	return requireFields(map[string]string{
		"userId":   d.UserId,
		"nickname": d.Nickname,
	})
}

func (d *GetTypingStatusData) Validate() error {
	return validateRoomId(d.RoomId)
}

func (d *LeaveRoomData) Validate() error {
	if err := validateRoomId(d.RoomId); err != nil {
		return err
	}
	return requireFields(map[string]string{"userId": d.UserId})
}

func (d *KickUserData) Validate() error {
	if err := validateRoomId(d.RoomId); err != nil {
		return err
	}
	return requireFields(map[string]string{
		"targetUserId": d.TargetUserId,
		"kickedBy":     d.KickedBy,
	})
}

func (d *CreateRoomData) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if d.MaxParticipants < 0 {
		return fmt.Errorf("maxParticipants cannot be negative")
	}
	return nil
}

func (d *PanicRoomData) Validate() error {
	if err := validateRoomId(d.RoomId); err != nil {
		return err
	}
	return requireFields(map[string]string{"userId": d.UserId})
}
