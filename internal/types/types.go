package types

import (
	"time"
)

type RoomType string

const (
	RoomTypeGroup  RoomType = "GROUP"
	RoomTypeDirect RoomType = "DIRECT"
)

type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeSystem MessageType = "SYSTEM"
)

type User struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
}

type Room struct {
	Id         int       `json:"id"`
	ExternalId string    `json:"external_id"`
	Name       string    `json:"name"`
	Type       RoomType  `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoomSummary is one entry of a user's room list.
type RoomSummary struct {
	Room
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
	MemberCount   int       `json:"member_count"`
}

type Member struct {
	RoomId   int       `json:"room_id"`
	UserId   int       `json:"user_id"`
	Nickname string    `json:"nickname"`
	JoinedAt time.Time `json:"joined_at"`
}

type Message struct {
	Id          int         `json:"msg_id"`
	RoomId      int         `json:"room_id"`
	SenderId    int         `json:"sender_id"`
	Nickname    string      `json:"nickname"`
	Type        MessageType `json:"type"`
	Content     string      `json:"content,omitempty"`
	FileRef     string      `json:"file_ref,omitempty"`
	FileName    string      `json:"file_name,omitempty"`
	SentAt      time.Time   `json:"sent_at"`
	UnreadCount int         `json:"unread_count"`
	TempId      string      `json:"temp_id,omitempty"`
}

type Notice struct {
	Id                int       `json:"notice_id"`
	RoomId            int       `json:"room_id"`
	MsgId             int       `json:"msg_id,omitempty"`
	Content           string    `json:"content"`
	CreatedBy         int       `json:"created_by"`
	CreatedByNickname string    `json:"created_by_nickname"`
	CreatedAt         time.Time `json:"created_at"`
}

type ReadUpdate struct {
	UserId    int       `json:"user_id"`
	RoomId    int       `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
}
