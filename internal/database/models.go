package database

import "github.com/npezzotti/go-roomchat/internal/types"

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

type CreateRoomParams struct {
	Name       string
	ExternalId string
	Type       types.RoomType
	// MemberIds lists the initial members, creator first.
	MemberIds []int
}

type AppendMessageParams struct {
	RoomId   int
	SenderId int
	Nickname string
	Type     types.MessageType
	Content  string
	FileRef  string
	FileName string
}

type SetNoticeParams struct {
	RoomId    int
	MsgId     int
	Content   string
	CreatedBy int
}

// clampLimit normalises a page size the same way for every store.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
