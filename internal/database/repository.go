package database

import (
	"context"
	"errors"
	"time"

	"github.com/npezzotti/go-roomchat/internal/types"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyMember = errors.New("already a member")
)

type UserStore interface {
	UserExists(ctx context.Context, userId int) (bool, error)
	GetUser(ctx context.Context, userId int) (types.User, error)
}

// RoomStore owns rooms and their membership rows. CreateRoom must insert the
// room and all initial members in a single transaction.
type RoomStore interface {
	CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error)
	GetRoom(ctx context.Context, roomId int) (types.Room, error)
	DeleteRoom(ctx context.Context, roomId int) error
	FindDirectRoom(ctx context.Context, userA, userB int) (types.Room, error)
	ListRoomsForUser(ctx context.Context, userId int) ([]types.RoomSummary, error)
	AddMember(ctx context.Context, roomId, userId int) error
	RemoveMember(ctx context.Context, roomId, userId int) error
	IsMember(ctx context.Context, roomId, userId int) (bool, error)
	CountMembers(ctx context.Context, roomId int) (int, error)
	ListMembers(ctx context.Context, roomId int) ([]types.Member, error)
}

// MessageStore assigns message ids and sent_at. For a fixed room, ids and
// sent_at values increase together.
type MessageStore interface {
	AppendMessage(ctx context.Context, params AppendMessageParams) (types.Message, error)
	GetMessage(ctx context.Context, msgId int) (types.Message, error)
	History(ctx context.Context, roomId, beforeMsgId, limit int) ([]types.Message, error)
	NewerMessages(ctx context.Context, roomId, afterMsgId, limit int) ([]types.Message, error)
	MessagesAround(ctx context.Context, roomId, msgId, radius int) ([]types.Message, error)
	SearchMessages(ctx context.Context, roomId int, keyword string, limit int) ([]types.Message, error)
	ListFiles(ctx context.Context, roomId int) ([]types.Message, error)
	UpdateMessageContent(ctx context.Context, roomId, msgId, senderId int, content string) (bool, error)
	DeleteMessage(ctx context.Context, roomId, msgId, senderId int) (bool, error)
}

// ReadStatusStore keeps one watermark per (user, room). UpsertReadStatus
// reports false when ts is not newer than the stored value.
type ReadStatusStore interface {
	UpsertReadStatus(ctx context.Context, userId, roomId int, ts time.Time) (bool, error)
	ReadStatuses(ctx context.Context, roomId int) (map[int]time.Time, error)
	// ReadCounts counts a message's sender among its readers.
	ReadCounts(ctx context.Context, roomId int, msgIds []int) (map[int]int, error)
	FirstUnreadMessageId(ctx context.Context, roomId, userId int, since time.Time) (int, error)
}

type NoticeStore interface {
	SetNotice(ctx context.Context, params SetNoticeParams) (types.Notice, error)
	ActiveNotice(ctx context.Context, roomId int) (*types.Notice, error)
	ClearNotice(ctx context.Context, roomId int) error
}

type ChatRepository interface {
	UserStore
	RoomStore
	MessageStore
	ReadStatusStore
	NoticeStore
	Ping(ctx context.Context) error
	Close() error
}
