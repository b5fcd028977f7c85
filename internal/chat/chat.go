// Package chat holds the room, message, read-tracking and notice services.
// Services talk to a database.ChatRepository and return *Error values; they
// never touch connections or broadcast anything themselves.
package chat

import (
	"context"
	"log"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/types"
)

type Services struct {
	Rooms    *RoomManager
	Messages *Pipeline
	Reads    *ReadTracker
	Notices  *NoticeBoard
}

func NewServices(repo database.ChatRepository, logger *log.Logger) *Services {
	return &Services{
		Rooms:    NewRoomManager(repo, logger),
		Messages: NewPipeline(repo, logger),
		Reads:    NewReadTracker(repo),
		Notices:  NewNoticeBoard(repo),
	}
}

// requireMember fails with NotFound when the room is gone or userId is not
// one of its members.
func requireMember(ctx context.Context, repo database.ChatRepository, roomId, userId int) error {
	if roomId <= 0 {
		return validationError("room_id is required")
	}

	if _, err := repo.GetRoom(ctx, roomId); err != nil {
		return storeError("room", err)
	}

	ok, err := repo.IsMember(ctx, roomId, userId)
	if err != nil {
		return storeError("membership lookup", err)
	}
	if !ok {
		return notFoundError("not a member of this room")
	}

	return nil
}

// appendSystem persists a SYSTEM message authored by actorId and fills in
// its provisional unread count.
func appendSystem(ctx context.Context, repo database.ChatRepository, roomId int, actor types.User, text string) (*types.Message, error) {
	msg, err := repo.AppendMessage(ctx, database.AppendMessageParams{
		RoomId:   roomId,
		SenderId: actor.Id,
		Nickname: actor.Nickname,
		Type:     types.MessageTypeSystem,
		Content:  text,
	})
	if err != nil {
		return nil, storeError("save system message", err)
	}

	members, err := repo.CountMembers(ctx, roomId)
	if err == nil {
		msg.UnreadCount = UnreadCountPerMessage(members, 1)
	}

	return &msg, nil
}
