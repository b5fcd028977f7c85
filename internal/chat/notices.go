package chat

import (
	"context"
	"strings"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/types"
)

// NoticeBoard manages the single pinned notice of a room.
type NoticeBoard struct {
	repo database.ChatRepository
}

func NewNoticeBoard(repo database.ChatRepository) *NoticeBoard {
	return &NoticeBoard{repo: repo}
}

type NoticeParams struct {
	RoomId  int    `json:"room_id" validate:"required,gt=0"`
	UserId  int    `json:"user_id" validate:"required,gt=0"`
	MsgId   int    `json:"msg_id" validate:"gte=0"`
	Content string `json:"content" validate:"required,max=500"`
}

// Set replaces the room's active notice. When MsgId is given and Content is
// empty the pinned message's content is used.
func (n *NoticeBoard) Set(ctx context.Context, params NoticeParams) (types.Notice, error) {
	if err := requireMember(ctx, n.repo, params.RoomId, params.UserId); err != nil {
		return types.Notice{}, err
	}

	if params.MsgId > 0 {
		msg, err := n.repo.GetMessage(ctx, params.MsgId)
		if err != nil || msg.RoomId != params.RoomId {
			return types.Notice{}, notFoundError("message not found")
		}
		if strings.TrimSpace(params.Content) == "" {
			params.Content = msg.Content
			if msg.Type == types.MessageTypeFile {
				params.Content = msg.FileName
			}
		}
	}

	params.Content = strings.TrimSpace(params.Content)
	if err := validateParams(params); err != nil {
		return types.Notice{}, err
	}

	notice, err := n.repo.SetNotice(ctx, database.SetNoticeParams{
		RoomId:    params.RoomId,
		MsgId:     params.MsgId,
		Content:   params.Content,
		CreatedBy: params.UserId,
	})
	if err != nil {
		return types.Notice{}, storeError("set notice", err)
	}
	return notice, nil
}

func (n *NoticeBoard) Clear(ctx context.Context, roomId, userId int) error {
	if err := requireMember(ctx, n.repo, roomId, userId); err != nil {
		return err
	}
	if err := n.repo.ClearNotice(ctx, roomId); err != nil {
		return storeError("clear notice", err)
	}
	return nil
}

// Active returns nil when the room has no notice.
func (n *NoticeBoard) Active(ctx context.Context, roomId, userId int) (*types.Notice, error) {
	if err := requireMember(ctx, n.repo, roomId, userId); err != nil {
		return nil, err
	}
	return n.Current(ctx, roomId)
}

// Current returns the active notice without a membership check, for
// broadcasting after membership changes.
func (n *NoticeBoard) Current(ctx context.Context, roomId int) (*types.Notice, error) {
	notice, err := n.repo.ActiveNotice(ctx, roomId)
	if err != nil {
		return nil, storeError("active notice", err)
	}
	return notice, nil
}
