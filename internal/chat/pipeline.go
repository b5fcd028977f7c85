package chat

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const DefaultContextRadius = 20

type Pipeline struct {
	repo database.ChatRepository
	log  *log.Logger
}

func NewPipeline(repo database.ChatRepository, logger *log.Logger) *Pipeline {
	return &Pipeline{repo: repo, log: logger}
}

type SendParams struct {
	RoomId   int               `json:"room_id" validate:"required,gt=0"`
	SenderId int               `json:"sender_id" validate:"required,gt=0"`
	Nickname string            `json:"nickname" validate:"max=64"`
	Type     types.MessageType `json:"type" validate:"oneof=TEXT FILE"`
	Content  string            `json:"content" validate:"required_if=Type TEXT,max=4000"`
	FileRef  string            `json:"file_ref" validate:"required_if=Type FILE,max=1024"`
	FileName string            `json:"file_name" validate:"required_if=Type FILE,max=255"`
	TempId   string            `json:"temp_id" validate:"max=64"`
}

// Send validates and persists a chat message. The returned message carries
// the store-assigned id and sent_at plus a provisional unread count of every
// other member. Nothing is persisted when validation fails.
func (p *Pipeline) Send(ctx context.Context, params SendParams) (types.Message, error) {
	if params.Type == "" {
		params.Type = types.MessageTypeText
	}
	params.Content = strings.TrimSpace(params.Content)
	if err := validateParams(params); err != nil {
		return types.Message{}, err
	}

	if err := requireMember(ctx, p.repo, params.RoomId, params.SenderId); err != nil {
		return types.Message{}, err
	}

	msg, err := p.repo.AppendMessage(ctx, database.AppendMessageParams{
		RoomId:   params.RoomId,
		SenderId: params.SenderId,
		Nickname: params.Nickname,
		Type:     params.Type,
		Content:  params.Content,
		FileRef:  params.FileRef,
		FileName: params.FileName,
	})
	if err != nil {
		return types.Message{}, storeError("save message", err)
	}
	msg.TempId = params.TempId

	members, err := p.repo.CountMembers(ctx, params.RoomId)
	if err != nil {
		// The message is durable; deliver it with a zero count rather than drop it.
		p.log.Printf("count members for room %d: %v", params.RoomId, err)
		return msg, nil
	}
	msg.UnreadCount = UnreadCountPerMessage(members, 1)

	return msg, nil
}

type HistoryParams struct {
	RoomId      int `json:"room_id" validate:"required,gt=0"`
	UserId      int `json:"user_id" validate:"required,gt=0"`
	BeforeMsgId int `json:"before_msg_id" validate:"gte=0"`
	Limit       int `json:"limit" validate:"gte=0"`
}

// History returns up to Limit messages older than BeforeMsgId, oldest first.
// Consecutive pages keyed on the first id of the previous page neither
// overlap nor skip.
func (p *Pipeline) History(ctx context.Context, params HistoryParams) ([]types.Message, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if err := requireMember(ctx, p.repo, params.RoomId, params.UserId); err != nil {
		return nil, err
	}

	msgs, err := p.repo.History(ctx, params.RoomId, params.BeforeMsgId, params.Limit)
	if err != nil {
		return nil, storeError("fetch history", err)
	}
	return msgs, nil
}

type NewerParams struct {
	RoomId     int `json:"room_id" validate:"required,gt=0"`
	UserId     int `json:"user_id" validate:"required,gt=0"`
	AfterMsgId int `json:"after_msg_id" validate:"gte=0"`
	Limit      int `json:"limit" validate:"gte=0"`
}

func (p *Pipeline) Newer(ctx context.Context, params NewerParams) ([]types.Message, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if err := requireMember(ctx, p.repo, params.RoomId, params.UserId); err != nil {
		return nil, err
	}

	msgs, err := p.repo.NewerMessages(ctx, params.RoomId, params.AfterMsgId, params.Limit)
	if err != nil {
		return nil, storeError("fetch newer messages", err)
	}
	return msgs, nil
}

// Context returns the window of messages surrounding msgId.
func (p *Pipeline) Context(ctx context.Context, roomId, userId, msgId int) ([]types.Message, error) {
	if msgId <= 0 {
		return nil, validationError("msg_id is required")
	}
	if err := requireMember(ctx, p.repo, roomId, userId); err != nil {
		return nil, err
	}
	if _, err := p.messageInRoom(ctx, roomId, msgId); err != nil {
		return nil, err
	}

	msgs, err := p.repo.MessagesAround(ctx, roomId, msgId, DefaultContextRadius)
	if err != nil {
		return nil, storeError("fetch message context", err)
	}
	return msgs, nil
}

type SearchParams struct {
	RoomId  int    `json:"room_id" validate:"required,gt=0"`
	UserId  int    `json:"user_id" validate:"required,gt=0"`
	Keyword string `json:"keyword" validate:"required,max=100"`
	Limit   int    `json:"limit" validate:"gte=0"`
}

// Search matches Keyword case-insensitively against content and file names,
// newest first.
func (p *Pipeline) Search(ctx context.Context, params SearchParams) ([]types.Message, error) {
	params.Keyword = strings.TrimSpace(params.Keyword)
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if err := requireMember(ctx, p.repo, params.RoomId, params.UserId); err != nil {
		return nil, err
	}

	msgs, err := p.repo.SearchMessages(ctx, params.RoomId, params.Keyword, params.Limit)
	if err != nil {
		return nil, storeError("search messages", err)
	}
	return msgs, nil
}

func (p *Pipeline) Files(ctx context.Context, roomId, userId int) ([]types.Message, error) {
	if err := requireMember(ctx, p.repo, roomId, userId); err != nil {
		return nil, err
	}

	msgs, err := p.repo.ListFiles(ctx, roomId)
	if err != nil {
		return nil, storeError("list files", err)
	}
	return msgs, nil
}

type EditParams struct {
	RoomId   int    `json:"room_id" validate:"required,gt=0"`
	MsgId    int    `json:"msg_id" validate:"required,gt=0"`
	SenderId int    `json:"sender_id" validate:"required,gt=0"`
	Content  string `json:"content" validate:"required,max=4000"`
}

// Edit replaces the content of a TEXT message owned by SenderId.
func (p *Pipeline) Edit(ctx context.Context, params EditParams) (types.Message, error) {
	params.Content = strings.TrimSpace(params.Content)
	if err := validateParams(params); err != nil {
		return types.Message{}, err
	}

	ok, err := p.repo.UpdateMessageContent(ctx, params.RoomId, params.MsgId, params.SenderId, params.Content)
	if err != nil {
		return types.Message{}, storeError("edit message", err)
	}
	if !ok {
		return types.Message{}, p.explainRejected(ctx, params.RoomId, params.MsgId, "edit")
	}

	msg, err := p.repo.GetMessage(ctx, params.MsgId)
	if err != nil {
		return types.Message{}, storeError("reload message", err)
	}
	return msg, nil
}

type DeleteParams struct {
	RoomId   int `json:"room_id" validate:"required,gt=0"`
	MsgId    int `json:"msg_id" validate:"required,gt=0"`
	SenderId int `json:"sender_id" validate:"required,gt=0"`
}

func (p *Pipeline) Delete(ctx context.Context, params DeleteParams) error {
	if err := validateParams(params); err != nil {
		return err
	}

	ok, err := p.repo.DeleteMessage(ctx, params.RoomId, params.MsgId, params.SenderId)
	if err != nil {
		return storeError("delete message", err)
	}
	if !ok {
		return p.explainRejected(ctx, params.RoomId, params.MsgId, "delete")
	}
	return nil
}

// explainRejected turns a zero-row conditional write into NotFound when the
// message does not exist in the room and Conflict otherwise.
func (p *Pipeline) explainRejected(ctx context.Context, roomId, msgId int, verb string) error {
	msg, err := p.messageInRoom(ctx, roomId, msgId)
	if err != nil {
		return err
	}
	if msg.Type != types.MessageTypeText && verb == "edit" {
		return conflictError("only text messages can be edited")
	}
	return conflictError("only the sender can " + verb + " this message")
}

func (p *Pipeline) messageInRoom(ctx context.Context, roomId, msgId int) (types.Message, error) {
	msg, err := p.repo.GetMessage(ctx, msgId)
	if errors.Is(err, database.ErrNotFound) || (err == nil && msg.RoomId != roomId) {
		return msg, notFoundError("message not found")
	}
	if err != nil {
		return msg, storeError("message lookup", err)
	}
	return msg, nil
}
