package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-roomchat/internal/chat"
	"github.com/npezzotti/go-roomchat/internal/types"
)

// Inbound events.
const (
	EventRoomsFetch  = "rooms:fetch"
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventRoomRead    = "room:read"
	EventRoomCreate  = "room:create"
	EventRoomDirect  = "room:direct"
	EventRoomInvite  = "room:invite"
	EventRoomMembers = "room:members"
	EventGetHistory  = "chat:get_history"
	EventGetNewer    = "chat:get_newer"
	EventGetContext  = "chat:get_context"
	EventSearch      = "chat:search"
	EventFiles       = "chat:files"
	EventSendMessage = "chat:message"
	EventMarkAsRead  = "chat:mark_as_read"
	EventEditMessage = "chat:edit"
	EventDelete      = "chat:delete"
	EventNoticeSet   = "notice:set"
	EventNoticeClear = "notice:clear"
	EventNoticeGet   = "notice:get"
)

// Outbound events.
const (
	EventRoomsList      = "rooms:list"
	EventRoomsRefresh   = "rooms:refresh"
	EventRoomCreated    = "room:new_created"
	EventMemberCount    = "room:member_count"
	EventRoomDeleted    = "room:deleted"
	EventHistory        = "chat:history"
	EventNewer          = "chat:newer"
	EventContext        = "chat:context"
	EventSearchResults  = "chat:search_results"
	EventMessageUpdated = "chat:message_updated"
	EventMessageDeleted = "chat:message_deleted"
	EventReadUpdate     = "chat:read_update"
	EventNoticeUpdated  = "room:notice_updated"
	EventOnlineUsers    = "ONLINE_USERS"
	EventError          = "chat:error"
	EventAck            = "ack"
)

type ClientMessage struct {
	Id      int             `json:"id,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ServerMessage struct {
	Id         int       `json:"id,omitempty"`
	Event      string    `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
	Data       any       `json:"data,omitempty"`
	SkipClient *Client   `json:"-"`
}

type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

type OnlineUsers struct {
	UserIds []int `json:"user_ids"`
}

type RoomsData struct {
	Rooms []types.RoomSummary `json:"rooms"`
}

type RoomData struct {
	Room types.Room `json:"room"`
}

type RoomRef struct {
	RoomId int `json:"room_id"`
}

type MemberCountData struct {
	RoomId      int `json:"room_id"`
	MemberCount int `json:"member_count"`
}

type MembersData struct {
	RoomId  int            `json:"room_id"`
	Members []types.Member `json:"members"`
}

type HistoryData struct {
	RoomId                int               `json:"room_id"`
	Messages              []types.Message   `json:"messages"`
	MembersInRoom         int               `json:"members_in_room"`
	MemberReadStatus      map[int]time.Time `json:"member_read_status"`
	MyLastReadBeforeEntry *time.Time        `json:"my_last_read_before_entry,omitempty"`
	FirstUnreadMsgId      int               `json:"first_unread_msg_id,omitempty"`
	Notice                *types.Notice     `json:"notice,omitempty"`
	HasMore               bool              `json:"has_more"`
}

type MessagesData struct {
	RoomId        int             `json:"room_id"`
	Messages      []types.Message `json:"messages"`
	MembersInRoom int             `json:"members_in_room,omitempty"`
}

type MessageDeletedData struct {
	RoomId int `json:"room_id"`
	MsgId  int `json:"msg_id"`
}

type NoticeData struct {
	RoomId int           `json:"room_id"`
	Notice *types.Notice `json:"notice"`
}

type AckData struct {
	MsgId   int       `json:"msg_id,omitempty"`
	TempId  string    `json:"temp_id,omitempty"`
	SentAt  time.Time `json:"sent_at,omitzero"`
	Changed *bool     `json:"changed,omitempty"`
}

var (
	errRoomBusy     = errors.New("room is busy")
	errShuttingDown = errors.New("server is shutting down")
)

func NewEvent(event string, data any) *ServerMessage {
	return &ServerMessage{
		Event:     event,
		Timestamp: Now(),
		Data:      data,
	}
}

func ErrorMessage(id int, event string, err error) *ServerMessage {
	msg := NewEvent(EventError, ErrorData{
		Code:    StatusCode(err),
		Message: PublicMessage(err),
		Event:   event,
	})
	msg.Id = id
	return msg
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := NewEvent(EventError, ErrorData{
		Code:    http.StatusBadRequest,
		Message: "invalid message format",
	})
	if id > 0 {
		msg.Id = id
	}
	return msg
}

// StatusCode extends chat.StatusCode with the transport's own failures.
func StatusCode(err error) int {
	if errors.Is(err, errRoomBusy) || errors.Is(err, errShuttingDown) {
		return http.StatusServiceUnavailable
	}
	return chat.StatusCode(err)
}

func PublicMessage(err error) string {
	switch {
	case errors.Is(err, errRoomBusy):
		return "service unavailable"
	case errors.Is(err, errShuttingDown):
		return "server is shutting down"
	}
	return chat.PublicMessage(err)
}

// Now is the server clock at the precision timestamps are stored with. It
// truncates so it never runs ahead of a stored sent_at.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
