package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/npezzotti/go-roomchat/internal/chat"
	"github.com/npezzotti/go-roomchat/internal/types"
)

type leaveRequest struct {
	RoomId      int  `json:"room_id"`
	Unsubscribe bool `json:"unsubscribe"`
}

type historyRequest struct {
	RoomId      int `json:"room_id"`
	BeforeMsgId int `json:"before_msg_id"`
	Limit       int `json:"limit"`
}

type newerRequest struct {
	RoomId     int `json:"room_id"`
	AfterMsgId int `json:"after_msg_id"`
	Limit      int `json:"limit"`
}

type contextRequest struct {
	RoomId int `json:"room_id"`
	MsgId  int `json:"msg_id"`
}

type searchRequest struct {
	RoomId  int    `json:"room_id"`
	Keyword string `json:"keyword"`
	Limit   int    `json:"limit"`
}

type sendRequest struct {
	RoomId   int               `json:"room_id"`
	Type     types.MessageType `json:"type"`
	Content  string            `json:"content"`
	FileRef  string            `json:"file_ref"`
	FileName string            `json:"file_name"`
	TempId   string            `json:"temp_id"`
}

type markReadRequest struct {
	RoomId    int       `json:"room_id"`
	Timestamp time.Time `json:"last_read_timestamp"`
}

type editRequest struct {
	RoomId  int    `json:"room_id"`
	MsgId   int    `json:"msg_id"`
	Content string `json:"content"`
}

type deleteRequest struct {
	RoomId int `json:"room_id"`
	MsgId  int `json:"msg_id"`
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type directRoomRequest struct {
	TargetId int    `json:"target_id"`
	Name     string `json:"name"`
}

type inviteRequest struct {
	RoomId  int   `json:"room_id"`
	UserIds []int `json:"invitee_ids"`
}

type noticeRequest struct {
	RoomId  int    `json:"room_id"`
	MsgId   int    `json:"msg_id"`
	Content string `json:"content"`
}

func decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, chat.NewError(chat.KindValidation, "invalid payload")
	}
	return v, nil
}

func (cs *ChatServer) buildRoutes() map[string]route {
	return map[string]route{
		EventRoomsFetch:  {handler: cs.handleFetchRooms},
		EventRoomJoin:    {handler: cs.handleJoin, roomSerial: true},
		EventRoomLeave:   {handler: cs.handleLeave, roomSerial: true},
		EventRoomRead:    {handler: cs.handleRoomRead, roomSerial: true},
		EventRoomCreate:  {handler: cs.handleCreateRoom},
		EventRoomDirect:  {handler: cs.handleDirectRoom},
		EventRoomInvite:  {handler: cs.handleInvite, roomSerial: true},
		EventRoomMembers: {handler: cs.handleMembers},
		EventGetHistory:  {handler: cs.handleHistory, roomSerial: true},
		EventGetNewer:    {handler: cs.handleNewer},
		EventGetContext:  {handler: cs.handleContext},
		EventSearch:      {handler: cs.handleSearch},
		EventFiles:       {handler: cs.handleFiles},
		EventSendMessage: {handler: cs.handleSend, roomSerial: true},
		EventMarkAsRead:  {handler: cs.handleMarkAsRead, roomSerial: true},
		EventEditMessage: {handler: cs.handleEdit, roomSerial: true},
		EventDelete:      {handler: cs.handleDelete, roomSerial: true},
		EventNoticeSet:   {handler: cs.handleNoticeSet, roomSerial: true},
		EventNoticeClear: {handler: cs.handleNoticeClear, roomSerial: true},
		EventNoticeGet:   {handler: cs.handleNoticeGet},
	}
}

func (cs *ChatServer) handleFetchRooms(ctx context.Context, s Session, _ json.RawMessage) (*Result, error) {
	rooms, err := cs.svc.Rooms.ListRoomsForUser(ctx, s.User.Id)
	if err != nil {
		return nil, err
	}

	res := &Result{Event: EventRoomsList, Reply: RoomsData{Rooms: rooms}}
	for _, r := range rooms {
		res.add(Subscribe(r.Id, s.Client))
	}
	return res, nil
}

func (cs *ChatServer) handleJoin(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[historyRequest](payload)
	if err != nil {
		return nil, err
	}
	if err := cs.svc.Rooms.RequireMember(ctx, req.RoomId, s.User.Id); err != nil {
		return nil, err
	}

	req.BeforeMsgId = 0
	res, err := cs.loadHistory(ctx, s, req)
	if err != nil {
		return nil, err
	}
	// Subscribe before the read update fans out so the joiner sees it too.
	res.Effects = append([]Effect{Subscribe(req.RoomId, s.Client)}, res.Effects...)
	return res, nil
}

func (cs *ChatServer) handleHistory(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[historyRequest](payload)
	if err != nil {
		return nil, err
	}
	return cs.loadHistory(ctx, s, req)
}

// loadHistory returns a page of history. The initial page (no cursor) also
// marks the room read up to its newest message.
func (cs *ChatServer) loadHistory(ctx context.Context, s Session, req historyRequest) (*Result, error) {
	if req.Limit <= 0 {
		req.Limit = cs.opts.HistoryLimit
	}

	msgs, err := cs.svc.Messages.History(ctx, chat.HistoryParams{
		RoomId:      req.RoomId,
		UserId:      s.User.Id,
		BeforeMsgId: req.BeforeMsgId,
		Limit:       req.Limit,
	})
	if err != nil {
		return nil, err
	}

	statuses, err := cs.svc.Reads.MemberReadStatus(ctx, req.RoomId)
	if err != nil {
		return nil, err
	}

	data := HistoryData{
		RoomId:  req.RoomId,
		HasMore: len(msgs) == req.Limit,
	}
	res := &Result{Event: EventHistory}

	if req.BeforeMsgId == 0 {
		var since time.Time
		if last, ok := statuses[s.User.Id]; ok {
			data.MyLastReadBeforeEntry = &last
			since = last
		}
		if data.FirstUnreadMsgId, err = cs.svc.Reads.FirstUnread(ctx, req.RoomId, s.User.Id, since); err != nil {
			return nil, err
		}

		if len(msgs) > 0 {
			newest := msgs[len(msgs)-1].SentAt
			update, err := cs.markRead(ctx, s.User.Id, req.RoomId, newest)
			if err != nil {
				return nil, err
			}
			if update != nil {
				res.add(*update)
				if statuses, err = cs.svc.Reads.MemberReadStatus(ctx, req.RoomId); err != nil {
					return nil, err
				}
			}
		}

		if data.Notice, err = cs.svc.Notices.Current(ctx, req.RoomId); err != nil {
			return nil, err
		}
	}

	if data.MembersInRoom, err = cs.svc.Reads.Annotate(ctx, req.RoomId, msgs); err != nil {
		return nil, err
	}
	data.Messages = msgs
	data.MemberReadStatus = statuses

	res.Reply = data
	return res, nil
}

// markRead advances the user's read position and returns the read_update
// fan-out when it moved.
func (cs *ChatServer) markRead(ctx context.Context, userId, roomId int, ts time.Time) (*Effect, error) {
	changed, err := cs.svc.Reads.MarkRead(ctx, userId, roomId, ts)
	if err != nil || !changed {
		return nil, err
	}

	e := ToRoom(roomId, NewEvent(EventReadUpdate, types.ReadUpdate{
		UserId:    userId,
		RoomId:    roomId,
		Timestamp: ts,
	}))
	return &e, nil
}

func (cs *ChatServer) handleRoomRead(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	ref, err := decode[RoomRef](payload)
	if err != nil {
		return nil, err
	}

	newest, err := cs.svc.Messages.History(ctx, chat.HistoryParams{RoomId: ref.RoomId, UserId: s.User.Id, Limit: 1})
	if err != nil {
		return nil, err
	}

	changed := false
	res := &Result{}
	if len(newest) > 0 {
		update, err := cs.markRead(ctx, s.User.Id, ref.RoomId, newest[0].SentAt)
		if err != nil {
			return nil, err
		}
		if update != nil {
			changed = true
			res.add(*update)
		}
	}

	res.Reply = AckData{Changed: &changed}
	return res, nil
}

func (cs *ChatServer) handleMarkAsRead(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[markReadRequest](payload)
	if err != nil {
		return nil, err
	}
	// Without a timestamp the room is read up to its newest message.
	if req.Timestamp.IsZero() {
		return cs.handleRoomRead(ctx, s, payload)
	}

	update, err := cs.markRead(ctx, s.User.Id, req.RoomId, req.Timestamp)
	if err != nil {
		return nil, err
	}

	changed := update != nil
	res := &Result{Reply: AckData{Changed: &changed}}
	if changed {
		res.add(*update)
	}
	return res, nil
}

func (cs *ChatServer) handleLeave(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[leaveRequest](payload)
	if err != nil {
		return nil, err
	}

	if !req.Unsubscribe {
		return &Result{
			Reply:   RoomRef{RoomId: req.RoomId},
			Effects: []Effect{Unsubscribe(req.RoomId, s.Client)},
		}, nil
	}

	left, err := cs.svc.Rooms.LeaveRoom(ctx, req.RoomId, s.User)
	if err != nil {
		return nil, err
	}

	res := &Result{Reply: left}
	res.add(
		UnsubscribeUser(req.RoomId, s.User.Id),
		ToUser(s.User.Id, NewEvent(EventRoomsRefresh, RoomRef{RoomId: req.RoomId})),
	)

	if left.RoomDeleted {
		res.add(
			ToUser(s.User.Id, NewEvent(EventRoomDeleted, RoomRef{RoomId: req.RoomId})),
			DropRoom(req.RoomId),
		)
		return res, nil
	}

	if left.SystemMessage != nil {
		res.add(ToRoom(req.RoomId, NewEvent(EventSendMessage, left.SystemMessage)))
	}
	res.add(ToRoom(req.RoomId, NewEvent(EventMemberCount, MemberCountData{
		RoomId:      req.RoomId,
		MemberCount: left.MemberCount,
	})))

	// Notices the leaver created are gone; tell the room what is pinned now.
	notice, err := cs.svc.Notices.Current(ctx, req.RoomId)
	if err != nil {
		cs.log.Printf("room %d: current notice after leave: %v", req.RoomId, err)
	} else {
		res.add(ToRoom(req.RoomId, NewEvent(EventNoticeUpdated, NoticeData{RoomId: req.RoomId, Notice: notice})))
	}

	remaining, err := cs.svc.Rooms.MemberIds(ctx, req.RoomId)
	if err != nil {
		cs.log.Printf("room %d: member ids after leave: %v", req.RoomId, err)
		return res, nil
	}
	for _, id := range remaining {
		res.add(ToUser(id, NewEvent(EventRoomsRefresh, RoomRef{RoomId: req.RoomId})))
	}
	return res, nil
}

func (cs *ChatServer) handleCreateRoom(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[createRoomRequest](payload)
	if err != nil {
		return nil, err
	}

	room, err := cs.svc.Rooms.CreateRoom(ctx, chat.CreateRoomParams{Name: req.Name, CreatorId: s.User.Id})
	if err != nil {
		return nil, err
	}

	created := NewEvent(EventRoomCreated, RoomData{Room: room})
	created.SkipClient = s.Client
	return &Result{
		Event: EventRoomCreated,
		Reply: RoomData{Room: room},
		Effects: []Effect{
			Subscribe(room.Id, s.Client),
			ToUser(s.User.Id, created),
		},
	}, nil
}

func (cs *ChatServer) handleDirectRoom(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[directRoomRequest](payload)
	if err != nil {
		return nil, err
	}

	room, created, err := cs.svc.Rooms.CreateDirectRoom(ctx, s.User.Id, req.TargetId, req.Name)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Event:   EventRoomCreated,
		Reply:   RoomData{Room: room},
		Effects: []Effect{Subscribe(room.Id, s.Client)},
	}
	if created {
		own := NewEvent(EventRoomCreated, RoomData{Room: room})
		own.SkipClient = s.Client
		res.add(
			ToUser(s.User.Id, own),
			ToUser(req.TargetId, NewEvent(EventRoomCreated, RoomData{Room: room})),
		)
	}
	return res, nil
}

func (cs *ChatServer) handleInvite(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[inviteRequest](payload)
	if err != nil {
		return nil, err
	}

	invited, err := cs.svc.Rooms.InviteUsers(ctx, req.RoomId, req.UserIds, s.User)
	if err != nil {
		return nil, err
	}

	res := &Result{Reply: invited}
	if len(invited.Added) == 0 {
		return res, nil
	}

	if invited.SystemMessage != nil {
		res.add(ToRoom(req.RoomId, NewEvent(EventSendMessage, invited.SystemMessage)))
	}
	res.add(ToRoom(req.RoomId, NewEvent(EventMemberCount, MemberCountData{
		RoomId:      req.RoomId,
		MemberCount: invited.MemberCount,
	})))

	room, err := cs.svc.Rooms.Get(ctx, req.RoomId)
	if err != nil {
		cs.log.Printf("room %d: load after invite: %v", req.RoomId, err)
		return res, nil
	}
	for _, id := range invited.Added {
		res.add(
			ToUser(id, NewEvent(EventRoomCreated, RoomData{Room: room})),
			ToUser(id, NewEvent(EventRoomsRefresh, RoomRef{RoomId: req.RoomId})),
		)
	}
	return res, nil
}

func (cs *ChatServer) handleMembers(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	ref, err := decode[RoomRef](payload)
	if err != nil {
		return nil, err
	}

	members, err := cs.svc.Rooms.Members(ctx, ref.RoomId, s.User.Id)
	if err != nil {
		return nil, err
	}
	return &Result{Event: EventRoomMembers, Reply: MembersData{RoomId: ref.RoomId, Members: members}}, nil
}

func (cs *ChatServer) handleNewer(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[newerRequest](payload)
	if err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = cs.opts.HistoryLimit
	}

	msgs, err := cs.svc.Messages.Newer(ctx, chat.NewerParams{
		RoomId:     req.RoomId,
		UserId:     s.User.Id,
		AfterMsgId: req.AfterMsgId,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, err
	}
	return cs.annotated(ctx, EventNewer, req.RoomId, msgs)
}

func (cs *ChatServer) handleContext(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[contextRequest](payload)
	if err != nil {
		return nil, err
	}

	msgs, err := cs.svc.Messages.Context(ctx, req.RoomId, s.User.Id, req.MsgId)
	if err != nil {
		return nil, err
	}
	return cs.annotated(ctx, EventContext, req.RoomId, msgs)
}

func (cs *ChatServer) handleSearch(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[searchRequest](payload)
	if err != nil {
		return nil, err
	}

	msgs, err := cs.svc.Messages.Search(ctx, chat.SearchParams{
		RoomId:  req.RoomId,
		UserId:  s.User.Id,
		Keyword: req.Keyword,
		Limit:   req.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Event: EventSearchResults, Reply: MessagesData{RoomId: req.RoomId, Messages: msgs}}, nil
}

func (cs *ChatServer) handleFiles(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	ref, err := decode[RoomRef](payload)
	if err != nil {
		return nil, err
	}

	msgs, err := cs.svc.Messages.Files(ctx, ref.RoomId, s.User.Id)
	if err != nil {
		return nil, err
	}
	return &Result{Event: EventFiles, Reply: MessagesData{RoomId: ref.RoomId, Messages: msgs}}, nil
}

func (cs *ChatServer) annotated(ctx context.Context, event string, roomId int, msgs []types.Message) (*Result, error) {
	members, err := cs.svc.Reads.Annotate(ctx, roomId, msgs)
	if err != nil {
		return nil, err
	}
	return &Result{Event: event, Reply: MessagesData{RoomId: roomId, Messages: msgs, MembersInRoom: members}}, nil
}

// handleSend persists a message and fans it out to the room. Nothing is
// broadcast unless the store accepted the message.
func (cs *ChatServer) handleSend(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[sendRequest](payload)
	if err != nil {
		return nil, err
	}

	msg, err := cs.svc.Messages.Send(ctx, chat.SendParams{
		RoomId:   req.RoomId,
		SenderId: s.User.Id,
		Nickname: s.User.Nickname,
		Type:     req.Type,
		Content:  req.Content,
		FileRef:  req.FileRef,
		FileName: req.FileName,
		TempId:   req.TempId,
	})
	if err != nil {
		return nil, err
	}
	cs.stats.Incr(MetricMessagesSent)

	return &Result{
		Reply:   AckData{MsgId: msg.Id, TempId: msg.TempId, SentAt: msg.SentAt},
		Effects: []Effect{ToRoom(req.RoomId, NewEvent(EventSendMessage, msg))},
	}, nil
}

func (cs *ChatServer) handleEdit(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[editRequest](payload)
	if err != nil {
		return nil, err
	}

	msg, err := cs.svc.Messages.Edit(ctx, chat.EditParams{
		RoomId:   req.RoomId,
		MsgId:    req.MsgId,
		SenderId: s.User.Id,
		Content:  req.Content,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Reply:   AckData{MsgId: msg.Id},
		Effects: []Effect{ToRoom(req.RoomId, NewEvent(EventMessageUpdated, msg))},
	}, nil
}

func (cs *ChatServer) handleDelete(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[deleteRequest](payload)
	if err != nil {
		return nil, err
	}

	err = cs.svc.Messages.Delete(ctx, chat.DeleteParams{RoomId: req.RoomId, MsgId: req.MsgId, SenderId: s.User.Id})
	if err != nil {
		return nil, err
	}

	deleted := MessageDeletedData{RoomId: req.RoomId, MsgId: req.MsgId}
	return &Result{
		Reply:   AckData{MsgId: req.MsgId},
		Effects: []Effect{ToRoom(req.RoomId, NewEvent(EventMessageDeleted, deleted))},
	}, nil
}

func (cs *ChatServer) handleNoticeSet(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	req, err := decode[noticeRequest](payload)
	if err != nil {
		return nil, err
	}

	notice, err := cs.svc.Notices.Set(ctx, chat.NoticeParams{
		RoomId:  req.RoomId,
		UserId:  s.User.Id,
		MsgId:   req.MsgId,
		Content: req.Content,
	})
	if err != nil {
		return nil, err
	}

	data := NoticeData{RoomId: req.RoomId, Notice: &notice}
	return &Result{
		Event:   EventNoticeUpdated,
		Reply:   data,
		Effects: []Effect{ToRoom(req.RoomId, NewEvent(EventNoticeUpdated, data))},
	}, nil
}

func (cs *ChatServer) handleNoticeClear(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	ref, err := decode[RoomRef](payload)
	if err != nil {
		return nil, err
	}

	if err := cs.svc.Notices.Clear(ctx, ref.RoomId, s.User.Id); err != nil {
		return nil, err
	}

	data := NoticeData{RoomId: ref.RoomId}
	return &Result{
		Event:   EventNoticeUpdated,
		Reply:   data,
		Effects: []Effect{ToRoom(ref.RoomId, NewEvent(EventNoticeUpdated, data))},
	}, nil
}

func (cs *ChatServer) handleNoticeGet(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	ref, err := decode[RoomRef](payload)
	if err != nil {
		return nil, err
	}

	notice, err := cs.svc.Notices.Active(ctx, ref.RoomId, s.User.Id)
	if err != nil {
		return nil, err
	}
	return &Result{Event: EventNoticeUpdated, Reply: NoticeData{RoomId: ref.RoomId, Notice: notice}}, nil
}
