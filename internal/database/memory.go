package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/npezzotti/go-roomchat/internal/types"
)

type readKey struct {
	userId int
	roomId int
}

type storedNotice struct {
	types.Notice
	active bool
}

// MemoryChatRepository is a ChatRepository held entirely in process memory.
// It backs the tests and the server when the memory store is selected.
type MemoryChatRepository struct {
	mu       sync.RWMutex
	now      func() time.Time
	lastSent time.Time

	nextUserId    int
	nextRoomId    int
	nextMessageId int
	nextNoticeId  int

	users    map[int]types.User
	rooms    map[int]types.Room
	members  map[int]map[int]time.Time
	messages []types.Message
	reads    map[readKey]time.Time
	notices  []*storedNotice
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		now:     func() time.Time { return time.Now().UTC() },
		users:   make(map[int]types.User),
		rooms:   make(map[int]types.Room),
		members: make(map[int]map[int]time.Time),
		reads:   make(map[readKey]time.Time),
	}
}

// AddUser stores u, assigning an id when u.Id is zero.
func (r *MemoryChatRepository) AddUser(u types.User) types.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u.Id == 0 {
		r.nextUserId++
		u.Id = r.nextUserId
	} else if u.Id > r.nextUserId {
		r.nextUserId = u.Id
	}
	r.users[u.Id] = u
	return u
}

func (r *MemoryChatRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryChatRepository) Close() error {
	return nil
}

// tick returns a timestamp strictly after every previously issued one.
func (r *MemoryChatRepository) tick() time.Time {
	ts := r.now().Truncate(time.Microsecond)
	if !ts.After(r.lastSent) {
		ts = r.lastSent.Add(time.Microsecond)
	}
	r.lastSent = ts
	return ts
}

func (r *MemoryChatRepository) UserExists(ctx context.Context, userId int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.users[userId]
	return ok, nil
}

func (r *MemoryChatRepository) GetUser(ctx context.Context, userId int) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userId]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range params.MemberIds {
		if _, ok := r.users[id]; !ok {
			return types.Room{}, ErrNotFound
		}
	}

	r.nextRoomId++
	now := r.tick()
	room := types.Room{
		Id:         r.nextRoomId,
		ExternalId: params.ExternalId,
		Name:       params.Name,
		Type:       params.Type,
		CreatedAt:  now,
	}
	r.rooms[room.Id] = room

	members := make(map[int]time.Time, len(params.MemberIds))
	for _, id := range params.MemberIds {
		members[id] = now
	}
	r.members[room.Id] = members

	return room, nil
}

func (r *MemoryChatRepository) GetRoom(ctx context.Context, roomId int) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomId]
	if !ok {
		return types.Room{}, ErrNotFound
	}
	return room, nil
}

func (r *MemoryChatRepository) DeleteRoom(ctx context.Context, roomId int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rooms, roomId)
	delete(r.members, roomId)
	r.messages = lo.Reject(r.messages, func(m types.Message, _ int) bool {
		return m.RoomId == roomId
	})
	for k := range r.reads {
		if k.roomId == roomId {
			delete(r.reads, k)
		}
	}
	r.notices = lo.Reject(r.notices, func(n *storedNotice, _ int) bool {
		return n.RoomId == roomId
	})

	return nil
}

func (r *MemoryChatRepository) FindDirectRoom(ctx context.Context, userA, userB int) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.rooms)
	sort.Ints(ids)
	for _, id := range ids {
		room := r.rooms[id]
		if room.Type != types.RoomTypeDirect {
			continue
		}
		members := r.members[id]
		_, hasA := members[userA]
		_, hasB := members[userB]
		if hasA && hasB && len(members) == 2 {
			return room, nil
		}
	}

	return types.Room{}, ErrNotFound
}

func (r *MemoryChatRepository) ListRoomsForUser(ctx context.Context, userId int) ([]types.RoomSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := []types.RoomSummary{}
	for roomId, members := range r.members {
		if _, ok := members[userId]; !ok {
			continue
		}

		room := r.rooms[roomId]
		summary := types.RoomSummary{
			Room:          room,
			LastMessageAt: room.CreatedAt,
			MemberCount:   len(members),
		}

		lastRead := r.reads[readKey{userId, roomId}]
		for _, m := range r.messages {
			if m.RoomId != roomId {
				continue
			}
			summary.LastMessage = m.Content
			if m.Type == types.MessageTypeFile {
				summary.LastMessage = "(file)"
			}
			summary.LastMessageAt = m.SentAt
			if m.SenderId != userId && m.SentAt.After(lastRead) {
				summary.UnreadCount++
			}
		}

		rooms = append(rooms, summary)
	}

	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].LastMessageAt.Equal(rooms[j].LastMessageAt) {
			return rooms[i].LastMessageAt.After(rooms[j].LastMessageAt)
		}
		return rooms[i].Id > rooms[j].Id
	})

	return rooms, nil
}

func (r *MemoryChatRepository) AddMember(ctx context.Context, roomId, userId int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.members[roomId]
	if !ok {
		return ErrNotFound
	}
	if _, ok := r.users[userId]; !ok {
		return ErrNotFound
	}
	if _, ok := members[userId]; ok {
		return ErrAlreadyMember
	}

	members[userId] = r.tick()
	return nil
}

func (r *MemoryChatRepository) RemoveMember(ctx context.Context, roomId, userId int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.members[roomId]
	if _, ok := members[userId]; !ok {
		return ErrNotFound
	}

	delete(members, userId)
	delete(r.reads, readKey{userId, roomId})
	for _, n := range r.notices {
		if n.RoomId == roomId && n.CreatedBy == userId {
			n.active = false
		}
	}

	return nil
}

func (r *MemoryChatRepository) IsMember(ctx context.Context, roomId, userId int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[roomId][userId]
	return ok, nil
}

func (r *MemoryChatRepository) CountMembers(ctx context.Context, roomId int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members[roomId]), nil
}

func (r *MemoryChatRepository) ListMembers(ctx context.Context, roomId int) ([]types.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	members := []types.Member{}
	for userId, joinedAt := range r.members[roomId] {
		members = append(members, types.Member{
			RoomId:   roomId,
			UserId:   userId,
			Nickname: r.users[userId].Nickname,
			JoinedAt: joinedAt,
		})
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserId < members[j].UserId
	})

	return members, nil
}

func (r *MemoryChatRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[params.RoomId]; !ok {
		return types.Message{}, ErrNotFound
	}

	r.nextMessageId++
	msg := types.Message{
		Id:       r.nextMessageId,
		RoomId:   params.RoomId,
		SenderId: params.SenderId,
		Nickname: params.Nickname,
		Type:     params.Type,
		Content:  params.Content,
		FileRef:  params.FileRef,
		FileName: params.FileName,
		SentAt:   r.tick(),
	}
	r.messages = append(r.messages, msg)

	return msg, nil
}

func (r *MemoryChatRepository) GetMessage(ctx context.Context, msgId int) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := lo.Find(r.messages, func(m types.Message) bool { return m.Id == msgId })
	if !ok {
		return types.Message{}, ErrNotFound
	}
	return msg, nil
}

func (r *MemoryChatRepository) roomMessages(roomId int, keep func(types.Message) bool) []types.Message {
	return lo.Filter(r.messages, func(m types.Message, _ int) bool {
		return m.RoomId == roomId && (keep == nil || keep(m))
	})
}

func (r *MemoryChatRepository) History(ctx context.Context, roomId, beforeMsgId, limit int) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.roomMessages(roomId, func(m types.Message) bool {
		return beforeMsgId <= 0 || m.Id < beforeMsgId
	})

	return lo.Subset(msgs, -clampLimit(limit), uint(clampLimit(limit))), nil
}

func (r *MemoryChatRepository) NewerMessages(ctx context.Context, roomId, afterMsgId, limit int) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.roomMessages(roomId, func(m types.Message) bool { return m.Id > afterMsgId })
	return lo.Subset(msgs, 0, uint(clampLimit(limit))), nil
}

func (r *MemoryChatRepository) MessagesAround(ctx context.Context, roomId, msgId, radius int) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	radius = clampLimit(radius)
	before := r.roomMessages(roomId, func(m types.Message) bool { return m.Id < msgId })
	after := r.roomMessages(roomId, func(m types.Message) bool { return m.Id >= msgId })

	return append(
		lo.Subset(before, -radius, uint(radius)),
		lo.Subset(after, 0, uint(radius+1))...,
	), nil
}

func (r *MemoryChatRepository) SearchMessages(ctx context.Context, roomId int, keyword string, limit int) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(keyword)
	msgs := r.roomMessages(roomId, func(m types.Message) bool {
		return m.Type != types.MessageTypeSystem &&
			(strings.Contains(strings.ToLower(m.Content), needle) ||
				strings.Contains(strings.ToLower(m.FileName), needle))
	})

	return lo.Subset(lo.Reverse(msgs), 0, uint(clampLimit(limit))), nil
}

func (r *MemoryChatRepository) ListFiles(ctx context.Context, roomId int) ([]types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.roomMessages(roomId, func(m types.Message) bool { return m.Type == types.MessageTypeFile })
	return lo.Reverse(msgs), nil
}

func (r *MemoryChatRepository) UpdateMessageContent(ctx context.Context, roomId, msgId, senderId int, content string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.messages {
		m := &r.messages[i]
		if m.Id == msgId && m.RoomId == roomId && m.SenderId == senderId && m.Type == types.MessageTypeText {
			m.Content = content
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryChatRepository) DeleteMessage(ctx context.Context, roomId, msgId, senderId int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, idx, ok := lo.FindIndexOf(r.messages, func(m types.Message) bool {
		return m.Id == msgId && m.RoomId == roomId && m.SenderId == senderId
	})
	if !ok {
		return false, nil
	}

	r.messages = append(r.messages[:idx], r.messages[idx+1:]...)
	return true, nil
}

func (r *MemoryChatRepository) UpsertReadStatus(ctx context.Context, userId, roomId int, ts time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomId]; !ok {
		return false, ErrNotFound
	}

	key := readKey{userId, roomId}
	if stored, ok := r.reads[key]; ok && !stored.Before(ts) {
		return false, nil
	}
	r.reads[key] = ts.UTC()
	return true, nil
}

func (r *MemoryChatRepository) ReadStatuses(ctx context.Context, roomId int) (map[int]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[int]time.Time)
	for userId := range r.members[roomId] {
		if ts, ok := r.reads[readKey{userId, roomId}]; ok {
			statuses[userId] = ts
		}
	}
	return statuses, nil
}

func (r *MemoryChatRepository) ReadCounts(ctx context.Context, roomId int, msgIds []int) (map[int]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[int]int, len(msgIds))
	wanted := lo.Keyify(msgIds)
	for _, m := range r.roomMessages(roomId, nil) {
		if _, ok := wanted[m.Id]; !ok {
			continue
		}
		n := 0
		for userId := range r.members[roomId] {
			if userId == m.SenderId {
				n++
				continue
			}
			if ts, ok := r.reads[readKey{userId, roomId}]; ok && !ts.Before(m.SentAt) {
				n++
			}
		}
		counts[m.Id] = n
	}
	return counts, nil
}

func (r *MemoryChatRepository) FirstUnreadMessageId(ctx context.Context, roomId, userId int, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := lo.Find(r.roomMessages(roomId, nil), func(m types.Message) bool {
		return m.SenderId != userId && m.SentAt.After(since)
	})
	if !ok {
		return 0, nil
	}
	return msg.Id, nil
}

func (r *MemoryChatRepository) SetNotice(ctx context.Context, params SetNoticeParams) (types.Notice, error) {
	if err := ctx.Err(); err != nil {
		return types.Notice{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[params.RoomId]; !ok {
		return types.Notice{}, ErrNotFound
	}

	for _, n := range r.notices {
		if n.RoomId == params.RoomId {
			n.active = false
		}
	}

	r.nextNoticeId++
	n := &storedNotice{
		Notice: types.Notice{
			Id:                r.nextNoticeId,
			RoomId:            params.RoomId,
			MsgId:             params.MsgId,
			Content:           params.Content,
			CreatedBy:         params.CreatedBy,
			CreatedByNickname: r.users[params.CreatedBy].Nickname,
			CreatedAt:         r.tick(),
		},
		active: true,
	}
	r.notices = append(r.notices, n)

	return n.Notice, nil
}

func (r *MemoryChatRepository) ActiveNotice(ctx context.Context, roomId int) (*types.Notice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.notices {
		if n.RoomId == roomId && n.active {
			notice := n.Notice
			return &notice, nil
		}
	}
	return nil, nil
}

func (r *MemoryChatRepository) ClearNotice(ctx context.Context, roomId int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.notices {
		if n.RoomId == roomId {
			n.active = false
		}
	}
	return nil
}
