package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/npezzotti/go-roomchat/internal/types"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) UserExists(ctx context.Context, userId int) (bool, error) {
	args := m.Called(ctx, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) GetUser(ctx context.Context, userId int) (types.User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) GetRoom(ctx context.Context, roomId int) (types.Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) DeleteRoom(ctx context.Context, roomId int) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
func (m *MockChatRepository) FindDirectRoom(ctx context.Context, userA, userB int) (types.Room, error) {
	args := m.Called(ctx, userA, userB)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) ListRoomsForUser(ctx context.Context, userId int) ([]types.RoomSummary, error) {
	args := m.Called(ctx, userId)
	if rooms, ok := args.Get(0).([]types.RoomSummary); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) AddMember(ctx context.Context, roomId, userId int) error {
	args := m.Called(ctx, roomId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) RemoveMember(ctx context.Context, roomId, userId int) error {
	args := m.Called(ctx, roomId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) IsMember(ctx context.Context, roomId, userId int) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CountMembers(ctx context.Context, roomId int) (int, error) {
	args := m.Called(ctx, roomId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) ListMembers(ctx context.Context, roomId int) ([]types.Member, error) {
	args := m.Called(ctx, roomId)
	if members, ok := args.Get(0).([]types.Member); ok {
		return members, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (types.Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, msgId int) (types.Message, error) {
	args := m.Called(ctx, msgId)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) messages(args mock.Arguments) ([]types.Message, error) {
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) History(ctx context.Context, roomId, beforeMsgId, limit int) ([]types.Message, error) {
	return m.messages(m.Called(ctx, roomId, beforeMsgId, limit))
}
func (m *MockChatRepository) NewerMessages(ctx context.Context, roomId, afterMsgId, limit int) ([]types.Message, error) {
	return m.messages(m.Called(ctx, roomId, afterMsgId, limit))
}
func (m *MockChatRepository) MessagesAround(ctx context.Context, roomId, msgId, radius int) ([]types.Message, error) {
	return m.messages(m.Called(ctx, roomId, msgId, radius))
}
func (m *MockChatRepository) SearchMessages(ctx context.Context, roomId int, keyword string, limit int) ([]types.Message, error) {
	return m.messages(m.Called(ctx, roomId, keyword, limit))
}
func (m *MockChatRepository) ListFiles(ctx context.Context, roomId int) ([]types.Message, error) {
	return m.messages(m.Called(ctx, roomId))
}
func (m *MockChatRepository) UpdateMessageContent(ctx context.Context, roomId, msgId, senderId int, content string) (bool, error) {
	args := m.Called(ctx, roomId, msgId, senderId, content)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(ctx context.Context, roomId, msgId, senderId int) (bool, error) {
	args := m.Called(ctx, roomId, msgId, senderId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) UpsertReadStatus(ctx context.Context, userId, roomId int, ts time.Time) (bool, error) {
	args := m.Called(ctx, userId, roomId, ts)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) ReadStatuses(ctx context.Context, roomId int) (map[int]time.Time, error) {
	args := m.Called(ctx, roomId)
	if statuses, ok := args.Get(0).(map[int]time.Time); ok {
		return statuses, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ReadCounts(ctx context.Context, roomId int, msgIds []int) (map[int]int, error) {
	args := m.Called(ctx, roomId, msgIds)
	if counts, ok := args.Get(0).(map[int]int); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) FirstUnreadMessageId(ctx context.Context, roomId, userId int, since time.Time) (int, error) {
	args := m.Called(ctx, roomId, userId, since)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) SetNotice(ctx context.Context, params SetNoticeParams) (types.Notice, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Notice), args.Error(1)
}
func (m *MockChatRepository) ActiveNotice(ctx context.Context, roomId int) (*types.Notice, error) {
	args := m.Called(ctx, roomId)
	if n, ok := args.Get(0).(*types.Notice); ok {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ClearNotice(ctx context.Context, roomId int) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}
func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
