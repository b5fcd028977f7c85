package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-roomchat/internal/chat"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/testutil"
	"github.com/npezzotti/go-roomchat/internal/types"
)

// newTestChatServer creates a ChatServer backed by db with a permissive
// stats mock.
func newTestChatServer(t *testing.T, db database.ChatRepository, opts Options) *ChatServer {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Times(3)
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()

	cs, err := NewChatServer(testutil.TestLogger(t), db, su, opts)
	require.NoError(t, err, "failed to create test ChatServer")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})
	return cs
}

// newTestClient returns a registered connection without a socket; messages
// queued for it stay in its send buffer.
func newTestClient(t *testing.T, cs *ChatServer, user types.User) *Client {
	t.Helper()

	c := &Client{
		id:         uuid.NewString(),
		chatServer: cs,
		log:        testutil.TestLogger(t),
		user:       user,
		send:       make(chan *ServerMessage, sendBufferSize),
		stop:       make(chan struct{}),
	}
	c.setState(StateAuthenticated)
	require.NoError(t, cs.RegisterClient(c))
	drain(c)

	// stand in for the read pump, which unregisters once the client stops
	go func() {
		<-c.stop
		c.cleanup()
	}()
	return c
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// nextEvent returns the next queued message for c with the given event,
// skipping others.
func nextEvent(t *testing.T, c *Client, event string) *ServerMessage {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case msg := <-c.send:
			if msg.Event == event {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
			return nil
		}
	}
}

func assertNoEvent(t *testing.T, c *Client, event string) {
	t.Helper()
	for {
		select {
		case msg := <-c.send:
			assert.NotEqual(t, event, msg.Event, "unexpected %s", event)
		default:
			return
		}
	}
}

func dispatch(t *testing.T, cs *ChatServer, c *Client, event string, payload any) (*Result, error) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return cs.Dispatch(context.Background(), Session{User: c.user, Client: c}, event, raw)
}

var (
	alice = types.User{Id: 1, Username: "A", Nickname: "A"}
	bob   = types.User{Id: 2, Username: "B", Nickname: "B"}
	carol = types.User{Id: 3, Username: "C", Nickname: "C"}
)

// setupRoom creates a group room owned by alice with bob and carol invited.
func setupRoom(t *testing.T, cs *ChatServer, owner *Client) int {
	t.Helper()

	res, err := dispatch(t, cs, owner, EventRoomCreate, createRoomRequest{Name: "general"})
	require.NoError(t, err)
	room := res.Reply.(RoomData).Room

	_, err = dispatch(t, cs, owner, EventRoomInvite, inviteRequest{RoomId: room.Id, UserIds: []int{bob.Id, carol.Id}})
	require.NoError(t, err)
	return room.Id
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", MetricActiveConnections).Return().Once()
	su.On("RegisterMetric", MetricActiveRooms).Return().Once()
	su.On("RegisterMetric", MetricMessagesSent).Return().Once()

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su, Options{})
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, DefaultOptions(), cs.opts, "expected zero options to take defaults")
	assert.NotNil(t, cs.svc, "expected services to be initialized")
	assert.NotNil(t, cs.rooms, "expected rooms map to be initialized")
	assert.Contains(t, cs.routes, EventSendMessage)
	assert.True(t, cs.routes[EventSendMessage].roomSerial, "expected sends to run on the room actor")
	assert.False(t, cs.routes[EventSearch].roomSerial, "expected reads to run inline")
}

func TestDispatch_Errors(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	c := newTestClient(t, cs, alice)

	tests := []struct {
		name    string
		event   string
		payload json.RawMessage
		code    int
	}{
		{"unknown event", "chat:nope", nil, http.StatusBadRequest},
		{"missing room id", EventSendMessage, json.RawMessage(`{"content":"hi"}`), http.StatusBadRequest},
		{"malformed payload", EventSendMessage, json.RawMessage(`{"room_id":"x"}`), http.StatusBadRequest},
		{"unknown room", EventSendMessage, json.RawMessage(`{"room_id":99,"content":"hi"}`), http.StatusNotFound},
		{"bad search", EventSearch, json.RawMessage(`{"room_id":1}`), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cs.Dispatch(context.Background(), Session{User: alice, Client: c}, tt.event, tt.payload)
			require.Error(t, err)
			assert.Equal(t, tt.code, StatusCode(err))
		})
	}
}

func TestSendMessage_FanOut(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	ca := newTestClient(t, cs, alice)
	cb := newTestClient(t, cs, bob)
	cc := newTestClient(t, cs, carol)

	roomId := setupRoom(t, cs, ca)
	for _, c := range []*Client{cb, cc} {
		_, err := dispatch(t, cs, c, EventRoomJoin, RoomRef{RoomId: roomId})
		require.NoError(t, err)
	}
	drain(ca)
	drain(cb)
	drain(cc)

	res, err := dispatch(t, cs, ca, EventSendMessage, sendRequest{RoomId: roomId, Content: "hi", TempId: "t-1"})
	require.NoError(t, err)

	ack := res.reply(7)
	assert.Equal(t, EventAck, ack.Event)
	assert.Equal(t, 7, ack.Id)
	data := ack.Data.(AckData)
	assert.Equal(t, "t-1", data.TempId)
	assert.NotZero(t, data.MsgId)

	for _, c := range []*Client{ca, cb, cc} {
		msg := nextEvent(t, c, EventSendMessage).Data.(types.Message)
		assert.Equal(t, data.MsgId, msg.Id)
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, "A", msg.Nickname)
		assert.Equal(t, 2, msg.UnreadCount)
	}
}

func TestSendMessage_NoBroadcastOnPersistFailure(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	db.On("GetRoom", mock.Anything, 1).Return(types.Room{Id: 1}, nil)
	db.On("IsMember", mock.Anything, 1, alice.Id).Return(true, nil)
	db.On("AppendMessage", mock.Anything, mock.Anything).Return(types.Message{}, context.DeadlineExceeded)

	cs := newTestChatServer(t, db, Options{})
	ca := newTestClient(t, cs, alice)
	cb := newTestClient(t, cs, bob)
	cs.registry.Subscribe(1, ca)
	cs.registry.Subscribe(1, cb)

	_, err := dispatch(t, cs, ca, EventSendMessage, sendRequest{RoomId: 1, Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, chat.KindPersistence, chat.KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))

	assertNoEvent(t, ca, EventSendMessage)
	assertNoEvent(t, cb, EventSendMessage)
}

func TestSendMessage_ConcurrentOrdering(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	ca := newTestClient(t, cs, alice)
	cb := newTestClient(t, cs, bob)
	roomId := setupRoom(t, cs, ca)
	cs.registry.Subscribe(roomId, cb)

	const senders, perSender = 10, 10
	var wg sync.WaitGroup
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender := alice
			if i%2 == 1 {
				sender = bob
			}
			for range perSender {
				raw, _ := json.Marshal(sendRequest{RoomId: roomId, Content: "m"})
				_, err := cs.Dispatch(context.Background(), Session{User: sender}, EventSendMessage, raw)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	// Broadcasts reach subscribers in the order the store assigned ids.
	last := 0
	for range senders * perSender {
		msg := nextEvent(t, cb, EventSendMessage).Data.(types.Message)
		assert.Greater(t, msg.Id, last)
		last = msg.Id
	}
}

func TestLeaveRoom(t *testing.T) {
	t.Run("unsubscribe only", func(t *testing.T) {
		cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
		ca := newTestClient(t, cs, alice)
		roomId := setupRoom(t, cs, ca)
		cs.registry.Subscribe(roomId, ca)

		_, err := dispatch(t, cs, ca, EventRoomLeave, leaveRequest{RoomId: roomId})
		require.NoError(t, err)
		assert.False(t, cs.registry.IsSubscribed(roomId, ca))

		ok, err := cs.svc.Rooms.MemberIds(context.Background(), roomId)
		require.NoError(t, err)
		assert.Contains(t, ok, alice.Id, "expected membership to survive an unsubscribe")
	})

	t.Run("leave notifies remaining members", func(t *testing.T) {
		cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
		ca := newTestClient(t, cs, alice)
		cb := newTestClient(t, cs, bob)
		roomId := setupRoom(t, cs, ca)
		cs.registry.Subscribe(roomId, ca)
		cs.registry.Subscribe(roomId, cb)
		drain(ca)
		drain(cb)

		res, err := dispatch(t, cs, cb, EventRoomLeave, leaveRequest{RoomId: roomId, Unsubscribe: true})
		require.NoError(t, err)
		left := res.Reply.(chat.LeaveResult)
		assert.False(t, left.RoomDeleted)
		assert.Equal(t, 2, left.MemberCount)
		assert.False(t, cs.registry.IsSubscribed(roomId, cb))

		sys := nextEvent(t, ca, EventSendMessage).Data.(*types.Message)
		assert.Equal(t, types.MessageTypeSystem, sys.Type)
		assert.Equal(t, "B left the room", sys.Content)
		count := nextEvent(t, ca, EventMemberCount).Data.(MemberCountData)
		assert.Equal(t, 2, count.MemberCount)
		nextEvent(t, ca, EventRoomsRefresh)
		nextEvent(t, cb, EventRoomsRefresh)
		assertNoEvent(t, cb, EventSendMessage)

		_, err = dispatch(t, cs, cb, EventRoomLeave, leaveRequest{RoomId: roomId, Unsubscribe: true})
		assert.True(t, chat.IsNotFound(err), "expected leaving twice to fail with not found")
	})

	t.Run("last member deletes room", func(t *testing.T) {
		cs := newTestChatServer(t, testutil.MemoryRepo(t, "A"), Options{})
		ca := newTestClient(t, cs, alice)
		res, err := dispatch(t, cs, ca, EventRoomCreate, createRoomRequest{Name: "solo"})
		require.NoError(t, err)
		roomId := res.Reply.(RoomData).Room.Id
		assert.True(t, cs.registry.IsSubscribed(roomId, ca))

		res, err = dispatch(t, cs, ca, EventRoomLeave, leaveRequest{RoomId: roomId, Unsubscribe: true})
		require.NoError(t, err)
		assert.True(t, res.Reply.(chat.LeaveResult).RoomDeleted)
		assert.Empty(t, cs.registry.JoinedRooms(ca))
		deleted := nextEvent(t, ca, EventRoomDeleted).Data.(RoomRef)
		assert.Equal(t, roomId, deleted.RoomId)

		_, err = dispatch(t, cs, ca, EventGetHistory, historyRequest{RoomId: roomId})
		assert.Equal(t, http.StatusNotFound, StatusCode(err))
	})
}

func TestGetHistory_InitialLoadMarksRead(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	ca := newTestClient(t, cs, alice)
	cb := newTestClient(t, cs, bob)
	roomId := setupRoom(t, cs, ca)
	cs.registry.Subscribe(roomId, ca)

	for _, text := range []string{"one", "two", "three"} {
		_, err := dispatch(t, cs, ca, EventSendMessage, sendRequest{RoomId: roomId, Content: text})
		require.NoError(t, err)
	}
	drain(ca)

	res, err := dispatch(t, cs, cb, EventRoomJoin, historyRequest{RoomId: roomId, Limit: 2})
	require.NoError(t, err)
	assert.True(t, cs.registry.IsSubscribed(roomId, cb))

	data := res.Reply.(HistoryData)
	require.Len(t, data.Messages, 2)
	assert.Equal(t, "two", data.Messages[0].Content)
	assert.Equal(t, "three", data.Messages[1].Content)
	assert.True(t, data.HasMore)
	assert.Equal(t, 3, data.MembersInRoom)
	assert.Nil(t, data.MyLastReadBeforeEntry)
	assert.NotZero(t, data.FirstUnreadMsgId)
	assert.Contains(t, data.MemberReadStatus, bob.Id)
	// alice sent it and bob has read it
	assert.Equal(t, 1, data.Messages[1].UnreadCount)

	update := nextEvent(t, ca, EventReadUpdate).Data.(types.ReadUpdate)
	assert.Equal(t, bob.Id, update.UserId)
	assert.Equal(t, data.Messages[1].SentAt, update.Timestamp)

	// a second initial load changes nothing and emits nothing
	_, err = dispatch(t, cs, cb, EventGetHistory, historyRequest{RoomId: roomId})
	require.NoError(t, err)
	assertNoEvent(t, ca, EventReadUpdate)

	older, err := dispatch(t, cs, cb, EventGetHistory, historyRequest{RoomId: roomId, BeforeMsgId: data.Messages[0].Id, Limit: 2})
	require.NoError(t, err)
	page := older.Reply.(HistoryData)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "one", page.Messages[0].Content)
	assert.False(t, page.HasMore)
}

func TestMarkAsRead(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	ca := newTestClient(t, cs, alice)
	cb := newTestClient(t, cs, bob)
	roomId := setupRoom(t, cs, ca)
	cs.registry.Subscribe(roomId, ca)
	drain(ca)

	ts := time.Now().UTC().Add(time.Minute).Round(time.Millisecond)
	res, err := dispatch(t, cs, cb, EventMarkAsRead, markReadRequest{RoomId: roomId, Timestamp: ts})
	require.NoError(t, err)
	assert.True(t, *res.Reply.(AckData).Changed)
	assert.Equal(t, ts, nextEvent(t, ca, EventReadUpdate).Data.(types.ReadUpdate).Timestamp)

	res, err = dispatch(t, cs, cb, EventMarkAsRead, markReadRequest{RoomId: roomId, Timestamp: ts.Add(-time.Second)})
	require.NoError(t, err)
	assert.False(t, *res.Reply.(AckData).Changed, "expected an older timestamp to be ignored")
	assertNoEvent(t, ca, EventReadUpdate)
}

func TestMarkAsRead_WithoutTimestamp(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	ca := newTestClient(t, cs, alice)
	cb := newTestClient(t, cs, bob)
	roomId := setupRoom(t, cs, ca)
	cs.registry.Subscribe(roomId, ca)

	res, err := dispatch(t, cs, ca, EventSendMessage, sendRequest{RoomId: roomId, Content: "latest"})
	require.NoError(t, err)
	sentAt := res.Reply.(AckData).SentAt
	drain(ca)

	res, err = dispatch(t, cs, cb, EventMarkAsRead, RoomRef{RoomId: roomId})
	require.NoError(t, err)
	assert.True(t, *res.Reply.(AckData).Changed)
	assert.Equal(t, sentAt, nextEvent(t, ca, EventReadUpdate).Data.(types.ReadUpdate).Timestamp)

	page, err := cs.svc.Messages.History(context.Background(), chat.HistoryParams{RoomId: roomId, UserId: bob.Id, Limit: 1})
	require.NoError(t, err)
	_, err = cs.svc.Reads.Annotate(context.Background(), roomId, page)
	require.NoError(t, err)
	assert.Equal(t, 1, page[0].UnreadCount, "expected only carol to be unread")
}

func TestEditDeleteBroadcast(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	ca := newTestClient(t, cs, alice)
	cb := newTestClient(t, cs, bob)
	roomId := setupRoom(t, cs, ca)
	cs.registry.Subscribe(roomId, cb)

	res, err := dispatch(t, cs, ca, EventSendMessage, sendRequest{RoomId: roomId, Content: "typo"})
	require.NoError(t, err)
	msgId := res.Reply.(AckData).MsgId

	_, err = dispatch(t, cs, cb, EventEditMessage, editRequest{RoomId: roomId, MsgId: msgId, Content: "hack"})
	assert.True(t, chat.IsConflict(err), "expected only the sender to edit")

	_, err = dispatch(t, cs, ca, EventEditMessage, editRequest{RoomId: roomId, MsgId: msgId, Content: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", nextEvent(t, cb, EventMessageUpdated).Data.(types.Message).Content)

	_, err = dispatch(t, cs, ca, EventDelete, deleteRequest{RoomId: roomId, MsgId: msgId})
	require.NoError(t, err)
	deleted := nextEvent(t, cb, EventMessageDeleted).Data.(MessageDeletedData)
	assert.Equal(t, msgId, deleted.MsgId)
}

func TestNoticeEvents(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	ca := newTestClient(t, cs, alice)
	cb := newTestClient(t, cs, bob)
	roomId := setupRoom(t, cs, ca)
	cs.registry.Subscribe(roomId, cb)

	_, err := dispatch(t, cs, ca, EventNoticeSet, noticeRequest{RoomId: roomId, Content: "read the rules"})
	require.NoError(t, err)
	got := nextEvent(t, cb, EventNoticeUpdated).Data.(NoticeData)
	require.NotNil(t, got.Notice)
	assert.Equal(t, "read the rules", got.Notice.Content)

	res, err := dispatch(t, cs, cb, EventNoticeGet, RoomRef{RoomId: roomId})
	require.NoError(t, err)
	assert.Equal(t, got.Notice.Id, res.Reply.(NoticeData).Notice.Id)

	_, err = dispatch(t, cs, ca, EventNoticeClear, RoomRef{RoomId: roomId})
	require.NoError(t, err)
	assert.Nil(t, nextEvent(t, cb, EventNoticeUpdated).Data.(NoticeData).Notice)
}

func TestInvite_NotifiesInvitees(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	ca := newTestClient(t, cs, alice)
	cb := newTestClient(t, cs, bob)

	res, err := dispatch(t, cs, ca, EventRoomCreate, createRoomRequest{Name: "general"})
	require.NoError(t, err)
	roomId := res.Reply.(RoomData).Room.Id

	res, err = dispatch(t, cs, ca, EventRoomInvite, inviteRequest{RoomId: roomId, UserIds: []int{bob.Id, bob.Id, 99}})
	require.NoError(t, err)
	invited := res.Reply.(chat.InviteResult)
	assert.Equal(t, []int{bob.Id}, invited.Added)
	require.Len(t, invited.Failed, 1)
	assert.Equal(t, 99, invited.Failed[0].UserId)

	created := nextEvent(t, cb, EventRoomCreated).Data.(RoomData)
	assert.Equal(t, roomId, created.Room.Id)
	sys := nextEvent(t, ca, EventSendMessage).Data.(*types.Message)
	assert.Equal(t, "A invited B", sys.Content)
}

func TestDirectRoom(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B"), Options{})
	ca := newTestClient(t, cs, alice)
	cb := newTestClient(t, cs, bob)

	res, err := dispatch(t, cs, ca, EventRoomDirect, directRoomRequest{TargetId: bob.Id})
	require.NoError(t, err)
	room := res.Reply.(RoomData).Room
	assert.Equal(t, types.RoomTypeDirect, room.Type)
	assert.Equal(t, room.Id, nextEvent(t, cb, EventRoomCreated).Data.(RoomData).Room.Id)

	res, err = dispatch(t, cs, cb, EventRoomDirect, directRoomRequest{TargetId: alice.Id})
	require.NoError(t, err)
	assert.Equal(t, room.Id, res.Reply.(RoomData).Room.Id, "expected the existing direct room")
	assertNoEvent(t, ca, EventRoomCreated)
}

func TestFetchRooms_Subscribes(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	ca := newTestClient(t, cs, alice)
	roomId := setupRoom(t, cs, ca)

	cb := newTestClient(t, cs, bob)
	res, err := dispatch(t, cs, cb, EventRoomsFetch, nil)
	require.NoError(t, err)
	assert.Equal(t, EventRoomsList, res.Event)
	rooms := res.Reply.(RoomsData).Rooms
	require.Len(t, rooms, 1)
	assert.Equal(t, roomId, rooms[0].Id)
	assert.True(t, cs.registry.IsSubscribed(roomId, cb))
}

func TestChatServerShutdown(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A", "B", "C"), Options{})
	ca := newTestClient(t, cs, alice)
	roomId := setupRoom(t, cs, ca)
	assert.Equal(t, 1, cs.ActiveRooms())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, cs.Shutdown(ctx))
	assert.Equal(t, 0, cs.ActiveRooms())

	select {
	case <-ca.stop:
	default:
		t.Error("expected client to be stopped")
	}
	assert.Zero(t, cs.registry.Len(), "expected connections to unregister before Shutdown returns")
	assert.Equal(t, StateDisconnected, ca.State())

	late := &Client{id: uuid.NewString(), chatServer: cs, user: bob, send: make(chan *ServerMessage, 1), stop: make(chan struct{})}
	assert.ErrorIs(t, cs.RegisterClient(late), errShuttingDown)

	_, err := dispatch(t, cs, ca, EventSendMessage, sendRequest{RoomId: roomId, Content: "late"})
	assert.True(t, errors.Is(err, errShuttingDown))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestAuthenticate(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A"), Options{})

	user, err := cs.Authenticate(context.Background(), alice.Id)
	require.NoError(t, err)
	assert.Equal(t, "A", user.Nickname)

	_, err = cs.Authenticate(context.Background(), 42)
	assert.True(t, chat.IsNotFound(err))

	_, err = cs.Authenticate(context.Background(), 0)
	assert.True(t, chat.IsValidation(err))
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	repo := &database.MockChatRepository{}
	repo.On("GetUser", mock.Anything, alice.Id).Return(types.User{}, errors.New("connection refused"))
	cs := newTestChatServer(t, repo, Options{})

	_, err := cs.Authenticate(context.Background(), alice.Id)
	require.Error(t, err)
	assert.False(t, chat.IsNotFound(err), "expected an outage not to look like an unknown user")
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	repo.AssertExpectations(t)
}

func TestAuthenticate_Concurrent(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A"), Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := cs.Authenticate(context.Background(), alice.Id)
			if err == nil && user.Id != alice.Id {
				err = errors.New("wrong user")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
