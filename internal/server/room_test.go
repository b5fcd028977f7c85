package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-roomchat/internal/testutil"
)

func noopHandler(ctx context.Context, s Session, payload json.RawMessage) (*Result, error) {
	return &Result{}, nil
}

func TestRoom_UnloadsWhenIdle(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A"), Options{IdleRoomTimeout: 20 * time.Millisecond})

	done, err := cs.submit(context.Background(), 1, Session{User: alice}, noopHandler, nil)
	require.NoError(t, err)
	<-done
	assert.Equal(t, 1, cs.ActiveRooms())

	assert.Eventually(t, func() bool { return cs.ActiveRooms() == 0 },
		time.Second, 10*time.Millisecond, "expected idle room to be unloaded")

	// a later task loads the room again
	done, err = cs.submit(context.Background(), 1, Session{User: alice}, noopHandler, nil)
	require.NoError(t, err)
	assert.NoError(t, (<-done).err)
}

func Test_unloadRoom(t *testing.T) {
	t.Run("keeps room with queued tasks", func(t *testing.T) {
		cs := newTestChatServer(t, testutil.MemoryRepo(t), Options{})
		r := &Room{id: 5, cs: cs, tasks: make(chan *roomTask, 1)}
		r.tasks <- &roomTask{}
		cs.rooms[r.id] = r

		assert.False(t, cs.unloadRoom(r))
		assert.Contains(t, cs.rooms, r.id)
		delete(cs.rooms, r.id)
	})

	t.Run("removes idle room", func(t *testing.T) {
		cs := newTestChatServer(t, testutil.MemoryRepo(t), Options{})
		r := &Room{id: 5, cs: cs, tasks: make(chan *roomTask, 1)}
		cs.rooms[r.id] = r

		assert.True(t, cs.unloadRoom(r))
		assert.NotContains(t, cs.rooms, r.id)
	})

	t.Run("leaves a newer room alone", func(t *testing.T) {
		cs := newTestChatServer(t, testutil.MemoryRepo(t), Options{})
		stale := &Room{id: 5, cs: cs, tasks: make(chan *roomTask, 1)}
		current := &Room{id: 5, cs: cs, tasks: make(chan *roomTask, 1)}
		cs.rooms[5] = current

		assert.True(t, cs.unloadRoom(stale))
		assert.Same(t, current, cs.rooms[5])
		delete(cs.rooms, 5)
	})
}

func TestRoom_HandleTask(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A"), Options{StoreTimeout: time.Second})
	c := newTestClient(t, cs, alice)
	r := newRoom(1, cs)

	t.Run("applies effects on success", func(t *testing.T) {
		task := &roomTask{
			ctx: context.Background(),
			run: func(ctx context.Context, s Session, _ json.RawMessage) (*Result, error) {
				_, ok := ctx.Deadline()
				assert.True(t, ok, "expected handler context to carry the store timeout")
				return &Result{Effects: []Effect{ToUser(alice.Id, NewEvent(EventRoomsRefresh, nil))}}, nil
			},
			done: make(chan taskResult, 1),
		}
		r.handleTask(task)
		assert.NoError(t, (<-task.done).err)
		nextEvent(t, c, EventRoomsRefresh)
	})

	t.Run("skips effects on error", func(t *testing.T) {
		task := &roomTask{
			ctx: context.Background(),
			run: func(ctx context.Context, s Session, _ json.RawMessage) (*Result, error) {
				return &Result{Effects: []Effect{ToUser(alice.Id, NewEvent(EventRoomsRefresh, nil))}}, errors.New("boom")
			},
			done: make(chan taskResult, 1),
		}
		r.handleTask(task)
		assert.EqualError(t, (<-task.done).err, "boom")
		assertNoEvent(t, c, EventRoomsRefresh)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		task := &roomTask{
			ctx: context.Background(),
			run: func(ctx context.Context, s Session, _ json.RawMessage) (*Result, error) {
				panic("bad handler")
			},
			done: make(chan taskResult, 1),
		}
		r.handleTask(task)
		assert.ErrorContains(t, (<-task.done).err, "bad handler")
	})

	t.Run("survives canceled caller", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		task := &roomTask{
			ctx: ctx,
			run: func(ctx context.Context, s Session, _ json.RawMessage) (*Result, error) {
				return &Result{}, ctx.Err()
			},
			done: make(chan taskResult, 1),
		}
		r.handleTask(task)
		assert.NoError(t, (<-task.done).err, "expected room work to outlive the caller's context")
	})
}

func TestRoom_Busy(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A"), Options{RoomQueueSize: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := func(ctx context.Context, s Session, _ json.RawMessage) (*Result, error) {
		close(started)
		<-release
		return &Result{}, nil
	}

	first, err := cs.submit(context.Background(), 1, Session{User: alice}, blocking, nil)
	require.NoError(t, err)
	<-started

	second, err := cs.submit(context.Background(), 1, Session{User: alice}, noopHandler, nil)
	require.NoError(t, err, "expected one task to fit in the queue")

	_, err = cs.submit(context.Background(), 1, Session{User: alice}, noopHandler, nil)
	assert.ErrorIs(t, err, errRoomBusy)

	close(release)
	assert.NoError(t, (<-first).err)
	assert.NoError(t, (<-second).err)
}

func TestRoom_ExitDrainsQueue(t *testing.T) {
	cs := newTestChatServer(t, testutil.MemoryRepo(t, "A"), Options{RoomQueueSize: 4})
	r := newRoom(1, cs)

	var pending []chan taskResult
	for range 3 {
		task := &roomTask{ctx: context.Background(), run: noopHandler, done: make(chan taskResult, 1)}
		r.tasks <- task
		pending = append(pending, task.done)
	}

	go r.start()
	close(r.exit)
	<-r.done

	for _, done := range pending {
		select {
		case res := <-done:
			assert.NoError(t, res.err)
		default:
			t.Error("expected every queued task to be answered")
		}
	}
}
