package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/npezzotti/go-roomchat/internal/chat"
	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/stats"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const (
	MetricActiveConnections = "NumActiveConnections"
	MetricActiveRooms       = "NumActiveRooms"
	MetricMessagesSent      = "MessagesSent"
)

type Options struct {
	StoreTimeout    time.Duration
	IdleRoomTimeout time.Duration
	RoomQueueSize   int
	HistoryLimit    int
}

func DefaultOptions() Options {
	return Options{
		StoreTimeout:    5 * time.Second,
		IdleRoomTimeout: 5 * time.Minute,
		RoomQueueSize:   256,
		HistoryLimit:    database.DefaultHistoryLimit,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	if o.IdleRoomTimeout <= 0 {
		o.IdleRoomTimeout = d.IdleRoomTimeout
	}
	if o.RoomQueueSize <= 0 {
		o.RoomQueueSize = d.RoomQueueSize
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = d.HistoryLimit
	}
	return o
}

// Session is the identity an event is handled for. Client is nil when the
// event did not arrive over a websocket.
type Session struct {
	User   types.User
	Client *Client
}

type HandlerFunc func(ctx context.Context, s Session, payload json.RawMessage) (*Result, error)

type route struct {
	handler HandlerFunc
	// roomSerial routes mutate a room and run on that room's goroutine.
	roomSerial bool
}

type ChatServer struct {
	log      *log.Logger
	db       database.ChatRepository
	svc      *chat.Services
	registry *Registry
	stats    stats.StatsProvider
	opts     Options
	routes   map[string]route
	// users coalesces concurrent handshake lookups of the same user.
	users singleflight.Group

	// clients counts registered connections that have not unregistered yet.
	clients sync.WaitGroup

	rooms     map[int]*Room
	roomsLock sync.Mutex
	closing   bool
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	cs := &ChatServer{
		log:      logger,
		db:       db,
		svc:      chat.NewServices(db, logger),
		registry: NewRegistry(logger),
		stats:    su,
		opts:     opts.withDefaults(),
		rooms:    make(map[int]*Room),
	}
	cs.routes = cs.buildRoutes()

	su.RegisterMetric(MetricActiveConnections)
	su.RegisterMetric(MetricActiveRooms)
	su.RegisterMetric(MetricMessagesSent)

	return cs, nil
}

func (cs *ChatServer) Services() *chat.Services { return cs.svc }

func (cs *ChatServer) Registry() *Registry { return cs.registry }

// RegisterClient fails once Shutdown has started.
func (cs *ChatServer) RegisterClient(c *Client) error {
	cs.roomsLock.Lock()
	if cs.closing {
		cs.roomsLock.Unlock()
		return errShuttingDown
	}
	cs.clients.Add(1)
	cs.roomsLock.Unlock()

	cs.registry.Register(c)
	cs.stats.Incr(MetricActiveConnections)
	return nil
}

// UnregisterClient is safe to call more than once for the same client.
func (cs *ChatServer) UnregisterClient(c *Client) {
	if cs.registry.Unregister(c) {
		cs.stats.Decr(MetricActiveConnections)
		cs.clients.Done()
	}
}

// Authenticate resolves the user an authenticated token refers to. An
// unknown user is NotFound; store failures keep their persistence kind.
func (cs *ChatServer) Authenticate(ctx context.Context, userId int) (types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, cs.opts.StoreTimeout)
	defer cancel()

	if userId <= 0 {
		return types.User{}, chat.NewError(chat.KindValidation, "invalid user")
	}
	val, err, _ := cs.users.Do(strconv.Itoa(userId), func() (any, error) {
		return cs.svc.Rooms.User(ctx, userId)
	})
	if err != nil {
		return types.User{}, err
	}
	return val.(types.User), nil
}

// Dispatch runs one event for s and returns the reply for the requester.
// Effects have been applied by the time it returns.
func (cs *ChatServer) Dispatch(ctx context.Context, s Session, event string, payload json.RawMessage) (*Result, error) {
	rt, ok := cs.routes[event]
	if !ok {
		return nil, chat.NewError(chat.KindValidation, "unknown event "+event)
	}

	if !rt.roomSerial {
		ctx, cancel := context.WithTimeout(ctx, cs.opts.StoreTimeout)
		defer cancel()

		res, err := rt.handler(ctx, s, payload)
		if err != nil {
			return nil, err
		}
		cs.apply(res.Effects)
		return res, nil
	}

	ref, err := decode[RoomRef](payload)
	if err != nil {
		return nil, err
	}
	if ref.RoomId <= 0 {
		return nil, chat.NewError(chat.KindValidation, "room_id is required")
	}

	done, err := cs.submit(ctx, ref.RoomId, s, rt.handler, payload)
	if err != nil {
		return nil, err
	}
	r := <-done
	return r.res, r.err
}

// submit queues a task on the room's actor, loading the room if needed.
func (cs *ChatServer) submit(ctx context.Context, roomId int, s Session, h HandlerFunc, payload json.RawMessage) (<-chan taskResult, error) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if cs.closing {
		return nil, errShuttingDown
	}

	r, ok := cs.rooms[roomId]
	if !ok {
		r = newRoom(roomId, cs)
		cs.rooms[roomId] = r
		cs.stats.Incr(MetricActiveRooms)
		go r.start()
	}

	t := &roomTask{
		ctx:  ctx,
		run:  h,
		s:    s,
		body: payload,
		done: make(chan taskResult, 1),
	}
	select {
	case r.tasks <- t:
	default:
		cs.log.Printf("task queue full on room %d", roomId)
		return nil, errRoomBusy
	}
	return t.done, nil
}

// unloadRoom removes an idle room. It reports false when tasks are still
// queued for it.
func (cs *ChatServer) unloadRoom(r *Room) bool {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if len(r.tasks) > 0 {
		return false
	}
	if cs.rooms[r.id] == r {
		delete(cs.rooms, r.id)
		cs.stats.Decr(MetricActiveRooms)
	}
	return true
}

func (cs *ChatServer) ActiveRooms() int {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()
	return len(cs.rooms)
}

// Shutdown closes every connection and stops all room actors after they
// finish their queued work.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.roomsLock.Lock()
	cs.closing = true
	rooms := make([]*Room, 0, len(cs.rooms))
	for _, r := range cs.rooms {
		rooms = append(rooms, r)
	}
	cs.rooms = make(map[int]*Room)
	cs.roomsLock.Unlock()

	for _, c := range cs.registry.Clients() {
		c.stopClient()
	}

	// Connections unregister from their read pumps; wait so nothing touches
	// stats after Shutdown returns.
	clientsDone := make(chan struct{})
	go func() {
		cs.clients.Wait()
		close(clientsDone)
	}()
	select {
	case <-clientsDone:
	case <-ctx.Done():
		cs.log.Println("shutdown: connections still open")
	}

	for _, r := range rooms {
		cs.log.Println("shutting down room", r.id)
		close(r.exit)
	}
	for _, r := range rooms {
		select {
		case <-r.done:
			cs.stats.Decr(MetricActiveRooms)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
