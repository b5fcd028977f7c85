package server

import (
	"log"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry tracks live connections by user and the rooms each connection
// is subscribed to. It never touches durable membership.
type Registry struct {
	mu     sync.RWMutex
	log    *log.Logger
	users  map[int]map[*Client]struct{}
	rooms  map[int]map[*Client]struct{}
	joined map[*Client]map[int]struct{}
}

func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		log:    logger,
		users:  make(map[int]map[*Client]struct{}),
		rooms:  make(map[int]map[*Client]struct{}),
		joined: make(map[*Client]map[int]struct{}),
	}
}

// Register adds c and broadcasts the online snapshot to every connection.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.joined[c]; ok {
		return
	}

	r.joined[c] = make(map[int]struct{})
	if r.users[c.user.Id] == nil {
		r.users[c.user.Id] = make(map[*Client]struct{})
	}
	r.users[c.user.Id][c] = struct{}{}

	r.log.Printf("registered connection %s for user %d", c.id, c.user.Id)
	r.broadcastOnlineLocked()
}

// Unregister removes c from the registry and from every room subscription.
// It reports false when c was not registered.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.joined[c]
	if !ok {
		return false
	}

	for roomId := range rooms {
		r.removeFromRoomLocked(roomId, c)
	}
	delete(r.joined, c)

	if conns, ok := r.users[c.user.Id]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(r.users, c.user.Id)
		}
	}

	r.log.Printf("unregistered connection %s for user %d", c.id, c.user.Id)
	r.broadcastOnlineLocked()
	return true
}

// broadcastOnlineLocked sends a full ONLINE_USERS snapshot while r.mu is
// held, so snapshots reach clients in registration order.
func (r *Registry) broadcastOnlineLocked() {
	msg := NewEvent(EventOnlineUsers, OnlineUsers{UserIds: r.onlineLocked()})
	for c := range r.joined {
		c.queueMessage(msg)
	}
}

func (r *Registry) onlineLocked() []int {
	ids := lo.Keys(r.users)
	slices.Sort(ids)
	return ids
}

func (r *Registry) OnlineUsers() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

func (r *Registry) ConnectionsFor(userId int) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.users[userId])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.joined)
}

// Subscribe adds c to roomId's fan-out set. It reports false when c was
// already subscribed or is no longer registered.
func (r *Registry) Subscribe(roomId int, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.joined[c]
	if !ok {
		return false
	}
	if _, ok := rooms[roomId]; ok {
		return false
	}

	rooms[roomId] = struct{}{}
	if r.rooms[roomId] == nil {
		r.rooms[roomId] = make(map[*Client]struct{})
	}
	r.rooms[roomId][c] = struct{}{}
	return true
}

func (r *Registry) Unsubscribe(roomId int, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rooms, ok := r.joined[c]; ok {
		delete(rooms, roomId)
	}
	r.removeFromRoomLocked(roomId, c)
}

// UnsubscribeUser removes every connection of userId from roomId.
func (r *Registry) UnsubscribeUser(roomId, userId int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.users[userId] {
		delete(r.joined[c], roomId)
		r.removeFromRoomLocked(roomId, c)
	}
}

// DropRoom removes all subscriptions to roomId.
func (r *Registry) DropRoom(roomId int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.rooms[roomId] {
		delete(r.joined[c], roomId)
	}
	delete(r.rooms, roomId)
}

func (r *Registry) removeFromRoomLocked(roomId int, c *Client) {
	conns, ok := r.rooms[roomId]
	if !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.rooms, roomId)
	}
}

func (r *Registry) IsSubscribed(roomId int, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomId][c]
	return ok
}

func (r *Registry) JoinedRooms(c *Client) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := lo.Keys(r.joined[c])
	slices.Sort(ids)
	return ids
}

func (r *Registry) BroadcastToUser(userId int, msg *ServerMessage) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.users[userId] {
		if c != msg.SkipClient {
			c.queueMessage(msg)
		}
	}
}

func (r *Registry) BroadcastToRoom(roomId int, msg *ServerMessage) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.rooms[roomId] {
		if c != msg.SkipClient {
			c.queueMessage(msg)
		}
	}
}

// Clients returns every registered connection.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.joined)
}
