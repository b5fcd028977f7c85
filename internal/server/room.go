package server

import (
	"context"
	"fmt"
	"log"
	"time"
)

type roomTask struct {
	ctx  context.Context
	run  HandlerFunc
	s    Session
	body []byte
	done chan taskResult
}

type taskResult struct {
	res *Result
	err error
}

// Room is the actor that serializes every mutation of one room. Persisting
// and fanning out happen on its goroutine, so subscribers observe events in
// the order the store assigned them.
type Room struct {
	id int
	cs *ChatServer
	// tasks is only sent to while cs.roomsLock is held.
	tasks chan *roomTask
	log   *log.Logger
	// killTimer unloads the room once it has been idle long enough.
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newRoom(id int, cs *ChatServer) *Room {
	return &Room{
		id:    id,
		cs:    cs,
		tasks: make(chan *roomTask, cs.opts.RoomQueueSize),
		log:   cs.log,
		exit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (r *Room) start() {
	defer close(r.done)

	r.killTimer = time.NewTimer(r.cs.opts.IdleRoomTimeout)
	defer r.killTimer.Stop()

	for {
		select {
		case t := <-r.tasks:
			r.killTimer.Stop()
			r.handleTask(t)
			r.killTimer.Reset(r.cs.opts.IdleRoomTimeout)
		case <-r.killTimer.C:
			if r.handleRoomTimeout() {
				return
			}
		case <-r.exit:
			r.handleRoomExit()
			return
		}
	}
}

func (r *Room) handleTask(t *roomTask) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), r.cs.opts.StoreTimeout)
	defer cancel()

	var result taskResult
	func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Printf("room %d: handler panic: %v", r.id, p)
				result = taskResult{err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		result.res, result.err = t.run(ctx, t.s, t.body)
	}()

	if result.err == nil && result.res != nil {
		r.cs.apply(result.res.Effects)
	}
	t.done <- result
}

// handleRoomTimeout asks the server to unload the room. It reports false
// when work arrived in the meantime and the room has to keep running.
func (r *Room) handleRoomTimeout() bool {
	if !r.cs.unloadRoom(r) {
		r.killTimer.Reset(r.cs.opts.IdleRoomTimeout)
		return false
	}
	r.log.Printf("room %d unloaded after idle timeout", r.id)
	return true
}

// handleRoomExit finishes every task accepted before shutdown so no caller
// is left waiting for a reply.
func (r *Room) handleRoomExit() {
	for {
		select {
		case t := <-r.tasks:
			r.handleTask(t)
		default:
			r.log.Printf("room %d exiting", r.id)
			return
		}
	}
}
