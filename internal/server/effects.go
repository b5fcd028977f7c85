package server

type effectKind int

const (
	effectToUser effectKind = iota
	effectToRoom
	effectSubscribe
	effectUnsubscribe
	effectUnsubscribeUser
	effectDropRoom
)

// Effect is a side effect requested by a handler. Handlers return effects
// as data and the server applies them after the handler succeeds.
type Effect struct {
	kind   effectKind
	userId int
	roomId int
	client *Client
	msg    *ServerMessage
}

func ToUser(userId int, msg *ServerMessage) Effect {
	return Effect{kind: effectToUser, userId: userId, msg: msg}
}

func ToRoom(roomId int, msg *ServerMessage) Effect {
	return Effect{kind: effectToRoom, roomId: roomId, msg: msg}
}

func Subscribe(roomId int, c *Client) Effect {
	return Effect{kind: effectSubscribe, roomId: roomId, client: c}
}

func Unsubscribe(roomId int, c *Client) Effect {
	return Effect{kind: effectUnsubscribe, roomId: roomId, client: c}
}

func UnsubscribeUser(roomId, userId int) Effect {
	return Effect{kind: effectUnsubscribeUser, roomId: roomId, userId: userId}
}

func DropRoom(roomId int) Effect {
	return Effect{kind: effectDropRoom, roomId: roomId}
}

// Result is what a handler produces on success: a reply for the requester
// and the effects to apply.
type Result struct {
	Event   string
	Reply   any
	Effects []Effect
}

func (r *Result) reply(id int) *ServerMessage {
	event := r.Event
	if event == "" {
		event = EventAck
	}
	msg := NewEvent(event, r.Reply)
	msg.Id = id
	return msg
}

func (r *Result) add(effects ...Effect) {
	r.Effects = append(r.Effects, effects...)
}

func (cs *ChatServer) apply(effects []Effect) {
	for _, e := range effects {
		switch e.kind {
		case effectToUser:
			cs.registry.BroadcastToUser(e.userId, e.msg)
		case effectToRoom:
			cs.registry.BroadcastToRoom(e.roomId, e.msg)
		case effectSubscribe:
			if e.client != nil {
				cs.registry.Subscribe(e.roomId, e.client)
			}
		case effectUnsubscribe:
			if e.client != nil {
				cs.registry.Unsubscribe(e.roomId, e.client)
			}
		case effectUnsubscribeUser:
			cs.registry.UnsubscribeUser(e.roomId, e.userId)
		case effectDropRoom:
			cs.registry.DropRoom(e.roomId)
		}
	}
}
