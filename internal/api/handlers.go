package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/npezzotti/go-roomchat/internal/server"
)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type InviteRequest struct {
	InviteeIds []int `json:"invitee_ids"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// dispatch runs event for the requesting user through the same handlers the
// websocket router uses and writes the reply.
func (s *GoChatApp) dispatch(w http.ResponseWriter, r *http.Request, status int, event string, payload map[string]any) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	res, err := s.cs.Dispatch(r.Context(), server.Session{User: user}, event, raw)
	if err != nil {
		errResp := NewChatError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, status, res.Reply)
}

func pathRoomId(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	return id, err == nil && id > 0
}

func queryInt(r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil && n >= 0
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.dispatch(w, r, http.StatusCreated, server.EventRoomCreate, map[string]any{"name": req.Name})
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, http.StatusOK, server.EventRoomsFetch, nil)
}

func (s *GoChatApp) inviteUsers(w http.ResponseWriter, r *http.Request) {
	roomId, ok := pathRoomId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.dispatch(w, r, http.StatusOK, server.EventRoomInvite, map[string]any{
		"room_id":     roomId,
		"invitee_ids": req.InviteeIds,
	})
}

func (s *GoChatApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	roomId, ok := pathRoomId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.dispatch(w, r, http.StatusOK, server.EventRoomLeave, map[string]any{
		"room_id":     roomId,
		"unsubscribe": true,
	})
}

func (s *GoChatApp) listMembers(w http.ResponseWriter, r *http.Request) {
	roomId, ok := pathRoomId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.dispatch(w, r, http.StatusOK, server.EventRoomMembers, map[string]any{"room_id": roomId})
}

// getMessages pages backwards with before, or forwards with after.
func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	roomId, ok := pathRoomId(r)
	if !ok {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	before, okBefore := queryInt(r, "before")
	after, okAfter := queryInt(r, "after")
	limit, okLimit := queryInt(r, "limit")
	if !okBefore || !okAfter || !okLimit || (before > 0 && after > 0) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if after > 0 {
		s.dispatch(w, r, http.StatusOK, server.EventGetNewer, map[string]any{
			"room_id":      roomId,
			"after_msg_id": after,
			"limit":        limit,
		})
		return
	}

	s.dispatch(w, r, http.StatusOK, server.EventGetHistory, map[string]any{
		"room_id":       roomId,
		"before_msg_id": before,
		"limit":         limit,
	})
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log)

	if err := s.cs.RegisterClient(client); err != nil {
		s.log.Println("register connection:", err)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		conn.Close()
		return
	}
	go client.Write()
	go client.Read()
}
