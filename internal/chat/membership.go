package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/teris-io/shortid"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const maxInvitees = 50

type RoomManager struct {
	repo database.ChatRepository
	log  *log.Logger

	// directMu serializes find-or-create of DIRECT rooms.
	directMu sync.Mutex
}

func NewRoomManager(repo database.ChatRepository, logger *log.Logger) *RoomManager {
	return &RoomManager{repo: repo, log: logger}
}

type CreateRoomParams struct {
	Name      string `json:"name" validate:"required,max=100"`
	CreatorId int    `json:"creator_id" validate:"required,gt=0"`
}

// CreateRoom inserts a GROUP room with the creator as its only member.
func (m *RoomManager) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	params.Name = strings.TrimSpace(params.Name)
	if err := validateParams(params); err != nil {
		return types.Room{}, err
	}

	return m.create(ctx, params.Name, types.RoomTypeGroup, []int{params.CreatorId})
}

func (m *RoomManager) create(ctx context.Context, name string, roomType types.RoomType, memberIds []int) (types.Room, error) {
	externalId, err := shortid.Generate()
	if err != nil {
		return types.Room{}, persistenceError("generate room id", err)
	}

	room, err := m.repo.CreateRoom(ctx, database.CreateRoomParams{
		Name:       name,
		ExternalId: externalId,
		Type:       roomType,
		MemberIds:  memberIds,
	})
	if err != nil {
		return types.Room{}, storeError("create room", err)
	}

	m.log.Printf("created %s room %d (%s) with members %v", roomType, room.Id, externalId, memberIds)
	return room, nil
}

// CreateDirectRoom returns the existing DIRECT room between the two users or
// creates one. created reports whether a new room was made.
func (m *RoomManager) CreateDirectRoom(ctx context.Context, userId, targetId int, name string) (room types.Room, created bool, err error) {
	if targetId <= 0 {
		return room, false, validationError("target_id is required")
	}
	if targetId == userId {
		return room, false, validationError("cannot open a direct room with yourself")
	}

	target, err := m.repo.GetUser(ctx, targetId)
	if err != nil {
		return room, false, storeError("target user", err)
	}

	m.directMu.Lock()
	defer m.directMu.Unlock()

	room, err = m.repo.FindDirectRoom(ctx, userId, targetId)
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return room, false, storeError("find direct room", err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = target.Nickname
	}

	room, err = m.create(ctx, name, types.RoomTypeDirect, []int{userId, targetId})
	return room, err == nil, err
}

func (m *RoomManager) ListRoomsForUser(ctx context.Context, userId int) ([]types.RoomSummary, error) {
	rooms, err := m.repo.ListRoomsForUser(ctx, userId)
	if err != nil {
		return nil, storeError("list rooms", err)
	}
	return rooms, nil
}

type InviteFailure struct {
	UserId int    `json:"user_id"`
	Code   Kind   `json:"code"`
	Reason string `json:"reason"`
}

type InviteResult struct {
	Added         []int           `json:"added"`
	Failed        []InviteFailure `json:"failed"`
	SystemMessage *types.Message  `json:"system_message,omitempty"`
	MemberCount   int             `json:"member_count"`
}

// InviteUsers adds each invitee independently. A failure for one id is
// recorded in the result and never aborts the rest of the batch.
func (m *RoomManager) InviteUsers(ctx context.Context, roomId int, inviteeIds []int, inviter types.User) (InviteResult, error) {
	result := InviteResult{Added: []int{}, Failed: []InviteFailure{}}

	inviteeIds = lo.Uniq(lo.Filter(inviteeIds, func(id int, _ int) bool { return id > 0 }))
	if len(inviteeIds) == 0 {
		return result, validationError("invitee_ids is required")
	}
	if len(inviteeIds) > maxInvitees {
		return result, validationError(fmt.Sprintf("at most %d invitees per request", maxInvitees))
	}

	if err := requireMember(ctx, m.repo, roomId, inviter.Id); err != nil {
		return result, err
	}

	var names []string
	for _, id := range inviteeIds {
		invitee, err := m.inviteOne(ctx, roomId, id)
		if err != nil {
			result.Failed = append(result.Failed, InviteFailure{
				UserId: id,
				Code:   KindOf(err),
				Reason: PublicMessage(err),
			})
			continue
		}
		result.Added = append(result.Added, id)
		names = append(names, invitee.Nickname)
	}

	if len(result.Added) == 0 {
		return result, nil
	}

	text := fmt.Sprintf("%s invited %s", inviter.Nickname, strings.Join(names, ", "))
	sys, err := appendSystem(ctx, m.repo, roomId, inviter, text)
	if err != nil {
		// Memberships are already committed; report the batch without the notice.
		m.log.Printf("invite system message for room %d: %v", roomId, err)
	}
	result.SystemMessage = sys

	if result.MemberCount, err = m.repo.CountMembers(ctx, roomId); err != nil {
		m.log.Printf("count members for room %d: %v", roomId, err)
	}

	return result, nil
}

func (m *RoomManager) inviteOne(ctx context.Context, roomId, userId int) (types.User, error) {
	invitee, err := m.repo.GetUser(ctx, userId)
	if err != nil {
		return invitee, storeError("user", err)
	}

	ok, err := m.repo.IsMember(ctx, roomId, userId)
	if err != nil {
		return invitee, storeError("membership lookup", err)
	}
	if ok {
		return invitee, conflictError("user is already a member")
	}

	if err := m.repo.AddMember(ctx, roomId, userId); err != nil {
		return invitee, storeError("add member", err)
	}

	return invitee, nil
}

type LeaveResult struct {
	RoomId        int            `json:"room_id"`
	RoomDeleted   bool           `json:"room_deleted"`
	MemberCount   int            `json:"member_count"`
	SystemMessage *types.Message `json:"system_message,omitempty"`
}

// LeaveRoom removes the durable membership of user in roomId.
func (m *RoomManager) LeaveRoom(ctx context.Context, roomId int, user types.User) (LeaveResult, error) {
	if roomId <= 0 {
		return LeaveResult{}, validationError("room_id is required")
	}

	if err := m.repo.RemoveMember(ctx, roomId, user.Id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return LeaveResult{}, notFoundError("not a member of this room")
		}
		return LeaveResult{}, storeError("leave room", err)
	}

	return m.afterLeave(ctx, roomId, user, fmt.Sprintf("%s left the room", user.Nickname))
}

// afterLeave runs once a membership row is gone. It is the only place that
// deletes a room for having no members left.
func (m *RoomManager) afterLeave(ctx context.Context, roomId int, actor types.User, text string) (LeaveResult, error) {
	result := LeaveResult{RoomId: roomId}

	count, err := m.repo.CountMembers(ctx, roomId)
	if err != nil {
		return result, storeError("count members", err)
	}
	result.MemberCount = count

	if count == 0 {
		if err := m.repo.DeleteRoom(ctx, roomId); err != nil {
			return result, storeError("delete empty room", err)
		}
		m.log.Printf("deleted room %d after last member left", roomId)
		result.RoomDeleted = true
		return result, nil
	}

	result.SystemMessage, err = appendSystem(ctx, m.repo, roomId, actor, text)
	if err != nil {
		return result, err
	}

	return result, nil
}

func (m *RoomManager) Members(ctx context.Context, roomId, requesterId int) ([]types.Member, error) {
	if err := requireMember(ctx, m.repo, roomId, requesterId); err != nil {
		return nil, err
	}

	members, err := m.repo.ListMembers(ctx, roomId)
	if err != nil {
		return nil, storeError("list members", err)
	}
	return members, nil
}

func (m *RoomManager) MemberCount(ctx context.Context, roomId int) (int, error) {
	n, err := m.repo.CountMembers(ctx, roomId)
	if err != nil {
		return 0, storeError("count members", err)
	}
	return n, nil
}

// MemberIds lists the user ids of every member of roomId.
func (m *RoomManager) MemberIds(ctx context.Context, roomId int) ([]int, error) {
	members, err := m.repo.ListMembers(ctx, roomId)
	if err != nil {
		return nil, storeError("list members", err)
	}
	return lo.Map(members, func(mem types.Member, _ int) int { return mem.UserId }), nil
}

// User looks up a user by id. A store outage is a persistence error, not
// NotFound.
func (m *RoomManager) User(ctx context.Context, userId int) (types.User, error) {
	user, err := m.repo.GetUser(ctx, userId)
	if err != nil {
		return types.User{}, storeError("user", err)
	}
	return user, nil
}

func (m *RoomManager) Get(ctx context.Context, roomId int) (types.Room, error) {
	room, err := m.repo.GetRoom(ctx, roomId)
	if err != nil {
		return room, storeError("room", err)
	}
	return room, nil
}

func (m *RoomManager) RequireMember(ctx context.Context, roomId, userId int) error {
	return requireMember(ctx, m.repo, roomId, userId)
}
