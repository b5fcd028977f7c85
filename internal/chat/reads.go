package chat

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/types"
)

type ReadTracker struct {
	repo database.ChatRepository
}

func NewReadTracker(repo database.ChatRepository) *ReadTracker {
	return &ReadTracker{repo: repo}
}

// MarkRead advances userId's read watermark in roomId to ts. It reports
// whether stored state changed; an older or equal ts is a no-op.
func (r *ReadTracker) MarkRead(ctx context.Context, userId, roomId int, ts time.Time) (bool, error) {
	if ts.IsZero() {
		return false, validationError("last_read_timestamp is required")
	}
	if err := requireMember(ctx, r.repo, roomId, userId); err != nil {
		return false, err
	}

	changed, err := r.repo.UpsertReadStatus(ctx, userId, roomId, ts.UTC())
	if err != nil {
		return false, storeError("mark read", err)
	}
	return changed, nil
}

// ReadCounts returns how many members have read each message. Every count
// lies in [0, members].
func (r *ReadTracker) ReadCounts(ctx context.Context, roomId int, msgIds []int) (map[int]int, error) {
	members, err := r.repo.CountMembers(ctx, roomId)
	if err != nil {
		return nil, storeError("count members", err)
	}
	return r.readCounts(ctx, roomId, msgIds, members)
}

func (r *ReadTracker) readCounts(ctx context.Context, roomId int, msgIds []int, members int) (map[int]int, error) {
	counts, err := r.repo.ReadCounts(ctx, roomId, msgIds)
	if err != nil {
		return nil, storeError("read counts", err)
	}
	for id, n := range counts {
		counts[id] = clamp(n, 0, members)
	}
	return counts, nil
}

// UnreadCountPerMessage is members minus readers, never below zero.
func UnreadCountPerMessage(members, readCount int) int {
	return clamp(members-readCount, 0, max(members, 0))
}

func (r *ReadTracker) MemberReadStatus(ctx context.Context, roomId int) (map[int]time.Time, error) {
	statuses, err := r.repo.ReadStatuses(ctx, roomId)
	if err != nil {
		return nil, storeError("member read status", err)
	}
	return statuses, nil
}

// Annotate sets UnreadCount on every message of a page from exact read
// counts and returns the member count it used.
func (r *ReadTracker) Annotate(ctx context.Context, roomId int, msgs []types.Message) (int, error) {
	members, err := r.repo.CountMembers(ctx, roomId)
	if err != nil {
		return 0, storeError("count members", err)
	}
	if len(msgs) == 0 {
		return members, nil
	}

	ids := lo.Map(msgs, func(m types.Message, _ int) int { return m.Id })
	counts, err := r.readCounts(ctx, roomId, ids, members)
	if err != nil {
		return members, err
	}

	for i := range msgs {
		msgs[i].UnreadCount = UnreadCountPerMessage(members, counts[msgs[i].Id])
	}
	return members, nil
}

// FirstUnread returns the id of the first message after since that userId
// did not send, or 0.
func (r *ReadTracker) FirstUnread(ctx context.Context, roomId, userId int, since time.Time) (int, error) {
	id, err := r.repo.FirstUnreadMessageId(ctx, roomId, userId, since)
	if err != nil {
		return 0, storeError("first unread", err)
	}
	return id, nil
}

func clamp(n, low, high int) int {
	return min(max(n, low), high)
}
