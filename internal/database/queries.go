package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/npezzotti/go-roomchat/internal/types"
)

const (
	roomColumns    = "r.id, r.external_id, r.name, r.type, r.created_at"
	messageColumns = "m.id, m.room_id, m.sender_id, m.nickname, m.type, m.content, m.file_ref, m.file_name, m.sent_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (types.Room, error) {
	var r types.Room
	err := row.Scan(&r.Id, &r.ExternalId, &r.Name, &r.Type, &r.CreatedAt)
	return r, err
}

func scanMessage(row rowScanner) (types.Message, error) {
	var m types.Message
	err := row.Scan(
		&m.Id,
		&m.RoomId,
		&m.SenderId,
		&m.Nickname,
		&m.Type,
		&m.Content,
		&m.FileRef,
		&m.FileName,
		&m.SentAt,
	)
	return m, err
}

func (db *PgChatRepository) queryMessages(ctx context.Context, query string, args ...any) ([]types.Message, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []types.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

func (db *PgChatRepository) UserExists(ctx context.Context, userId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)",
		userId,
	).Scan(&exists)

	return exists, err
}

func (db *PgChatRepository) GetUser(ctx context.Context, userId int) (types.User, error) {
	var u types.User
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, username, nickname FROM users WHERE id = $1 LIMIT 1",
		userId,
	).Scan(&u.Id, &u.Username, &u.Nickname)
	if err != nil {
		return u, notFound(err)
	}

	return u, nil
}

func (db *PgChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	var room types.Room

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return room, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	room, err = scanRoom(tx.QueryRowContext(ctx,
		"INSERT INTO rooms AS r (external_id, name, type) VALUES ($1, $2, $3) "+
			"RETURNING "+roomColumns,
		params.ExternalId,
		params.Name,
		params.Type,
	))
	if err != nil {
		return room, fmt.Errorf("insert room: %w", err)
	}

	for _, userId := range params.MemberIds {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			room.Id,
			userId,
		); err != nil {
			return room, fmt.Errorf("insert member %d: %w", userId, notFound(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return room, fmt.Errorf("commit transaction: %w", err)
	}

	return room, nil
}

func (db *PgChatRepository) GetRoom(ctx context.Context, roomId int) (types.Room, error) {
	room, err := scanRoom(db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms r WHERE r.id = $1 LIMIT 1",
		roomId,
	))
	if err != nil {
		return room, notFound(err)
	}

	return room, nil
}

func (db *PgChatRepository) DeleteRoom(ctx context.Context, roomId int) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM rooms WHERE id = $1", roomId)
	return err
}

func (db *PgChatRepository) FindDirectRoom(ctx context.Context, userA, userB int) (types.Room, error) {
	room, err := scanRoom(db.conn.QueryRowContext(ctx, `
		SELECT `+roomColumns+`
		FROM rooms r
		WHERE r.type = 'DIRECT'
			AND EXISTS (SELECT 1 FROM room_members WHERE room_id = r.id AND user_id = $1)
			AND EXISTS (SELECT 1 FROM room_members WHERE room_id = r.id AND user_id = $2)
			AND (SELECT COUNT(*) FROM room_members WHERE room_id = r.id) = 2
		ORDER BY r.id
		LIMIT 1`,
		userA,
		userB,
	))
	if err != nil {
		return room, notFound(err)
	}

	return room, nil
}

func (db *PgChatRepository) ListRoomsForUser(ctx context.Context, userId int) ([]types.RoomSummary, error) {
	query := `
		SELECT
			r.id,
			r.external_id,
			r.name,
			r.type,
			r.created_at,
			COALESCE(CASE WHEN lm.type = 'FILE' THEN '(file)' ELSE lm.content END, '') AS last_message,
			COALESCE(lm.sent_at, r.created_at) AS last_message_at,
			(
				SELECT COUNT(*) FROM messages m
				WHERE m.room_id = r.id
					AND m.sender_id <> $1
					AND m.sent_at > COALESCE(rs.last_read_at, 'epoch'::timestamptz)
			) AS unread_count,
			(SELECT COUNT(*) FROM room_members mc WHERE mc.room_id = r.id) AS member_count
		FROM room_members rm
		JOIN rooms r ON r.id = rm.room_id
		LEFT JOIN read_statuses rs ON rs.room_id = rm.room_id AND rs.user_id = rm.user_id
		LEFT JOIN LATERAL (
			SELECT type, content, sent_at FROM messages
			WHERE room_id = r.id
			ORDER BY id DESC
			LIMIT 1
		) lm ON TRUE
		WHERE rm.user_id = $1
		ORDER BY last_message_at DESC, r.id DESC`

	rows, err := db.conn.QueryContext(ctx, query, userId)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	rooms := []types.RoomSummary{}
	for rows.Next() {
		var s types.RoomSummary
		if err := rows.Scan(
			&s.Id,
			&s.ExternalId,
			&s.Name,
			&s.Type,
			&s.CreatedAt,
			&s.LastMessage,
			&s.LastMessageAt,
			&s.UnreadCount,
			&s.MemberCount,
		); err != nil {
			return nil, err
		}
		rooms = append(rooms, s)
	}

	return rooms, rows.Err()
}

func (db *PgChatRepository) AddMember(ctx context.Context, roomId, userId int) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)",
		roomId,
		userId,
	)
	switch pgCode(err) {
	case "":
		return err
	case pgUniqueViolation:
		return ErrAlreadyMember
	case pgForeignKeyViolation:
		return ErrNotFound
	default:
		return err
	}
}

// RemoveMember deletes the membership row along with the user's read status
// and any notice they pinned in the room.
func (db *PgChatRepository) RemoveMember(ctx context.Context, roomId, userId int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM room_members WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
	)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM read_statuses WHERE room_id = $1 AND user_id = $2",
		roomId,
		userId,
	); err != nil {
		return fmt.Errorf("delete read status: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE room_notices SET is_active = FALSE WHERE room_id = $1 AND created_by = $2 AND is_active",
		roomId,
		userId,
	); err != nil {
		return fmt.Errorf("deactivate notices: %w", err)
	}

	return tx.Commit()
}

func (db *PgChatRepository) IsMember(ctx context.Context, roomId, userId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)",
		roomId,
		userId,
	).Scan(&exists)

	return exists, err
}

func (db *PgChatRepository) CountMembers(ctx context.Context, roomId int) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM room_members WHERE room_id = $1",
		roomId,
	).Scan(&n)

	return n, err
}

func (db *PgChatRepository) ListMembers(ctx context.Context, roomId int) ([]types.Member, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT rm.room_id, rm.user_id, u.nickname, rm.joined_at
		FROM room_members rm
		JOIN users u ON u.id = rm.user_id
		WHERE rm.room_id = $1
		ORDER BY rm.joined_at, rm.user_id`,
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []types.Member{}
	for rows.Next() {
		var m types.Member
		if err := rows.Scan(&m.RoomId, &m.UserId, &m.Nickname, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

func (db *PgChatRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (types.Message, error) {
	msg, err := scanMessage(db.conn.QueryRowContext(ctx,
		"INSERT INTO messages AS m (room_id, sender_id, nickname, type, content, file_ref, file_name) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+messageColumns,
		params.RoomId,
		params.SenderId,
		params.Nickname,
		params.Type,
		params.Content,
		params.FileRef,
		params.FileName,
	))
	if err != nil {
		return msg, notFound(err)
	}

	return msg, nil
}

func (db *PgChatRepository) GetMessage(ctx context.Context, msgId int) (types.Message, error) {
	msg, err := scanMessage(db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m WHERE m.id = $1",
		msgId,
	))
	if err != nil {
		return msg, notFound(err)
	}

	return msg, nil
}

// History returns up to limit messages strictly older than beforeMsgId
// (or the newest ones when beforeMsgId is 0), oldest first.
func (db *PgChatRepository) History(ctx context.Context, roomId, beforeMsgId, limit int) ([]types.Message, error) {
	return db.queryMessages(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+`
			FROM messages m
			WHERE m.room_id = $1 AND ($2::bigint <= 0 OR m.id < $2::bigint)
			ORDER BY m.id DESC
			LIMIT $3
		) page
		ORDER BY page.sent_at ASC, page.id ASC`,
		roomId,
		beforeMsgId,
		clampLimit(limit),
	)
}

func (db *PgChatRepository) NewerMessages(ctx context.Context, roomId, afterMsgId, limit int) ([]types.Message, error) {
	return db.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.room_id = $1 AND m.id > $2
		ORDER BY m.id ASC
		LIMIT $3`,
		roomId,
		afterMsgId,
		clampLimit(limit),
	)
}

// MessagesAround returns the target message with up to radius messages on
// each side of it.
func (db *PgChatRepository) MessagesAround(ctx context.Context, roomId, msgId, radius int) ([]types.Message, error) {
	return db.queryMessages(ctx, `
		SELECT * FROM (
			(SELECT `+messageColumns+` FROM messages m
				WHERE m.room_id = $1 AND m.id < $2 ORDER BY m.id DESC LIMIT $3)
			UNION ALL
			(SELECT `+messageColumns+` FROM messages m
				WHERE m.room_id = $1 AND m.id >= $2 ORDER BY m.id ASC LIMIT $3 + 1)
		) around
		ORDER BY around.id ASC`,
		roomId,
		msgId,
		clampLimit(radius),
	)
}

func (db *PgChatRepository) SearchMessages(ctx context.Context, roomId int, keyword string, limit int) ([]types.Message, error) {
	pattern := "%" + escapeLike(keyword) + "%"
	return db.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.room_id = $1 AND m.type <> 'SYSTEM'
			AND (m.content ILIKE $2 OR m.file_name ILIKE $2)
		ORDER BY m.id DESC
		LIMIT $3`,
		roomId,
		pattern,
		clampLimit(limit),
	)
}

func (db *PgChatRepository) ListFiles(ctx context.Context, roomId int) ([]types.Message, error) {
	return db.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.room_id = $1 AND m.type = 'FILE'
		ORDER BY m.id DESC`,
		roomId,
	)
}

func (db *PgChatRepository) UpdateMessageContent(ctx context.Context, roomId, msgId, senderId int, content string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET content = $4 WHERE id = $1 AND room_id = $2 AND sender_id = $3 AND type = 'TEXT'",
		msgId,
		roomId,
		senderId,
		content,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgChatRepository) DeleteMessage(ctx context.Context, roomId, msgId, senderId int) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM messages WHERE id = $1 AND room_id = $2 AND sender_id = $3",
		msgId,
		roomId,
		senderId,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// UpsertReadStatus only ever moves the watermark forward.
func (db *PgChatRepository) UpsertReadStatus(ctx context.Context, userId, roomId int, ts time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO read_statuses AS rs (user_id, room_id, last_read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, room_id) DO UPDATE
			SET last_read_at = EXCLUDED.last_read_at
			WHERE rs.last_read_at < EXCLUDED.last_read_at`,
		userId,
		roomId,
		ts.UTC(),
	)
	if err != nil {
		return false, notFound(err)
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *PgChatRepository) ReadStatuses(ctx context.Context, roomId int) (map[int]time.Time, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT rs.user_id, rs.last_read_at
		FROM read_statuses rs
		JOIN room_members rm ON rm.room_id = rs.room_id AND rm.user_id = rs.user_id
		WHERE rs.room_id = $1`,
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make(map[int]time.Time)
	for rows.Next() {
		var (
			userId int
			ts     time.Time
		)
		if err := rows.Scan(&userId, &ts); err != nil {
			return nil, err
		}
		statuses[userId] = ts
	}

	return statuses, rows.Err()
}

// ReadCounts returns, per message id, how many current members have read it.
// A member who sent the message has read it; anyone else needs a read
// watermark at or after the message's sent_at.
func (db *PgChatRepository) ReadCounts(ctx context.Context, roomId int, msgIds []int) (map[int]int, error) {
	counts := make(map[int]int, len(msgIds))
	if len(msgIds) == 0 {
		return counts, nil
	}

	ids := make([]int64, len(msgIds))
	for i, id := range msgIds {
		ids[i] = int64(id)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT m.id, COUNT(DISTINCT rm.user_id) FILTER (
			WHERE rm.user_id = m.sender_id OR rs.user_id IS NOT NULL
		)
		FROM messages m
		LEFT JOIN room_members rm ON rm.room_id = m.room_id
		LEFT JOIN read_statuses rs
			ON rs.room_id = m.room_id AND rs.user_id = rm.user_id AND rs.last_read_at >= m.sent_at
		WHERE m.room_id = $1 AND m.id = ANY($2)
		GROUP BY m.id`,
		roomId,
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}

	return counts, rows.Err()
}

// FirstUnreadMessageId returns 0 when nothing from other users arrived after since.
func (db *PgChatRepository) FirstUnreadMessageId(ctx context.Context, roomId, userId int, since time.Time) (int, error) {
	var id int
	err := db.conn.QueryRowContext(ctx, `
		SELECT id FROM messages
		WHERE room_id = $1 AND sender_id <> $2 AND sent_at > $3
		ORDER BY id ASC
		LIMIT 1`,
		roomId,
		userId,
		since.UTC(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return id, err
}

func (db *PgChatRepository) SetNotice(ctx context.Context, params SetNoticeParams) (types.Notice, error) {
	var n types.Notice

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return n, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE room_notices SET is_active = FALSE WHERE room_id = $1 AND is_active",
		params.RoomId,
	); err != nil {
		return n, fmt.Errorf("deactivate notice: %w", err)
	}

	var msgId sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO room_notices (room_id, msg_id, content, created_by)
		VALUES ($1, NULLIF($2, 0), $3, $4)
		RETURNING id, room_id, msg_id, content, created_by, created_at,
			(SELECT nickname FROM users WHERE id = $4)`,
		params.RoomId,
		params.MsgId,
		params.Content,
		params.CreatedBy,
	).Scan(&n.Id, &n.RoomId, &msgId, &n.Content, &n.CreatedBy, &n.CreatedAt, &n.CreatedByNickname)
	if err != nil {
		return n, fmt.Errorf("insert notice: %w", notFound(err))
	}
	n.MsgId = int(msgId.Int64)

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("commit transaction: %w", err)
	}

	return n, nil
}

// ActiveNotice returns nil when the room has no active notice.
func (db *PgChatRepository) ActiveNotice(ctx context.Context, roomId int) (*types.Notice, error) {
	var (
		n     types.Notice
		msgId sql.NullInt64
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT n.id, n.room_id, n.msg_id, n.content, n.created_by, n.created_at, COALESCE(u.nickname, '')
		FROM room_notices n
		LEFT JOIN users u ON u.id = n.created_by
		WHERE n.room_id = $1 AND n.is_active
		LIMIT 1`,
		roomId,
	).Scan(&n.Id, &n.RoomId, &msgId, &n.Content, &n.CreatedBy, &n.CreatedAt, &n.CreatedByNickname)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n.MsgId = int(msgId.Int64)

	return &n, nil
}

func (db *PgChatRepository) ClearNotice(ctx context.Context, roomId int) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE room_notices SET is_active = FALSE WHERE room_id = $1 AND is_active",
		roomId,
	)
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
