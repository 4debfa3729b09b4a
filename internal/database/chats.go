package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/types"
)

const chatColumns = "id, type, is_closed, match_id, meta, version, created_at, updated_at"

const (
	getChatQuery = "SELECT " + chatColumns + " FROM chats WHERE id = $1"

	getChatPermissionsQuery = `
		SELECT
			c.id,
			c.type,
			c.is_closed,
			c.version,
			m.user_id IS NOT NULL,
			COALESCE(m.user_role, 0),
			COALESCE(m.has_read_permission, FALSE),
			COALESCE(m.has_write_permission, FALSE)
		FROM chats c
		LEFT JOIN chat_members m ON m.chat_id = c.id AND m.user_id = $2
		WHERE c.id = $1`

	getChatMemberIdsQuery = "SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY user_id"

	getRelatedUserIdsQuery = `
		SELECT DISTINCT other.user_id
		FROM chat_members self
		JOIN chat_members other ON other.chat_id = self.chat_id
		WHERE self.user_id = $1 AND other.user_id <> $1`

	getChatIdBetweenUsersQuery = `
		SELECT c.id
		FROM chats c
		JOIN chat_members a ON a.chat_id = c.id AND a.user_id = $1
		JOIN chat_members b ON b.chat_id = c.id AND b.user_id = $2
		WHERE c.type = 1
		ORDER BY c.id
		LIMIT 1`

	insertChatQuery = "INSERT INTO chats (type, meta, created_at, updated_at) " +
		"VALUES ($1, $2, $3, $3) RETURNING " + chatColumns

	addChatMemberQuery = `
		INSERT INTO chat_members (
			chat_id, user_id, user_role, is_primary_member,
			has_read_permission, has_write_permission, created_at
		) VALUES ($1, $2, $3, $4, TRUE, TRUE, $5)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			has_read_permission = TRUE,
			has_write_permission = TRUE,
			is_archive_member = FALSE`

	setChatClosedQuery = "UPDATE chats SET is_closed = $3, version = version + 1, updated_at = $4 " +
		"WHERE id = $1 AND version = $2 AND type = 1 AND is_closed <> $3 RETURNING " + chatColumns

	closeInactivePersonalChatsQuery = `
		UPDATE chats SET is_closed = TRUE, version = version + 1, updated_at = $2
		WHERE id IN (
			SELECT id FROM chats
			WHERE type = 1 AND NOT is_closed AND updated_at < $1
			ORDER BY updated_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`
)

func scanChat(row interface{ Scan(...any) error }) (Chat, error) {
	var c Chat
	err := row.Scan(
		&c.Id,
		&c.Type,
		&c.IsClosed,
		&c.MatchId,
		&c.Meta,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func (db *PgMessengerRepository) GetChatById(ctx context.Context, chatId int64) (Chat, error) {
	return scanChat(db.conn.QueryRowContext(ctx, getChatQuery, chatId))
}

func (db *PgMessengerRepository) GetChatPermissions(ctx context.Context, chatId, userId int64) (ChatPermissions, error) {
	p := ChatPermissions{UserId: userId}
	err := db.conn.QueryRowContext(ctx, getChatPermissionsQuery, chatId, userId).Scan(
		&p.ChatId,
		&p.ChatType,
		&p.IsClosed,
		&p.Version,
		&p.IsMember,
		&p.Role,
		&p.CanRead,
		&p.CanWrite,
	)
	return p, err
}

func (db *PgMessengerRepository) GetChatMemberIds(ctx context.Context, chatId int64) ([]int64, error) {
	return db.queryIds(ctx, db.conn, getChatMemberIdsQuery, chatId)
}

// GetRelatedUserIds returns every user sharing at least one chat with userId.
func (db *PgMessengerRepository) GetRelatedUserIds(ctx context.Context, userId int64) ([]int64, error) {
	return db.queryIds(ctx, db.conn, getRelatedUserIdsQuery, userId)
}

func (db *PgMessengerRepository) GetChatIdBetweenUsers(ctx context.Context, userId, otherUserId int64) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, getChatIdBetweenUsersQuery, userId, otherUserId).Scan(&id)
	return id, err
}

// GetOrCreatePersonalChat returns the personal chat between the two users,
// creating it with both users as primary members when none exists. The
// boolean reports whether the chat was created.
func (db *PgMessengerRepository) GetOrCreatePersonalChat(ctx context.Context, params PersonalChatParams) (Chat, bool, error) {
	var (
		chat    Chat
		created bool
	)

	lo, hi := params.InitiatorId, params.RecipientId
	if lo > hi {
		lo, hi = hi, lo
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"SELECT pg_advisory_xact_lock(hashtextextended($1, 0))",
			fmt.Sprintf("personal_chat:%d:%d", lo, hi),
		); err != nil {
			return fmt.Errorf("lock personal chat: %w", err)
		}

		var chatId int64
		err := tx.QueryRowContext(ctx, getChatIdBetweenUsersQuery, params.InitiatorId, params.RecipientId).Scan(&chatId)
		switch {
		case err == nil:
			chat, err = scanChat(tx.QueryRowContext(ctx, getChatQuery, chatId))
			return err
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("find personal chat: %w", err)
		}

		now := db.now()
		chat, err = scanChat(tx.QueryRowContext(ctx, insertChatQuery, types.ChatTypePersonal, ChatMeta{}, now))
		if err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}

		for _, m := range []struct {
			userId int64
			role   types.Role
		}{
			{params.InitiatorId, params.InitiatorRole},
			{params.RecipientId, params.RecipientRole},
		} {
			if _, err := tx.ExecContext(ctx, addChatMemberQuery, chat.Id, m.userId, m.role, true, now); err != nil {
				return fmt.Errorf("add member %d: %w", m.userId, err)
			}
		}

		created = true
		return nil
	})

	return chat, created, err
}

func (db *PgMessengerRepository) CloseChat(ctx context.Context, chatId int64, version int) (Chat, error) {
	return db.setChatClosed(ctx, chatId, version, true)
}

func (db *PgMessengerRepository) ReopenChat(ctx context.Context, chatId int64, version int) (Chat, error) {
	return db.setChatClosed(ctx, chatId, version, false)
}

func (db *PgMessengerRepository) setChatClosed(ctx context.Context, chatId int64, version int, closed bool) (Chat, error) {
	chat, err := scanChat(db.conn.QueryRowContext(ctx, setChatClosedQuery, chatId, version, closed, db.now()))
	if !errors.Is(err, sql.ErrNoRows) {
		return chat, err
	}

	// Nothing was updated, find out why.
	current, err := db.GetChatById(ctx, chatId)
	if err != nil {
		return Chat{}, err
	}
	if current.Type != types.ChatTypePersonal {
		return Chat{}, fmt.Errorf("chat %d is %s: %w", chatId, current.Type, errs.ErrNotPermitted)
	}
	return Chat{}, fmt.Errorf("chat %d changed concurrently or is already in that state: %w", chatId, errs.ErrConflict)
}

// CloseInactivePersonalChats closes up to limit open personal chats with no
// activity since before and returns their ids. Rows locked by another closer
// are skipped.
func (db *PgMessengerRepository) CloseInactivePersonalChats(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	return db.queryIds(ctx, db.conn, closeInactivePersonalChatsQuery, before, db.now(), limit)
}

func (db *PgMessengerRepository) queryIds(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
