package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/types"
)

// ErrChatNotWritable is returned when a user message hits a closed chat or
// a sender without write permission.
var ErrChatNotWritable = fmt.Errorf("chat is closed or not writable: %w", errs.ErrNotPermitted)

const messageColumns = "id, chat_id, sender_id, content, delivery_status, reply_to, created_at, updated_at, deleted_at"

const (
	// The chat's updated_at feeds the inactivity autoclose. A user message
	// is only inserted while the chat is open and the sender may write;
	// system messages ($2 NULL) are always accepted. The chat row is share
	// locked so a concurrent close waits for the insert or wins outright.
	createMessageQuery = `
		WITH allowed AS (
			SELECT c.id FROM chats c
			WHERE c.id = $1 AND ($2::bigint IS NULL OR (
				NOT c.is_closed AND EXISTS (
					SELECT 1 FROM chat_members m
					WHERE m.chat_id = c.id AND m.user_id = $2 AND m.has_write_permission
				)
			))
			FOR SHARE
		), touched AS (
			UPDATE chats SET updated_at = $6 WHERE id IN (SELECT id FROM allowed)
		)
		INSERT INTO messages (chat_id, sender_id, content, delivery_status, reply_to, created_at)
		SELECT id, $2::bigint, $3::jsonb, $4::smallint, $5::bigint, $6::timestamptz FROM allowed
		RETURNING ` + messageColumns

	getMessageQuery = "SELECT " + messageColumns + " FROM messages WHERE id = $1"

	getMessagesQuery = `
		SELECT m.id, m.chat_id, m.sender_id, m.content, m.delivery_status, m.reply_to,
			m.created_at, m.updated_at, m.deleted_at
		FROM messages m
		JOIN chat_members cm ON cm.chat_id = m.chat_id AND cm.user_id = $2
		WHERE m.chat_id = $1
			AND m.id >= cm.first_available_message_id
			AND (cm.last_available_message_id IS NULL OR m.id <= cm.last_available_message_id)
			AND ($3::bigint = 0 OR m.id < $3)
		ORDER BY m.id DESC
		LIMIT $4`

	updateMessageContentQuery = "UPDATE messages SET content = $3, updated_at = $4 " +
		"WHERE id = $1 AND sender_id = $2 AND deleted_at IS NULL RETURNING " + messageColumns

	softDeleteMessageQuery = "UPDATE messages SET deleted_at = $3 " +
		"WHERE id = $1 AND sender_id = $2 AND deleted_at IS NULL RETURNING " + messageColumns

	markReadQuery = `
		UPDATE chat_members SET
			last_read_message_id = $3,
			last_received_message_id = GREATEST(last_received_message_id, $3)
		WHERE chat_id = $1 AND user_id = $2
			AND last_read_message_id < $3
			AND EXISTS (SELECT 1 FROM messages WHERE id = $3 AND chat_id = $1)`

	markReceivedQuery = `
		UPDATE chat_members SET last_received_message_id = $3
		WHERE chat_id = $1 AND user_id = $2
			AND last_received_message_id < $3
			AND EXISTS (SELECT 1 FROM messages WHERE id = $3 AND chat_id = $1)`

	countUnreadByChatQuery = `
		SELECT cm.chat_id, COUNT(m.id)
		FROM chat_members cm
		JOIN messages m ON m.chat_id = cm.chat_id AND m.id > cm.last_read_message_id
		WHERE cm.user_id = $1
			AND cm.has_read_permission
			AND m.deleted_at IS NULL
			AND (m.sender_id IS NULL OR m.sender_id <> $1)
			AND (cardinality($2::bigint[]) = 0 OR cm.chat_id = ANY($2))
		GROUP BY cm.chat_id`

	countUnreadByChatTypeQuery = `
		SELECT c.type, COUNT(m.id)
		FROM chat_members cm
		JOIN chats c ON c.id = cm.chat_id
		JOIN messages m ON m.chat_id = cm.chat_id AND m.id > cm.last_read_message_id
		WHERE cm.user_id = $1
			AND cm.has_read_permission
			AND m.deleted_at IS NULL
			AND (m.sender_id IS NULL OR m.sender_id <> $1)
		GROUP BY c.type`
)

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.ChatId,
		&m.SenderId,
		&m.Content,
		&m.DeliveryStatus,
		&m.ReplyTo,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.DeletedAt,
	)
	return m, err
}

// CreateMessage stores the message. Ids come from a sequence and grow
// strictly within a chat.
func (db *PgMessengerRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	status := params.DeliveryStatus
	if status == 0 {
		status = types.DeliveryStatusSent
	}

	m, err := scanMessage(db.conn.QueryRowContext(ctx, createMessageQuery,
		params.ChatId,
		params.SenderId,
		params.Content,
		status,
		params.ReplyTo,
		db.now(),
	))
	if errors.Is(err, sql.ErrNoRows) && params.SenderId != nil {
		return Message{}, fmt.Errorf("chat %d, sender %d: %w", params.ChatId, *params.SenderId, ErrChatNotWritable)
	}
	return m, err
}

func (db *PgMessengerRepository) GetMessageById(ctx context.Context, messageId int64) (Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx, getMessageQuery, messageId))
}

// GetMessages returns up to limit messages older than before (0 for the
// newest), newest first, limited to the range the user may see.
func (db *PgMessengerRepository) GetMessages(ctx context.Context, chatId, userId, before int64, limit int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx, getMessagesQuery, chatId, userId, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (db *PgMessengerRepository) UpdateMessageContent(ctx context.Context, messageId, senderId int64, content types.MessageContent) (Message, error) {
	m, err := scanMessage(db.conn.QueryRowContext(ctx, updateMessageContentQuery, messageId, senderId, content, db.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, db.explainMessageMiss(ctx, messageId, senderId)
	}
	return m, err
}

func (db *PgMessengerRepository) SoftDeleteMessage(ctx context.Context, messageId, senderId int64) (Message, error) {
	m, err := scanMessage(db.conn.QueryRowContext(ctx, softDeleteMessageQuery, messageId, senderId, db.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, db.explainMessageMiss(ctx, messageId, senderId)
	}
	return m, err
}

// explainMessageMiss tells a missing or deleted message apart from one
// owned by someone else.
func (db *PgMessengerRepository) explainMessageMiss(ctx context.Context, messageId, senderId int64) error {
	m, err := db.GetMessageById(ctx, messageId)
	if err != nil {
		return err
	}
	if m.DeletedAt.Valid {
		return sql.ErrNoRows
	}
	if !m.SenderId.Valid || m.SenderId.Int64 != senderId {
		return fmt.Errorf("message %d belongs to another user: %w", messageId, errs.ErrNotPermitted)
	}
	return sql.ErrNoRows
}

// MarkRead moves the read cursor forward. It reports false when the cursor
// was already at or past messageId, or the message is not in the chat.
func (db *PgMessengerRepository) MarkRead(ctx context.Context, chatId, userId, messageId int64) (bool, error) {
	return db.advanceCursor(ctx, markReadQuery, chatId, userId, messageId)
}

func (db *PgMessengerRepository) MarkReceived(ctx context.Context, chatId, userId, messageId int64) (bool, error) {
	return db.advanceCursor(ctx, markReceivedQuery, chatId, userId, messageId)
}

func (db *PgMessengerRepository) advanceCursor(ctx context.Context, query string, chatId, userId, messageId int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, query, chatId, userId, messageId)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountUnreadByChat returns the unread count per chat for the user, only
// for chatIds when given. Chats with nothing unread are omitted.
func (db *PgMessengerRepository) CountUnreadByChat(ctx context.Context, userId int64, chatIds ...int64) (map[int64]int64, error) {
	if chatIds == nil {
		chatIds = []int64{}
	}

	rows, err := db.conn.QueryContext(ctx, countUnreadByChatQuery, userId, pq.Array(chatIds))
	if err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var chatId, count int64
		if err := rows.Scan(&chatId, &count); err != nil {
			return nil, err
		}
		counts[chatId] = count
	}

	return counts, rows.Err()
}

// CountUnreadByChatType sums the user's unread messages per chat type.
// Types with nothing unread are omitted.
func (db *PgMessengerRepository) CountUnreadByChatType(ctx context.Context, userId int64) (map[types.ChatType]int64, error) {
	rows, err := db.conn.QueryContext(ctx, countUnreadByChatTypeQuery, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread messages by chat type: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.ChatType]int64)
	for rows.Next() {
		var (
			chatType types.ChatType
			count    int64
		)
		if err := rows.Scan(&chatType, &count); err != nil {
			return nil, err
		}
		counts[chatType] = count
	}

	return counts, rows.Err()
}
