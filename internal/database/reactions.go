package database

import "context"

const (
	addReactionQuery = "INSERT INTO message_reactions (message_id, user_id, emoji, created_at) " +
		"VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING"

	removeReactionQuery = "DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3"

	countReactionsQuery = "SELECT COUNT(*) FROM message_reactions WHERE message_id = $1 AND emoji = $2"
)

// AddReaction records the reaction once per user and returns how many users
// reacted to the message with emoji.
func (db *PgMessengerRepository) AddReaction(ctx context.Context, messageId, userId int64, emoji string) (int, error) {
	if _, err := db.conn.ExecContext(ctx, addReactionQuery, messageId, userId, emoji, db.now()); err != nil {
		return 0, err
	}
	return db.countReactions(ctx, messageId, emoji)
}

func (db *PgMessengerRepository) RemoveReaction(ctx context.Context, messageId, userId int64, emoji string) (int, error) {
	if _, err := db.conn.ExecContext(ctx, removeReactionQuery, messageId, userId, emoji); err != nil {
		return 0, err
	}
	return db.countReactions(ctx, messageId, emoji)
}

func (db *PgMessengerRepository) countReactions(ctx context.Context, messageId int64, emoji string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, countReactionsQuery, messageId, emoji).Scan(&count)
	return count, err
}
