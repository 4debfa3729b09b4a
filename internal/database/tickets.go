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

const ticketColumns = "id, status, chat_id, created_from_chat_id, assigned_to_user_id, close_reason, comment, created_at, updated_at"

const (
	getTicketQuery = "SELECT " + ticketColumns + " FROM tickets WHERE id = $1"

	getTicketForUpdateQuery = getTicketQuery + " FOR UPDATE"

	lastStatusLogQuery = "SELECT created_at FROM ticket_status_logs " +
		"WHERE ticket_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1"

	updateTicketQuery = `
		UPDATE tickets SET
			status = $2,
			assigned_to_user_id = COALESCE($3::bigint, assigned_to_user_id),
			close_reason = COALESCE($4::smallint, close_reason),
			comment = CASE WHEN $5::text = '' THEN comment ELSE $5::text END,
			updated_at = $6
		WHERE id = $1
		RETURNING ` + ticketColumns

	insertStatusLogQuery = `
		INSERT INTO ticket_status_logs (ticket_id, old_status, new_status, updated_by, time_after_last_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, ticket_id, old_status, new_status, updated_by, time_after_last_status, created_at`

	lockChatQuery = "SELECT id FROM chats WHERE id = $1 FOR UPDATE"

	// A user keeps one unconfirmed ticket per source chat.
	openTicketFromChatQuery = `
		SELECT EXISTS (
			SELECT 1 FROM tickets t
			JOIN chat_members m ON m.chat_id = t.chat_id AND m.user_id = $2 AND m.is_primary_member
			WHERE t.created_from_chat_id = $1 AND t.status <> 4
		)`

	insertTicketChatQuery = "INSERT INTO chats (type, match_id, meta, created_at, updated_at) " +
		"VALUES ($1, $2, '{}'::jsonb, $3, $3) RETURNING " + chatColumns

	insertTicketQuery = "INSERT INTO tickets (status, chat_id, created_from_chat_id, created_at) " +
		"VALUES ($1, $2, $3, $4) RETURNING " + ticketColumns

	setAssignedTicketQuery = "UPDATE chats SET meta = jsonb_set(meta, '{assigned_ticket_id}', to_jsonb($2::bigint)) " +
		"WHERE id = $1 RETURNING " + chatColumns

	addRelatedTicketQuery = `
		UPDATE chats SET meta = jsonb_set(
			meta, '{related_ticket_ids}',
			COALESCE(meta->'related_ticket_ids', '[]'::jsonb) || to_jsonb($2::bigint)
		)
		WHERE id = $1`

	isChatMemberQuery = "SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)"

	// With $2 set, IN_PROGRESS tickets only count when assigned to $2.
	countTicketsByStatusQuery = `
		SELECT status, COUNT(*) FROM tickets
		WHERE ($1::smallint IS NULL OR status = $1)
			AND ($2::bigint IS NULL OR status <> 2 OR assigned_to_user_id = $2)
		GROUP BY status`

	// Durations are seconds. A ticket solved several times in the window
	// counts once.
	ticketStatsQuery = `
		SELECT
			COUNT(DISTINCT ticket_id) FILTER (WHERE new_status IN (3, 4)),
			COUNT(*) FILTER (WHERE old_status = 3 AND new_status = 2),
			COALESCE(AVG(time_after_last_status) FILTER (WHERE old_status = 1 AND new_status = 2), 0)::float8,
			COALESCE(AVG(time_after_last_status) FILTER (WHERE new_status = 3), 0)::float8
		FROM ticket_status_logs
		WHERE created_at >= $1 AND created_at < $2
			AND ($3::bigint IS NULL OR updated_by = $3)`
)

func scanTicket(row interface{ Scan(...any) error }) (Ticket, error) {
	var t Ticket
	err := row.Scan(
		&t.Id,
		&t.Status,
		&t.ChatId,
		&t.CreatedFromChatId,
		&t.AssignedToUserId,
		&t.CloseReason,
		&t.Comment,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

func (db *PgMessengerRepository) GetTicketById(ctx context.Context, ticketId int64) (Ticket, error) {
	return scanTicket(db.conn.QueryRowContext(ctx, getTicketQuery, ticketId))
}

// CreateTicket opens a NEW ticket with its own TICKET chat in one
// transaction. The creator becomes the primary member of that chat. When the
// ticket is raised from another chat, that chat records it as related and a
// second unconfirmed ticket by the same user fails with errs.ErrConflict.
func (db *PgMessengerRepository) CreateTicket(ctx context.Context, params CreateTicketParams) (CreatedTicket, error) {
	var created CreatedTicket
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if params.CreatedFromChatId != nil {
			var id int64
			if err := tx.QueryRowContext(ctx, lockChatQuery, *params.CreatedFromChatId).Scan(&id); err != nil {
				return err
			}

			var exists bool
			if err := tx.QueryRowContext(ctx, openTicketFromChatQuery, *params.CreatedFromChatId, params.CreatedBy).Scan(&exists); err != nil {
				return fmt.Errorf("check open tickets: %w", err)
			}
			if exists {
				return fmt.Errorf("user %d already has an open ticket from chat %d: %w", params.CreatedBy, *params.CreatedFromChatId, errs.ErrConflict)
			}
		}

		now := db.now()
		chat, err := scanChat(tx.QueryRowContext(ctx, insertTicketChatQuery, types.ChatTypeTicket, params.MatchId, now))
		if err != nil {
			return fmt.Errorf("insert ticket chat: %w", err)
		}

		if _, err := tx.ExecContext(ctx, addChatMemberQuery, chat.Id, params.CreatedBy, params.CreatorRole, true, now); err != nil {
			return fmt.Errorf("add ticket creator: %w", err)
		}

		ticket, err := scanTicket(tx.QueryRowContext(ctx, insertTicketQuery,
			types.TicketStatusNew, chat.Id, params.CreatedFromChatId, now,
		))
		if err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}

		chat, err = scanChat(tx.QueryRowContext(ctx, setAssignedTicketQuery, chat.Id, ticket.Id))
		if err != nil {
			return fmt.Errorf("link ticket chat: %w", err)
		}

		if params.CreatedFromChatId != nil {
			if _, err := tx.ExecContext(ctx, addRelatedTicketQuery, *params.CreatedFromChatId, ticket.Id); err != nil {
				return fmt.Errorf("link source chat: %w", err)
			}
		}

		created = CreatedTicket{Ticket: ticket, Chat: chat}
		return nil
	})

	return created, err
}

// TransitionTicket moves the ticket to params.To and appends a status log
// row in one transaction. Illegal edges fail with errs.ErrInvalidTransition
// and leave the ticket and its log untouched.
func (db *PgMessengerRepository) TransitionTicket(ctx context.Context, params TransitionTicketParams) (TicketTransition, error) {
	var tr TicketTransition

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		ticket, err := scanTicket(tx.QueryRowContext(ctx, getTicketForUpdateQuery, params.TicketId))
		if err != nil {
			return err
		}

		if !ticket.Status.CanTransition(params.To) {
			return fmt.Errorf("ticket %d: %s -> %s: %w", ticket.Id, ticket.Status, params.To, errs.ErrInvalidTransition)
		}

		if params.RequireAssignee && ticket.AssignedToUserId.Valid && ticket.AssignedToUserId.Int64 != params.UpdatedBy {
			return fmt.Errorf("ticket %d is assigned to user %d: %w", ticket.Id, ticket.AssignedToUserId.Int64, errs.ErrNotPermitted)
		}

		if params.RequireMember {
			var isMember bool
			if err := tx.QueryRowContext(ctx, isChatMemberQuery, ticket.ChatId, params.UpdatedBy).Scan(&isMember); err != nil {
				return fmt.Errorf("check ticket chat membership: %w", err)
			}
			if !isMember {
				return fmt.Errorf("user %d is not in ticket chat %d: %w", params.UpdatedBy, ticket.ChatId, errs.ErrNotPermitted)
			}
		}

		since := ticket.CreatedAt
		var last time.Time
		switch err := tx.QueryRowContext(ctx, lastStatusLogQuery, ticket.Id).Scan(&last); {
		case err == nil:
			since = last
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("read last status change: %w", err)
		}

		now := db.now()
		elapsed := int64(now.Sub(since).Seconds())
		if elapsed < 0 {
			elapsed = 0
		}

		updated, err := scanTicket(tx.QueryRowContext(ctx, updateTicketQuery,
			ticket.Id,
			params.To,
			params.AssignTo,
			params.CloseReason,
			params.Comment,
			now,
		))
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}

		var entry TicketStatusLog
		err = tx.QueryRowContext(ctx, insertStatusLogQuery,
			ticket.Id, ticket.Status, params.To, params.UpdatedBy, elapsed, now,
		).Scan(
			&entry.Id,
			&entry.TicketId,
			&entry.OldStatus,
			&entry.NewStatus,
			&entry.UpdatedBy,
			&entry.TimeAfterLastStatus,
			&entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert status log: %w", err)
		}

		if params.AssignTo != nil {
			if _, err := tx.ExecContext(ctx, addChatMemberQuery,
				ticket.ChatId, *params.AssignTo, types.RoleSupervisor, false, now,
			); err != nil {
				return fmt.Errorf("add assignee to ticket chat: %w", err)
			}
		}

		tr = TicketTransition{Ticket: updated, OldStatus: ticket.Status, Log: entry}
		return nil
	})

	return tr, err
}

func (db *PgMessengerRepository) CountTicketsByStatus(ctx context.Context, status *types.TicketStatus, assignedTo *int64) (map[types.TicketStatus]int64, error) {
	rows, err := db.conn.QueryContext(ctx, countTicketsByStatusQuery, status, assignedTo)
	if err != nil {
		return nil, fmt.Errorf("failed to count tickets: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.TicketStatus]int64)
	for rows.Next() {
		var (
			s     types.TicketStatus
			count int64
		)
		if err := rows.Scan(&s, &count); err != nil {
			return nil, err
		}
		counts[s] = count
	}

	return counts, rows.Err()
}

// GetTicketStats aggregates status log rows created in [From, To).
func (db *PgMessengerRepository) GetTicketStats(ctx context.Context, params TicketStatsParams) (TicketStats, error) {
	var s TicketStats
	err := db.conn.QueryRowContext(ctx, ticketStatsQuery, params.From, params.To, params.ForUserId).Scan(
		&s.Solved,
		&s.Returned,
		&s.AvgFirstResponse,
		&s.AvgTimeToSolve,
	)
	if err != nil {
		return TicketStats{}, fmt.Errorf("failed to compute ticket stats: %w", err)
	}
	return s, nil
}
