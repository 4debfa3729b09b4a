package tickets

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/go-messenger/internal/chat"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/npezzotti/go-messenger/internal/updates"
)

// Chats is the part of the chat service tickets drive.
type Chats interface {
	PostSystemMessage(ctx context.Context, chatId int64, content types.MessageContent) (types.Message, error)
	MembershipChanged(ctx context.Context, chatId int64)
	SendMessage(ctx context.Context, caller chat.Caller, cmd *protocol.SendMessage) (*protocol.MessageSent, error)
}

// CreateParams describes a ticket raised by a user. CreatedFromChatId names
// the match chat the problem was seen in.
type CreateParams struct {
	MatchId           *int64 `json:"match_id"`
	CreatedFromChatId *int64 `json:"created_from_chat_id"`
	Message           string `json:"message"`
}

// Service drives the ticket workflow. Every transition is validated and
// logged by the repository in one transaction.
type Service struct {
	log       *log.Logger
	repo      database.MessengerRepository
	publisher chat.UpdatePublisher
	chats     Chats
}

func NewService(logger *log.Logger, repo database.MessengerRepository, publisher chat.UpdatePublisher, chats Chats) *Service {
	return &Service{
		log:       logger,
		repo:      repo,
		publisher: publisher,
		chats:     chats,
	}
}

// Create opens a NEW ticket with its own chat and posts the creator's
// message there. Tickets raised from another chat must come from a match
// chat the creator belongs to.
func (s *Service) Create(ctx context.Context, caller chat.Caller, params CreateParams) (database.Ticket, error) {
	if caller.Role != types.RoleScout && caller.Role != types.RoleBookmaker {
		return database.Ticket{}, errs.NotPermitted("only scouts and bookmakers create tickets")
	}

	content := types.MessageContent{Text: &types.TextContent{Text: params.Message}}
	if err := content.Validate(); err != nil {
		return database.Ticket{}, errs.Validation("%v", err)
	}

	matchId := params.MatchId
	if params.CreatedFromChatId != nil {
		source, err := s.repo.GetChatById(ctx, *params.CreatedFromChatId)
		if err != nil {
			return database.Ticket{}, errs.FromStorage(fmt.Sprintf("chat %d", *params.CreatedFromChatId), err)
		}
		if source.Type != types.ChatTypeMatch {
			return database.Ticket{}, errs.Validation("tickets can only be raised from match chats")
		}

		p, err := s.repo.GetChatPermissions(ctx, source.Id, caller.UserId)
		if err != nil {
			return database.Ticket{}, errs.FromStorage(fmt.Sprintf("chat %d", source.Id), err)
		}
		if !p.IsMember {
			return database.Ticket{}, errs.NotPermitted("user %d is not a member of chat %d", caller.UserId, source.Id)
		}
		if source.MatchId.Valid {
			id := source.MatchId.Int64
			matchId = &id
		}
	}

	created, err := s.repo.CreateTicket(ctx, database.CreateTicketParams{
		CreatedBy:         caller.UserId,
		CreatorRole:       caller.Role,
		CreatedFromChatId: params.CreatedFromChatId,
		MatchId:           matchId,
	})
	if err != nil {
		return database.Ticket{}, errs.FromStorage("create ticket", err)
	}
	ticket := created.Ticket

	s.post(ctx, ticket.ChatId, types.MessageContent{
		ChatCreated: &types.ChatCreatedNotification{CreatedBy: caller.UserId},
	})
	if ticket.CreatedFromChatId.Valid {
		s.post(ctx, ticket.CreatedFromChatId.Int64, types.MessageContent{TicketStatusChanged: &types.TicketStatusNotification{
			TicketId: ticket.Id,
			Status:   ticket.Status,
		}})
	}

	if _, err := s.chats.SendMessage(ctx, caller, &protocol.SendMessage{ChatId: ticket.ChatId, Content: content}); err != nil {
		s.log.Printf("tickets: post first message of ticket %d: %v", ticket.Id, err)
	}

	u := &updates.TicketStatusChanged{TicketStatusChanged: protocol.TicketStatusChanged{
		TicketId:  ticket.Id,
		ChatId:    ticket.ChatId,
		NewStatus: ticket.Status,
		ChangedBy: caller.UserId,
	}}
	if err := s.publisher.PublishUpdate(ctx, u, ""); err != nil {
		s.log.Printf("tickets: publish creation of ticket %d: %v", ticket.Id, err)
	}
	return ticket, nil
}

// TakeIntoWork assigns a new ticket to the caller and gives them access
// to the ticket chat.
func (s *Service) TakeIntoWork(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error) {
	if caller.Role != types.RoleSupervisor {
		return database.Ticket{}, errs.NotPermitted("only supervisors take tickets into work")
	}

	assignee := caller.UserId
	tr, err := s.transition(ctx, caller, database.TransitionTicketParams{
		TicketId:        ticketId,
		To:              types.TicketStatusInProgress,
		UpdatedBy:       caller.UserId,
		RequireAssignee: true,
		AssignTo:        &assignee,
	})
	if err != nil {
		return database.Ticket{}, err
	}

	s.chats.MembershipChanged(ctx, tr.Ticket.ChatId)
	s.post(ctx, tr.Ticket.ChatId, types.MessageContent{
		UserJoined: &types.UserNotification{UserId: caller.UserId},
	})
	return tr.Ticket, nil
}

// Close marks the ticket solved. Only the assignee may close it.
func (s *Service) Close(ctx context.Context, caller chat.Caller, ticketId int64, reason types.TicketCloseReason, comment string) (database.Ticket, error) {
	if !reason.Valid() {
		return database.Ticket{}, errs.Validation("unknown close reason %d", reason)
	}

	tr, err := s.transition(ctx, caller, database.TransitionTicketParams{
		TicketId:        ticketId,
		To:              types.TicketStatusSolved,
		UpdatedBy:       caller.UserId,
		RequireAssignee: true,
		CloseReason:     &reason,
		Comment:         comment,
	})
	if err != nil {
		return database.Ticket{}, err
	}

	content := types.MessageContent{TicketClosed: &types.TicketClosedNotification{
		TicketId:       tr.Ticket.Id,
		TicketChatId:   tr.Ticket.ChatId,
		ClosedByUserId: caller.UserId,
	}}
	s.post(ctx, tr.Ticket.ChatId, content)
	if tr.Ticket.CreatedFromChatId.Valid {
		s.post(ctx, tr.Ticket.CreatedFromChatId.Int64, content)
	}
	return tr.Ticket, nil
}

// Confirm accepts the solution. Only members of the ticket chat other
// than supervisors may confirm.
func (s *Service) Confirm(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error) {
	if caller.Role == types.RoleSupervisor {
		return database.Ticket{}, errs.NotPermitted("supervisors cannot confirm tickets")
	}

	tr, err := s.transition(ctx, caller, database.TransitionTicketParams{
		TicketId:      ticketId,
		To:            types.TicketStatusConfirmed,
		UpdatedBy:     caller.UserId,
		RequireMember: true,
	})
	if err != nil {
		return database.Ticket{}, err
	}
	return tr.Ticket, nil
}

// Reopen returns a solved ticket to its assignee. The same members who
// may confirm may reopen.
func (s *Service) Reopen(ctx context.Context, caller chat.Caller, ticketId int64) (database.Ticket, error) {
	if caller.Role == types.RoleSupervisor {
		return database.Ticket{}, errs.NotPermitted("supervisors cannot reopen tickets")
	}

	tr, err := s.transition(ctx, caller, database.TransitionTicketParams{
		TicketId:      ticketId,
		To:            types.TicketStatusInProgress,
		UpdatedBy:     caller.UserId,
		RequireMember: true,
	})
	if err != nil {
		return database.Ticket{}, err
	}

	s.post(ctx, tr.Ticket.ChatId, types.MessageContent{TicketStatusChanged: &types.TicketStatusNotification{
		TicketId: tr.Ticket.Id,
		Status:   tr.Ticket.Status,
	}})
	return tr.Ticket, nil
}

func (s *Service) transition(ctx context.Context, caller chat.Caller, params database.TransitionTicketParams) (database.TicketTransition, error) {
	tr, err := s.repo.TransitionTicket(ctx, params)
	if err != nil {
		return tr, errs.FromStorage(fmt.Sprintf("ticket %d to %s", params.TicketId, params.To), err)
	}

	u := &updates.TicketStatusChanged{TicketStatusChanged: protocol.TicketStatusChanged{
		TicketId:  tr.Ticket.Id,
		ChatId:    tr.Ticket.ChatId,
		OldStatus: tr.OldStatus,
		NewStatus: tr.Ticket.Status,
		ChangedBy: caller.UserId,
	}}
	if err := s.publisher.PublishUpdate(ctx, u, ""); err != nil {
		s.log.Printf("tickets: publish status of ticket %d: %v", tr.Ticket.Id, err)
	}
	return tr, nil
}

func (s *Service) post(ctx context.Context, chatId int64, content types.MessageContent) {
	if _, err := s.chats.PostSystemMessage(ctx, chatId, content); err != nil {
		s.log.Printf("tickets: post %s to chat %d: %v", content.Kind(), chatId, err)
	}
}

// Stats aggregates ticket handling over [from, to), optionally for the
// transitions made by one user.
func (s *Service) Stats(ctx context.Context, forUserId *int64, from, to time.Time) (types.TicketStats, error) {
	if !from.Before(to) {
		return types.TicketStats{}, errs.Validation("date_from must be before date_to")
	}

	raw, err := s.repo.GetTicketStats(ctx, database.TicketStatsParams{ForUserId: forUserId, From: from, To: to})
	if err != nil {
		return types.TicketStats{}, errs.Server("ticket stats", err)
	}

	return types.TicketStats{
		SolvedTicketsCount:     raw.Solved,
		ReturnedTicketsCount:   raw.Returned,
		ReturnedTicketsPercent: types.ReturnedPercent(raw.Solved, raw.Returned),
		AvgFirstResponseTime:   raw.AvgFirstResponse,
		AvgSolveTime:           raw.AvgTimeToSolve,
	}, nil
}

// Counters returns the number of tickets per status, for one status when
// status is set. IN_PROGRESS only counts tickets assigned to the caller.
func (s *Service) Counters(ctx context.Context, caller chat.Caller, status *types.TicketStatus) (map[types.TicketStatus]int64, error) {
	if status != nil && !status.Valid() {
		return nil, errs.Validation("unknown ticket status %d", *status)
	}

	assignee := caller.UserId
	counts, err := s.repo.CountTicketsByStatus(ctx, status, &assignee)
	if err != nil {
		return nil, errs.Server("count tickets", err)
	}
	return counts, nil
}
