package types

import "fmt"

type ChatType int

const (
	ChatTypePersonal ChatType = iota + 1
	ChatTypeMatch
	ChatTypeTicket
)

func (t ChatType) String() string {
	switch t {
	case ChatTypePersonal:
		return "personal"
	case ChatTypeMatch:
		return "match"
	case ChatTypeTicket:
		return "ticket"
	}
	return fmt.Sprintf("chat_type(%d)", int(t))
}

type Role int

const (
	RoleScout Role = iota + 1
	RoleBookmaker
	RoleSupervisor
)

func (r Role) String() string {
	switch r {
	case RoleScout:
		return "scout"
	case RoleBookmaker:
		return "bookmaker"
	case RoleSupervisor:
		return "supervisor"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func (r Role) Valid() bool {
	return r >= RoleScout && r <= RoleSupervisor
}

func ParseRole(s string) (Role, error) {
	switch s {
	case "scout":
		return RoleScout, nil
	case "bookmaker":
		return RoleBookmaker, nil
	case "supervisor":
		return RoleSupervisor, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

type DeliveryStatus int

const (
	DeliveryStatusPending DeliveryStatus = iota + 1
	DeliveryStatusSent
	DeliveryStatusDelivered
	DeliveryStatusRead
)

type ChatCloseReason int

const (
	CloseReasonMainScoutIsChanged ChatCloseReason = iota + 1
	CloseReasonMatchIsFinished
	CloseReasonMembersInactivity
	CloseReasonInitiatedByUser
	CloseReasonMatchIsCancelled
)

type TicketStatus int

const (
	TicketStatusNew TicketStatus = iota + 1
	TicketStatusInProgress
	TicketStatusSolved
	TicketStatusConfirmed
)

func (s TicketStatus) String() string {
	switch s {
	case TicketStatusNew:
		return "NEW"
	case TicketStatusInProgress:
		return "IN_PROGRESS"
	case TicketStatusSolved:
		return "SOLVED"
	case TicketStatusConfirmed:
		return "CONFIRMED"
	}
	return fmt.Sprintf("ticket_status(%d)", int(s))
}

func (s TicketStatus) Valid() bool {
	return s >= TicketStatusNew && s <= TicketStatusConfirmed
}

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusNew:        {TicketStatusInProgress},
	TicketStatusInProgress: {TicketStatusSolved},
	// SOLVED -> IN_PROGRESS is a reopen and counts as a returned ticket
	TicketStatusSolved: {TicketStatusConfirmed, TicketStatusInProgress},
}

// CanTransition reports whether to is a legal next status. CONFIRMED is terminal.
func (s TicketStatus) CanTransition(to TicketStatus) bool {
	for _, next := range ticketTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type TicketCloseReason int

const (
	TicketCloseReasonResolved TicketCloseReason = iota + 1
	TicketCloseReasonDuplicate
	TicketCloseReasonNotAnIssue
)

func (r TicketCloseReason) Valid() bool {
	return r >= TicketCloseReasonResolved && r <= TicketCloseReasonNotAnIssue
}
