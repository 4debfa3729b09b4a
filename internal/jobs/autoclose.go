package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

type InactiveChats interface {
	CloseInactivePersonalChats(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

type ChatAnnouncer interface {
	AnnounceChatClosed(ctx context.Context, chatId int64, reason types.ChatCloseReason) error
}

// Autoclose closes personal chats without activity for closeAfter. Closed
// chats are never selected again.
type Autoclose struct {
	log        *log.Logger
	chats      InactiveChats
	announcer  ChatAnnouncer
	closeAfter time.Duration
	batchSize  int
	now        func() time.Time
}

func NewAutoclose(logger *log.Logger, chats InactiveChats, announcer ChatAnnouncer, closeAfter time.Duration, batchSize int) *Autoclose {
	return &Autoclose{
		log:        logger,
		chats:      chats,
		announcer:  announcer,
		closeAfter: closeAfter,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

func (a *Autoclose) Run(ctx context.Context) error {
	closed, err := a.chats.CloseInactivePersonalChats(ctx, a.now().Add(-a.closeAfter), a.batchSize)
	if err != nil {
		return fmt.Errorf("close inactive chats: %w", err)
	}

	for _, chatId := range closed {
		a.announce(ctx, chatId)
	}
	if len(closed) > 0 {
		a.log.Printf("jobs: closed %d inactive personal chats", len(closed))
	}
	return nil
}

func (a *Autoclose) announce(ctx context.Context, chatId int64) {
	defer func() {
		if rec := recover(); rec != nil {
			a.log.Printf("jobs: announce closed chat %d: %v", chatId, rec)
		}
	}()
	// The close is already committed and the chat is never selected again,
	// so a lost notification has to be repaired by hand.
	if err := a.announcer.AnnounceChatClosed(ctx, chatId, types.CloseReasonMembersInactivity); err != nil {
		a.log.Printf("ERROR jobs: chat %d was closed without its notification, post it manually: %v", chatId, err)
	}
}

func (a *Autoclose) Job(interval time.Duration) Job {
	return Job{Name: "autoclose", Interval: interval, Run: a.Run}
}
