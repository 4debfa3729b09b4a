package connections

import (
	"sync"

	"github.com/npezzotti/go-messenger/internal/protocol"
)

// MockTransport records what would have been written to a client.
type MockTransport struct {
	mu        sync.Mutex
	messages  []protocol.Message
	closed    bool
	closeCode int
	Full      bool
}

func (t *MockTransport) Send(msg protocol.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Full || t.closed {
		return false
	}
	t.messages = append(t.messages, msg)
	return true
}

func (t *MockTransport) Close(code int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeCode = code
}

func (t *MockTransport) Messages() []protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Message(nil), t.messages...)
}

// CloseCode returns the code passed to Close, 0 while open.
func (t *MockTransport) CloseCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode
}
