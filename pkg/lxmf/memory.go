package lxmf

import (
	"context"
	"sync"
	"time"
)

// MemoryTransport is an in-process Transport for tests and the dry-run mode
// of the serve command. Sent messages are recorded and can be injected back
// as inbound traffic with Inject.
type MemoryTransport struct {
	identity Identity

	mu      sync.Mutex
	sent    []Message
	closed  bool
	inbound chan Message

	announces int
	producers sync.WaitGroup
	stopOnce  sync.Once
	stopped   chan struct{}
}

func NewMemoryTransport(identity Identity) *MemoryTransport {
	return &MemoryTransport{
		identity: identity,
		inbound:  make(chan Message, 64),
		stopped:  make(chan struct{}),
	}
}

func (t *MemoryTransport) Identity() Identity {
	return t.identity
}

func (t *MemoryTransport) Start(ctx context.Context) error {
	return nil
}

// Stop waits for in-flight Inject calls before closing the inbound channel,
// so a racing producer never sends on a closed channel.
func (t *MemoryTransport) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.stopped)
		t.mu.Unlock()

		t.producers.Wait()
		close(t.inbound)
	})
}

func (t *MemoryTransport) Send(ctx context.Context, dest Identity, content string) error {
	id, err := ParseIdentity(string(dest))
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, Message{
		Source:      t.identity,
		Destination: id,
		Content:     content,
		Timestamp:   time.Now(),
	})
	return nil
}

func (t *MemoryTransport) Announce(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.announces++
	return nil
}

func (t *MemoryTransport) Messages() <-chan Message {
	return t.inbound
}

// Inject delivers a message to the relay as if it arrived off the mesh.
// After Stop it is a no-op.
func (t *MemoryTransport) Inject(from Identity, content string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.producers.Add(1)
	t.mu.Unlock()
	defer t.producers.Done()

	select {
	case t.inbound <- Message{
		Source:      from,
		Destination: t.identity,
		Content:     content,
		Timestamp:   time.Now(),
	}:
	case <-t.stopped:
	}
}

// Sent returns a copy of everything sent so far.
func (t *MemoryTransport) Sent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.sent))
	copy(out, t.sent)
	return out
}

// Announces returns how many announces were published.
func (t *MemoryTransport) Announces() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.announces
}
