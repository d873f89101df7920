package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hamlink/js8relay/pkg/bus"
)

// Channel is one side of the relay: the radio link or the mesh link.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, b *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       b,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

// IsAllowed checks the sender against the channel allowlist. An empty
// allowlist admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if strings.EqualFold(senderID, allowed) {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound message to the bus, dropping senders
// not on the allowlist. An empty messageID gets a generated one.
func (c *BaseChannel) HandleMessage(
	peer bus.Peer,
	messageID, senderID, target, content string,
	metadata map[string]string,
) {
	if !c.IsAllowed(senderID) {
		return
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}

	msg := bus.InboundMessage{
		Channel:   c.name,
		SenderID:  senderID,
		Target:    target,
		Content:   content,
		Peer:      peer,
		MessageID: messageID,
		Metadata:  metadata,
	}

	c.bus.PublishInbound(context.TODO(), msg)
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}
