package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/hamlink/js8relay/pkg/bus"
	"github.com/hamlink/js8relay/pkg/logger"
	"github.com/hamlink/js8relay/pkg/lxmf"
)

// LXMFChannel bridges an lxmf.Transport onto the bus. All mesh traffic is
// peer to peer; group fan-out happens in the relay, not on the mesh.
type LXMFChannel struct {
	*BaseChannel
	transport lxmf.Transport
	wg        sync.WaitGroup
}

func NewLXMFChannel(transport lxmf.Transport, b *bus.MessageBus, allowFrom []string) *LXMFChannel {
	return &LXMFChannel{
		BaseChannel: NewBaseChannel("lxmf", b, allowFrom),
		transport:   transport,
	}
}

func (c *LXMFChannel) Start(ctx context.Context) error {
	if err := c.transport.Start(ctx); err != nil {
		return fmt.Errorf("lxmf channel: %w", err)
	}

	c.SetRunning(true)
	logger.InfoCF("lxmf", "Listening", map[string]interface{}{
		"identity": c.transport.Identity().Short(),
	})

	c.wg.Add(1)
	go c.consume(ctx)
	return nil
}

func (c *LXMFChannel) Stop(ctx context.Context) error {
	logger.InfoC("lxmf", "Stopping")
	c.SetRunning(false)
	c.transport.Stop()
	c.wg.Wait()
	return nil
}

func (c *LXMFChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("lxmf channel not running")
	}
	dest, err := lxmf.ParseIdentity(msg.Recipient)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, dest, msg.Content)
}

// Announce publishes the bot identity on the mesh.
func (c *LXMFChannel) Announce(ctx context.Context) error {
	return c.transport.Announce(ctx)
}

// Identity returns the bot's destination hash.
func (c *LXMFChannel) Identity() lxmf.Identity {
	return c.transport.Identity()
}

func (c *LXMFChannel) consume(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.transport.Messages():
			if !ok {
				return
			}
			c.HandleMessage(
				bus.Peer{Kind: bus.PeerDirect, ID: string(msg.Source)},
				"",
				string(msg.Source),
				string(msg.Destination),
				msg.Content,
				nil,
			)
		}
	}
}
