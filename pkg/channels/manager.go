package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hamlink/js8relay/pkg/bus"
	"github.com/hamlink/js8relay/pkg/logger"
)

// Manager owns both channels and moves outbound bus traffic onto them.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
	wg       sync.WaitGroup
}

func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      b,
	}
}

// Register adds a channel under its own name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// GetChannel returns a registered channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// ChannelNames returns the registered channel names, sorted.
func (m *Manager) ChannelNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every channel and the outbound dispatcher. A channel that
// fails to start aborts the whole startup; partial relays are worse than no
// relay.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		logger.InfoCF("channels", "Channel started", map[string]interface{}{
			"channel": name,
		})
	}

	m.wg.Add(1)
	go m.dispatchOutbound(ctx)
	return nil
}

// StopAll stops every channel. Errors are logged, not returned; shutdown
// continues past a failing channel.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	m.wg.Wait()
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	defer m.wg.Done()

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		m.deliver(ctx, msg)
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) {
	ch, ok := m.GetChannel(msg.Channel)
	if !ok {
		logger.WarnCF("channels", "Dropping message for unknown channel", map[string]interface{}{
			"channel": msg.Channel,
		})
		return
	}

	if err := ch.Send(ctx, msg); err != nil {
		logger.ErrorCF("channels", "Delivery failed", map[string]interface{}{
			"channel":   msg.Channel,
			"recipient": msg.Recipient,
			"error":     err.Error(),
		})
		m.notifyFailure(ctx, msg, err)
		return
	}

	logger.DebugCF("channels", "Delivered", map[string]interface{}{
		"channel":   msg.Channel,
		"recipient": msg.Recipient,
	})
}

// notifyFailure tells the originating mesh user their message never left the
// relay. Notices themselves carry no ReplyTo, so a failing notice cannot
// trigger another notice.
func (m *Manager) notifyFailure(ctx context.Context, msg bus.OutboundMessage, sendErr error) {
	if msg.ReplyTo == "" || msg.ReplyTo == msg.Recipient {
		return
	}
	err := m.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel:   "lxmf",
		Recipient: msg.ReplyTo,
		Content:   fmt.Sprintf("Delivery to %s failed: %v", msg.Recipient, sendErr),
	})
	if err != nil {
		logger.ErrorCF("channels", "Failure notice dropped", map[string]interface{}{
			"recipient": msg.ReplyTo,
			"error":     err.Error(),
		})
	}
}
