package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hamlink/js8relay/pkg/bus"
	"github.com/hamlink/js8relay/pkg/config"
	"github.com/hamlink/js8relay/pkg/js8call"
	"github.com/hamlink/js8relay/pkg/logger"
)

// JS8CallChannel owns the TCP session to a local JS8Call instance and turns
// its directed traffic into bus messages. Station chatter (spots, rig state)
// is consumed here and logged, never forwarded.
type JS8CallChannel struct {
	*BaseChannel
	client *js8call.Client
	config config.JS8CallConfig

	mu       sync.RWMutex
	callsign string

	wg sync.WaitGroup
}

func NewJS8CallChannel(cfg config.JS8CallConfig, b *bus.MessageBus, onDegraded func(err error)) *JS8CallChannel {
	c := &JS8CallChannel{
		BaseChannel: NewBaseChannel("js8call", b, cfg.AllowFrom),
		config:      cfg,
	}
	c.client = js8call.NewClient(js8call.Options{
		Host:          cfg.Host,
		Port:          cfg.Port,
		DegradedAfter: cfg.DegradedAfter,
		OnConnect: func() {
			// Ask for the station callsign so traffic addressed to the
			// station itself can be recognized.
			if err := c.client.Send(js8call.GetCallsignCommand()); err != nil {
				logger.WarnCF("js8call", "Callsign query failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		},
		OnDegraded: onDegraded,
	})
	return c
}

// Start connects to JS8Call and launches the event consumer. When the first
// dial fails the channel keeps retrying in the background instead of failing
// the whole relay; the radio side is expected to come and go.
func (c *JS8CallChannel) Start(ctx context.Context) error {
	logger.InfoCF("js8call", "Connecting", map[string]interface{}{
		"addr": c.client.Addr(),
	})

	if err := c.client.Start(ctx); err != nil {
		logger.WarnCF("js8call", "Initial connect failed, retrying in background", map[string]interface{}{
			"error": err.Error(),
		})
		c.wg.Add(1)
		go c.retryStart(ctx)
	} else {
		c.wg.Add(1)
		go c.consume(ctx)
	}

	c.SetRunning(true)
	return nil
}

func (c *JS8CallChannel) retryStart(ctx context.Context) {
	defer c.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := c.client.Start(ctx); err == nil {
			c.wg.Add(1)
			go c.consume(ctx)
			return
		}

		backoff *= 2
		if backoff > time.Minute {
			backoff = time.Minute
		}
	}
}

func (c *JS8CallChannel) Stop(ctx context.Context) error {
	logger.InfoC("js8call", "Stopping")
	c.SetRunning(false)
	err := c.client.Close()
	c.wg.Wait()
	return err
}

// Send transmits one directed message. The recipient is a callsign or
// @GROUP; JS8Call handles on-air framing itself.
func (c *JS8CallChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("js8call channel not running")
	}
	return c.client.Send(js8call.SendMessageCommand(msg.Recipient, msg.Content))
}

// Callsign returns the station callsign as last reported by JS8Call.
func (c *JS8CallChannel) Callsign() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callsign
}

// Connected reports whether the TCP session is currently up.
func (c *JS8CallChannel) Connected() bool {
	return c.client.Connected()
}

func (c *JS8CallChannel) consume(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.client.Events():
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *JS8CallChannel) handleEvent(ev js8call.Event) {
	switch ev.Type {
	case js8call.EventStationCallsign:
		c.mu.Lock()
		c.callsign = strings.ToUpper(strings.TrimSpace(ev.Value))
		c.mu.Unlock()
		logger.InfoCF("js8call", "Station callsign", map[string]interface{}{
			"callsign": ev.Value,
		})

	case js8call.EventRxDirected:
		c.handleDirected(ev)

	case js8call.EventRxSpot, js8call.EventRxActivity:
		logger.DebugCF("js8call", "Band activity", map[string]interface{}{
			"type":  ev.Raw,
			"value": ev.Value,
		})

	case js8call.EventClose:
		logger.WarnC("js8call", "JS8Call is shutting down")

	default:
		logger.DebugCF("js8call", "Event", map[string]interface{}{
			"type": ev.Raw,
		})
	}
}

func (c *JS8CallChannel) handleDirected(ev js8call.Event) {
	from := ev.From()
	text := ev.Text()
	if from == "" || text == "" {
		return
	}
	target := strings.ToUpper(strings.TrimSpace(ev.To()))

	kind := bus.PeerDirect
	if strings.HasPrefix(target, "@") {
		kind = bus.PeerGroup
	}

	metadata := map[string]string{}
	if snr, ok := ev.SNR(); ok {
		metadata["snr"] = strconv.Itoa(snr)
	}

	c.HandleMessage(
		bus.Peer{Kind: kind, ID: target},
		"", // RX.DIRECTED carries no usable message ID
		strings.ToUpper(from),
		target,
		text,
		metadata,
	)
}
