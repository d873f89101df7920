package lxmf

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/hamlink/js8relay/pkg/logger"
)

const (
	defaultTopicPrefix = "lxmf"
	connectTimeout     = 10 * time.Second
	publishTimeout     = 10 * time.Second
)

// MQTTConfig configures the gateway attachment.
type MQTTConfig struct {
	// BrokerURL is the gateway broker, e.g. "tcp://localhost:1883".
	BrokerURL string
	// Identity is the bot's LXMF destination hash, assigned by the gateway.
	Identity Identity
	// TopicPrefix defaults to "lxmf".
	TopicPrefix string
	Username    string
	Password    string
}

// MQTTTransport attaches the relay to an LXMF gateway daemon over MQTT.
// The gateway bridges the broker topics onto the Reticulum network and owns
// everything the LXMF protocol defines: identities, framing, retries and
// propagation. Topic layout:
//
//	<prefix>/<identity>/in   inbound messages for the bot (gateway publishes)
//	<prefix>/<identity>/out  outbound messages from the bot (gateway consumes)
//	<prefix>/announce        identity announces
type MQTTTransport struct {
	cfg     MQTTConfig
	client  mqtt.Client
	inbound chan Message

	mu        sync.Mutex
	closed    bool
	producers sync.WaitGroup
	stopOnce  sync.Once
	stopped   chan struct{}
}

func NewMQTTTransport(cfg MQTTConfig) (*MQTTTransport, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("lxmf: gateway broker URL is required")
	}
	id, err := ParseIdentity(string(cfg.Identity))
	if err != nil {
		return nil, err
	}
	cfg.Identity = id
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}

	t := &MQTTTransport{
		cfg:     cfg,
		inbound: make(chan Message, 64),
		stopped: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID("js8relay-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.WarnCF("lxmf", "Gateway connection lost", map[string]interface{}{
				"error": err.Error(),
			})
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	t.client = mqtt.NewClient(opts)

	return t, nil
}

func (t *MQTTTransport) Identity() Identity {
	return t.cfg.Identity
}

func (t *MQTTTransport) Start(ctx context.Context) error {
	token := t.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("lxmf: gateway connect %s: timeout", t.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("lxmf: gateway connect %s: %w", t.cfg.BrokerURL, err)
	}
	logger.InfoCF("lxmf", "Attached to gateway", map[string]interface{}{
		"broker":   t.cfg.BrokerURL,
		"identity": t.cfg.Identity.Short(),
	})
	return nil
}

// onConnect (re)subscribes; paho drops subscriptions across reconnects
// unless the session is persistent.
func (t *MQTTTransport) onConnect(client mqtt.Client) {
	topic := fmt.Sprintf("%s/%s/in", t.cfg.TopicPrefix, t.cfg.Identity)
	token := client.Subscribe(topic, 1, t.handleInbound)
	if token.WaitTimeout(connectTimeout) && token.Error() == nil {
		return
	}
	logger.ErrorCF("lxmf", "Subscribe failed", map[string]interface{}{
		"topic": topic,
	})
}

func (t *MQTTTransport) handleInbound(_ mqtt.Client, m mqtt.Message) {
	var msg Message
	if err := json.Unmarshal(m.Payload(), &msg); err != nil {
		logger.WarnCF("lxmf", "Skipping malformed gateway payload", map[string]interface{}{
			"topic": m.Topic(),
			"error": err.Error(),
		})
		return
	}
	if msg.Destination == "" {
		msg.Destination = t.cfg.Identity
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	// paho can still deliver around Disconnect; register as a producer so
	// Stop cannot close the channel under a pending send.
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.producers.Add(1)
	t.mu.Unlock()
	defer t.producers.Done()

	select {
	case t.inbound <- msg:
	case <-t.stopped:
	}
}

func (t *MQTTTransport) Send(ctx context.Context, dest Identity, content string) error {
	id, err := ParseIdentity(string(dest))
	if err != nil {
		return err
	}

	msg := Message{
		Source:      t.cfg.Identity,
		Destination: id,
		Content:     content,
		Timestamp:   time.Now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("lxmf: encode message: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/out", t.cfg.TopicPrefix, id)
	token := t.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("lxmf: publish to %s: timeout", id.Short())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("lxmf: publish to %s: %w", id.Short(), err)
	}
	return nil
}

func (t *MQTTTransport) Announce(ctx context.Context) error {
	payload, err := json.Marshal(map[string]interface{}{
		"identity":  t.cfg.Identity,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("lxmf: encode announce: %w", err)
	}

	topic := t.cfg.TopicPrefix + "/announce"
	token := t.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("lxmf: announce: timeout")
	}
	return token.Error()
}

// Stop waits for in-flight deliveries before closing the inbound channel.
func (t *MQTTTransport) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.stopped)
		t.mu.Unlock()

		t.client.Disconnect(250)
		t.producers.Wait()
		close(t.inbound)
	})
}

func (t *MQTTTransport) Messages() <-chan Message {
	return t.inbound
}
