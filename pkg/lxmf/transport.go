package lxmf

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Identity is an LXMF destination hash in lowercase hex. The hash itself is
// minted and verified by the LXMF network; the relay only routes on it.
type Identity string

var identityPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ParseIdentity normalizes and validates a destination hash string.
func ParseIdentity(s string) (Identity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !identityPattern.MatchString(s) {
		return "", fmt.Errorf("lxmf: invalid identity %q", s)
	}
	return Identity(s), nil
}

// Short returns an abbreviated form for logs.
func (i Identity) Short() string {
	if len(i) <= 8 {
		return string(i)
	}
	return string(i[:8])
}

// Message is one LXMF message as seen by the relay. Inbound instances are
// read-only; outbound instances are constructed by the relay and handed to
// the transport, which owns delivery, retries and acknowledgements.
type Message struct {
	Source      Identity  `json:"source"`
	Destination Identity  `json:"destination"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// Transport is the relay's attachment point to the LXMF network. Framing,
// identity cryptography and store-and-forward semantics live on the other
// side of this interface.
type Transport interface {
	// Identity returns the destination hash messages to the bot arrive on.
	Identity() Identity
	// Start attaches to the network and begins delivering into Messages().
	Start(ctx context.Context) error
	// Stop detaches and closes the Messages channel.
	Stop()
	// Send queues content for delivery to the destination. Delivery
	// guarantees are the network's; an error here means the message never
	// left the relay.
	Send(ctx context.Context, dest Identity, content string) error
	// Announce publishes the bot identity so mesh peers can discover it.
	Announce(ctx context.Context) error
	// Messages yields inbound messages until Stop.
	Messages() <-chan Message
}
