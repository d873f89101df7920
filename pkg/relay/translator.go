package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hamlink/js8relay/pkg/bus"
	"github.com/hamlink/js8relay/pkg/directory"
	"github.com/hamlink/js8relay/pkg/lxmf"
)

var (
	// ErrUnknownRecipient means a directed radio message names a callsign
	// with no identity binding. The message is dropped and logged.
	ErrUnknownRecipient = errors.New("relay: unknown recipient")
	// ErrUnresolvedDestination means a mesh message carries no explicit
	// target and its sender has no conversation context to reply into.
	ErrUnresolvedDestination = errors.New("relay: unresolved destination")
)

// TruncationMarker is appended when a message is cut to fit one frame.
// Messages are never split across frames.
const TruncationMarker = " [cut]"

// TrafficKind classifies radio traffic for routing and history.
type TrafficKind int

const (
	TrafficDirect TrafficKind = iota
	TrafficGroup
	TrafficUrgent
)

func (k TrafficKind) String() string {
	switch k {
	case TrafficGroup:
		return "group"
	case TrafficUrgent:
		return "urgent"
	default:
		return "direct"
	}
}

// RadioMessage is a classified user message heard on the air.
type RadioMessage struct {
	Kind  TrafficKind
	From  string
	To    string
	Group string
	Text  string
	SNR   string
}

// Delivery is one mesh message to hand to the LXMF channel.
type Delivery struct {
	Identity lxmf.Identity
	Content  string
}

// RadioCommand is one transmission to hand to the JS8Call channel.
type RadioCommand struct {
	Destination string
	Text        string
}

// Translator maps traffic between the two sides using the directory for
// routing decisions. It holds no connection state of its own.
type Translator struct {
	dir          *directory.Directory
	urgentGroups map[string]struct{}
	maxTextLen   int
}

func NewTranslator(dir *directory.Directory, urgentGroups []string, maxTextLen int) *Translator {
	t := &Translator{
		dir:          dir,
		urgentGroups: make(map[string]struct{}, len(urgentGroups)),
		maxTextLen:   maxTextLen,
	}
	for _, g := range urgentGroups {
		t.urgentGroups[directory.NormalizeGroup(g)] = struct{}{}
	}
	return t
}

// Classify turns an inbound radio bus message into a RadioMessage, or nil
// when it carries nothing relayable.
func (t *Translator) Classify(msg bus.InboundMessage) *RadioMessage {
	text := strings.TrimSpace(msg.Content)
	if text == "" || msg.SenderID == "" {
		return nil
	}

	rm := &RadioMessage{
		Kind: TrafficDirect,
		From: strings.ToUpper(msg.SenderID),
		To:   strings.ToUpper(msg.Target),
		Text: text,
		SNR:  msg.Metadata["snr"],
	}

	if msg.Peer.Kind == bus.PeerGroup {
		rm.Group = directory.NormalizeGroup(msg.Target)
		rm.Kind = TrafficGroup
		if _, urgent := t.urgentGroups[rm.Group]; urgent {
			rm.Kind = TrafficUrgent
		}
	}
	return rm
}

// ToMesh resolves the mesh deliveries for a radio message. Direct traffic to
// a bound callsign goes to that identity and records the conversation
// context, so the identity's next unprefixed reply returns to the
// originator. Direct traffic to the station callsign fans out to the
// distribution list. Group and urgent traffic fans out to unmuted
// subscribers of the group.
func (t *Translator) ToMesh(rm *RadioMessage, stationCallsign string) ([]Delivery, error) {
	content := t.renderForMesh(rm)

	switch rm.Kind {
	case TrafficGroup, TrafficUrgent:
		subs := t.dir.Subscribers(rm.Group)
		deliveries := make([]Delivery, 0, len(subs))
		for _, id := range subs {
			deliveries = append(deliveries, Delivery{Identity: id, Content: content})
		}
		return deliveries, nil

	default:
		if id, ok := t.dir.ResolveCallsign(rm.To); ok {
			t.dir.SetConversation(id, rm.From)
			return []Delivery{{Identity: id, Content: content}}, nil
		}

		station := strings.ToUpper(strings.TrimSpace(stationCallsign))
		if rm.To == "" || (station != "" && rm.To == station) {
			recipients := t.dir.Recipients()
			deliveries := make([]Delivery, 0, len(recipients))
			for _, id := range recipients {
				deliveries = append(deliveries, Delivery{Identity: id, Content: content})
			}
			return deliveries, nil
		}

		return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, rm.To)
	}
}

// ToRadio resolves the radio transmission for a mesh message. A leading
// "@GROUP " targets a group, a leading ">CALLSIGN " targets a station, and
// anything else replies into the sender's conversation context.
func (t *Translator) ToRadio(sender lxmf.Identity, content string) (RadioCommand, error) {
	text := strings.TrimSpace(content)

	if strings.HasPrefix(text, "@") {
		group, rest, ok := strings.Cut(text, " ")
		rest = strings.TrimSpace(rest)
		if ok && rest != "" {
			return RadioCommand{
				Destination: directory.NormalizeGroup(group),
				Text:        t.Truncate(rest),
			}, nil
		}
	}

	if strings.HasPrefix(text, ">") {
		target, rest, ok := strings.Cut(strings.TrimPrefix(text, ">"), " ")
		rest = strings.TrimSpace(rest)
		if ok && rest != "" {
			call, err := directory.NormalizeCallsign(target)
			if err != nil {
				return RadioCommand{}, err
			}
			return RadioCommand{Destination: call, Text: t.Truncate(rest)}, nil
		}
	}

	if call, ok := t.dir.Conversation(sender); ok {
		return RadioCommand{Destination: call, Text: t.Truncate(text)}, nil
	}

	return RadioCommand{}, fmt.Errorf("%w: no conversation for %s", ErrUnresolvedDestination, sender.Short())
}

// Truncate cuts text to the frame limit with a visible marker. Text is never
// split into multiple frames.
func (t *Translator) Truncate(text string) string {
	if t.maxTextLen <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= t.maxTextLen {
		return text
	}

	marker := []rune(TruncationMarker)
	keep := t.maxTextLen - len(marker)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + TruncationMarker
}

func (t *Translator) renderForMesh(rm *RadioMessage) string {
	var b strings.Builder
	switch rm.Kind {
	case TrafficUrgent:
		fmt.Fprintf(&b, "[URGENT %s] ", rm.Group)
	case TrafficGroup:
		fmt.Fprintf(&b, "[%s] ", rm.Group)
	}
	fmt.Fprintf(&b, "%s: %s", rm.From, rm.Text)
	if rm.SNR != "" {
		fmt.Fprintf(&b, " (SNR %s)", rm.SNR)
	}
	return b.String()
}
