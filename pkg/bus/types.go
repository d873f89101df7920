package bus

// Peer kinds.
const (
	PeerDirect = "direct"
	PeerGroup  = "group"
)

// Peer identifies the routing peer for a message (directed or group traffic).
type Peer struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// InboundMessage crosses from a channel (JS8Call socket, LXMF transport)
// into the relay loop.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"` // callsign or LXMF identity hash
	Target    string            `json:"target"`    // destination callsign, group name or bot identity
	Content   string            `json:"content"`
	Peer      Peer              `json:"peer"`
	MessageID string            `json:"message_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is handed to a channel for delivery.
type OutboundMessage struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"` // callsign, group or LXMF identity hash
	Content   string `json:"content"`
	// ReplyTo, when set, names the LXMF identity to notify when delivery fails.
	ReplyTo string `json:"reply_to,omitempty"`
}
