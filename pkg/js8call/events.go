package js8call

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType is the closed set of JS8Call API event kinds the relay
// understands. Anything else parses as EventUnknown and is carried through
// with its raw type tag so consumers can still log it.
type EventType int

const (
	EventUnknown EventType = iota
	EventRxDirected
	EventRxSpot
	EventRxActivity
	EventStationCallsign
	EventStationGrid
	EventStationStatus
	EventRigFreq
	EventRigPTT
	EventPing
	EventClose
)

var eventTypeTags = map[string]EventType{
	"RX.DIRECTED":      EventRxDirected,
	"RX.SPOT":          EventRxSpot,
	"RX.ACTIVITY":      EventRxActivity,
	"STATION.CALLSIGN": EventStationCallsign,
	"STATION.GRID":     EventStationGrid,
	"STATION.STATUS":   EventStationStatus,
	"RIG.FREQ":         EventRigFreq,
	"RIG.PTT":          EventRigPTT,
	"PING":             EventPing,
	"CLOSE":            EventClose,
}

func (t EventType) String() string {
	for tag, et := range eventTypeTags {
		if et == t {
			return tag
		}
	}
	return "UNKNOWN"
}

// Event is one parsed line from the JS8Call JSON API. The schema (field
// names, type tags) is owned by JS8Call; events are immutable once parsed
// and are not persisted.
type Event struct {
	Type     EventType
	Raw      string // type tag as received, kept for unknown events
	Value    string
	Params   map[string]interface{}
	Received time.Time
}

type wireMessage struct {
	Type   string                 `json:"type"`
	Value  string                 `json:"value"`
	Params map[string]interface{} `json:"params"`
}

// ParseEvent decodes a single JSON line from the JS8Call socket.
func ParseEvent(line []byte) (Event, error) {
	var wm wireMessage
	if err := json.Unmarshal(line, &wm); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if wm.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing type tag")
	}

	ev := Event{
		Type:     eventTypeTags[wm.Type],
		Raw:      wm.Type,
		Value:    wm.Value,
		Params:   wm.Params,
		Received: time.Now(),
	}
	return ev, nil
}

// IsUserMessage reports whether the event carries user text that can be
// relayed. Spots, station updates and rig chatter are not user messages.
func (e Event) IsUserMessage() bool {
	return e.Type == EventRxDirected
}

func (e Event) paramString(key string) string {
	if e.Params == nil {
		return ""
	}
	if v, ok := e.Params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// From returns the originating callsign. JS8Call puts it in params.FROM;
// older builds only provide the "SENDER: text" value form.
func (e Event) From() string {
	if from := e.paramString("FROM"); from != "" {
		return from
	}
	if idx := strings.Index(e.Value, ":"); idx > 0 {
		return strings.TrimSpace(e.Value[:idx])
	}
	return ""
}

// To returns the destination callsign or @GROUP of a directed event.
func (e Event) To() string {
	return e.paramString("TO")
}

// Text returns the message text of a directed event, falling back to the
// value form when params.TEXT is absent.
func (e Event) Text() string {
	if e.Params != nil {
		if v, ok := e.Params["TEXT"].(string); ok {
			return strings.TrimSpace(v)
		}
	}
	if idx := strings.Index(e.Value, ":"); idx >= 0 {
		return strings.TrimSpace(e.Value[idx+1:])
	}
	return ""
}

// SNR returns the reported signal-to-noise ratio, if present.
func (e Event) SNR() (int, bool) {
	if e.Params == nil {
		return 0, false
	}
	if v, ok := e.Params["SNR"].(float64); ok {
		return int(v), true
	}
	return 0, false
}

// Command is an outbound request on the JS8Call API.
type Command struct {
	Type   string                 `json:"type"`
	Value  string                 `json:"value"`
	Params map[string]interface{} `json:"params"`
}

func newCommand(typ, value string) Command {
	return Command{
		Type:  typ,
		Value: value,
		// JS8Call echoes _ID back on replies; millisecond timestamps are
		// what the reference UI sends.
		Params: map[string]interface{}{"_ID": time.Now().UnixMilli()},
	}
}

// SendMessageCommand queues a directed text transmission to a callsign or
// @GROUP. JS8Call itself owns framing and on-air splitting.
func SendMessageCommand(destination, text string) Command {
	return newCommand("TX.SEND_MESSAGE", strings.ToUpper(strings.TrimSpace(destination))+" "+text)
}

// GetCallsignCommand asks the station for its configured callsign; the reply
// arrives as a STATION.CALLSIGN event.
func GetCallsignCommand() Command {
	return newCommand("STATION.GET_CALLSIGN", "")
}

// PingCommand is a liveness probe; JS8Call answers with a PING event.
func PingCommand() Command {
	return newCommand("PING", "")
}

func (c Command) encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode command %s: %w", c.Type, err)
	}
	return append(data, '\n'), nil
}
