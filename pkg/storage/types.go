package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("storage: not found")

// Message kinds mirror how traffic is classified on the air side, plus
// "mesh" for traffic that originated on the LXMF side.
const (
	KindDirect = "direct"
	KindGroup  = "group"
	KindUrgent = "urgent"
	KindMesh   = "mesh"
)

// Message is one relayed message as persisted for history and stats.
type Message struct {
	MessageID string
	Kind      string
	Sender    string
	Target    string
	GroupName string
	Content   string
	SNR       *int
	Timestamp int64
}

// User is one LXMF subscriber known to the relay.
type User struct {
	Identity    string
	AddedAt     int64
	WelcomeSent bool
}

// Binding maps a radio callsign to an LXMF identity.
type Binding struct {
	Callsign string
	Identity string
	BoundAt  int64
}

// DailyStat is one day of traffic counters.
type DailyStat struct {
	Day      string // YYYY-MM-DD, UTC
	Inbound  int64
	Outbound int64
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

func validateKind(kind string) error {
	switch kind {
	case KindDirect, KindGroup, KindUrgent, KindMesh:
		return nil
	}
	return errors.New("storage: invalid message kind " + kind)
}
