package discovery

import (
	"nearby/peerid"
	"time"
)

// EventKind tells which side of a presence transition an event records.
type EventKind int

const (
	PeerDiscovered EventKind = iota
	PeerLost
)

func (k EventKind) String() string {
	switch k {
	case PeerDiscovered:
		return "discovered"
	case PeerLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Event records a presence transition of a single peer.
type Event struct {
	Kind EventKind
	Peer peerid.ID
	At   time.Time
}

// Listener receives presence transitions. Callbacks run one at a time on a
// dedicated goroutine with no locks held; a callback may query the
// Coordinator but must not start or stop it.
type Listener interface {
	OnPeerDiscovered(peer peerid.ID)
	OnPeerLost(peer peerid.ID)
}
