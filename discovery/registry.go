package discovery

import (
	"nearby/peerid"
	"nearby/radio"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	log "github.com/sirupsen/logrus"
)

const eventBuffer = 128

// Registry tracks the peers currently considered present and when each was
// last seen. Presence transitions are emitted on the event channel; when
// the channel is full, events are dropped rather than blocking the caller.
type Registry struct {
	mu    sync.Mutex
	peers map[peerid.ID]time.Time

	addrs  *lru.Cache[radio.TransportAddress, peerid.ID]
	events chan Event
}

func NewRegistry(addrCacheSize int) (*Registry, error) {
	addrs, err := lru.New[radio.TransportAddress, peerid.ID](addrCacheSize)
	if err != nil {
		return nil, err
	}

	return &Registry{
		peers:  make(map[peerid.ID]time.Time),
		addrs:  addrs,
		events: make(chan Event, eventBuffer),
	}, nil
}

// Events is the transition stream. The channel is closed by Close.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Upsert records a sighting of a peer and reports whether the peer was
// newly discovered. A sighting older than the last recorded one does not
// move the timestamp backwards.
func (r *Registry) Upsert(peer peerid.ID, seen time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, known := r.peers[peer]
	if !known || seen.After(last) {
		r.peers[peer] = seen
	}
	if known {
		return false
	}

	r.emitLocked(Event{Kind: PeerDiscovered, Peer: peer, At: seen})
	return true
}

// Sweep drops every peer unseen for staleAfter or longer and emits a lost
// event for each.
func (r *Registry) Sweep(now time.Time, staleAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for peer, last := range r.peers {
		if now.Sub(last) < staleAfter {
			continue
		}
		delete(r.peers, peer)
		log.Debugf("registry: peer %s went stale", peer)
		r.emitLocked(Event{Kind: PeerLost, Peer: peer, At: now})
	}
}

// Peers returns a snapshot of the peers currently present.
func (r *Registry) Peers() []peerid.ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := make([]peerid.ID, 0, len(r.peers))
	for peer := range r.peers {
		peers = append(peers, peer)
	}
	return peers
}

// Clear drops all peers, emitting a lost event for each, and resets the
// address cache.
func (r *Registry) Clear(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for peer := range r.peers {
		delete(r.peers, peer)
		r.emitLocked(Event{Kind: PeerLost, Peer: peer, At: now})
	}
	r.addrs.Purge()
}

// Close ends the event stream. No Upsert, Sweep or Clear may run after.
func (r *Registry) Close() {
	close(r.events)
}

// CacheAddr remembers which peer answered at a transport address.
func (r *Registry) CacheAddr(addr radio.TransportAddress, peer peerid.ID) {
	r.addrs.Add(addr, peer)
}

// LookupAddr resolves a transport address from the cache.
func (r *Registry) LookupAddr(addr radio.TransportAddress) (peerid.ID, bool) {
	return r.addrs.Get(addr)
}

func (r *Registry) emitLocked(ev Event) {
	select {
	case r.events <- ev:
	default:
		log.Warnf("registry: event queue full, dropping %s for %s", ev.Kind, ev.Peer)
	}
}
