package discovery

import (
	"context"
	"errors"
	"nearby/peerid"
	"nearby/radio"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const queryTimeout = 5 * time.Second

// Resolver turns raw sightings into registry entries. The identity comes
// from the sighting itself when embedded, from the address cache when the
// address answered before, and from a connect-and-read exchange otherwise.
// A failed exchange is not retried; the next sighting of the same address
// starts a fresh one.
type Resolver struct {
	reg *Registry
	rad radio.Radio

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[radio.TransportAddress]struct{}
	stopped bool

	wg sync.WaitGroup
}

func NewResolver(reg *Registry, rad radio.Radio) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())

	return &Resolver{
		reg:     reg,
		rad:     rad,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[radio.TransportAddress]struct{}),
	}
}

// Submit feeds one sighting into the resolver. It is cheap to call from the
// scan path; an exchange, when one is needed, runs on its own goroutine. At
// most one exchange per address is in flight at a time.
func (rv *Resolver) Submit(s radio.Sighting) {
	if len(s.Identity) > 0 {
		peer, err := peerid.FromBytes(s.Identity)
		if err != nil {
			log.Warnf("resolver: dropping sighting of %s with malformed identity: %v", s.Addr, err)
			return
		}
		rv.commit(s.Addr, peer, s.At)
		return
	}

	if peer, ok := rv.reg.LookupAddr(s.Addr); ok {
		rv.commit(s.Addr, peer, s.At)
		return
	}

	rv.mu.Lock()
	if rv.stopped {
		rv.mu.Unlock()
		return
	}
	if _, dup := rv.pending[s.Addr]; dup {
		rv.mu.Unlock()
		log.Debugf("resolver: exchange with %s already pending", s.Addr)
		return
	}
	rv.pending[s.Addr] = struct{}{}
	rv.wg.Add(1)
	rv.mu.Unlock()

	go rv.exchange(s)
}

// commit records a resolved sighting. The stop check and the writes sit
// under one lock, so an exchange finishing after Shutdown cannot write into
// a cleared registry.
func (rv *Resolver) commit(addr radio.TransportAddress, peer peerid.ID, seen time.Time) {
	rv.mu.Lock()
	defer rv.mu.Unlock()

	if rv.stopped {
		return
	}
	rv.reg.CacheAddr(addr, peer)
	if rv.reg.Upsert(peer, seen) {
		log.Infof("resolver: peer %s present at %s", peer, addr)
	}
}

func (rv *Resolver) exchange(s radio.Sighting) {
	defer rv.wg.Done()
	defer func() {
		rv.mu.Lock()
		delete(rv.pending, s.Addr)
		rv.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(rv.ctx, queryTimeout)
	defer cancel()

	link, err := rv.rad.Connect(ctx, s.Addr)
	if err != nil {
		if errors.Is(err, radio.ErrorUnavailable) {
			log.Debugf("resolver: radio unavailable, skipping exchange with %s", s.Addr)
		} else {
			log.Warnf("resolver: failed to connect to %s: %v", s.Addr, err)
		}
		return
	}
	defer link.Close()

	identity, err := link.ReadIdentity(ctx)
	if err != nil {
		log.Warnf("resolver: failed to read identity of %s: %v", s.Addr, err)
		return
	}

	peer, err := peerid.FromBytes(identity)
	if err != nil {
		log.Warnf("resolver: %s served a malformed identity: %v", s.Addr, err)
		return
	}

	rv.commit(s.Addr, peer, s.At)
}

// Shutdown stops accepting sightings, cancels in-flight exchanges and waits
// for them to finish.
func (rv *Resolver) Shutdown() {
	rv.mu.Lock()
	if rv.stopped {
		rv.mu.Unlock()
		return
	}
	rv.stopped = true
	rv.mu.Unlock()

	rv.cancel()
	rv.wg.Wait()
}
