// Package discovery tracks which peers are nearby right now. A Coordinator
// ties the pieces together: it advertises the local identity over the
// radio, scans for announcements of others, resolves each sighting to a
// peer identity and expires peers that have gone quiet. Presence
// transitions are reported to a Listener.
package discovery

import (
	"context"
	"errors"
	"nearby/helper/timer"
	"nearby/peerid"
	"nearby/radio"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultSweepInterval  = 2 * time.Second
	DefaultStaleThreshold = 5 * time.Second
	DefaultAddrCacheSize  = 512
)

// Options tune a Coordinator. Zero values fall back to the defaults.
type Options struct {
	// SweepInterval is how often stale peers are looked for. It must be
	// shorter than StaleThreshold.
	SweepInterval time.Duration
	// StaleThreshold is how long a peer may go unseen before it is lost.
	StaleThreshold time.Duration
	// AddrCacheSize bounds the transport address to identity cache.
	AddrCacheSize int
	// Clock is the time source for sweeps. Swapped out in tests.
	Clock clock.Clock
}

func (o *Options) normalize() error {
	if o.SweepInterval == 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.StaleThreshold == 0 {
		o.StaleThreshold = DefaultStaleThreshold
	}
	if o.AddrCacheSize == 0 {
		o.AddrCacheSize = DefaultAddrCacheSize
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}

	if o.SweepInterval <= 0 || o.StaleThreshold <= 0 {
		return errors.New("discovery: sweep interval and stale threshold must be positive")
	}
	if o.SweepInterval >= o.StaleThreshold {
		return errors.New("discovery: sweep interval must be shorter than the stale threshold")
	}
	return nil
}

// Coordinator owns one discovery session at a time. Start and stop may be
// called repeatedly; each start opens a fresh session with an empty
// registry.
type Coordinator struct {
	rad  radio.Radio
	lst  Listener
	opts Options
	clk  clock.Clock

	// lifecycle serializes StartDiscovery and StopDiscovery end to end.
	lifecycle sync.Mutex

	mu      sync.Mutex
	running bool
	reg     *Registry
	adv     *Advertiser
	scn     *Scanner
	res     *Resolver
	cancel  context.CancelFunc

	sweepDone   chan struct{}
	deliverDone chan struct{}
}

// NewCoordinator builds a coordinator for the given radio. lst may be nil
// when nobody cares about presence transitions.
func NewCoordinator(rad radio.Radio, lst Listener, opts Options) (*Coordinator, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	return &Coordinator{
		rad:  rad,
		lst:  lst,
		opts: opts,
		clk:  opts.Clock,
	}, nil
}

// StartDiscovery opens a discovery session advertising the given identity.
// Starting while already running is a no-op.
func (c *Coordinator) StartDiscovery(id peerid.ID) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if _, err := peerid.Parse(string(id)); err != nil {
		return err
	}

	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		log.Debugf("discovery: already running")
		return nil
	}

	reg, err := NewRegistry(c.opts.AddrCacheSize)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	res := NewResolver(reg, c.rad)
	adv := NewAdvertiser(c.rad)
	scn := NewScanner(c.rad, res.Submit)

	sweepDone := make(chan struct{})
	deliverDone := make(chan struct{})
	go c.deliver(reg.Events(), deliverDone)
	go c.sweepLoop(ctx, reg, sweepDone)

	c.mu.Lock()
	c.running = true
	c.reg = reg
	c.adv = adv
	c.scn = scn
	c.res = res
	c.cancel = cancel
	c.sweepDone = sweepDone
	c.deliverDone = deliverDone
	c.mu.Unlock()

	adv.Start(id)
	scn.Start()

	log.Infof("discovery: started as %s", id)
	return nil
}

// StopDiscovery tears the session down: the radio stops advertising and
// scanning, in-flight exchanges are cancelled and every remaining peer is
// reported lost. Stopping while not running is a no-op.
func (c *Coordinator) StopDiscovery() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	reg, adv, scn, res := c.reg, c.adv, c.scn, c.res
	cancel := c.cancel
	sweepDone, deliverDone := c.sweepDone, c.deliverDone
	c.reg, c.adv, c.scn, c.res, c.cancel = nil, nil, nil, nil, nil
	c.sweepDone, c.deliverDone = nil, nil
	c.mu.Unlock()

	// No new sightings, then no new exchanges, then no more sweeps.
	scn.Close()
	adv.Close()
	res.Shutdown()
	cancel()
	<-sweepDone

	reg.Clear(c.clk.Now())
	reg.Close()
	<-deliverDone

	log.Infof("discovery: stopped")
}

// Peers returns the peers currently present, or nil when discovery is not
// running.
func (c *Coordinator) Peers() []peerid.ID {
	c.mu.Lock()
	reg := c.reg
	c.mu.Unlock()

	if reg == nil {
		return nil
	}
	return reg.Peers()
}

func (c *Coordinator) sweepLoop(ctx context.Context, reg *Registry, done chan struct{}) {
	defer close(done)

	err := timer.RunWithClock(ctx, c.clk, c.opts.SweepInterval, func(ctx context.Context) error {
		reg.Sweep(c.clk.Now(), c.opts.StaleThreshold)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("discovery: sweep loop failed: %v", err)
	}
}

// deliver fans registry transitions out to the listener, one at a time and
// with no locks held.
func (c *Coordinator) deliver(events <-chan Event, done chan struct{}) {
	defer close(done)

	for ev := range events {
		if c.lst == nil {
			continue
		}
		switch ev.Kind {
		case PeerDiscovered:
			c.lst.OnPeerDiscovered(ev.Peer)
		case PeerLost:
			c.lst.OnPeerLost(ev.Peer)
		}
	}
}
