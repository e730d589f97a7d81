package discovery

import (
	"errors"
	"nearby/peerid"
	"nearby/radio"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Advertiser keeps the radio broadcasting the local identity for as long as
// the radio allows it. When the radio reports itself unavailable, the wish
// to advertise is remembered and reapplied once the radio comes back.
type Advertiser struct {
	radio radio.Radio

	mu          sync.Mutex
	want        bool
	id          peerid.ID
	active      bool
	closed      bool
	cancelWatch func()
}

func NewAdvertiser(r radio.Radio) *Advertiser {
	a := &Advertiser{radio: r}

	_, updates, cancel := r.Watch()
	a.cancelWatch = cancel
	go a.watch(updates)

	return a
}

func (a *Advertiser) watch(updates <-chan bool) {
	for avail := range updates {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return
		}
		if !avail {
			if a.active {
				a.active = false
				log.Infof("discovery: radio lost, advertising suspended")
			}
			a.mu.Unlock()
			continue
		}
		if a.want {
			a.applyLocked()
		}
		a.mu.Unlock()
	}
}

func (a *Advertiser) applyLocked() {
	err := a.radio.StartAdvertising(a.id.Bytes())
	switch {
	case err == nil:
		a.active = true
		log.Infof("discovery: advertising as %s", a.id)
	case errors.Is(err, radio.ErrorUnavailable):
		a.active = false
		log.Debugf("discovery: radio unavailable, advertising deferred")
	default:
		a.active = false
		log.Errorf("discovery: failed to start advertising: %v", err)
	}
}

// Start begins advertising the given identity, replacing a previous one.
// An empty identity is refused.
func (a *Advertiser) Start(id peerid.ID) {
	if id == "" {
		log.Warnf("discovery: refusing to advertise an empty identity")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	if a.want && a.active && a.id == id {
		return
	}

	a.want = true
	a.id = id
	a.applyLocked()
}

// Stop ends advertising. The wish is cleared, so a radio recovery does not
// bring it back.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.want {
		return
	}
	a.want = false
	if a.active {
		a.active = false
		a.radio.StopAdvertising()
	}
}

// Close stops advertising and releases the availability watcher.
func (a *Advertiser) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	a.want = false
	if a.active {
		a.active = false
		a.radio.StopAdvertising()
	}
	a.cancelWatch()
}
