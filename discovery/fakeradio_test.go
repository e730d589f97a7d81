package discovery

import (
	"context"
	"nearby/radio"
	"sync"
)

// fakeRadio is an in-memory radio driver for the tests in this package.
// Registered endpoints stand in for sighted devices that can be connected
// to for an identity read.
type fakeRadio struct {
	mu         sync.Mutex
	avail      bool
	watcherSeq uint64
	watchers   map[uint64]chan bool

	advID []byte
	advOn bool

	scanOn bool
	sink   func(radio.Sighting)

	endpoints map[radio.TransportAddress]*fakeEndpoint
	connects  map[radio.TransportAddress]int

	advCalls  int
	scanCalls int
}

type fakeEndpoint struct {
	identity   []byte
	connectErr error
	readErr    error
	// hold, when set, blocks ReadIdentity until closed or the context ends.
	hold chan struct{}
}

var _ radio.Radio = (*fakeRadio)(nil)

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		avail:     true,
		watchers:  make(map[uint64]chan bool),
		endpoints: make(map[radio.TransportAddress]*fakeEndpoint),
		connects:  make(map[radio.TransportAddress]int),
	}
}

func (f *fakeRadio) Watch() (bool, <-chan bool, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.watcherSeq
	f.watcherSeq++
	ch := make(chan bool, 16)
	f.watchers[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.watchers[id]; !ok {
			return
		}
		delete(f.watchers, id)
		close(ch)
	}

	return f.avail, ch, cancel
}

// setAvail flips availability like a driver losing or regaining its
// hardware. Going down ends advertising and scanning.
func (f *fakeRadio) setAvail(avail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.avail = avail
	if !avail {
		f.advOn = false
		f.scanOn = false
		f.sink = nil
	}
	for _, ch := range f.watchers {
		select {
		case ch <- avail:
		default:
		}
	}
}

func (f *fakeRadio) StartAdvertising(identity []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.avail {
		return radio.ErrorUnavailable
	}
	f.advID = identity
	f.advOn = true
	f.advCalls++
	return nil
}

func (f *fakeRadio) StopAdvertising() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advOn = false
}

func (f *fakeRadio) StartScan(sink func(radio.Sighting)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.avail {
		return radio.ErrorUnavailable
	}
	f.sink = sink
	f.scanOn = true
	f.scanCalls++
	return nil
}

func (f *fakeRadio) StopScan() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanOn = false
	f.sink = nil
}

func (f *fakeRadio) Connect(ctx context.Context, addr radio.TransportAddress) (radio.Link, error) {
	f.mu.Lock()
	if !f.avail {
		f.mu.Unlock()
		return nil, radio.ErrorUnavailable
	}
	f.connects[addr]++
	ep, ok := f.endpoints[addr]
	f.mu.Unlock()

	if !ok {
		return nil, radio.ErrorConnectFailed
	}
	if ep.connectErr != nil {
		return nil, ep.connectErr
	}
	return &fakeLink{ep: ep}, nil
}

type fakeLink struct {
	ep *fakeEndpoint
}

func (l *fakeLink) ReadIdentity(ctx context.Context) ([]byte, error) {
	if l.ep.hold != nil {
		select {
		case <-l.ep.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.ep.readErr != nil {
		return nil, l.ep.readErr
	}
	return l.ep.identity, nil
}

func (l *fakeLink) Close() error {
	return nil
}

// sight pushes a sighting through the scan sink the way a driver would.
func (f *fakeRadio) sight(s radio.Sighting) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()

	if sink != nil {
		sink(s)
	}
}

// serveIdentity registers an endpoint answering identity reads at addr.
func (f *fakeRadio) serveIdentity(addr radio.TransportAddress, identity []byte) *fakeEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()

	ep := &fakeEndpoint{identity: identity}
	f.endpoints[addr] = ep
	return ep
}

func (f *fakeRadio) connectCount(addr radio.TransportAddress) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects[addr]
}

func (f *fakeRadio) advertising() (bool, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advOn, f.advID
}

func (f *fakeRadio) scanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanOn
}

func (f *fakeRadio) advertiseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advCalls
}
