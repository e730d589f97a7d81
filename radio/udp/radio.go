// Package udp drives the radio seam over IPv4 multicast. Announcements are
// broadcast to a multicast group at a jittered cadence; each announcement
// names a TCP query port where the sender's identity can be read when it is
// not embedded in the broadcast itself.
package udp

import (
	"context"
	"errors"
	"fmt"
	"nearby/helper/timer"
	"nearby/net/beacon"
	"nearby/net/queryrpc"
	"nearby/radio"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	// Group is the multicast address announcements are exchanged on.
	Group string
	// QueryListen is the TCP listen address of the identity endpoint.
	// Defaults to an ephemeral port on all interfaces.
	QueryListen string
	// Interval and Jitter shape the announcement cadence.
	Interval time.Duration
	Jitter   time.Duration
	// EmbedIdentity carries the identity inline in each announcement when
	// it fits the advertisement payload.
	EmbedIdentity bool
}

// Radio implements the radio seam on UDP multicast plus a TCP query
// endpoint. Availability tracks whether the multicast group can be joined;
// when it is lost, a probe goroutine keeps retrying with backoff until the
// group comes back.
type Radio struct {
	cfg      Config
	instance string

	mu         sync.Mutex
	avail      bool
	probing    bool
	closed     bool
	watcherSeq uint64
	watchers   map[uint64]chan bool
	adv        *advertiseSession
	scan       *scanSession

	done chan struct{}
}

var _ radio.Radio = (*Radio)(nil)

func New(cfg Config) (*Radio, error) {
	if cfg.Group == "" {
		return nil, errors.New("udp: no multicast group configured")
	}
	if cfg.QueryListen == "" {
		cfg.QueryListen = ":0"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}

	r := &Radio{
		cfg:      cfg,
		instance: uuid.New().String(),
		watchers: make(map[uint64]chan bool),
		done:     make(chan struct{}),
	}

	if err := r.probeGroup(); err != nil {
		log.Warnf("udp: radio starts unavailable: %v", err)
		r.mu.Lock()
		r.startProbeLocked()
		r.mu.Unlock()
	} else {
		r.avail = true
	}

	log.Infof("udp: radio instance %s on group %s", r.instance, cfg.Group)
	return r, nil
}

// probeGroup checks that the multicast group can be joined right now.
func (r *Radio) probeGroup() error {
	gaddr, err := net.ResolveUDPAddr("udp4", r.cfg.Group)
	if err != nil {
		return err
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, gaddr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Watch reports the current availability and a channel carrying subsequent
// changes. cancel releases the watcher; calling it twice is fine.
func (r *Radio) Watch() (bool, <-chan bool, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan bool, 16)
	if r.closed {
		close(ch)
		return false, ch, func() {}
	}

	id := r.watcherSeq
	r.watcherSeq++
	r.watchers[id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.watchers[id]; !ok {
			return
		}
		delete(r.watchers, id)
		close(ch)
	}

	return r.avail, ch, cancel
}

func (r *Radio) notifyLocked(avail bool) {
	for _, ch := range r.watchers {
		select {
		case ch <- avail:
		default:
			log.Warnf("udp: dropping availability update, watcher is not keeping up")
		}
	}
}

// StartAdvertising begins the periodic announcement broadcast and brings up
// the identity endpoint. A running session is replaced, so calling this
// again swaps the advertised identity.
func (r *Radio) StartAdvertising(identity []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.avail {
		return radio.ErrorUnavailable
	}

	if r.adv != nil {
		r.stopAdvertiseLocked()
	}

	s, err := r.newAdvertiseSession(identity)
	if err != nil {
		log.Warnf("udp: failed to bring up advertising: %v", err)
		r.markDownLocked()
		return radio.ErrorUnavailable
	}
	r.adv = s

	log.Infof("udp: advertising %d identity bytes, query port %d", len(identity), s.srv.Port())
	return nil
}

func (r *Radio) StopAdvertising() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.adv == nil {
		return
	}
	r.stopAdvertiseLocked()
	log.Infof("udp: advertising stopped")
}

type advertiseSession struct {
	cancel context.CancelFunc
	wc     *net.UDPConn
	srv    *queryrpc.Server
}

func (r *Radio) newAdvertiseSession(identity []byte) (*advertiseSession, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", r.cfg.Group)
	if err != nil {
		return nil, err
	}
	wc, err := net.DialUDP("udp4", nil, gaddr)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp4", r.cfg.QueryListen)
	if err != nil {
		wc.Close()
		return nil, err
	}

	srv := queryrpc.NewServer(ln)
	srv.Handle(identityReadMethod, func(ctx context.Context, args cbor.RawMessage) (any, error) {
		return IdentityReadResponse{Identity: identity}, nil
	})

	ann := Announcement{
		Instance:  r.instance,
		QueryPort: srv.Port(),
	}
	if r.cfg.EmbedIdentity && len(identity) <= radio.MaxIdentity {
		ann.Identity = identity
	}

	bc := beacon.New(nil, wc)

	cctx, cancel := context.WithCancel(context.Background())
	wg, cctx := errgroup.WithContext(cctx)

	wg.Go(func() error {
		return srv.Serve(cctx)
	})
	wg.Go(func() error {
		if err := bc.Publish(announcementTopic, ann); err != nil {
			return err
		}
		ival := &timer.Interval{
			Duration: r.cfg.Interval,
			Jitter:   r.cfg.Jitter,
		}
		return timer.RunWithTicker(cctx, ival, func(ctx context.Context) error {
			return bc.Publish(announcementTopic, ann)
		})
	})

	s := &advertiseSession{
		cancel: cancel,
		wc:     wc,
		srv:    srv,
	}

	go func() {
		err := wg.Wait()
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		r.advertiseFailed(s, err)
	}()

	return s, nil
}

func (r *Radio) advertiseFailed(s *advertiseSession, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Only the current session may take the radio down.
	if r.adv != s {
		return
	}
	log.Warnf("udp: advertising failed: %v", err)
	r.markDownLocked()
}

func (r *Radio) stopAdvertiseLocked() {
	s := r.adv
	r.adv = nil
	s.cancel()
	// The query listener is closed by Serve when the context ends.
	s.wc.Close()
}

type scanSession struct {
	cancel context.CancelFunc
}

// StartScan joins the multicast group and forwards every announcement from
// other instances to sink. Starting an already running scan is a no-op.
func (r *Radio) StartScan(sink func(radio.Sighting)) error {
	if sink == nil {
		return errors.New("udp: scan needs a sink")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.avail {
		return radio.ErrorUnavailable
	}
	if r.scan != nil {
		return nil
	}

	gaddr, err := net.ResolveUDPAddr("udp4", r.cfg.Group)
	if err != nil {
		log.Warnf("udp: failed to bring up scanning: %v", err)
		r.markDownLocked()
		return radio.ErrorUnavailable
	}
	rc, err := net.ListenMulticastUDP("udp4", nil, gaddr)
	if err != nil {
		log.Warnf("udp: failed to bring up scanning: %v", err)
		r.markDownLocked()
		return radio.ErrorUnavailable
	}

	cctx, cancel := context.WithCancel(context.Background())
	s := &scanSession{
		cancel: cancel,
	}
	r.scan = s

	bc := beacon.New(rc, nil)
	go func() {
		err := bc.Listen(cctx, announcementTopic, func(src *net.UDPAddr, body cbor.RawMessage) {
			r.handleAnnouncement(sink, src, body)
		})
		if errors.Is(err, context.Canceled) {
			return
		}
		r.scanFailed(s, err)
	}()

	log.Infof("udp: scanning group %s", r.cfg.Group)
	return nil
}

func (r *Radio) StopScan() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scan == nil {
		return
	}
	r.stopScanLocked()
	log.Infof("udp: scanning stopped")
}

func (r *Radio) stopScanLocked() {
	s := r.scan
	r.scan = nil
	// The group socket is closed by Listen when the context ends.
	s.cancel()
}

func (r *Radio) scanFailed(s *scanSession, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scan != s {
		return
	}
	log.Warnf("udp: scanning failed: %v", err)
	r.markDownLocked()
}

func (r *Radio) handleAnnouncement(sink func(radio.Sighting), src *net.UDPAddr, body cbor.RawMessage) {
	var ann Announcement
	if err := cbor.Unmarshal(body, &ann); err != nil {
		log.Warnf("udp: malformed announcement from %s: %v", src, err)
		return
	}

	// Our own broadcast looped back from the group.
	if ann.Instance == r.instance {
		return
	}
	if ann.QueryPort <= 0 || ann.QueryPort > 65535 {
		log.Warnf("udp: announcement from %s without a usable query port", src)
		return
	}

	addr := net.JoinHostPort(src.IP.String(), strconv.Itoa(ann.QueryPort))
	sink(radio.Sighting{
		Addr:     radio.TransportAddress(addr),
		Identity: ann.Identity,
		At:       time.Now(),
	})
}

// Connect opens the identity endpoint of a sighted peer.
func (r *Radio) Connect(ctx context.Context, addr radio.TransportAddress) (radio.Link, error) {
	r.mu.Lock()
	avail := r.avail && !r.closed
	r.mu.Unlock()

	if !avail {
		return nil, radio.ErrorUnavailable
	}

	c, err := queryrpc.Dial(ctx, "tcp4", string(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", radio.ErrorConnectFailed, err)
	}

	return &link{client: c}, nil
}

type link struct {
	client *queryrpc.Client
}

var _ radio.Link = (*link)(nil)

func (l *link) ReadIdentity(ctx context.Context) ([]byte, error) {
	var res IdentityReadResponse
	err := l.client.Call(ctx, identityReadMethod, IdentityReadRequest{}, &res)
	if err != nil {
		if queryrpc.IsUnknownMethod(err) {
			return nil, fmt.Errorf("%w: %v", radio.ErrorEndpointMissing, err)
		}
		return nil, fmt.Errorf("%w: %v", radio.ErrorReadFailed, err)
	}

	return res.Identity, nil
}

func (l *link) Close() error {
	return l.client.Close()
}

// markDownLocked tears down the running sessions, flips availability and
// starts probing for the group to come back.
func (r *Radio) markDownLocked() {
	log.Warnf("udp: radio marked unavailable")

	if r.adv != nil {
		r.stopAdvertiseLocked()
	}
	if r.scan != nil {
		r.stopScanLocked()
	}
	if r.avail {
		r.avail = false
		r.notifyLocked(false)
	}
	if !r.closed {
		r.startProbeLocked()
	}
}

func (r *Radio) startProbeLocked() {
	if r.probing {
		return
	}
	r.probing = true
	go r.probeLoop()
}

func (r *Radio) probeLoop() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-r.done:
			return
		case <-time.After(bo.NextBackOff()):
		}

		if err := r.probeGroup(); err != nil {
			log.Debugf("udp: group still unreachable: %v", err)
			continue
		}

		r.mu.Lock()
		r.probing = false
		if !r.closed {
			r.avail = true
			r.notifyLocked(true)
			log.Infof("udp: radio available again")
		}
		r.mu.Unlock()
		return
	}
}

// Close shuts the radio down for good. Watchers are closed, sessions are
// stopped and the probe goroutine exits.
func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	close(r.done)

	if r.adv != nil {
		r.stopAdvertiseLocked()
	}
	if r.scan != nil {
		r.stopScanLocked()
	}

	for id, ch := range r.watchers {
		delete(r.watchers, id)
		close(ch)
	}

	log.Infof("udp: radio closed")
	return nil
}
