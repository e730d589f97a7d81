package discovery

import (
	"errors"
	"nearby/radio"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Scanner keeps the radio scanning and feeding sightings into sink for as
// long as the radio allows it, reapplying the wish when the radio returns.
type Scanner struct {
	radio radio.Radio
	sink  func(radio.Sighting)

	mu          sync.Mutex
	want        bool
	active      bool
	closed      bool
	cancelWatch func()
}

func NewScanner(r radio.Radio, sink func(radio.Sighting)) *Scanner {
	s := &Scanner{
		radio: r,
		sink:  sink,
	}

	_, updates, cancel := r.Watch()
	s.cancelWatch = cancel
	go s.watch(updates)

	return s
}

func (s *Scanner) watch(updates <-chan bool) {
	for avail := range updates {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if !avail {
			if s.active {
				s.active = false
				log.Infof("discovery: radio lost, scanning suspended")
			}
			s.mu.Unlock()
			continue
		}
		if s.want {
			s.applyLocked()
		}
		s.mu.Unlock()
	}
}

func (s *Scanner) applyLocked() {
	err := s.radio.StartScan(s.sink)
	switch {
	case err == nil:
		s.active = true
		log.Infof("discovery: scanning")
	case errors.Is(err, radio.ErrorUnavailable):
		s.active = false
		log.Debugf("discovery: radio unavailable, scanning deferred")
	default:
		s.active = false
		log.Errorf("discovery: failed to start scanning: %v", err)
	}
}

func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.want && s.active {
		return
	}

	s.want = true
	s.applyLocked()
}

// Stop ends scanning. The wish is cleared, so a radio recovery does not
// bring it back.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.want {
		return
	}
	s.want = false
	if s.active {
		s.active = false
		s.radio.StopScan()
	}
}

// Close stops scanning and releases the availability watcher.
func (s *Scanner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.want = false
	if s.active {
		s.active = false
		s.radio.StopScan()
	}
	s.cancelWatch()
}
