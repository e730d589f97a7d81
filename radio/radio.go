// Package radio defines the transport seam of the discovery subsystem.
// A Radio broadcasts this device's presence, reports sightings of other
// devices, and opens point-to-point sessions to ask a sighted device for
// its identity. Drivers live in subpackages; tests substitute fakes.
package radio

import (
	"context"
	"errors"
	"time"
)

// MaxIdentity is the number of identity bytes every driver can fit into
// its broadcast. Longer identities are only served through Connect.
const MaxIdentity = 20

// TransportAddress identifies a sighted device at the transport layer.
// The value is opaque to callers, only routable for the session in which
// it was observed, and carries no identity on its own.
type TransportAddress string

// Sighting is one observation of a nearby device.
type Sighting struct {
	Addr     TransportAddress
	Identity []byte // identity bytes embedded in the broadcast, nil when absent
	RSSI     int    // signal strength estimate, 0 when the transport has none
	At       time.Time
}

// Link is an open point-to-point session with a sighted device.
type Link interface {
	// ReadIdentity asks the remote device for its full identity bytes.
	ReadIdentity(ctx context.Context) ([]byte, error)
	Close() error
}

// Radio is the hardware-facing surface the discovery subsystem drives.
// StartAdvertising, StartScan and Connect fail with ErrorUnavailable while
// the radio is down, and a radio going down ends whatever it was doing;
// callers watch availability and reissue their calls when it returns.
type Radio interface {
	// Watch reports the current availability of the radio together with a
	// channel of subsequent changes. cancel releases the subscription and
	// closes the channel.
	Watch() (avail bool, updates <-chan bool, cancel func())

	// StartAdvertising begins broadcasting the identity. Calling it again
	// while advertising swaps the broadcast payload.
	StartAdvertising(identity []byte) error
	StopAdvertising()

	// StartScan begins continuous observation. Every received broadcast
	// is handed to sink, including repeats of already known devices.
	StartScan(sink func(Sighting)) error
	StopScan()

	// Connect opens a session to a sighted device.
	Connect(ctx context.Context, addr TransportAddress) (Link, error)
}

var ErrorUnavailable = errors.New("radio is unavailable")
var ErrorConnectFailed = errors.New("connect failed")
var ErrorEndpointMissing = errors.New("identity endpoint missing")
var ErrorReadFailed = errors.New("identity read failed")
