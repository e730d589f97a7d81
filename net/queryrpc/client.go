package queryrpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// ServerError is an error reported by the remote end of a call.
type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

var ErrShutdown = errors.New("connection is shut down")

// Client issues calls over a single connection, one at a time. Concurrent
// calls are serialized.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	enc    *cbor.Encoder
	dec    *cbor.Decoder
	seq    uint64
	closed bool
}

// Dial connects to a server and returns a client for the connection.
func Dial(ctx context.Context, network, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		enc:  cbor.NewEncoder(conn),
		dec:  cbor.NewDecoder(conn),
	}
}

// Call sends a request and decodes the reply into reply. A non-empty Err in
// the response header is returned as a ServerError. Cancelling the context
// aborts the call by expiring the connection deadline; the connection should
// be closed after that, its stream state is undefined.
func (c *Client) Call(ctx context.Context, method string, args any, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShutdown
	}

	c.seq++
	seq := c.seq

	c.conn.SetDeadline(time.Time{})
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.SetDeadline(time.Now())
		case <-watchDone:
		}
	}()

	hdr := RequestHeader{
		Seq:    seq,
		Method: method,
	}
	if err := c.enc.Encode(hdr); err != nil {
		return c.callError(ctx, err)
	}
	if err := c.enc.Encode(args); err != nil {
		return c.callError(ctx, err)
	}

	for {
		var res ResponseHeader
		if err := c.dec.Decode(&res); err != nil {
			return c.callError(ctx, err)
		}

		// A reply for an earlier call that was abandoned mid-flight.
		if res.Seq != seq {
			log.Warnf("queryrpc: discarding reply for stale sequence %d", res.Seq)
			if res.Err == "" {
				var skip cbor.RawMessage
				if err := c.dec.Decode(&skip); err != nil {
					return c.callError(ctx, err)
				}
			}
			continue
		}

		if res.Err != "" {
			return ServerError(res.Err)
		}

		if err := c.dec.Decode(reply); err != nil {
			return c.callError(ctx, err)
		}
		return nil
	}
}

// callError reports the context error when the failure was caused by the
// context expiring the connection deadline.
func (c *Client) callError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShutdown
	}
	c.closed = true
	return c.conn.Close()
}
