// Package beacon implements a best-effort broadcast channel over UDP.
// Publish: a CBOR-encoded message is sent to a multicast group.
// Listen: datagrams received from the group are decoded and handed to a
// callback together with their source address.
package beacon

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// MessageHeader precedes every payload on the wire and names the topic the
// payload belongs to. Datagrams for other topics are skipped.
type MessageHeader struct {
	Topic string `cbor:"1,keyasint,omitempty"`
}

const readBufferSize = 1024

type Beacon struct {
	rc *net.UDPConn
	wc *net.UDPConn
}

// New wraps a receive connection and a send connection. Either may be nil
// when only one direction is used.
func New(rconn *net.UDPConn, wconn *net.UDPConn) *Beacon {
	return &Beacon{
		rc: rconn,
		wc: wconn,
	}
}

// Publish sends one message to the group: a header naming the topic
// followed by the CBOR encoding of msg, in a single datagram.
func (b *Beacon) Publish(topic string, msg any) error {
	hdr := MessageHeader{
		Topic: topic,
	}

	buf := new(bytes.Buffer)
	enc := cbor.NewEncoder(buf)
	if err := enc.Encode(hdr); err != nil {
		return err
	}
	if err := enc.Encode(msg); err != nil {
		return err
	}

	_, err := b.wc.Write(buf.Bytes())
	if err != nil {
		return err
	}

	return nil
}

// Listen receives datagrams until the context is cancelled or the socket
// fails. Messages for other topics and messages that fail to decode are
// logged and skipped. handle is called on the listen goroutine.
func (b *Beacon) Listen(ctx context.Context, topic string, handle func(src *net.UDPAddr, body cbor.RawMessage)) error {
	// Close the socket when the context is cancelled; this unblocks the read.
	go func() {
		<-ctx.Done()
		b.rc.Close()
	}()

	buf := make([]byte, readBufferSize)
	b.rc.SetReadBuffer(readBufferSize)
	for {
		n, src, err := b.rc.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				log.Debugf("beacon: listener closed")
				return ctx.Err()
			}
			return fmt.Errorf("beacon: read failed: %w", err)
		}

		// Wrap the datagram in a reader and pass on to the CBOR decoder
		dec := cbor.NewDecoder(bytes.NewReader(buf[:n]))

		var hdr MessageHeader
		if err := dec.Decode(&hdr); err != nil {
			log.Errorf("beacon: failed to decode message header: %v", err)
			continue
		}

		if hdr.Topic != topic {
			log.Debugf("beacon: skipping message for topic %q", hdr.Topic)
			continue
		}

		var body cbor.RawMessage
		if err := dec.Decode(&body); err != nil {
			log.Errorf("beacon: failed to decode message body: %v", err)
			continue
		}

		handle(src, body)
	}
}
