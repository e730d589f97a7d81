// Package queryrpc implements a minimal request/response protocol over a
// stream connection. Requests and responses are CBOR encoded: a header
// carrying a sequence number, then the body. The server side dispatches on
// a method name; the client side issues one call at a time.
package queryrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

const unknownMethodPrefix = "queryrpc: unknown method"

// IsUnknownMethod reports whether err is a server reply saying the called
// method is not registered on the remote end.
func IsUnknownMethod(err error) bool {
	var se ServerError
	return errors.As(err, &se) && strings.HasPrefix(string(se), unknownMethodPrefix)
}

// HandlerFunc serves a single call. The returned value is CBOR encoded as
// the reply body; a non-nil error is sent to the caller instead.
type HandlerFunc func(ctx context.Context, args cbor.RawMessage) (any, error)

type Server struct {
	listener net.Listener

	mu       sync.Mutex
	handlers map[string]HandlerFunc
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		listener: listener,
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a handler for a method name, replacing any previous one.
func (s *Server) Handle(method string, h HandlerFunc) {
	log.Debugf("queryrpc.Handle: %s", method)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

func (s *Server) handler(method string) (HandlerFunc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[method]
	return h, ok
}

// Port returns the local TCP port the server accepts connections on.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until the context is cancelled or the listener
// fails. Each connection is served on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	// Close the listener when the context is cancelled; this unblocks Accept.
	go func() {
		<-ctx.Done()
		log.Debugf("queryrpc: closing listener")
		if err := s.listener.Close(); err != nil {
			log.Warnf("queryrpc: failed to close listener: %v", err)
		}
	}()

	var tempDelay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("queryrpc: accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log.Debugf("queryrpc: serving connection from %s", conn.RemoteAddr())

	dec := cbor.NewDecoder(conn)
	enc := cbor.NewEncoder(conn)

	for {
		if ctx.Err() != nil {
			return
		}

		var req RequestHeader
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "use of closed network connection") {
				log.Debugf("queryrpc: connection from %s closed", conn.RemoteAddr())
			} else {
				log.Errorf("queryrpc: failed to decode request header: %v", err)
			}
			return
		}

		var args cbor.RawMessage
		if err := dec.Decode(&args); err != nil {
			log.Errorf("queryrpc: failed to decode request arguments: %v", err)
			return
		}

		repl := ResponseHeader{
			Seq: req.Seq,
		}

		var reply any
		if h, ok := s.handler(req.Method); ok {
			var err error
			reply, err = s.dispatch(ctx, h, req.Method, args)
			if err != nil {
				repl.Err = err.Error()
			}
		} else {
			repl.Err = fmt.Sprintf("%s %q", unknownMethodPrefix, req.Method)
			log.Warnf("queryrpc: no handler for method %q", req.Method)
		}

		if err := enc.Encode(repl); err != nil {
			log.Errorf("queryrpc: failed to encode response header: %v", err)
			return
		}
		if repl.Err != "" {
			continue
		}
		if err := enc.Encode(reply); err != nil {
			log.Errorf("queryrpc: failed to encode response body: %v", err)
			return
		}
	}
}

// dispatch invokes the handler, converting a panic into a call error so one
// bad request cannot take the server down.
func (s *Server) dispatch(ctx context.Context, h HandlerFunc, method string, args cbor.RawMessage) (reply any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("queryrpc: handler for %s panicked: %v", method, r)
			err = fmt.Errorf("queryrpc: internal server error in %s", method)
		}
	}()

	return h(ctx, args)
}
