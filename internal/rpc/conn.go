// Package rpc implements request/response messaging between the orchestrator
// and its workers.
//
// Envelopes are msgpack-encoded and framed with a Content-Length header.
// Requests are correlated with replies by ID only, so replies may arrive in
// any order. A request with ID 0 is a notification and never answered; a
// handler that returns a nil result sends no reply either.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrClosed is returned for calls on a connection whose channel is gone.
var ErrClosed = errors.New("rpc: connection closed")

// Envelope is the unit sent over a Channel.
type Envelope struct {
	ID      uint64             `msgpack:"id"`
	Type    string             `msgpack:"type"`
	Reply   bool               `msgpack:"reply,omitempty"`
	Error   string             `msgpack:"error,omitempty"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// RemoteError is a handler failure reported by the peer.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.Type, e.Message)
}

// Handler serves one message type. A nil result sends no reply.
type Handler func(ctx context.Context, payload msgpack.RawMessage) (any, error)

// Typed adapts fn into a Handler that decodes the payload into Req.
func Typed[Req any](fn func(ctx context.Context, req Req) (any, error)) Handler {
	return func(ctx context.Context, payload msgpack.RawMessage) (any, error) {
		var req Req
		if len(payload) > 0 {
			if err := msgpack.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("decode %T: %w", req, err)
			}
		}
		return fn(ctx, req)
	}
}

// Conn is one end of an RPC connection.
type Conn struct {
	ch Channel

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]chan *Envelope
	handlers map[string]Handler

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps ch. Serve must run for replies and requests to be processed.
func NewConn(ch Channel) *Conn {
	return &Conn{
		ch:       ch,
		pending:  make(map[uint64]chan *Envelope),
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// Handle registers h for messages of type typ.
func (c *Conn) Handle(typ string, h Handler) {
	c.mu.Lock()
	c.handlers[typ] = h
	c.mu.Unlock()
}

// Serve reads the channel until it fails or the connection is closed.
// Handlers run on the Serve goroutine, one message at a time. Serve returns
// nil when the peer hung up cleanly.
func (c *Conn) Serve(ctx context.Context) error {
	for {
		raw, err := c.ch.Recv()
		if err != nil {
			local := c.isClosed()
			c.shutdown(err)
			if local || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		var env Envelope
		if err := msgpack.Unmarshal(raw, &env); err != nil {
			c.shutdown(err)
			return fmt.Errorf("rpc: decode envelope: %w", err)
		}
		if env.Reply {
			c.deliver(&env)
			continue
		}
		c.dispatch(ctx, &env)
	}
}

func (c *Conn) deliver(env *Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.mu.Unlock()
	if ok {
		ch <- env
	}
}

func (c *Conn) dispatch(ctx context.Context, env *Envelope) {
	c.mu.Lock()
	h, ok := c.handlers[env.Type]
	c.mu.Unlock()

	var (
		result any
		err    error
	)
	if !ok {
		err = fmt.Errorf("no handler for %q", env.Type)
	} else {
		result, err = h(ctx, env.Payload)
	}
	if env.ID == 0 {
		return
	}
	reply := Envelope{ID: env.ID, Type: env.Type, Reply: true}
	switch {
	case err != nil:
		reply.Error = err.Error()
	case result == nil:
		return
	default:
		payload, encErr := msgpack.Marshal(result)
		if encErr != nil {
			reply.Error = encErr.Error()
		} else {
			reply.Payload = payload
		}
	}
	// a failed send surfaces through Serve's next Recv
	_ = c.send(&reply)
}

func (c *Conn) send(env *Envelope) error {
	data, err := msgpack.Marshal(env)
	if err != nil {
		return err
	}
	if err := c.ch.Send(data); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

// Call sends a request and waits for its reply, decoding the reply payload
// into resp when resp is non-nil.
func (c *Conn) Call(ctx context.Context, typ string, req, resp any) error {
	payload, err := msgpack.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}

	replyCh := make(chan *Envelope, 1)
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return c.closedErr()
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = replyCh
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.send(&Envelope{ID: id, Type: typ, Payload: payload}); err != nil {
		forget()
		return err
	}

	select {
	case reply := <-replyCh:
		if reply.Error != "" {
			return &RemoteError{Type: typ, Message: reply.Error}
		}
		if resp == nil || len(reply.Payload) == 0 {
			return nil
		}
		if err := msgpack.Unmarshal(reply.Payload, resp); err != nil {
			return fmt.Errorf("decode %s reply: %w", typ, err)
		}
		return nil
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	}
}

// Notify sends a message that is never answered.
func (c *Conn) Notify(typ string, msg any) error {
	if c.isClosed() {
		return c.closedErr()
	}
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	return c.send(&Envelope{Type: typ, Payload: payload})
}

// Close closes the channel; pending and future calls fail with ErrClosed.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return c.ch.Close()
}

// Done is closed once the connection is unusable.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection closed, or nil while it is open or when it
// was closed locally.
func (c *Conn) Err() error {
	if !c.isClosed() {
		return nil
	}
	return c.closeErr
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.done)
	})
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) closedErr() error {
	if c.closeErr != nil && !errors.Is(c.closeErr, io.EOF) {
		return fmt.Errorf("%w: %w", ErrClosed, c.closeErr)
	}
	return ErrClosed
}
