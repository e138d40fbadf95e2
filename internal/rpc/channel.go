package rpc

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// Channel is a duplex, message-oriented byte transport. Send may be called
// concurrently; Recv is called from a single goroutine.
type Channel interface {
	Send(msg []byte) error
	Recv() ([]byte, error)
	Close() error
}

type streamChannel struct {
	in      *bufio.Reader
	sendMu  sync.Mutex
	out     *bufio.Writer
	closers []io.Closer

	closeOnce sync.Once
	closeErr  error
}

// NewStreamChannel frames messages over a byte stream pair, such as a child
// process's stdout and stdin. closers are closed by Close.
func NewStreamChannel(r io.Reader, w io.Writer, closers ...io.Closer) Channel {
	return &streamChannel{
		in:      bufio.NewReader(r),
		out:     bufio.NewWriter(w),
		closers: closers,
	}
}

func (c *streamChannel) Send(msg []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := writeFrame(c.out, msg); err != nil {
		return err
	}
	return c.out.Flush()
}

func (c *streamChannel) Recv() ([]byte, error) {
	return readFrame(c.in)
}

func (c *streamChannel) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, cl := range c.closers {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// Pipe returns two connected in-memory channels. Closing either end makes
// the other end's Recv fail with io.EOF.
func Pipe() (Channel, Channel) {
	abR, abW := io.Pipe()
	baR, baW := io.Pipe()
	a := NewStreamChannel(baR, abW, abW, baR)
	b := NewStreamChannel(abR, baW, baW, abR)
	return a, b
}
