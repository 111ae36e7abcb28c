package snmptest

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/golangsnmp/snmpcollect/internal/snmp"
)

// Dial returns an in-memory snmp.Conn wired to the agent. Its signature
// matches snmp.DialFunc.
func (a *Agent) Dial(ctx context.Context, address string) (snmp.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &pipeConn{agent: a, wake: make(chan struct{}, 1)}, nil
}

// pipeConn delivers each written datagram to the agent synchronously and
// queues the replies for Read.
type pipeConn struct {
	agent *Agent

	mu       sync.Mutex
	queue    [][]byte
	deadline time.Time
	closed   bool
	wake     chan struct{}
}

func (c *pipeConn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *pipeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}
	replies := c.agent.Handle(b)
	if len(replies) == 0 {
		return len(b), nil
	}
	c.mu.Lock()
	c.queue = append(c.queue, replies...)
	c.mu.Unlock()
	c.signal()
	return len(b), nil
}

func (c *pipeConn) Read(b []byte) (int, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return 0, net.ErrClosed
		}
		if len(c.queue) > 0 {
			n := copy(b, c.queue[0])
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return n, nil
		}
		deadline := c.deadline
		c.mu.Unlock()

		var timer *time.Timer
		var timeout <-chan time.Time
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(wait)
			timeout = timer.C
		}
		select {
		case <-c.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timeout:
			return 0, os.ErrDeadlineExceeded
		}
	}
}

func (c *pipeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	c.signal()
	return nil
}

func (c *pipeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()
	return nil
}
