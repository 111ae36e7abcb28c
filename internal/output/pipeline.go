// Package output delivers samples to a Graphite/Carbon server over the
// plaintext protocol.
//
// Publish only appends to a bounded in-memory buffer; a single writer
// goroutine (Run) owns the TCP connection. While the server is down
// samples accumulate and the oldest are dropped once the buffer is full.
// A batch whose write fails is put back at the head of the buffer and
// resent after reconnecting, so a sample may be delivered twice but is
// never reordered. Before writing on a connection that has been idle, the
// writer checks whether the server closed it and reconnects if so. A batch
// written into a connection that breaks afterwards can still be lost.
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/golangsnmp/snmpcollect/internal/metric"
	"github.com/golangsnmp/snmpcollect/internal/types"
)

const (
	DefaultPort         = 2003
	DefaultBatchSize    = 500
	DefaultBackoffMax   = 60 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultDialTimeout  = 10 * time.Second

	initialBackoff = 500 * time.Millisecond

	// idleCheck is how long a connection may sit unused before it is
	// checked for a close by the server.
	idleCheck   = time.Second
	probeWindow = time.Millisecond
)

// DialFunc opens the connection to the server.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config configures a Pipeline.
type Config struct {
	Address      string // host:port
	BufferSize   int
	BatchSize    int
	BackoffMax   time.Duration
	WriteTimeout time.Duration
}

// Address joins host and port, defaulting the port to 2003.
func Address(host string, port int) string {
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Published  uint64
	Sent       uint64
	Dropped    uint64
	Reconnects uint64
	Buffered   int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock driving reconnect backoff.
func WithClock(clk clock.Clock) Option {
	return func(p *Pipeline) { p.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = types.Component(l, "output") }
}

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option {
	return func(p *Pipeline) { p.dial = d }
}

// Pipeline buffers samples and streams them to the server.
type Pipeline struct {
	cfg   Config
	buf   *Buffer
	clock clock.Clock
	log   types.Logger
	dial  DialFunc

	conn      net.Conn  // owned by Run, then Flush
	connected bool      // a connection was established at least once
	lastUse   time.Time // last connect or write on conn

	published  atomic.Uint64
	sent       atomic.Uint64
	reconnects atomic.Uint64
}

// NewPipeline returns a pipeline for cfg. Nothing is dialed until Run.
func NewPipeline(cfg Config, opts ...Option) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	p := &Pipeline{cfg: cfg, buf: NewBuffer(cfg.BufferSize)}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if p.dial == nil {
		d := &net.Dialer{Timeout: DefaultDialTimeout}
		p.dial = d.DialContext
	}
	return p
}

// Publish queues samples for delivery. It never blocks on the network.
func (p *Pipeline) Publish(samples []metric.Sample) {
	p.published.Add(uint64(len(samples)))
	if dropped := p.buf.Push(samples...); dropped > 0 {
		p.log.Warn("output buffer full, dropped oldest samples",
			slog.Int("dropped", dropped),
			slog.Int("capacity", p.buf.Cap()))
	}
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Published:  p.published.Load(),
		Sent:       p.sent.Load(),
		Dropped:    p.buf.Dropped(),
		Reconnects: p.reconnects.Load(),
		Buffered:   p.buf.Len(),
	}
}

// Run connects and drains the buffer until ctx is done. It returns nil on
// cancellation; the connection stays open for Flush.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		if p.conn == nil {
			if err := p.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		for p.buf.Len() == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-p.buf.Ready():
			}
		}
		if p.closedByPeer() {
			p.log.Info("output server closed idle connection, reconnecting",
				slog.String("address", p.cfg.Address))
			p.closeConn()
			continue
		}
		batch := p.buf.Pop(p.cfg.BatchSize)
		if err := p.write(batch); err != nil {
			p.log.Warn("write failed, reconnecting",
				slog.String("address", p.cfg.Address),
				slog.Int("batch", len(batch)),
				slog.Any("error", err))
			p.buf.Unshift(batch)
			p.closeConn()
		}
	}
}

// Flush makes one attempt to send everything still buffered: a single dial
// if there is no connection, then writes until the buffer is empty or a
// write fails. It must not run concurrently with Run. The connection is
// closed afterwards.
func (p *Pipeline) Flush(ctx context.Context) error {
	defer p.closeConn()
	if p.buf.Len() == 0 {
		return nil
	}
	if p.closedByPeer() {
		p.closeConn()
	}
	if p.conn == nil {
		conn, err := p.dial(ctx, "tcp", p.cfg.Address)
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		p.conn = conn
		p.lastUse = p.clock.Now()
	}
	for p.buf.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flush: %d samples unsent: %w", p.buf.Len(), err)
		}
		batch := p.buf.Pop(p.cfg.BatchSize)
		if err := p.write(batch); err != nil {
			p.buf.Unshift(batch)
			return fmt.Errorf("flush: %d samples unsent: %w", p.buf.Len(), err)
		}
	}
	return nil
}

func (p *Pipeline) connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = p.cfg.BackoffMax
	b.MaxElapsedTime = 0
	b.Clock = p.clock
	b.Reset()

	var attempts int
	op := func() error {
		attempts++
		conn, err := p.dial(ctx, "tcp", p.cfg.Address)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		p.conn = conn
		p.lastUse = p.clock.Now()
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.log.Warn("cannot connect to output server",
			slog.String("address", p.cfg.Address),
			slog.Int("attempt", attempts),
			slog.Duration("retry_in", wait),
			slog.Any("error", err))
	}
	err := backoff.RetryNotifyWithTimer(op, backoff.WithContext(b, ctx), notify, &clockTimer{clock: p.clock})
	if err != nil {
		return err
	}
	if p.connected {
		p.reconnects.Add(1)
	}
	p.connected = true
	p.log.Info("connected to output server",
		slog.String("address", p.cfg.Address),
		slog.Int("attempts", attempts))
	return nil
}

func (p *Pipeline) write(batch []metric.Sample) error {
	if p.conn == nil {
		return errors.New("not connected")
	}
	buf := make([]byte, 0, len(batch)*64)
	for _, s := range batch {
		buf = s.AppendLine(buf)
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return err
	}
	if _, err := p.conn.Write(buf); err != nil {
		return err
	}
	p.sent.Add(uint64(len(batch)))
	p.lastUse = p.clock.Now()
	if p.log.TraceEnabled() {
		p.log.Trace("batch sent", slog.Int("samples", len(batch)))
	}
	return nil
}

// closedByPeer reports whether a connection idle for at least idleCheck
// has been closed by the server. The server never sends anything, so a
// short read that ends in anything but a timeout means the connection is
// gone.
func (p *Pipeline) closedByPeer() bool {
	if p.conn == nil || p.clock.Since(p.lastUse) < idleCheck {
		return false
	}
	if err := p.conn.SetReadDeadline(time.Now().Add(probeWindow)); err != nil {
		return true
	}
	var b [1]byte
	_, err := p.conn.Read(b[:])
	_ = p.conn.SetReadDeadline(time.Time{})
	if err == nil || errors.Is(err, os.ErrDeadlineExceeded) {
		p.lastUse = p.clock.Now()
		return false
	}
	return true
}

func (p *Pipeline) closeConn() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// clockTimer adapts a clock.Clock timer to backoff.Timer.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	t.timer = t.clock.Timer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}
