// Package poller collects the configured data definitions from one device.
//
// A Device owns its snmp.Client (and with it the USM security context) for
// its whole lifetime. Poll is not safe for concurrent use; the scheduler
// never runs two polls of the same device at once.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/golangsnmp/snmpcollect/internal/resolver"
	"github.com/golangsnmp/snmpcollect/internal/snmp"
	"github.com/golangsnmp/snmpcollect/internal/types"
)

const (
	DefaultMaxRepetitions = 25
	DefaultMaxOIDs        = 60
	DefaultInterval       = 60 * time.Second
)

// ErrDeadline is returned when a poll cycle overruns its deadline. Nothing
// collected during the cycle is reported.
var ErrDeadline = errors.New("poll deadline exceeded")

// Target describes one device. It is immutable once loaded.
type Target struct {
	Name           string
	Address        string // host or host:port
	Credentials    snmp.Credentials
	Timeout        time.Duration
	Retries        int
	Interval       time.Duration
	MaxRepetitions int
	MaxOIDs        int
	Deadline       time.Duration // zero derives one from timeout and retries
	FillMissing    bool
	Definitions    []*resolver.Definition
}

// PollDeadline returns the explicit deadline, or
// timeout × (retries+1) × (definitions+1).
func (t Target) PollDeadline() time.Duration {
	if t.Deadline > 0 {
		return t.Deadline
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = snmp.DefaultTimeout
	}
	return timeout * time.Duration(max(t.Retries, 0)+1) * time.Duration(len(t.Definitions)+1)
}

// HostPort returns Address with the default SNMP port added when it has
// none.
func (t Target) HostPort() string {
	if _, _, err := net.SplitHostPort(t.Address); err == nil {
		return t.Address
	}
	return net.JoinHostPort(t.Address, strconv.Itoa(snmp.DefaultPort))
}

// Value is one collected value.
type Value struct {
	Definition  *resolver.Definition
	Instance    string // row label; empty when HasInstance is false
	HasInstance bool
	Column      resolver.Symbol
	Value       snmp.Value
}

// Result is the outcome of one successful poll cycle.
type Result struct {
	Device string
	Time   time.Time
	Values []Value
}

// Option configures a Device.
type Option func(*Device)

// WithClock sets the clock used for deadlines and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(d *Device) { d.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.logger = l }
}

// WithDialer replaces the UDP dialer of the device's client.
func WithDialer(dial snmp.DialFunc) Option {
	return func(d *Device) { d.dial = dial }
}

// Device polls one target.
type Device struct {
	target Target
	client *snmp.Client
	clock  clock.Clock
	logger *slog.Logger
	log    types.Logger
	dial   snmp.DialFunc
}

// NewDevice returns a Device for t. No I/O happens until the first Poll.
func NewDevice(t Target, opts ...Option) *Device {
	d := &Device{target: t}
	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = clock.New()
	}
	if d.target.MaxRepetitions <= 0 {
		d.target.MaxRepetitions = DefaultMaxRepetitions
	}
	if d.target.MaxOIDs <= 0 {
		d.target.MaxOIDs = DefaultMaxOIDs
	}
	if d.target.Interval <= 0 {
		d.target.Interval = DefaultInterval
	}
	d.log = types.Component(d.logger, "poller").With(slog.String("device", t.Name))

	copts := []snmp.Option{
		snmp.WithClock(d.clock),
		snmp.WithLogger(d.logger),
		snmp.WithRetries(t.Retries),
	}
	if t.Timeout > 0 {
		copts = append(copts, snmp.WithTimeout(t.Timeout))
	}
	if d.dial != nil {
		copts = append(copts, snmp.WithDialer(d.dial))
	}
	d.client = snmp.NewClient(d.target.HostPort(), t.Credentials, copts...)
	return d
}

// Target returns the device's configuration with defaults applied.
func (d *Device) Target() Target { return d.target }

// Stats returns the client's transport counters.
func (d *Device) Stats() snmp.Stats { return d.client.Stats() }

// Security returns the device's USM context, nil for v1/v2c.
func (d *Device) Security() *snmp.SecurityContext { return d.client.Security() }

// Close releases the device's socket.
func (d *Device) Close() error { return d.client.Close() }

// Poll collects every definition of the target once. A failure of any
// request fails the whole cycle.
func (d *Device) Poll(ctx context.Context) (*Result, error) {
	// The deadline fires on d.clock and cancels with ErrDeadline as cause.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := d.clock.AfterFunc(d.target.PollDeadline(), func() { cancel(ErrDeadline) })
	defer timer.Stop()

	res := &Result{Device: d.target.Name, Time: d.clock.Now()}
	for _, def := range d.target.Definitions {
		var (
			values []Value
			err    error
		)
		if def.Table {
			values, err = d.pollTable(ctx, def)
		} else {
			values, err = d.pollScalars(ctx, def)
		}
		if err != nil {
			if errors.Is(context.Cause(ctx), ErrDeadline) {
				return nil, fmt.Errorf("%s: %w", d.target.Name, ErrDeadline)
			}
			return nil, fmt.Errorf("%s: data %q: %w", d.target.Name, def.Name, err)
		}
		res.Values = append(res.Values, values...)
	}
	if errors.Is(context.Cause(ctx), ErrDeadline) {
		return nil, fmt.Errorf("%s: %w", d.target.Name, ErrDeadline)
	}
	d.log.Debug("poll complete",
		slog.Int("values", len(res.Values)),
		slog.Duration("elapsed", d.clock.Since(res.Time)))
	return res, nil
}

// pollScalars issues GETs for the instance (if any) and value OIDs of a
// scalar definition.
func (d *Device) pollScalars(ctx context.Context, def *resolver.Definition) ([]Value, error) {
	cols := def.Columns()
	oids := make([]snmp.OID, len(cols))
	for i, sym := range cols {
		oids[i] = resolver.ScalarOID(sym)
	}
	got, err := d.get(ctx, oids)
	if err != nil {
		return nil, err
	}

	var instance string
	if def.Instance != nil {
		v := got[0]
		if v.IsException() {
			d.log.Debug("instance missing, dropping data",
				slog.String("data", def.Name),
				slog.String("oid", oids[0].String()))
			return nil, nil
		}
		instance = v.Label()
		got = got[1:]
	}

	values := make([]Value, 0, len(def.Values))
	for i, v := range got {
		if v.IsException() {
			d.log.Debug("value missing",
				slog.String("data", def.Name),
				slog.String("oid", resolver.ScalarOID(def.Values[i]).String()),
				slog.String("type", v.Type.String()))
			continue
		}
		values = append(values, Value{
			Definition:  def,
			Instance:    instance,
			HasInstance: def.Instance != nil,
			Column:      def.Values[i],
			Value:       v,
		})
	}
	return values, nil
}

// get fetches oids in batches of at most MaxOIDs and returns one value per
// OID, in order. Objects the agent does not have come back as exception
// values; a v1 noSuchName is turned into NoSuchObject for the offending
// OID and the rest of the batch is re-requested.
func (d *Device) get(ctx context.Context, oids []snmp.OID) ([]snmp.Value, error) {
	out := make([]snmp.Value, 0, len(oids))
	for start := 0; start < len(oids); start += d.target.MaxOIDs {
		batch := oids[start:min(start+d.target.MaxOIDs, len(oids))]
		vals, err := d.getBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

func (d *Device) getBatch(ctx context.Context, oids []snmp.OID) ([]snmp.Value, error) {
	vals := make([]snmp.Value, len(oids))
	pending := make([]int, len(oids))
	for i := range pending {
		pending[i] = i
	}
	for len(pending) > 0 {
		req := make([]snmp.OID, len(pending))
		for i, p := range pending {
			req[i] = oids[p]
		}
		vbs, err := d.client.Get(ctx, req)
		var rerr *snmp.ResponseError
		if errors.As(err, &rerr) && rerr.Status == snmp.NoSuchName &&
			rerr.Index >= 1 && rerr.Index <= len(pending) {
			missing := pending[rerr.Index-1]
			vals[missing] = snmp.NoSuchObject()
			pending = append(pending[:rerr.Index-1:rerr.Index-1], pending[rerr.Index:]...)
			continue
		}
		if err != nil {
			return nil, err
		}
		for i, p := range pending {
			vals[p] = vbs[i].Value
		}
		break
	}
	return vals, nil
}
