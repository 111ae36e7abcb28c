package snmp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"os"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/golangsnmp/snmpcollect/internal/types"
)

const (
	// DefaultPort is the standard SNMP agent port.
	DefaultPort = 161

	DefaultTimeout = 10 * time.Second
	DefaultRetries = 2

	maxDatagram = 65535
)

// usmStatsPrefix is usmStats in SNMP-USER-BASED-SM-MIB; reports carry one
// of its counters to say why a request was rejected.
var usmStatsPrefix = OID{1, 3, 6, 1, 6, 3, 15, 1, 1}

const (
	usmStatsUnsupportedSecLevels = 1
	usmStatsNotInTimeWindows     = 2
	usmStatsUnknownUserNames     = 3
	usmStatsUnknownEngineIDs     = 4
	usmStatsWrongDigests         = 5
	usmStatsDecryptionErrors     = 6
)

// Conn is the datagram transport a Client talks over. A connected
// *net.UDPConn satisfies it.
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a Conn to address (host:port).
type DialFunc func(ctx context.Context, address string) (Conn, error)

// DialUDP connects a UDP socket to address.
func DialUDP(ctx context.Context, address string) (Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "udp", address)
}

// Stats counts transport events for one client.
type Stats struct {
	Requests    uint64 // datagrams sent, including retransmissions
	Timeouts    uint64 // attempts that saw no matching reply
	Discarded   uint64 // datagrams that matched no outstanding request
	Resyncs     uint64 // notInTimeWindow recoveries
	Discoveries uint64 // engine discovery exchanges
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt response timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries sets the number of retransmissions after the first attempt.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithClock sets the clock used for engine time estimation.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithLogger sets the logger for debug/trace output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = types.Component(l, "snmp") }
}

// WithDialer replaces the UDP dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// Client issues requests to one agent. It owns the agent's USM security
// context and is not safe for concurrent use; callers serialize access.
type Client struct {
	address string
	creds   Credentials
	timeout time.Duration
	retries int
	clock   clock.Clock
	log     types.Logger
	dial    DialFunc

	conn  Conn
	usm   *SecurityContext
	reqID int32
	msgID int32
	stats Stats
}

// NewClient returns a client for the agent at address. No I/O happens
// until the first request.
func NewClient(address string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		address: address,
		creds:   creds,
		timeout: DefaultTimeout,
		retries: DefaultRetries,
		dial:    DialUDP,
		reqID:   rand.Int32N(math.MaxInt32-1) + 1,
		msgID:   rand.Int32N(math.MaxInt32-1) + 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if u, ok := creds.(USM); ok {
		c.usm = NewSecurityContext(u, c.clock)
	}
	return c
}

func (c *Client) Address() string { return c.address }

func (c *Client) Version() Version { return c.creds.Version() }

// Stats returns a snapshot of the transport counters.
func (c *Client) Stats() Stats { return c.stats }

// Security returns the USM context, or nil for community-based clients.
func (c *Client) Security() *SecurityContext { return c.usm }

// Close releases the socket. The client reconnects on the next request.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Get fetches exact instances.
func (c *Client) Get(ctx context.Context, oids []OID) ([]VarBind, error) {
	return c.request(ctx, &PDU{Type: GetRequest, VarBinds: nullBinds(oids)})
}

// GetNext fetches the lexicographic successor of each OID.
func (c *Client) GetNext(ctx context.Context, oids []OID) ([]VarBind, error) {
	return c.request(ctx, &PDU{Type: GetNextRequest, VarBinds: nullBinds(oids)})
}

// GetBulk issues a GETBULK. Repetitions for the repeating OIDs come back
// interleaved: row r, column i is at nonRepeaters + r*len(repeaters) + i.
func (c *Client) GetBulk(ctx context.Context, nonRepeaters, maxRepetitions int, oids []OID) ([]VarBind, error) {
	if c.Version() == Version1 {
		return nil, errors.New("snmp: GETBULK requires SNMPv2c or SNMPv3")
	}
	return c.request(ctx, &PDU{
		Type:           GetBulkRequest,
		NonRepeaters:   nonRepeaters,
		MaxRepetitions: maxRepetitions,
		VarBinds:       nullBinds(oids),
	})
}

func nullBinds(oids []OID) []VarBind {
	vbs := make([]VarBind, len(oids))
	for i, o := range oids {
		vbs[i] = VarBind{Name: o, Value: Null()}
	}
	return vbs
}

func (c *Client) request(ctx context.Context, pdu *PDU) ([]VarBind, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	conn := c.conn
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = conn.SetReadDeadline(time.Unix(1, 0))
	})
	// A callback that has started must finish before the next request sets
	// its own deadline.
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	var resp *PDU
	var err error
	if c.usm != nil {
		resp, err = c.sendV3(ctx, pdu)
	} else {
		pdu.RequestID = c.nextRequestID()
		var m *Message
		if m, err = c.roundTrip(ctx, pdu, 0); err == nil {
			resp = &m.PDU
		}
	}
	if err != nil {
		return nil, err
	}
	if resp.ErrorStatus != NoError {
		return resp.VarBinds, &ResponseError{Status: resp.ErrorStatus, Index: resp.ErrorIndex}
	}
	return resp.VarBinds, nil
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	conn, err := c.dial(ctx, c.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.address, err)
	}
	c.conn = conn
	return nil
}

func (c *Client) nextRequestID() int32 {
	c.reqID = c.reqID%(math.MaxInt32-1) + 1
	return c.reqID
}

func (c *Client) nextMsgID() int32 {
	c.msgID = c.msgID%(math.MaxInt32-1) + 1
	return c.msgID
}

// sendV3 runs the USM state machine around one request: discovery when the
// engine is unknown, one resynchronization on notInTimeWindow, and one
// rediscovery on unknownEngineID.
func (c *Client) sendV3(ctx context.Context, pdu *PDU) (*PDU, error) {
	if c.usm.State() != EngineSynchronized {
		if err := c.discover(ctx); err != nil {
			return nil, err
		}
	}
	pdu.RequestID = c.nextRequestID()
	flags := c.usm.user.Flags() | FlagReportable

	var resynced, rediscovered bool
	for {
		m, err := c.roundTrip(ctx, pdu, flags)
		if err != nil {
			return nil, err
		}
		if m.PDU.Type != Report {
			if m.Flags&FlagAuth != 0 {
				c.usm.observe(m.Security.EngineBoots, m.Security.EngineTime)
			}
			return &m.PDU, nil
		}

		switch counter := reportCounter(&m.PDU); counter {
		case usmStatsNotInTimeWindows:
			if m.Flags&FlagAuth == 0 {
				// Timing from an unauthenticated report is not trusted.
				return nil, fmt.Errorf("%s: %w: unauthenticated report", c.address, ErrNotInTimeWindow)
			}
			if resynced {
				return nil, fmt.Errorf("%s: %w after resynchronization", c.address, ErrNotInTimeWindow)
			}
			resynced = true
			c.stats.Resyncs++
			c.usm.markStale()
			if !bytes.Equal(m.Security.EngineID, c.usm.EngineID()) {
				if err := c.discover(ctx); err != nil {
					return nil, err
				}
				continue
			}
			c.usm.synchronize(m.Security.EngineID, m.Security.EngineBoots, m.Security.EngineTime)
			c.log.Debug("engine time resynchronized",
				slog.String("agent", c.address),
				slog.Uint64("boots", uint64(m.Security.EngineBoots)),
				slog.Uint64("time", uint64(m.Security.EngineTime)))
		case usmStatsUnknownEngineIDs:
			if rediscovered {
				return nil, fmt.Errorf("%s: %w after rediscovery", c.address, ErrUnknownEngineID)
			}
			rediscovered = true
			if err := c.discover(ctx); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%s: %w", c.address, reportError(&m.PDU, counter))
		}
	}
}

// discover learns the authoritative engine ID, boots and time with an
// unauthenticated probe.
func (c *Client) discover(ctx context.Context) error {
	c.usm.startDiscovery()
	c.stats.Discoveries++
	probe := &PDU{Type: GetRequest, RequestID: c.nextRequestID()}
	m, err := c.roundTrip(ctx, probe, FlagReportable)
	if err != nil {
		return fmt.Errorf("discover engine at %s: %w", c.address, err)
	}
	if m.PDU.Type != Report || len(m.Security.EngineID) == 0 {
		return fmt.Errorf("%s: %w: no engine ID in %s", c.address, ErrDiscovery, m.PDU.Type)
	}
	c.usm.synchronize(m.Security.EngineID, m.Security.EngineBoots, m.Security.EngineTime)
	c.log.Debug("engine discovered",
		slog.String("agent", c.address),
		slog.String("engine_id", fmt.Sprintf("%x", m.Security.EngineID)),
		slog.Uint64("boots", uint64(m.Security.EngineBoots)))
	return nil
}

func reportCounter(p *PDU) int {
	if len(p.VarBinds) == 0 {
		return 0
	}
	name := p.VarBinds[0].Name
	if !name.HasPrefix(usmStatsPrefix) || len(name) <= len(usmStatsPrefix) {
		return 0
	}
	return int(name[len(usmStatsPrefix)])
}

func reportError(p *PDU, counter int) error {
	switch counter {
	case usmStatsUnsupportedSecLevels:
		return ErrUnsupportedSecLevel
	case usmStatsUnknownUserNames:
		return ErrUnknownUser
	case usmStatsWrongDigests:
		return fmt.Errorf("%w: agent reported wrong digest", ErrAuthFailure)
	case usmStatsDecryptionErrors:
		return fmt.Errorf("%w: agent could not decrypt request", ErrDecrypt)
	}
	if len(p.VarBinds) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSecurity, p.VarBinds[0].Name)
	}
	return ErrUnknownSecurity
}

// envelope wraps pdu for one transmission attempt.
func (c *Client) envelope(pdu *PDU, flags MsgFlags) (*Message, *Keys) {
	switch cr := c.creds.(type) {
	case CommunityV1:
		return &Message{Version: Version1, Community: cr.Community, PDU: *pdu}, nil
	case CommunityV2c:
		return &Message{Version: Version2c, Community: cr.Community, PDU: *pdu}, nil
	}
	m := &Message{Version: Version3, MsgID: c.nextMsgID(), Flags: flags, PDU: *pdu}
	if c.usm.State() == EngineDiscovering {
		return m, nil
	}
	m.Security = SecurityParams{
		EngineID:    c.usm.EngineID(),
		EngineBoots: c.usm.Boots(),
		EngineTime:  c.usm.Time(),
		UserName:    c.usm.user.UserName,
	}
	m.ContextEngineID = c.usm.EngineID()
	if flags&FlagPriv != 0 {
		m.Security.PrivParams = c.usm.nextSalt()
	}
	return m, c.usm.Keys()
}

// roundTrip transmits pdu up to retries+1 times, keeping its request ID,
// and returns the first reply that matches it.
func (c *Client) roundTrip(ctx context.Context, pdu *PDU, flags MsgFlags) (*Message, error) {
	var sent []int32
	buf := make([]byte, maxDatagram)
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, keys := c.envelope(pdu, flags)
		sent = append(sent, msg.MsgID)
		b, err := msg.Marshal(keys)
		if err != nil {
			return nil, err
		}
		c.stats.Requests++
		if c.log.TraceEnabled() {
			c.log.Trace("send",
				slog.String("agent", c.address),
				slog.String("pdu", pdu.Type.String()),
				slog.Int("request_id", int(pdu.RequestID)),
				slog.Int("attempt", attempt+1))
		}
		if _, err := c.conn.Write(b); err != nil {
			return nil, fmt.Errorf("send to %s: %w", c.address, err)
		}

		resp, err := c.await(ctx, buf, pdu, sent, flags)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return nil, err
		}
		c.stats.Timeouts++
		c.log.Debug("no response",
			slog.String("agent", c.address),
			slog.String("pdu", pdu.Type.String()),
			slog.Int("attempt", attempt+1),
			slog.Int("attempts", c.retries+1))
	}
	return nil, fmt.Errorf("%s to %s after %d attempts: %w", pdu.Type, c.address, c.retries+1, ErrTimeout)
}

// await reads until a datagram matching the outstanding request arrives or
// the attempt times out. Anything else is discarded.
func (c *Client) await(ctx context.Context, buf []byte, pdu *PDU, sent []int32, flags MsgFlags) (*Message, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	// A cancellation racing the deadline above must still unblock Read.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys KeyFunc
	if c.usm != nil {
		keys = c.usm.keyFunc
	}
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("receive from %s: %w", c.address, err)
		}
		m, err := Unmarshal(slices.Clone(buf[:n]), keys)
		if err != nil {
			c.stats.Discarded++
			c.log.Debug("discarding datagram", slog.String("agent", c.address), slog.Any("error", err))
			continue
		}
		if !c.matches(m, pdu, sent, flags) {
			c.stats.Discarded++
			if c.log.TraceEnabled() {
				c.log.Trace("discarding unmatched reply",
					slog.String("agent", c.address),
					slog.Int("request_id", int(m.PDU.RequestID)),
					slog.Int("msg_id", int(m.MsgID)))
			}
			continue
		}
		return m, nil
	}
}

func (c *Client) matches(m *Message, req *PDU, sent []int32, flags MsgFlags) bool {
	if m.Version != c.Version() {
		return false
	}
	if m.Version == Version3 {
		if !slices.Contains(sent, m.MsgID) {
			return false
		}
		if m.PDU.Type == Report {
			return true
		}
		const level = FlagAuth | FlagPriv
		if m.Flags&level != flags&level {
			return false
		}
	}
	if m.PDU.Type != Response || m.PDU.RequestID != req.RequestID {
		return false
	}
	if req.Type == GetRequest && m.PDU.ErrorStatus == NoError {
		if len(m.PDU.VarBinds) != len(req.VarBinds) {
			return false
		}
		for i, vb := range m.PDU.VarBinds {
			if !vb.Name.Equal(req.VarBinds[i].Name) {
				return false
			}
		}
	}
	return true
}
