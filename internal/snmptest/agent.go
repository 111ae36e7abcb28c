// Package snmptest provides an in-process SNMP agent for tests. It serves a
// fixed set of varbinds over an in-memory connection or a real UDP socket
// and can inject transport and USM faults.
package snmptest

import (
	"bytes"
	"errors"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/golangsnmp/snmpcollect/internal/snmp"
)

// timeWindow is the USM acceptance window in seconds (RFC 3414 3.2 7b).
const timeWindow = 150

var usmStats = snmp.OID{1, 3, 6, 1, 6, 3, 15, 1, 1}

const (
	statUnsupportedSecLevels = 1
	statNotInTimeWindows     = 2
	statUnknownUserNames     = 3
	statUnknownEngineIDs     = 4
	statWrongDigests         = 5
	statDecryptionErrors     = 6
)

// Agent is a minimal read-only SNMP agent.
type Agent struct {
	mu sync.Mutex

	community string
	user      *snmp.USM
	keys      *snmp.Keys
	engineID  []byte
	boots     uint32
	clock     clock.Clock
	epoch     time.Time
	timeBase  uint32
	salt      uint64

	data []snmp.VarBind

	drop       int
	stray      int
	expireOnce bool
	forged     *forgedTiming

	received int
	requests []snmp.PDU
	reports  map[int]int
}

// Option configures an Agent.
type Option func(*Agent)

// WithCommunity sets the accepted v1/v2c community (default "public").
func WithCommunity(s string) Option {
	return func(a *Agent) { a.community = s }
}

// WithUser enables SNMPv3 for one USM user.
func WithUser(u snmp.USM) Option {
	return func(a *Agent) { a.user = &u }
}

// WithEngine sets the authoritative engine ID, boots and initial time.
func WithEngine(id []byte, boots, engineTime uint32) Option {
	return func(a *Agent) {
		a.engineID = id
		a.boots = boots
		a.timeBase = engineTime
	}
}

// WithClock sets the clock that drives the engine time.
func WithClock(clk clock.Clock) Option {
	return func(a *Agent) { a.clock = clk }
}

// New returns an agent with no data.
func New(opts ...Option) *Agent {
	a := &Agent{
		community: "public",
		engineID:  []byte{0x80, 0x00, 0x1f, 0x88, 0x04, 's', 'n', 'm', 'p', 't', 'e', 's', 't'},
		boots:     1,
		timeBase:  1000,
		clock:     clock.New(),
		reports:   make(map[int]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.epoch = a.clock.Now()
	if a.user != nil {
		a.keys = snmp.LocalizedKeys(*a.user, a.engineID)
	}
	return a
}

// Set stores a value, replacing any existing one at the same OID.
func (a *Agent) Set(oid string, v snmp.Value) {
	a.SetOID(snmp.MustParseOID(oid), v)
}

// SetOID is Set for a parsed OID.
func (a *Agent) SetOID(o snmp.OID, v snmp.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, found := a.search(o)
	if found {
		a.data[i].Value = v
		return
	}
	a.data = slices.Insert(a.data, i, snmp.VarBind{Name: o, Value: v})
}

// DropNext discards the next n requests without answering.
func (a *Agent) DropNext(n int) {
	a.mu.Lock()
	a.drop += n
	a.mu.Unlock()
}

// StrayNext replaces the next n replies with replies that carry a request
// ID (and v3 message ID) the client never sent.
func (a *Agent) StrayNext(n int) {
	a.mu.Lock()
	a.stray += n
	a.mu.Unlock()
}

// ExpireTimeWindowOnce answers the next authenticated request with a
// notInTimeWindow report.
func (a *Agent) ExpireTimeWindowOnce() {
	a.mu.Lock()
	a.expireOnce = true
	a.mu.Unlock()
}

type forgedTiming struct {
	boots, engineTime uint32
}

// ForgeTimeWindowOnce answers the next authenticated request with an
// unauthenticated notInTimeWindow report carrying the given boots and time
// instead of the agent's own.
func (a *Agent) ForgeTimeWindowOnce(boots, engineTime uint32) {
	a.mu.Lock()
	a.forged = &forgedTiming{boots: boots, engineTime: engineTime}
	a.mu.Unlock()
}

// Reboot increments engine boots and restarts engine time at zero.
func (a *Agent) Reboot() {
	a.mu.Lock()
	a.boots++
	a.timeBase = 0
	a.epoch = a.clock.Now()
	a.mu.Unlock()
}

// EngineBoots and EngineTime report the agent's current USM clock.
func (a *Agent) EngineBoots() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.boots
}

func (a *Agent) EngineTime() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engineTime()
}

func (a *Agent) EngineID() []byte { return a.engineID }

func (a *Agent) engineTime() uint32 {
	return a.timeBase + uint32(a.clock.Since(a.epoch)/time.Second)
}

// Received returns the number of datagrams received, dropped ones included.
func (a *Agent) Received() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.received
}

// Requests returns the PDUs the agent processed, in arrival order.
func (a *Agent) Requests() []snmp.PDU {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.requests)
}

// Reports returns how many reports carried the given usmStats counter.
func (a *Agent) Reports(counter int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reports[counter]
}

// Handle processes one request datagram and returns the reply datagrams.
func (a *Agent) Handle(req []byte) [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received++
	if a.drop > 0 {
		a.drop--
		return nil
	}

	m, err := snmp.Unmarshal(bytes.Clone(req), a.keyFunc)
	if m == nil {
		return nil
	}
	if m.Version == snmp.Version3 {
		return a.handleV3(m, err)
	}
	if m.Community != a.community {
		return nil
	}
	if m.Version == snmp.Version1 && m.PDU.Type == snmp.GetBulkRequest {
		return nil
	}
	a.requests = append(a.requests, m.PDU)
	resp := &snmp.Message{Version: m.Version, Community: m.Community, PDU: a.process(&m.PDU, m.Version)}
	return a.reply(resp, nil)
}

func (a *Agent) keyFunc(sp *snmp.SecurityParams) (*snmp.Keys, error) {
	if a.user == nil || sp.UserName != a.user.UserName {
		return nil, snmp.ErrUnknownUser
	}
	return a.keys, nil
}

func (a *Agent) handleV3(m *snmp.Message, err error) [][]byte {
	if a.user == nil {
		return nil
	}
	switch {
	case err == nil:
	case errors.Is(err, snmp.ErrUnknownUser):
		return a.report(m, statUnknownUserNames, 0)
	case errors.Is(err, snmp.ErrAuthFailure):
		return a.report(m, statWrongDigests, 0)
	case errors.Is(err, snmp.ErrDecrypt):
		return a.report(m, statDecryptionErrors, 0)
	default:
		return nil
	}

	sp := &m.Security
	if len(sp.EngineID) == 0 || !bytes.Equal(sp.EngineID, a.engineID) {
		return a.report(m, statUnknownEngineIDs, 0)
	}
	if sp.UserName != a.user.UserName {
		return a.report(m, statUnknownUserNames, 0)
	}
	level := m.Flags & (snmp.FlagAuth | snmp.FlagPriv)
	if level != a.user.Flags() {
		return a.report(m, statUnsupportedSecLevels, 0)
	}
	if level&snmp.FlagAuth != 0 {
		if f := a.forged; f != nil {
			a.forged = nil
			resp := a.reportMessage(m, statNotInTimeWindows, 0)
			resp.Security.EngineBoots = f.boots
			resp.Security.EngineTime = f.engineTime
			return a.marshalReport(resp)
		}
		now := a.engineTime()
		if a.expireOnce || sp.EngineBoots != a.boots || diff(sp.EngineTime, now) > timeWindow {
			a.expireOnce = false
			return a.report(m, statNotInTimeWindows, snmp.FlagAuth)
		}
	}

	a.requests = append(a.requests, m.PDU)
	resp := a.envelope(m, level)
	resp.PDU = a.process(&m.PDU, snmp.Version3)
	return a.reply(resp, a.keys)
}

func diff(x, y uint32) uint32 {
	if x > y {
		return x - y
	}
	return y - x
}

func (a *Agent) envelope(req *snmp.Message, flags snmp.MsgFlags) *snmp.Message {
	resp := &snmp.Message{
		Version: snmp.Version3,
		MsgID:   req.MsgID,
		Flags:   flags,
		Security: snmp.SecurityParams{
			EngineID:    a.engineID,
			EngineBoots: a.boots,
			EngineTime:  a.engineTime(),
			UserName:    req.Security.UserName,
		},
		ContextEngineID: a.engineID,
		ContextName:     req.ContextName,
	}
	if flags&snmp.FlagPriv != 0 {
		a.salt++
		salt := make([]byte, 8)
		for i := range salt {
			salt[i] = byte(a.salt >> (56 - 8*i))
		}
		resp.Security.PrivParams = salt
	}
	return resp
}

func (a *Agent) report(req *snmp.Message, counter int, flags snmp.MsgFlags) [][]byte {
	return a.marshalReport(a.reportMessage(req, counter, flags))
}

func (a *Agent) reportMessage(req *snmp.Message, counter int, flags snmp.MsgFlags) *snmp.Message {
	a.reports[counter]++
	resp := a.envelope(req, flags)
	if counter == statUnknownEngineIDs {
		resp.Security.UserName = ""
	}
	resp.PDU = snmp.PDU{
		Type:      snmp.Report,
		RequestID: req.PDU.RequestID,
		VarBinds: []snmp.VarBind{{
			Name:  usmStats.Append(uint32(counter), 0),
			Value: snmp.Counter32(uint32(a.reports[counter])),
		}},
	}
	return resp
}

func (a *Agent) marshalReport(resp *snmp.Message) [][]byte {
	var keys *snmp.Keys
	if resp.Flags&snmp.FlagAuth != 0 {
		keys = a.keys
	}
	b, err := resp.Marshal(keys)
	if err != nil {
		return nil
	}
	return [][]byte{b}
}

func (a *Agent) reply(resp *snmp.Message, keys *snmp.Keys) [][]byte {
	if a.stray > 0 {
		a.stray--
		resp.PDU.RequestID += 1000
		resp.MsgID += 1000
	}
	b, err := resp.Marshal(keys)
	if err != nil {
		return nil
	}
	return [][]byte{b}
}

func (a *Agent) process(req *snmp.PDU, version snmp.Version) snmp.PDU {
	resp := snmp.PDU{Type: snmp.Response, RequestID: req.RequestID}
	switch req.Type {
	case snmp.GetRequest:
		for i, vb := range req.VarBinds {
			v, ok := a.lookup(vb.Name)
			if !ok {
				if version == snmp.Version1 {
					return noSuchName(req, i)
				}
				v = a.missing(vb.Name)
			}
			resp.VarBinds = append(resp.VarBinds, snmp.VarBind{Name: vb.Name, Value: v})
		}
	case snmp.GetNextRequest:
		for i, vb := range req.VarBinds {
			next, ok := a.next(vb.Name)
			if !ok {
				if version == snmp.Version1 {
					return noSuchName(req, i)
				}
				next = snmp.VarBind{Name: vb.Name, Value: snmp.EndOfMibView()}
			}
			resp.VarBinds = append(resp.VarBinds, next)
		}
	case snmp.GetBulkRequest:
		nonRep := min(max(req.NonRepeaters, 0), len(req.VarBinds))
		for _, vb := range req.VarBinds[:nonRep] {
			next, ok := a.next(vb.Name)
			if !ok {
				next = snmp.VarBind{Name: vb.Name, Value: snmp.EndOfMibView()}
			}
			resp.VarBinds = append(resp.VarBinds, next)
		}
		cur := req.Names()[nonRep:]
		for r := 0; r < max(req.MaxRepetitions, 0) && len(cur) > 0; r++ {
			allEnd := true
			for j, name := range cur {
				next, ok := a.next(name)
				if !ok {
					next = snmp.VarBind{Name: name, Value: snmp.EndOfMibView()}
				} else {
					allEnd = false
				}
				resp.VarBinds = append(resp.VarBinds, next)
				cur[j] = next.Name
			}
			if allEnd {
				break
			}
		}
	default:
		resp.ErrorStatus = snmp.GenErr
	}
	return resp
}

func noSuchName(req *snmp.PDU, i int) snmp.PDU {
	return snmp.PDU{
		Type:        snmp.Response,
		RequestID:   req.RequestID,
		ErrorStatus: snmp.NoSuchName,
		ErrorIndex:  i + 1,
		VarBinds:    req.VarBinds,
	}
}

func (a *Agent) search(o snmp.OID) (int, bool) {
	return slices.BinarySearchFunc(a.data, o, func(vb snmp.VarBind, t snmp.OID) int {
		return vb.Name.Compare(t)
	})
}

func (a *Agent) lookup(o snmp.OID) (snmp.Value, bool) {
	i, found := a.search(o)
	if !found {
		return snmp.Value{}, false
	}
	return a.data[i].Value, true
}

// missing distinguishes an unknown object from an absent instance of a
// known object, as v2 agents do.
func (a *Agent) missing(o snmp.OID) snmp.Value {
	if len(o) > 1 {
		parent := o[:len(o)-1]
		if i, _ := a.search(parent); i < len(a.data) && a.data[i].Name.HasPrefix(parent) {
			return snmp.NoSuchInstance()
		}
	}
	return snmp.NoSuchObject()
}

func (a *Agent) next(o snmp.OID) (snmp.VarBind, bool) {
	i, found := a.search(o)
	if found {
		i++
	}
	if i >= len(a.data) {
		return snmp.VarBind{}, false
	}
	return a.data[i], true
}

// Serve answers requests on pc until it is closed.
func (a *Agent) Serve(pc net.PacketConn) error {
	buf := make([]byte, 65535)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		for _, resp := range a.Handle(buf[:n]) {
			if _, err := pc.WriteTo(resp, addr); err != nil {
				return err
			}
		}
	}
}
