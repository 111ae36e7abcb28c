package snmp

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

// EngineState tracks what a SecurityContext knows about the remote
// authoritative engine.
type EngineState int

const (
	EngineUnknown EngineState = iota
	EngineDiscovering
	EngineSynchronized
	EngineStale
)

func (s EngineState) String() string {
	switch s {
	case EngineUnknown:
		return "unknown"
	case EngineDiscovering:
		return "discovering"
	case EngineSynchronized:
		return "synchronized"
	case EngineStale:
		return "stale"
	}
	return fmt.Sprintf("EngineState(%d)", int(s))
}

// SecurityContext is the per-device USM state: the authoritative engine
// identity, its boots and time as last observed, and keys localized to it.
// It is not safe for concurrent use.
type SecurityContext struct {
	user  USM
	clock clock.Clock

	state      EngineState
	engineID   []byte
	boots      uint32
	engineTime uint32
	syncedAt   time.Time

	master *masterKeys
	keys   *Keys
	salt   uint64
}

// NewSecurityContext returns a context in the Unknown state. Master keys
// are derived on first use.
func NewSecurityContext(u USM, clk clock.Clock) *SecurityContext {
	if clk == nil {
		clk = clock.New()
	}
	var seed [8]byte
	_, _ = rand.Read(seed[:])
	return &SecurityContext{
		user:  u,
		clock: clk,
		salt:  binary.BigEndian.Uint64(seed[:]),
	}
}

func (c *SecurityContext) State() EngineState { return c.state }

func (c *SecurityContext) EngineID() []byte { return c.engineID }

func (c *SecurityContext) Boots() uint32 { return c.boots }

// Time estimates the remote engine time from the last observation and
// the local clock.
func (c *SecurityContext) Time() uint32 {
	if c.syncedAt.IsZero() {
		return c.engineTime
	}
	elapsed := uint64(c.clock.Since(c.syncedAt) / time.Second)
	t := uint64(c.engineTime) + elapsed
	if t > math.MaxInt32 {
		return math.MaxInt32
	}
	return uint32(t)
}

// Keys returns the keys localized to the current engine ID, or nil before
// discovery.
func (c *SecurityContext) Keys() *Keys { return c.keys }

// startDiscovery forgets the engine and moves to Discovering.
func (c *SecurityContext) startDiscovery() {
	c.state = EngineDiscovering
	c.engineID = nil
	c.keys = nil
	c.syncedAt = time.Time{}
}

// markStale records that the remote engine rejected our time estimate.
func (c *SecurityContext) markStale() {
	c.state = EngineStale
}

// synchronize adopts the engine identity and clock from a report or
// response. Keys are relocalized only when the engine ID changes.
func (c *SecurityContext) synchronize(engineID []byte, boots, engineTime uint32) {
	if c.keys == nil || !bytes.Equal(engineID, c.engineID) {
		if c.master == nil {
			mk := newMasterKeys(c.user)
			c.master = &mk
		}
		c.engineID = bytes.Clone(engineID)
		c.keys = c.master.localize(c.user, c.engineID)
	}
	c.boots = boots
	c.engineTime = engineTime
	c.syncedAt = c.clock.Now()
	c.state = EngineSynchronized
}

// observe advances the clock from an authentic message (RFC 3414 3.2 7b).
func (c *SecurityContext) observe(boots, engineTime uint32) {
	if boots > c.boots || (boots == c.boots && engineTime > c.Time()) {
		c.boots = boots
		c.engineTime = engineTime
		c.syncedAt = c.clock.Now()
	}
}

// nextSalt returns fresh msgPrivacyParameters. The counter is never reset
// so no IV repeats for the lifetime of the context.
func (c *SecurityContext) nextSalt() []byte {
	c.salt++
	return saltFor(c.user.PrivProtocol, c.boots, c.salt)
}

// keyFunc serves Unmarshal: only our own user at the discovered engine
// has keys.
func (c *SecurityContext) keyFunc(sp *SecurityParams) (*Keys, error) {
	if sp.UserName != c.user.UserName || c.keys == nil {
		return nil, nil
	}
	return c.keys, nil
}
