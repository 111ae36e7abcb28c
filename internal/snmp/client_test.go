package snmp_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/golangsnmp/snmpcollect/internal/snmp"
	"github.com/golangsnmp/snmpcollect/internal/snmptest"
	"github.com/golangsnmp/snmpcollect/internal/testutil"
)

var (
	sysDescr  = snmp.MustParseOID("1.3.6.1.2.1.1.1.0")
	sysUpTime = snmp.MustParseOID("1.3.6.1.2.1.1.3.0")
	sysName   = snmp.MustParseOID("1.3.6.1.2.1.1.5.0")
	ifDescr   = snmp.MustParseOID("1.3.6.1.2.1.2.2.1.2")
)

func newAgent(opts ...snmptest.Option) *snmptest.Agent {
	a := snmptest.New(opts...)
	a.Set("1.3.6.1.2.1.1.1.0", snmp.String("test device"))
	a.Set("1.3.6.1.2.1.1.3.0", snmp.TimeTicks(4200))
	a.Set("1.3.6.1.2.1.1.5.0", snmp.String("sw1"))
	a.Set("1.3.6.1.2.1.2.2.1.2.1", snmp.String("eth0"))
	a.Set("1.3.6.1.2.1.2.2.1.2.2", snmp.String("eth1"))
	a.Set("1.3.6.1.2.1.2.2.1.10.1", snmp.Counter32(100))
	a.Set("1.3.6.1.2.1.2.2.1.10.2", snmp.Counter32(200))
	return a
}

func newClient(a *snmptest.Agent, creds snmp.Credentials, opts ...snmp.Option) *snmp.Client {
	opts = append([]snmp.Option{
		snmp.WithDialer(a.Dial),
		snmp.WithTimeout(50 * time.Millisecond),
		snmp.WithRetries(2),
	}, opts...)
	return snmp.NewClient("agent:161", creds, opts...)
}

func TestClientGetV2c(t *testing.T) {
	a := newAgent()
	c := newClient(a, snmp.CommunityV2c{Community: "public"})
	defer c.Close()

	vbs, err := c.Get(context.Background(), []snmp.OID{sysDescr, sysName})
	testutil.NoError(t, err)
	testutil.Len(t, vbs, 2)
	testutil.Equal(t, "test device", string(vbs[0].Value.Bytes))
	testutil.Equal(t, "sw1", string(vbs[1].Value.Bytes))

	st := c.Stats()
	testutil.Equal(t, uint64(1), st.Requests)
	testutil.Equal(t, uint64(0), st.Timeouts)
}

func TestClientGetMissingInstanceV2c(t *testing.T) {
	a := newAgent()
	c := newClient(a, snmp.CommunityV2c{Community: "public"})

	vbs, err := c.Get(context.Background(), []snmp.OID{ifDescr.Append(9), snmp.MustParseOID("1.3.6.1.9.9.0")})
	testutil.NoError(t, err)
	testutil.Equal(t, snmp.TypeNoSuchInstance, vbs[0].Value.Type)
	testutil.Equal(t, snmp.TypeNoSuchObject, vbs[1].Value.Type)
}

func TestClientWrongCommunityTimesOut(t *testing.T) {
	a := newAgent()
	c := newClient(a, snmp.CommunityV2c{Community: "wrong"}, snmp.WithRetries(0))

	_, err := c.Get(context.Background(), []snmp.OID{sysDescr})
	testutil.ErrorIs(t, err, snmp.ErrTimeout)
}

func TestClientDiscardsStrayReply(t *testing.T) {
	a := newAgent()
	a.StrayNext(1)
	c := newClient(a, snmp.CommunityV2c{Community: "public"})

	vbs, err := c.Get(context.Background(), []snmp.OID{sysName})
	testutil.NoError(t, err)
	testutil.Equal(t, "sw1", string(vbs[0].Value.Bytes))

	st := c.Stats()
	testutil.Equal(t, uint64(2), st.Requests, "requests")
	testutil.Equal(t, uint64(1), st.Discarded, "discarded")
	testutil.Equal(t, uint64(1), st.Timeouts, "timeouts")

	reqs := a.Requests()
	testutil.Len(t, reqs, 2)
	testutil.Equal(t, reqs[0].RequestID, reqs[1].RequestID, "retransmission keeps the request ID")
}

func TestClientTimeoutAfterRetries(t *testing.T) {
	a := newAgent()
	a.DropNext(10)
	c := newClient(a, snmp.CommunityV2c{Community: "public"}, snmp.WithRetries(2))

	start := time.Now()
	_, err := c.Get(context.Background(), []snmp.OID{sysDescr})
	testutil.ErrorIs(t, err, snmp.ErrTimeout)
	testutil.Equal(t, 3, a.Received(), "datagrams sent")
	testutil.Equal(t, uint64(3), c.Stats().Timeouts)
	testutil.True(t, time.Since(start) >= 150*time.Millisecond, "each attempt waits the full timeout")
}

func TestClientContextCancel(t *testing.T) {
	a := newAgent()
	a.DropNext(10)
	c := newClient(a, snmp.CommunityV2c{Community: "public"}, snmp.WithTimeout(10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Get(ctx, []snmp.OID{sysDescr})
	testutil.ErrorIs(t, err, context.Canceled)
	testutil.True(t, time.Since(start) < 5*time.Second, "cancellation should unblock the read")
}

func TestClientUsableAfterCancel(t *testing.T) {
	a := newAgent()
	a.DropNext(1)
	c := newClient(a, snmp.CommunityV2c{Community: "public"}, snmp.WithTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := c.Get(ctx, []snmp.OID{sysDescr})
	testutil.ErrorIs(t, err, context.Canceled)

	// The cancelled request's deadline reset must not leak into this one.
	for range 20 {
		vbs, err := c.Get(context.Background(), []snmp.OID{sysName})
		testutil.NoError(t, err)
		testutil.Equal(t, "sw1", string(vbs[0].Value.Bytes))
	}
	testutil.Equal(t, uint64(0), c.Stats().Timeouts)
}

func TestClientGetNextAndBulk(t *testing.T) {
	a := newAgent()
	c := newClient(a, snmp.CommunityV2c{Community: "public"})
	ctx := context.Background()

	vbs, err := c.GetNext(ctx, []snmp.OID{ifDescr})
	testutil.NoError(t, err)
	testutil.Equal(t, "1.3.6.1.2.1.2.2.1.2.1", vbs[0].Name.String())

	vbs, err = c.GetBulk(ctx, 1, 3, []snmp.OID{sysUpTime, ifDescr})
	testutil.NoError(t, err)
	testutil.Equal(t, "1.3.6.1.2.1.1.5.0", vbs[0].Name.String(), "non-repeater")
	testutil.Equal(t, "1.3.6.1.2.1.2.2.1.2.1", vbs[1].Name.String())
	testutil.Equal(t, "1.3.6.1.2.1.2.2.1.2.2", vbs[2].Name.String())
	testutil.Equal(t, "1.3.6.1.2.1.2.2.1.10.1", vbs[3].Name.String(), "walks past the column")
}

func TestClientV1(t *testing.T) {
	a := newAgent()
	c := newClient(a, snmp.CommunityV1{Community: "public"})
	ctx := context.Background()

	_, err := c.GetBulk(ctx, 0, 10, []snmp.OID{ifDescr})
	testutil.Error(t, err)

	_, err = c.Get(ctx, []snmp.OID{sysDescr, snmp.MustParseOID("1.3.6.1.9.9.0")})
	testutil.True(t, snmp.IsNoSuchName(err), "got %v", err)
	var re *snmp.ResponseError
	testutil.True(t, errors.As(err, &re))
	testutil.Equal(t, 2, re.Index)
}

func v3User(auth snmp.AuthProtocol, priv snmp.PrivProtocol) snmp.USM {
	u := snmp.USM{UserName: "poller"}
	if auth != snmp.NoAuth {
		u.AuthProtocol = auth
		u.AuthPassphrase = "auth-passphrase"
	}
	if priv != snmp.NoPriv {
		u.PrivProtocol = priv
		u.PrivPassphrase = "priv-passphrase"
	}
	return u
}

func TestClientV3Discovery(t *testing.T) {
	tests := []struct {
		auth snmp.AuthProtocol
		priv snmp.PrivProtocol
	}{
		{snmp.NoAuth, snmp.NoPriv},
		{snmp.MD5, snmp.NoPriv},
		{snmp.SHA, snmp.DES},
		{snmp.SHA, snmp.AES},
		{snmp.MD5, snmp.AES256},
		{snmp.SHA224, snmp.AES192},
		{snmp.SHA256, snmp.AES256},
		{snmp.SHA384, snmp.AES},
		{snmp.SHA512, snmp.AES256},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s-%s", tt.auth, tt.priv), func(t *testing.T) {
			u := v3User(tt.auth, tt.priv)
			a := newAgent(snmptest.WithUser(u))
			c := newClient(a, u)

			vbs, err := c.Get(context.Background(), []snmp.OID{sysName})
			testutil.NoError(t, err)
			testutil.Equal(t, "sw1", string(vbs[0].Value.Bytes))

			sc := c.Security()
			testutil.Equal(t, snmp.EngineSynchronized, sc.State())
			testutil.True(t, bytes.Equal(a.EngineID(), sc.EngineID()), "engine ID learned")
			testutil.Equal(t, a.EngineBoots(), sc.Boots())
			testutil.Equal(t, uint64(1), c.Stats().Discoveries)

			// A second request reuses the discovered engine.
			_, err = c.Get(context.Background(), []snmp.OID{sysDescr})
			testutil.NoError(t, err)
			testutil.Equal(t, uint64(1), c.Stats().Discoveries)
			testutil.Equal(t, 1, a.Reports(4), "one unknownEngineID report")
		})
	}
}

func TestClientV3TimeWindowResync(t *testing.T) {
	u := v3User(snmp.SHA, snmp.AES)
	a := newAgent(snmptest.WithUser(u))
	c := newClient(a, u)
	ctx := context.Background()

	_, err := c.Get(ctx, []snmp.OID{sysName})
	testutil.NoError(t, err)

	a.ExpireTimeWindowOnce()
	_, err = c.Get(ctx, []snmp.OID{sysName})
	testutil.NoError(t, err)
	testutil.Equal(t, uint64(1), c.Stats().Resyncs)
	testutil.Equal(t, 1, a.Reports(2))
	testutil.Equal(t, uint64(1), c.Stats().Discoveries, "resync does not rediscover")
}

func TestClientV3ResyncAdoptsAgentTime(t *testing.T) {
	agentClock := clock.NewMock()
	clientClock := clock.NewMock()
	u := v3User(snmp.SHA, snmp.AES)
	a := newAgent(snmptest.WithUser(u), snmptest.WithClock(agentClock))
	c := newClient(a, u, snmp.WithClock(clientClock))
	ctx := context.Background()

	_, err := c.Get(ctx, []snmp.OID{sysName})
	testutil.NoError(t, err)

	// Only the agent's clock moves, well past the 150 second window.
	agentClock.Add(time.Hour)
	_, err = c.Get(ctx, []snmp.OID{sysName})
	testutil.NoError(t, err)

	testutil.Equal(t, uint64(1), c.Stats().Resyncs)
	testutil.Equal(t, 1, a.Reports(2))
	sc := c.Security()
	testutil.Equal(t, snmp.EngineSynchronized, sc.State())
	testutil.Equal(t, a.EngineBoots(), sc.Boots())
	testutil.Equal(t, a.EngineTime(), sc.Time())
	testutil.Equal(t, uint32(1000+3600), sc.Time())
}

func TestClientV3IgnoresUnauthenticatedTimeWindowReport(t *testing.T) {
	u := v3User(snmp.SHA, snmp.AES)
	a := newAgent(snmptest.WithUser(u))
	c := newClient(a, u)
	ctx := context.Background()

	_, err := c.Get(ctx, []snmp.OID{sysName})
	testutil.NoError(t, err)

	a.ForgeTimeWindowOnce(99, 7)
	_, err = c.Get(ctx, []snmp.OID{sysName})
	testutil.ErrorIs(t, err, snmp.ErrNotInTimeWindow)

	sc := c.Security()
	testutil.Equal(t, snmp.EngineSynchronized, sc.State())
	testutil.Equal(t, a.EngineBoots(), sc.Boots())
	testutil.Equal(t, uint64(0), c.Stats().Resyncs)

	_, err = c.Get(ctx, []snmp.OID{sysName})
	testutil.NoError(t, err)
}

func TestClientV3AgentReboot(t *testing.T) {
	u := v3User(snmp.SHA256, snmp.AES)
	a := newAgent(snmptest.WithUser(u))
	c := newClient(a, u)
	ctx := context.Background()

	_, err := c.Get(ctx, []snmp.OID{sysName})
	testutil.NoError(t, err)
	testutil.Equal(t, uint32(1), c.Security().Boots())

	a.Reboot()
	_, err = c.Get(ctx, []snmp.OID{sysName})
	testutil.NoError(t, err)
	testutil.Equal(t, uint32(2), c.Security().Boots())
	testutil.Equal(t, uint64(1), c.Stats().Resyncs)
}

func TestClientV3EngineTimeAdvancesWithClock(t *testing.T) {
	mock := clock.NewMock()
	u := v3User(snmp.SHA, snmp.NoPriv)
	a := newAgent(snmptest.WithUser(u), snmptest.WithClock(mock))
	c := newClient(a, u, snmp.WithClock(mock))
	ctx := context.Background()

	_, err := c.Get(ctx, []snmp.OID{sysName})
	testutil.NoError(t, err)

	// Far beyond the 150 second window: only a local estimate keeps the
	// client in sync.
	mock.Add(time.Hour)
	_, err = c.Get(ctx, []snmp.OID{sysName})
	testutil.NoError(t, err)
	testutil.Equal(t, uint64(0), c.Stats().Resyncs)
	testutil.Equal(t, a.EngineTime(), c.Security().Time())
}

func TestClientV3WrongPassphrase(t *testing.T) {
	agentUser := v3User(snmp.SHA, snmp.NoPriv)
	clientUser := agentUser
	clientUser.AuthPassphrase = "a-different-passphrase"
	a := newAgent(snmptest.WithUser(agentUser))
	c := newClient(a, clientUser)

	_, err := c.Get(context.Background(), []snmp.OID{sysName})
	testutil.ErrorIs(t, err, snmp.ErrAuthFailure)
	testutil.Equal(t, 1, a.Reports(5))
}

func TestClientV3UnknownUser(t *testing.T) {
	a := newAgent(snmptest.WithUser(v3User(snmp.SHA, snmp.NoPriv)))
	u := v3User(snmp.SHA, snmp.NoPriv)
	u.UserName = "intruder"
	c := newClient(a, u)

	_, err := c.Get(context.Background(), []snmp.OID{sysName})
	testutil.ErrorIs(t, err, snmp.ErrUnknownUser)
}

func TestClientV3SecurityLevelMismatch(t *testing.T) {
	a := newAgent(snmptest.WithUser(v3User(snmp.SHA, snmp.AES)))
	c := newClient(a, v3User(snmp.SHA, snmp.NoPriv))

	_, err := c.Get(context.Background(), []snmp.OID{sysName})
	testutil.ErrorIs(t, err, snmp.ErrUnsupportedSecLevel)
}

func TestClientV3DiscoveryTimeout(t *testing.T) {
	u := v3User(snmp.SHA, snmp.AES)
	a := newAgent(snmptest.WithUser(u))
	a.DropNext(10)
	c := newClient(a, u, snmp.WithRetries(1))

	_, err := c.Get(context.Background(), []snmp.OID{sysName})
	testutil.ErrorIs(t, err, snmp.ErrTimeout)
	testutil.Equal(t, snmp.EngineDiscovering, c.Security().State())
}

func TestClientOverUDP(t *testing.T) {
	u := v3User(snmp.SHA, snmp.AES)
	a := newAgent(snmptest.WithUser(u))
	addr := a.ListenUDP(t)

	c := snmp.NewClient(addr, u, snmp.WithTimeout(time.Second), snmp.WithRetries(1))
	defer c.Close()

	vbs, err := c.Get(context.Background(), []snmp.OID{sysDescr, sysUpTime})
	testutil.NoError(t, err)
	testutil.Equal(t, "test device", string(vbs[0].Value.Bytes))
	testutil.Equal(t, uint64(4200), vbs[1].Value.Uint)
}
