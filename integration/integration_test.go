// Package integration runs the collector end to end: simulated agents on
// real UDP sockets, a Graphite server on a real TCP socket, and MIB
// resolution through the MIB loaders.
//
// # File Organization
//
//   - integration_test.go: shared helpers
//   - scenarios_test.go: table collection, sink outage, request timeout, SNMPv3
//   - config_test.go: shipped example configurations and MIB-backed resolution
package integration

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/golangsnmp/snmpcollect"
	"github.com/golangsnmp/snmpcollect/internal/config"
	"github.com/golangsnmp/snmpcollect/internal/snmp"
	"github.com/golangsnmp/snmpcollect/internal/snmptest"
)

// OIDs served by newIfAgent.
const (
	sysUpTime     = "1.3.6.1.2.1.1.3"
	ifName        = "1.3.6.1.2.1.31.1.1.1.1"
	ifHCInOctets  = "1.3.6.1.2.1.31.1.1.1.6"
	ifHCInUcast   = "1.3.6.1.2.1.31.1.1.1.7"
	ifHCOutOctets = "1.3.6.1.2.1.31.1.1.1.10"
)

// newIfAgent returns an agent with a two-row ifXTable, including a
// column between the collected ones that must not leak into the output.
func newIfAgent(opts ...snmptest.Option) *snmptest.Agent {
	a := snmptest.New(opts...)
	a.Set(sysUpTime+".0", snmp.TimeTicks(123456))
	a.Set(ifName+".1", snmp.String("eth0"))
	a.Set(ifName+".2", snmp.String("eth1"))
	a.Set(ifHCInOctets+".1", snmp.Counter64(1000))
	a.Set(ifHCInOctets+".2", snmp.Counter64(2000))
	a.Set(ifHCInUcast+".1", snmp.Counter64(7))
	a.Set(ifHCInUcast+".2", snmp.Counter64(7))
	a.Set(ifHCOutOctets+".1", snmp.Counter64(3000))
	a.Set(ifHCOutOctets+".2", snmp.Counter64(4000))
	return a
}

// graphite is a plaintext-protocol server recording every line.
type graphite struct {
	ln    net.Listener
	mu    sync.Mutex
	lines []string
}

func newGraphite(t *testing.T) *graphite {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	g := &graphite{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go g.serve(conn)
		}
	}()
	return g
}

func (g *graphite) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		g.mu.Lock()
		g.lines = append(g.lines, sc.Text())
		g.mu.Unlock()
	}
}

func (g *graphite) port() int { return g.ln.Addr().(*net.TCPAddr).Port }

func (g *graphite) received() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.lines...)
}

// values maps each received path to its latest value.
func (g *graphite) values(t *testing.T) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, line := range g.received() {
		f := strings.Fields(line)
		require.Len(t, f, 3, "malformed line %q", line)
		out[f[0]] = f[1]
	}
	return out
}

func parseConfig(t *testing.T, format string, args ...any) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(format, args...)), t.Name())
	require.NoError(t, err)
	return cfg
}

// runCollector runs c until the test ends.
func runCollector(t *testing.T, c *snmpcollect.Collector) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("collector did not stop")
		}
	})
}
