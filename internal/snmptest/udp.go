package snmptest

import (
	"net"
	"testing"
)

// ListenUDP serves the agent on an ephemeral loopback port until the test
// ends and returns the host:port address.
func (a *Agent) ListenUDP(tb testing.TB) string {
	tb.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Serve(pc)
	}()
	tb.Cleanup(func() {
		_ = pc.Close()
		<-done
	})
	return pc.LocalAddr().String()
}
