package snmp_test

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/golangsnmp/snmpcollect/internal/snmp"
	"github.com/golangsnmp/snmpcollect/internal/snmptest"
	"github.com/golangsnmp/snmpcollect/internal/testutil"
)

// gosnmpClient points an independent SNMP implementation at addr so that
// our encoder and USM are checked against someone else's decoder.
func gosnmpClient(t *testing.T, addr string) *gosnmp.GoSNMP {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	testutil.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	testutil.NoError(t, err)
	return &gosnmp.GoSNMP{
		Target:  host,
		Port:    uint16(port),
		Timeout: time.Second,
		Retries: 1,
		MaxOids: gosnmp.MaxOids,
	}
}

func TestInteropV2c(t *testing.T) {
	a := newAgent()
	g := gosnmpClient(t, a.ListenUDP(t))
	g.Version = gosnmp.Version2c
	g.Community = "public"
	testutil.NoError(t, g.Connect())
	defer g.Conn.Close()

	pkt, err := g.Get([]string{sysDescr.String(), sysUpTime.String()})
	testutil.NoError(t, err)
	testutil.Len(t, pkt.Variables, 2)
	testutil.Equal(t, gosnmp.OctetString, pkt.Variables[0].Type)
	testutil.Equal(t, "test device", string(pkt.Variables[0].Value.([]byte)))
	testutil.Equal(t, gosnmp.TimeTicks, pkt.Variables[1].Type)
	testutil.Equal(t, "4200", gosnmp.ToBigInt(pkt.Variables[1].Value).String())

	pkt, err = g.GetBulk([]string{ifDescr.String()}, 0, 2)
	testutil.NoError(t, err)
	testutil.Len(t, pkt.Variables, 2)
	testutil.Equal(t, ".1.3.6.1.2.1.2.2.1.2.1", pkt.Variables[0].Name)
	testutil.Equal(t, "eth1", string(pkt.Variables[1].Value.([]byte)))
}

func TestInteropV3(t *testing.T) {
	tests := []struct {
		name  string
		auth  snmp.AuthProtocol
		priv  snmp.PrivProtocol
		gAuth gosnmp.SnmpV3AuthProtocol
		gPriv gosnmp.SnmpV3PrivProtocol
		level gosnmp.SnmpV3MsgFlags
	}{
		{"MD5-DES", snmp.MD5, snmp.DES, gosnmp.MD5, gosnmp.DES, gosnmp.AuthPriv},
		{"SHA-AES", snmp.SHA, snmp.AES, gosnmp.SHA, gosnmp.AES, gosnmp.AuthPriv},
		{"SHA256-noPriv", snmp.SHA256, snmp.NoPriv, gosnmp.SHA256, gosnmp.NoPriv, gosnmp.AuthNoPriv},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := v3User(tt.auth, tt.priv)
			a := newAgent(snmptest.WithUser(u))
			g := gosnmpClient(t, a.ListenUDP(t))
			g.Version = gosnmp.Version3
			g.SecurityModel = gosnmp.UserSecurityModel
			g.MsgFlags = tt.level
			g.SecurityParameters = &gosnmp.UsmSecurityParameters{
				UserName:                 u.UserName,
				AuthenticationProtocol:   tt.gAuth,
				AuthenticationPassphrase: u.AuthPassphrase,
				PrivacyProtocol:          tt.gPriv,
				PrivacyPassphrase:        u.PrivPassphrase,
			}
			testutil.NoError(t, g.Connect())
			defer g.Conn.Close()

			pkt, err := g.Get([]string{sysName.String()})
			testutil.NoError(t, err)
			testutil.Len(t, pkt.Variables, 1)
			testutil.Equal(t, "sw1", string(pkt.Variables[0].Value.([]byte)))
		})
	}
}
