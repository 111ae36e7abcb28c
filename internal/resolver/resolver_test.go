package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/golangsnmp/gomib"

	"github.com/golangsnmp/snmpcollect/internal/snmp"
	"github.com/golangsnmp/snmpcollect/internal/testutil"
)

func ifTable(t *testing.T) *Table {
	t.Helper()
	oid := snmp.MustParseOID
	return Flatten([]Entry{
		{Module: "SNMPv2-MIB", Label: "sysDescr", OID: oid("1.3.6.1.2.1.1.1"), Kind: KindScalar},
		{Module: "SNMPv2-MIB", Label: "sysUpTime", OID: oid("1.3.6.1.2.1.1.3"), Kind: KindScalar},
		{Module: "IF-MIB", Label: "ifTable", OID: oid("1.3.6.1.2.1.2.2"), Kind: KindTable},
		{Module: "IF-MIB", Label: "ifDescr", OID: oid("1.3.6.1.2.1.2.2.1.2"), Kind: KindColumn},
		{Module: "IF-MIB", Label: "ifName", OID: oid("1.3.6.1.2.1.31.1.1.1.1"), Kind: KindColumn},
		{Module: "IF-MIB", Label: "ifHCInOctets", OID: oid("1.3.6.1.2.1.31.1.1.1.6"), Kind: KindColumn},
		{Module: "IF-MIB", Label: "ifHCOutOctets", OID: oid("1.3.6.1.2.1.31.1.1.1.10"), Kind: KindColumn},
		{Module: "VENDOR-A-MIB", Label: "cpuLoad", OID: oid("1.3.6.1.4.1.1.1"), Kind: KindScalar},
		{Module: "VENDOR-B-MIB", Label: "cpuLoad", OID: oid("1.3.6.1.4.1.2.1"), Kind: KindScalar},
		{Module: "SNMPv2-TC"},
	})
}

func TestTableResolve(t *testing.T) {
	tab := ifTable(t)
	tests := []struct {
		name    string
		oid     string
		kind    Kind
		label   string
		index   string
		wantErr error
	}{
		{name: "IF-MIB::ifHCInOctets", oid: "1.3.6.1.2.1.31.1.1.1.6", kind: KindColumn, label: "ifHCInOctets"},
		{name: "ifName", oid: "1.3.6.1.2.1.31.1.1.1.1", kind: KindColumn, label: "ifName"},
		{name: "SNMPv2-MIB::sysUpTime.0", oid: "1.3.6.1.2.1.1.3", kind: KindScalar, label: "sysUpTime", index: "0"},
		{name: "1.3.6.1.2.1.1.5.0", oid: "1.3.6.1.2.1.1.5.0", kind: KindUnknown, label: "1.3.6.1.2.1.1.5.0"},
		{name: ".1.3.6.1.2.1.1.5.0", oid: "1.3.6.1.2.1.1.5.0", kind: KindUnknown, label: "1.3.6.1.2.1.1.5.0"},
		{name: "VENDOR-B-MIB::cpuLoad", oid: "1.3.6.1.4.1.2.1", kind: KindScalar, label: "cpuLoad"},
		{name: "cpuLoad", wantErr: ErrAmbiguous},
		{name: "IF-MIB::ifNope", wantErr: ErrNotFound},
		{name: "NOPE-MIB::ifName", wantErr: ErrNotFound},
		{name: "ifNope", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym, err := tab.Resolve(tt.name)
			if tt.wantErr != nil {
				testutil.ErrorIs(t, err, tt.wantErr)
				return
			}
			testutil.NoError(t, err)
			testutil.Equal(t, tt.oid, sym.OID.String())
			testutil.Equal(t, tt.kind, sym.Kind)
			testutil.Equal(t, tt.label, sym.Label)
			testutil.Equal(t, tt.name, sym.Name)
			testutil.Equal(t, tt.index, sym.Index.String())
		})
	}
}

func TestTableResolveBadSuffix(t *testing.T) {
	_, err := ifTable(t).Resolve("SNMPv2-MIB::sysUpTime.x")
	testutil.Error(t, err)
}

func TestTableModules(t *testing.T) {
	tab := ifTable(t)
	testutil.SliceEqual(t, []string{"IF-MIB", "SNMPv2-MIB", "SNMPv2-TC", "VENDOR-A-MIB", "VENDOR-B-MIB"}, tab.Modules())
	testutil.SliceEqual(t, []string{"HOST-RESOURCES-MIB"}, tab.Missing([]string{"IF-MIB", "HOST-RESOURCES-MIB", "SNMPv2-TC"}))
}

func TestStatic(t *testing.T) {
	tab, err := Static(map[string]string{
		"IF-MIB::ifName":   "1.3.6.1.2.1.31.1.1.1.1",
		"hrProcessorLoad":  "1.3.6.1.2.1.25.3.3.1.2",
		"SNMPv2-MIB::sysX": ".1.3.6.1.2.1.1.99",
	})
	testutil.NoError(t, err)

	sym, err := tab.Resolve("IF-MIB::ifName")
	testutil.NoError(t, err)
	testutil.Equal(t, "1.3.6.1.2.1.31.1.1.1.1", sym.OID.String())
	testutil.Equal(t, KindUnknown, sym.Kind)

	sym, err = tab.Resolve("hrProcessorLoad")
	testutil.NoError(t, err)
	testutil.Equal(t, "", sym.Module)

	_, err = Static(map[string]string{"bad": "1..2"})
	testutil.Error(t, err)
}

func TestCompile(t *testing.T) {
	tab := ifTable(t)

	d, err := Compile(tab, "ifmib_if_octets64", DataSpec{
		Table:    true,
		Instance: "IF-MIB::ifName",
		Values:   []string{"IF-MIB::ifHCInOctets", "IF-MIB::ifHCOutOctets"},
	})
	testutil.NoError(t, err)
	testutil.True(t, d.Table)
	testutil.Equal(t, "ifName", d.Instance.Label)
	cols := d.Columns()
	testutil.Len(t, cols, 3)
	testutil.Equal(t, "ifName", cols[0].Label)
	testutil.Equal(t, "ifHCOutOctets", cols[2].Label)

	d, err = Compile(tab, "system", DataSpec{Values: []string{"SNMPv2-MIB::sysUpTime", "1.3.6.1.2.1.1.5.0"}})
	testutil.NoError(t, err)
	testutil.True(t, d.Instance == nil)
	testutil.Len(t, d.Columns(), 2)
}

func TestCompileErrors(t *testing.T) {
	tab := ifTable(t)
	tests := []struct {
		name string
		spec DataSpec
		want string
	}{
		{"no values", DataSpec{Table: true, Instance: "ifName"}, "no values"},
		{"table without instance", DataSpec{Table: true, Values: []string{"ifDescr"}}, "instance column"},
		{"unknown symbol", DataSpec{Table: true, Instance: "ifName", Values: []string{"IF-MIB::ifBogus"}}, "IF-MIB::ifBogus"},
		{"scalar in table", DataSpec{Table: true, Instance: "ifName", Values: []string{"sysUpTime"}}, "not a table column"},
		{"column without index in scalar data", DataSpec{Values: []string{"ifDescr"}}, "instance suffix"},
		{"table object", DataSpec{Values: []string{"IF-MIB::ifTable"}}, "table"},
		{"suffix on column in table", DataSpec{Table: true, Instance: "ifName", Values: []string{"ifDescr.1"}}, "no instance suffix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tab, "broken", tt.spec)
			testutil.Error(t, err)
			testutil.Contains(t, err.Error(), `data "broken"`)
			testutil.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileColumnWithIndexAsScalar(t *testing.T) {
	d, err := Compile(ifTable(t), "eth0", DataSpec{Values: []string{"IF-MIB::ifDescr.1"}})
	testutil.NoError(t, err)
	testutil.Equal(t, "1.3.6.1.2.1.2.2.1.2.1", ScalarOID(d.Values[0]).String())
}

func TestScalarOID(t *testing.T) {
	tab := ifTable(t)
	tests := []struct{ name, want string }{
		{"sysUpTime", "1.3.6.1.2.1.1.3.0"},
		{"SNMPv2-MIB::sysDescr.0", "1.3.6.1.2.1.1.1.0"},
		{"1.3.6.1.2.1.1.5.0", "1.3.6.1.2.1.1.5.0"},
	}
	for _, tt := range tests {
		sym, err := tab.Resolve(tt.name)
		testutil.NoError(t, err)
		testutil.Equal(t, tt.want, ScalarOID(sym).String(), tt.name)
	}
}

func TestRequiredModules(t *testing.T) {
	got := RequiredModules(
		[]string{"IF-MIB::ifName", "IF-MIB::ifHCInOctets", "sysUpTime", "1.3.6.1", "HOST-RESOURCES-MIB::hrProcessorLoad"},
		[]string{"SNMPv2-MIB", "IF-MIB"},
	)
	testutil.SliceEqual(t, []string{"HOST-RESOURCES-MIB", "IF-MIB", "SNMPv2-MIB"}, got)
}

func TestEnvModules(t *testing.T) {
	t.Setenv("MIBS", "IF-MIB: HOST-RESOURCES-MIB::")
	testutil.SliceEqual(t, []string{"IF-MIB", "HOST-RESOURCES-MIB"}, EnvModules())

	t.Setenv("MIBS", "")
	testutil.Len(t, EnvModules(), 0)
}

func TestEnvDirs(t *testing.T) {
	t.Setenv("MIBDIRS", "")
	testutil.Len(t, EnvDirs(), 0)
}

func TestLooksLikeMIB(t *testing.T) {
	testutil.True(t, looksLikeMIB([]byte("X-MIB DEFINITIONS ::= BEGIN\nEND\n")))
	testutil.False(t, looksLikeMIB([]byte("# README\nmibs live here\n")))
}

func TestLoadGomib(t *testing.T) {
	tab, err := LoadGomib(context.Background(), GomibOptions{
		Dirs:    []string{"testdata"},
		Modules: []string{"TEST-COLLECT-MIB"},
	})
	testutil.NoError(t, err)
	testutil.Len(t, tab.Missing([]string{"TEST-COLLECT-MIB"}), 0)

	d, err := Compile(tab, "ports", DataSpec{
		Table:    true,
		Instance: "TEST-COLLECT-MIB::testPortName",
		Values:   []string{"TEST-COLLECT-MIB::testPortOctets"},
	})
	testutil.NoError(t, err)
	testutil.Equal(t, "1.3.6.1.4.1.99999.1.2.1.2", d.Instance.OID.String())
	testutil.Equal(t, KindColumn, d.Values[0].Kind)

	sym, err := tab.Resolve("TEST-COLLECT-MIB::testUptime")
	testutil.NoError(t, err)
	testutil.Equal(t, KindScalar, sym.Kind)
	testutil.Equal(t, "1.3.6.1.4.1.99999.1.1.0", ScalarOID(sym).String())
}

func TestLoadGomibMissingDirs(t *testing.T) {
	_, err := LoadGomib(context.Background(), GomibOptions{Dirs: []string{"testdata/does-not-exist"}})
	testutil.ErrorIs(t, err, gomib.ErrNoSources)
}

func TestLoadWasmib(t *testing.T) {
	tab, err := LoadWasmib(context.Background(), []string{"testdata"}, nil)
	testutil.NoError(t, err)
	testutil.Len(t, tab.Missing([]string{"TEST-COLLECT-MIB"}), 0)

	d, err := Compile(tab, "ports", DataSpec{
		Table:    true,
		Instance: "TEST-COLLECT-MIB::testPortName",
		Values:   []string{"TEST-COLLECT-MIB::testPortOctets"},
	})
	testutil.NoError(t, err)
	testutil.Equal(t, "1.3.6.1.4.1.99999.1.2.1.2", d.Instance.OID.String())
	testutil.Equal(t, KindColumn, d.Instance.Kind)
	testutil.Equal(t, "1.3.6.1.4.1.99999.1.2.1.3", d.Values[0].OID.String())
	testutil.Equal(t, KindColumn, d.Values[0].Kind)

	sym, err := tab.Resolve("testUptime")
	testutil.NoError(t, err)
	testutil.Equal(t, KindScalar, sym.Kind)
	testutil.Equal(t, "1.3.6.1.4.1.99999.1.1.0", ScalarOID(sym).String())

	_, err = Compile(tab, "broken", DataSpec{Values: []string{"TEST-COLLECT-MIB::testMissing"}})
	testutil.ErrorIs(t, err, ErrNotFound)
}

func TestLoadWasmibNoMIBFiles(t *testing.T) {
	dir := t.TempDir()
	testutil.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("mibs go here\n"), 0o644))

	_, err := LoadWasmib(context.Background(), []string{dir}, nil)
	testutil.Error(t, err)
	testutil.Contains(t, err.Error(), "no MIB files")

	_, err = LoadWasmib(context.Background(), nil, nil)
	testutil.Error(t, err)
}
