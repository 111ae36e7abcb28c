package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golangsnmp/snmpcollect/internal/testutil"
	"github.com/golangsnmp/snmpcollect/internal/types"
)

func TestNetsnmpDirective(t *testing.T) {
	tests := []struct {
		line string
		kind editKind
		dirs []string
		ok   bool
	}{
		{"mibdirs /usr/share/snmp/mibs", editReplace, []string{"/usr/share/snmp/mibs"}, true},
		{"mibdirs /a:/b", editReplace, []string{"/a", "/b"}, true},
		{"mibdirs +/extra", editAppend, []string{"/extra"}, true},
		{"mibdirs -/first", editPrepend, []string{"/first"}, true},
		{"+mibdirs /x:/y", editAppend, []string{"/x", "/y"}, true},
		{"-mibdirs /x", editPrepend, []string{"/x"}, true},
		{"  mibdirs\t/spaced  ", editReplace, []string{"/spaced"}, true},
		{"mibs +ALL", 0, nil, false},
		{"# mibdirs /commented", 0, nil, false},
		{"mibdirs", 0, nil, false},
		{"", 0, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			e, ok := netsnmpDirective(tt.line)
			testutil.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			testutil.Equal(t, tt.kind, e.kind)
			testutil.SliceEqual(t, tt.dirs, e.dirs)
		})
	}
}

func TestSmiDirective(t *testing.T) {
	tests := []struct {
		line string
		kind editKind
		dirs []string
		ok   bool
	}{
		{"path /a:/b", editReplace, []string{"/a", "/b"}, true},
		{"path :/extra", editAppend, []string{"/extra"}, true},
		{"path /first:", editPrepend, []string{"/first"}, true},
		{"smilint: path /ignored", 0, nil, false},
		{"level 3", 0, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			e, ok := smiDirective(tt.line)
			testutil.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			testutil.Equal(t, tt.kind, e.kind)
			testutil.SliceEqual(t, tt.dirs, e.dirs)
		})
	}
}

func TestPathEditApply(t *testing.T) {
	cur := []string{"/b"}
	testutil.SliceEqual(t, []string{"/b", "/c"}, pathEdit{editAppend, []string{"/c"}}.apply(cur))
	testutil.SliceEqual(t, []string{"/a", "/b"}, pathEdit{editPrepend, []string{"/a"}}.apply(cur))
	testutil.SliceEqual(t, []string{"/z"}, pathEdit{editReplace, []string{"/z"}}.apply(cur))
	testutil.SliceEqual(t, []string{"/b"}, cur)
}

func TestReadDirectives(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "snmp.conf")
	testutil.NoError(t, os.WriteFile(conf, []byte("# local\nmibdirs +/opt/mibs\nmibs ALL\n-mibdirs /first\n"), 0o644))

	got := readDirectives(types.Component(nil, "test"), conf, netsnmpDirective, []string{"/default"})
	testutil.SliceEqual(t, []string{"/first", "/default", "/opt/mibs"}, got)

	missing := readDirectives(types.Component(nil, "test"), filepath.Join(dir, "nope"), netsnmpDirective, []string{"/default"})
	testutil.SliceEqual(t, []string{"/default"}, missing)
}

func TestSystemDirsFromEnv(t *testing.T) {
	home := t.TempDir()
	mibs := filepath.Join(home, "mibs")
	testutil.NoError(t, os.Mkdir(mibs, 0o755))
	t.Setenv("HOME", home)
	t.Setenv("MIBDIRS", mibs+":"+filepath.Join(home, "absent"))
	t.Setenv("SMIPATH", mibs)

	dirs := SystemDirs(nil)
	testutil.SliceEqual(t, []string{mibs}, dirs)
}
