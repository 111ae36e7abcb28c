package resolver

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/golangsnmp/snmpcollect/internal/types"
)

// editKind says how a path directive combines with the list built so far.
type editKind int

const (
	editReplace editKind = iota
	editAppend
	editPrepend
)

type pathEdit struct {
	kind editKind
	dirs []string
}

func (e pathEdit) apply(cur []string) []string {
	switch e.kind {
	case editAppend:
		return append(cur, e.dirs...)
	case editPrepend:
		return append(slices.Clone(e.dirs), cur...)
	}
	return e.dirs
}

// searchConvention is one toolkit's way of locating MIB directories.
type searchConvention struct {
	defaults func() []string
	files    func() []string
	line     func(string) (pathEdit, bool)
	env      string
	envEdit  func(string) pathEdit
}

var conventions = []searchConvention{
	{ // net-snmp
		defaults: func() []string {
			return append(inHome(".snmp", "mibs"),
				"/usr/share/snmp/mibs",
				"/usr/share/snmp/mibs/iana",
				"/usr/share/snmp/mibs/ietf",
				"/usr/local/share/snmp/mibs")
		},
		files:    func() []string { return append([]string{"/etc/snmp/snmp.conf"}, inHome(".snmp", "snmp.conf")...) },
		line:     netsnmpDirective,
		env:      "MIBDIRS",
		envEdit:  signEdit,
	},
	{ // libsmi
		defaults: func() []string {
			var out []string
			for _, root := range []string{"/usr/share/mibs", "/usr/local/share/mibs"} {
				for _, sub := range []string{"ietf", "iana", "irtf", "site"} {
					out = append(out, filepath.Join(root, sub))
				}
			}
			return out
		},
		files:   func() []string { return append([]string{"/etc/smi.conf"}, inHome(".smirc")...) },
		line:    smiDirective,
		env:     "SMIPATH",
		envEdit: colonEdit,
	},
}

// SystemDirs returns the MIB directories net-snmp and libsmi would search,
// honouring their configuration files and environment variables. Only
// existing directories are returned, without duplicates.
func SystemDirs(logger *slog.Logger) []string {
	log := types.Component(logger, "resolver")
	var all []string
	for _, c := range conventions {
		dirs := c.defaults()
		for _, f := range c.files() {
			dirs = readDirectives(log, f, c.line, dirs)
		}
		if v := os.Getenv(c.env); v != "" {
			dirs = c.envEdit(v).apply(dirs)
		}
		all = append(all, dirs...)
	}

	seen := make(map[string]bool, len(all))
	var out []string
	for _, d := range all {
		if seen[d] {
			continue
		}
		seen[d] = true
		if fi, err := os.Stat(d); err == nil && fi.IsDir() {
			out = append(out, d)
		}
	}
	return out
}

func inHome(elem ...string) []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(append([]string{home}, elem...)...)}
}

func readDirectives(log types.Logger, path string, parse func(string) (pathEdit, bool), dirs []string) []string {
	f, err := os.Open(path)
	if err != nil {
		return dirs
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if e, ok := parse(sc.Text()); ok {
			dirs = e.apply(dirs)
		}
	}
	if err := sc.Err(); err != nil {
		log.Debug("cannot read MIB path configuration", slog.String("path", path), slog.Any("error", err))
	}
	return dirs
}

// netsnmpDirective parses "mibdirs [+-]a:b" and "[+-]mibdirs a:b" lines.
func netsnmpDirective(line string) (pathEdit, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || strings.HasPrefix(fields[0], "#") {
		return pathEdit{}, false
	}
	switch fields[0] {
	case "mibdirs":
		return signEdit(fields[1]), true
	case "+mibdirs":
		return pathEdit{editAppend, splitDirs(fields[1])}, true
	case "-mibdirs":
		return pathEdit{editPrepend, splitDirs(fields[1])}, true
	}
	return pathEdit{}, false
}

// smiDirective parses untagged "path" lines of smi.conf.
func smiDirective(line string) (pathEdit, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "path" {
		return pathEdit{}, false
	}
	return colonEdit(fields[1]), true
}

// signEdit: a leading + appends, a leading - prepends.
func signEdit(v string) pathEdit {
	switch {
	case strings.HasPrefix(v, "+"):
		return pathEdit{editAppend, splitDirs(v[1:])}
	case strings.HasPrefix(v, "-"):
		return pathEdit{editPrepend, splitDirs(v[1:])}
	}
	return pathEdit{editReplace, splitDirs(v)}
}

// colonEdit: a leading colon appends, a trailing colon prepends.
func colonEdit(v string) pathEdit {
	switch {
	case strings.HasPrefix(v, ":"):
		return pathEdit{editAppend, splitDirs(v[1:])}
	case strings.HasSuffix(v, ":"):
		return pathEdit{editPrepend, splitDirs(strings.TrimSuffix(v, ":"))}
	}
	return pathEdit{editReplace, splitDirs(v)}
}

func splitDirs(s string) []string {
	return splitList(s, ":")
}
