package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/golangsnmp/snmpcollect/internal/snmp"
)

// DataSpec is the symbolic form of a data definition.
type DataSpec struct {
	Table    bool
	Instance string
	Values   []string
}

// Definition is a compiled data definition: what to fetch and how to label
// it. Definitions are immutable and shared by every device collecting them.
type Definition struct {
	Name     string
	Table    bool
	Instance *Symbol // nil when the definition has no instance column
	Values   []Symbol
}

// Columns returns the instance symbol, if any, followed by the values.
func (d *Definition) Columns() []Symbol {
	cols := make([]Symbol, 0, len(d.Values)+1)
	if d.Instance != nil {
		cols = append(cols, *d.Instance)
	}
	return append(cols, d.Values...)
}

// Compile resolves every symbol of spec. Errors name the definition and
// the offending symbol.
func Compile(r Resolver, name string, spec DataSpec) (*Definition, error) {
	if len(spec.Values) == 0 {
		return nil, fmt.Errorf("data %q: no values", name)
	}
	if spec.Table && spec.Instance == "" {
		return nil, fmt.Errorf("data %q: table definitions need an instance column", name)
	}

	d := &Definition{Name: name, Table: spec.Table}
	if spec.Instance != "" {
		sym, err := compileSymbol(r, name, spec.Table, spec.Instance)
		if err != nil {
			return nil, err
		}
		d.Instance = &sym
	}
	for _, v := range spec.Values {
		sym, err := compileSymbol(r, name, spec.Table, v)
		if err != nil {
			return nil, err
		}
		d.Values = append(d.Values, sym)
	}
	return d, nil
}

func compileSymbol(r Resolver, def string, table bool, name string) (Symbol, error) {
	sym, err := r.Resolve(name)
	if err != nil {
		return Symbol{}, fmt.Errorf("data %q: %w", def, err)
	}
	switch {
	case table && sym.Index != nil:
		return Symbol{}, fmt.Errorf("data %q: %s: table columns take no instance suffix", def, name)
	case table && sym.Kind != KindColumn && sym.Kind != KindUnknown:
		return Symbol{}, fmt.Errorf("data %q: %s is a %s, not a table column", def, name, sym.Kind)
	case !table && sym.Kind != KindScalar && sym.Kind != KindUnknown && sym.Index == nil:
		return Symbol{}, fmt.Errorf("data %q: %s is a %s; give an instance suffix or use a scalar", def, name, sym.Kind)
	}
	return sym, nil
}

// ScalarOID is the OID fetched for sym in a scalar definition: the explicit
// instance if one was given, otherwise .0 for scalars.
func ScalarOID(sym Symbol) snmp.OID {
	if sym.Index != nil {
		return sym.OID.Append(sym.Index...)
	}
	if sym.Kind == KindScalar {
		return sym.OID.Append(0)
	}
	return sym.OID
}

// DefaultModules is used when MIBS is unset.
const DefaultModules = "SNMPv2-MIB:SNMPv2-SMI"

// EnvModules returns the modules named by the MIBS environment variable,
// colon separated.
func EnvModules() []string {
	v, ok := os.LookupEnv("MIBS")
	if !ok {
		v = DefaultModules
	}
	return splitList(v, ":")
}

// EnvDirs returns the directories named by MIBDIRS, separated by the OS
// list separator.
func EnvDirs() []string {
	return splitList(os.Getenv("MIBDIRS"), string(filepath.ListSeparator))
}

func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RequiredModules returns the sorted, de-duplicated module prefixes of
// names plus extra.
func RequiredModules(names, extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	addModule := func(m string) {
		if m != "" && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, n := range names {
		if m, _, ok := strings.Cut(n, "::"); ok {
			addModule(m)
		}
	}
	for _, m := range extra {
		addModule(m)
	}
	slices.Sort(out)
	return out
}
