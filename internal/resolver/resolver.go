// Package resolver maps symbolic MIB names to numeric OIDs.
//
// A MIB backend (gomib or wasmib) is consulted once at startup and its
// model flattened into a Table. Nothing else of the MIB graph is kept: the
// pollers only ever see Symbols.
//
// Names take one of three forms:
//
//	IF-MIB::ifHCInOctets      qualified
//	sysUpTime                 unqualified, must be unambiguous
//	1.3.6.1.2.1.1.3           numeric, passed through
//
// A trailing numeric instance suffix (SNMPv2-MIB::sysUpTime.0) is allowed
// on symbolic names and is kept separately in Symbol.Index.
package resolver

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golangsnmp/snmpcollect/internal/snmp"
)

// ErrNotFound is returned when a name does not resolve.
var ErrNotFound = errors.New("symbol not found")

// ErrAmbiguous is returned for an unqualified name defined by more than
// one module at different OIDs.
var ErrAmbiguous = errors.New("ambiguous symbol")

// Kind classifies an OID node.
type Kind int

const (
	KindUnknown Kind = iota
	KindNode
	KindScalar
	KindTable
	KindRow
	KindColumn
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindScalar:
		return "scalar"
	case KindTable:
		return "table"
	case KindRow:
		return "row"
	case KindColumn:
		return "column"
	}
	return "unknown"
}

// Symbol is a resolved name.
type Symbol struct {
	Name   string // as written in configuration
	Module string // empty for numeric names
	Label  string // MIB label, or the dotted OID for numeric names
	OID    snmp.OID
	Kind   Kind
	Index  snmp.OID // explicit instance suffix, nil if none
}

// Resolver resolves names to symbols.
type Resolver interface {
	Resolve(name string) (Symbol, error)
}

// Entry is one named node of a MIB model.
type Entry struct {
	Module string
	Label  string
	OID    snmp.OID
	Kind   Kind
}

// Table is a flat, immutable name index. It is safe for concurrent use.
type Table struct {
	qualified   map[string]Entry
	unqualified map[string]Entry
	ambiguous   map[string]bool
	modules     map[string]bool
}

// Flatten builds a Table from entries. Later entries with the same
// qualified name replace earlier ones.
func Flatten(entries []Entry) *Table {
	t := &Table{
		qualified:   make(map[string]Entry, len(entries)),
		unqualified: make(map[string]Entry, len(entries)),
		ambiguous:   make(map[string]bool),
		modules:     make(map[string]bool),
	}
	for _, e := range entries {
		t.add(e)
	}
	return t
}

func (t *Table) add(e Entry) {
	if e.Module != "" {
		t.modules[e.Module] = true
	}
	if e.Label == "" {
		return
	}
	if e.Module != "" {
		t.qualified[e.Module+"::"+e.Label] = e
	}
	if prev, ok := t.unqualified[e.Label]; ok && !prev.OID.Equal(e.OID) {
		t.ambiguous[e.Label] = true
		return
	}
	t.unqualified[e.Label] = e
}

// Len returns the number of qualified names.
func (t *Table) Len() int { return len(t.qualified) }

// Modules returns the loaded module names, sorted.
func (t *Table) Modules() []string {
	out := make([]string, 0, len(t.modules))
	for m := range t.modules {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Missing returns the modules in want that the table does not contain.
func (t *Table) Missing(want []string) []string {
	var out []string
	for _, m := range want {
		if !t.modules[m] {
			out = append(out, m)
		}
	}
	return out
}

// Resolve implements Resolver.
func (t *Table) Resolve(name string) (Symbol, error) {
	if oid, ok := numeric(name); ok {
		return Symbol{Name: name, Label: oid.String(), OID: oid}, nil
	}

	module, rest, qualified := strings.Cut(name, "::")
	if !qualified {
		rest = name
	}
	label, index, err := splitIndex(rest)
	if err != nil {
		return Symbol{}, fmt.Errorf("%s: %w", name, err)
	}

	var e Entry
	var ok bool
	if qualified {
		e, ok = t.qualified[module+"::"+label]
	} else {
		if t.ambiguous[label] {
			return Symbol{}, fmt.Errorf("%w: %s (qualify it with a module name)", ErrAmbiguous, name)
		}
		e, ok = t.unqualified[label]
	}
	if !ok {
		return Symbol{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return Symbol{
		Name:   name,
		Module: e.Module,
		Label:  e.Label,
		OID:    e.OID,
		Kind:   e.Kind,
		Index:  index,
	}, nil
}

// numeric reports whether name is a dotted OID.
func numeric(name string) (snmp.OID, bool) {
	s := strings.TrimPrefix(name, ".")
	if s == "" || s[0] < '0' || s[0] > '9' {
		return nil, false
	}
	oid, err := snmp.ParseOID(s)
	if err != nil {
		return nil, false
	}
	return oid, true
}

// splitIndex separates "label.1.2" into the label and instance suffix.
func splitIndex(s string) (string, snmp.OID, error) {
	label, suffix, ok := strings.Cut(s, ".")
	if label == "" {
		return "", nil, errors.New("empty label")
	}
	if !ok {
		return label, nil, nil
	}
	index, err := snmp.ParseOID(suffix)
	if err != nil {
		return "", nil, fmt.Errorf("instance suffix: %w", err)
	}
	return label, index, nil
}

// Static builds a Table from "MODULE::label" or "label" keys mapped to
// dotted OIDs. Kinds are unknown; it serves tests and numeric-only setups.
func Static(names map[string]string) (*Table, error) {
	entries := make([]Entry, 0, len(names))
	for name, dotted := range names {
		oid, err := snmp.ParseOID(dotted)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		module, label, ok := strings.Cut(name, "::")
		if !ok {
			module, label = "", name
		}
		entries = append(entries, Entry{Module: module, Label: label, OID: oid})
	}
	// Deterministic ambiguity detection regardless of map order.
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Module+"::"+a.Label, b.Module+"::"+b.Label)
	})
	return Flatten(entries), nil
}
