package snmp

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// OID is a numeric SNMP object identifier.
type OID []uint32

// ParseOID parses a dotted OID string such as "1.3.6.1.2.1" or ".1.3.6.1".
func ParseOID(s string) (OID, error) {
	s = strings.TrimPrefix(s, ".")
	if s == "" {
		return nil, errors.New("empty OID")
	}

	arcs := make(OID, 0, strings.Count(s, ".")+1)
	var current uint64
	var hasDigit bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			current = current*10 + uint64(c-'0')
			if current > math.MaxUint32 {
				return nil, fmt.Errorf("arc overflows uint32 in OID: %s", s)
			}
			hasDigit = true
		case c == '.':
			if !hasDigit {
				return nil, fmt.Errorf("empty arc in OID: %s", s)
			}
			arcs = append(arcs, uint32(current))
			current = 0
			hasDigit = false
		default:
			return nil, fmt.Errorf("invalid character in OID: %c", c)
		}
	}
	if !hasDigit {
		return nil, fmt.Errorf("trailing dot in OID: %s", s)
	}
	return append(arcs, uint32(current)), nil
}

// MustParseOID is ParseOID for constants; it panics on error.
func MustParseOID(s string) OID {
	o, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return o
}

// String returns the dotted representation.
func (o OID) String() string {
	if len(o) == 0 {
		return ""
	}
	b := make([]byte, 0, len(o)*4)
	for i, arc := range o {
		if i > 0 {
			b = append(b, '.')
		}
		b = strconv.AppendUint(b, uint64(arc), 10)
	}
	return string(b)
}

// Append returns a new OID with arcs appended. The receiver is not modified.
func (o OID) Append(arcs ...uint32) OID {
	out := make(OID, len(o), len(o)+len(arcs))
	copy(out, o)
	return append(out, arcs...)
}

// HasPrefix reports whether o lies within the subtree rooted at prefix.
func (o OID) HasPrefix(prefix OID) bool {
	return len(prefix) <= len(o) && slices.Equal(o[:len(prefix)], prefix)
}

// Suffix returns the arcs of o that follow prefix, or nil if o is not
// inside prefix.
func (o OID) Suffix(prefix OID) OID {
	if !o.HasPrefix(prefix) {
		return nil
	}
	return slices.Clone(o[len(prefix):])
}

// Equal reports whether the OIDs are identical.
func (o OID) Equal(other OID) bool {
	return slices.Equal(o, other)
}

// Compare orders OIDs lexicographically by arc value, which is the order
// agents use for GETNEXT.
func (o OID) Compare(other OID) int {
	return slices.Compare(o, other)
}
