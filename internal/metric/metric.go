// Package metric turns poll results into Graphite samples.
//
// A sample path is
//
//	<prefix>.<definition>.<device>[.<instance>].<column>
//
// where definition, device and instance are sanitized so that each forms
// exactly one path segment. column is the MIB label of the value, or its
// sanitized OID for numeric names.
package metric

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/golangsnmp/snmpcollect/internal/poller"
	"github.com/golangsnmp/snmpcollect/internal/types"
)

// InstancePlaceholder stands in for row labels in Keys output.
const InstancePlaceholder = "<instance>"

// Sample is one Graphite data point.
type Sample struct {
	Path  string
	Value string // decimal
	Time  time.Time
}

// AppendLine appends the plaintext protocol line for s to b.
func (s Sample) AppendLine(b []byte) []byte {
	b = append(b, s.Path...)
	b = append(b, ' ')
	b = append(b, s.Value...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, s.Time.Unix(), 10)
	return append(b, '\n')
}

// Line returns the plaintext protocol line for s.
func (s Sample) Line() string {
	return string(s.AppendLine(nil))
}

// Sanitize makes s usable as a single path segment: '-', '/' and
// whitespace become '_', and '.' becomes "__".
func Sanitize(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '.':
			b.WriteString("__")
		case r == '-' || r == '/' || unicode.IsSpace(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Path builds a sample path. instance is ignored unless hasInstance.
func Path(prefix, definition, device, instance string, hasInstance bool, column string) string {
	if hasInstance {
		return join(prefix, Sanitize(definition), Sanitize(device), Sanitize(instance), Sanitize(column))
	}
	return join(prefix, Sanitize(definition), Sanitize(device), Sanitize(column))
}

func join(prefix string, segments ...string) string {
	if prefix != "" {
		segments = append([]string{prefix}, segments...)
	}
	return strings.Join(segments, ".")
}

// Assembler converts poll results to samples.
type Assembler struct {
	prefix string
	log    types.Logger
}

// NewAssembler returns an Assembler that prefixes every path with prefix.
func NewAssembler(prefix string, logger *slog.Logger) *Assembler {
	return &Assembler{
		prefix: strings.Trim(prefix, "."),
		log:    types.Component(logger, "metric"),
	}
}

// Assemble renders every numeric value of res. Non-numeric values are
// skipped; the number skipped is returned.
func (a *Assembler) Assemble(res *poller.Result) ([]Sample, int) {
	out := make([]Sample, 0, len(res.Values))
	var skipped int
	for _, v := range res.Values {
		num, ok := v.Value.Numeric()
		if !ok {
			skipped++
			a.log.Warn("skipping non-numeric value",
				slog.String("device", res.Device),
				slog.String("data", v.Definition.Name),
				slog.String("column", v.Column.Label),
				slog.String("type", v.Value.Type.String()))
			continue
		}
		s := Sample{
			Path:  Path(a.prefix, v.Definition.Name, res.Device, v.Instance, v.HasInstance, v.Column.Label),
			Value: num,
			Time:  res.Time,
		}
		if a.log.TraceEnabled() {
			a.log.Trace("sample", slog.String("path", s.Path), slog.String("value", s.Value))
		}
		out = append(out, s)
	}
	return out, skipped
}

// Keys lists the paths the targets would produce, with row labels
// replaced by InstancePlaceholder.
func Keys(prefix string, targets []poller.Target) []string {
	prefix = strings.Trim(prefix, ".")
	var keys []string
	for _, t := range targets {
		for _, def := range t.Definitions {
			hasInstance := def.Instance != nil
			for _, col := range def.Values {
				p := Path(prefix, def.Name, t.Name, "", false, col.Label)
				if hasInstance {
					p = join(prefix, Sanitize(def.Name), Sanitize(t.Name), InstancePlaceholder, Sanitize(col.Label))
				}
				keys = append(keys, p)
			}
		}
	}
	return keys
}
