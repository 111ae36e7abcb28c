package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/golangsnmp/snmpcollect/internal/resolver"
	"github.com/golangsnmp/snmpcollect/internal/snmp"
)

// maxWalkRequests bounds the round trips of one table walk.
const maxWalkRequests = 10000

// ErrWalkLimit is returned when a table walk has not finished after
// maxWalkRequests round trips.
var ErrWalkLimit = errors.New("table walk request limit reached")

// Row is one table row: the values found under a common index suffix.
type Row struct {
	Suffix snmp.OID
	Values map[int]snmp.Value // keyed by column position
}

// walkColumn tracks one column of a multi-column walk.
type walkColumn struct {
	base snmp.OID
	cur  snmp.OID
	done bool
}

// walk retrieves every instance under the given column OIDs. Columns
// advance independently and each stops on leaving its subtree, on
// endOfMibView, or when the agent returns a non-increasing OID. Rows come
// back sorted by suffix.
func (d *Device) walk(ctx context.Context, columns []snmp.OID) ([]*Row, error) {
	cols := make([]*walkColumn, len(columns))
	for i, base := range columns {
		cols[i] = &walkColumn{base: base, cur: base}
	}
	rows := make(map[string]*Row)
	v1 := d.client.Version() == snmp.Version1

	for requests := 0; ; requests++ {
		var active []int
		for i, c := range cols {
			if !c.done {
				active = append(active, i)
			}
		}
		if len(active) == 0 {
			break
		}
		if requests >= maxWalkRequests {
			return nil, fmt.Errorf("%w (%d)", ErrWalkLimit, maxWalkRequests)
		}

		names := make([]snmp.OID, len(active))
		for i, idx := range active {
			names[i] = cols[idx].cur
		}
		var (
			vbs []snmp.VarBind
			err error
		)
		if v1 {
			vbs, err = d.client.GetNext(ctx, names)
			var re *snmp.ResponseError
			if errors.As(err, &re) && re.Status == snmp.NoSuchName {
				// Only the column at the error index has run out.
				if re.Index < 1 || re.Index > len(active) {
					break
				}
				cols[active[re.Index-1]].done = true
				continue
			}
		} else {
			vbs, err = d.client.GetBulk(ctx, 0, d.target.MaxRepetitions, names)
		}
		if err != nil {
			return nil, err
		}
		if len(vbs) == 0 {
			break
		}

		for i, vb := range vbs {
			c := cols[active[i%len(active)]]
			if c.done {
				continue
			}
			if vb.Value.Type == snmp.TypeEndOfMibView ||
				!vb.Name.HasPrefix(c.base) || len(vb.Name) == len(c.base) ||
				vb.Name.Compare(c.cur) <= 0 {
				c.done = true
				continue
			}
			c.cur = vb.Name
			suffix := vb.Name.Suffix(c.base)
			key := suffix.String()
			row, ok := rows[key]
			if !ok {
				row = &Row{Suffix: suffix, Values: make(map[int]snmp.Value)}
				rows[key] = row
			}
			row.Values[active[i%len(active)]] = vb.Value
		}
		if d.log.TraceEnabled() {
			d.log.Trace("walk step",
				slog.Int("request", requests+1),
				slog.Int("varbinds", len(vbs)),
				slog.Int("rows", len(rows)))
		}
	}

	out := make([]*Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Row) int { return a.Suffix.Compare(b.Suffix) })
	return out, nil
}

// pollTable walks the instance and value columns of def and returns the
// values of every row that has an instance label.
func (d *Device) pollTable(ctx context.Context, def *resolver.Definition) ([]Value, error) {
	cols := def.Columns()
	oids := make([]snmp.OID, len(cols))
	for i, sym := range cols {
		oids[i] = sym.OID
	}
	rows, err := d.walk(ctx, oids)
	if err != nil {
		return nil, err
	}

	if d.target.FillMissing {
		if err := d.fillMissing(ctx, oids, rows); err != nil {
			return nil, err
		}
	}

	var values []Value
	for _, row := range rows {
		inst, ok := row.Values[0]
		if !ok || inst.IsException() {
			d.log.Debug("row without instance, dropping",
				slog.String("data", def.Name),
				slog.String("index", row.Suffix.String()))
			continue
		}
		label := inst.Label()
		for j, sym := range def.Values {
			v, ok := row.Values[j+1]
			if !ok || v.IsException() {
				continue
			}
			values = append(values, Value{
				Definition:  def,
				Instance:    label,
				HasInstance: true,
				Column:      sym,
				Value:       v,
			})
		}
	}
	return values, nil
}

// fillMissing fetches value columns absent from a labelled row. Some
// agents skip zero counters while walking; an instance the agent still
// does not have is reported as a zero Counter64.
func (d *Device) fillMissing(ctx context.Context, columns []snmp.OID, rows []*Row) error {
	type hole struct {
		row *Row
		col int
	}
	var (
		holes []hole
		oids  []snmp.OID
	)
	for _, row := range rows {
		if _, ok := row.Values[0]; !ok {
			continue
		}
		for col := 1; col < len(columns); col++ {
			if _, ok := row.Values[col]; !ok {
				holes = append(holes, hole{row, col})
				oids = append(oids, columns[col].Append(row.Suffix...))
			}
		}
	}
	if len(oids) == 0 {
		return nil
	}
	d.log.Debug("filling missing values", slog.Int("count", len(oids)))

	got, err := d.get(ctx, oids)
	if err != nil {
		return err
	}
	for i, h := range holes {
		v := got[i]
		switch v.Type {
		case snmp.TypeNoSuchInstance, snmp.TypeNoSuchObject:
			v = snmp.Counter64(0)
		}
		h.row.Values[h.col] = v
	}
	return nil
}
