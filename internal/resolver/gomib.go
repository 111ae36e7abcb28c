package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golangsnmp/gomib"
	"github.com/golangsnmp/gomib/mib"

	"github.com/golangsnmp/snmpcollect/internal/snmp"
	"github.com/golangsnmp/snmpcollect/internal/types"
)

// GomibOptions configures LoadGomib.
type GomibOptions struct {
	// Dirs are searched recursively. When empty the platform's standard
	// MIB locations (net-snmp, libsmi) are used.
	Dirs []string
	// Modules to load together with their imports. Empty loads every
	// module found.
	Modules []string
	Logger  *slog.Logger
}

// LoadGomib loads MIB modules with gomib and flattens the result.
func LoadGomib(ctx context.Context, opts GomibOptions) (*Table, error) {
	log := types.Component(opts.Logger, "resolver")

	var loadOpts []gomib.LoadOption
	if len(opts.Dirs) == 0 {
		loadOpts = append(loadOpts, gomib.WithSystemPaths())
	} else {
		var sources []gomib.Source
		for _, dir := range opts.Dirs {
			src, err := gomib.DirTree(dir)
			if err != nil {
				log.Warn("cannot access MIB directory", slog.String("path", dir), slog.Any("error", err))
				continue
			}
			sources = append(sources, src)
		}
		if len(sources) == 0 {
			return nil, gomib.ErrNoSources
		}
		loadOpts = append(loadOpts, gomib.WithSource(sources...))
	}
	if opts.Logger != nil {
		loadOpts = append(loadOpts, gomib.WithLogger(opts.Logger))
	}
	if len(opts.Modules) > 0 {
		loadOpts = append(loadOpts, gomib.WithModules(opts.Modules...))
	}

	m, err := gomib.Load(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load MIBs: %w", err)
	}
	t := Flatten(gomibEntries(m))
	log.Debug("MIBs loaded",
		slog.Int("modules", len(t.modules)),
		slog.Int("symbols", t.Len()))
	return t, nil
}

func gomibEntries(m *mib.Mib) []Entry {
	var entries []Entry
	for _, mod := range m.Modules() {
		for _, n := range mod.Nodes() {
			if n.Name() == "" {
				continue
			}
			entries = append(entries, Entry{
				Module: mod.Name(),
				Label:  n.Name(),
				OID:    snmp.OID(n.OID()),
				Kind:   gomibKind(n.Kind()),
			})
		}
		// Modules without named nodes (pure TC modules) still count as
		// loaded.
		if len(mod.Nodes()) == 0 {
			entries = append(entries, Entry{Module: mod.Name()})
		}
	}
	return entries
}

func gomibKind(k mib.Kind) Kind {
	switch k {
	case mib.KindScalar:
		return KindScalar
	case mib.KindTable:
		return KindTable
	case mib.KindRow:
		return KindRow
	case mib.KindColumn:
		return KindColumn
	case mib.KindNode:
		return KindNode
	}
	return KindUnknown
}
