package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	wasmib "github.com/lukeod/wasmib/wasmib-go"

	"github.com/golangsnmp/snmpcollect/internal/snmp"
	"github.com/golangsnmp/snmpcollect/internal/types"
)

// maxMIBFileSize skips files that are too large to be a MIB module.
const maxMIBFileSize = 8 << 20

// LoadWasmib compiles every MIB file under dirs with the wasmib engine and
// flattens the resolved model. Unlike LoadGomib it cannot load on demand,
// so the directories should hold only the modules in use.
func LoadWasmib(ctx context.Context, dirs []string, logger *slog.Logger) (*Table, error) {
	log := types.Component(logger, "resolver")
	if len(dirs) == 0 {
		return nil, errors.New("wasmib resolver requires at least one MIB directory")
	}

	c, err := wasmib.NewCompiler(ctx)
	if err != nil {
		return nil, fmt.Errorf("start MIB compiler: %w", err)
	}
	defer func() { _ = c.Close() }()

	var loaded int
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Warn("cannot access MIB path", slog.String("path", path), slog.Any("error", err))
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if info, err := d.Info(); err != nil || info.Size() > maxMIBFileSize {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil || !looksLikeMIB(data) {
				return nil
			}
			if err := c.LoadModule(data); err != nil {
				log.Debug("skipping MIB file", slog.String("path", path), slog.Any("error", err))
				return nil
			}
			loaded++
			return ctx.Err()
		})
		if err != nil {
			return nil, err
		}
	}
	if loaded == 0 {
		return nil, fmt.Errorf("no MIB files found in %v", dirs)
	}

	model, err := c.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve MIBs: %w", err)
	}
	t := Flatten(wasmibEntries(model))
	log.Debug("MIBs loaded",
		slog.Int("files", loaded),
		slog.Int("modules", len(t.modules)),
		slog.Int("symbols", t.Len()))
	return t, nil
}

// looksLikeMIB applies a cheap content check so that READMEs and index
// files in MIB directories are not fed to the compiler.
func looksLikeMIB(data []byte) bool {
	return bytes.Contains(data, []byte("DEFINITIONS")) &&
		bytes.Contains(data, []byte("::=")) &&
		bytes.Contains(data, []byte("BEGIN"))
}

func wasmibEntries(m *wasmib.Model) []Entry {
	var entries []Entry
	for _, mod := range m.AllModules() {
		entries = append(entries, Entry{Module: m.GetStr(mod.Name)})
	}
	nodes := m.AllNodes()
	for i := range nodes {
		n := &nodes[i]
		if len(n.Definitions) == 0 {
			continue
		}
		oid := snmp.OID(m.GetOIDSlice(n))
		for _, def := range n.Definitions {
			mod := m.GetModule(def.Module)
			if mod == nil {
				continue
			}
			entries = append(entries, Entry{
				Module: m.GetStr(mod.Name),
				Label:  m.GetStr(def.Label),
				OID:    oid,
				Kind:   wasmibKind(n.Kind),
			})
		}
	}
	return entries
}

func wasmibKind(k wasmib.NodeKind) Kind {
	switch k {
	case wasmib.NodeKindScalar:
		return KindScalar
	case wasmib.NodeKindTable:
		return KindTable
	case wasmib.NodeKindRow:
		return KindRow
	case wasmib.NodeKindColumn:
		return KindColumn
	case wasmib.NodeKindNode:
		return KindNode
	}
	return KindUnknown
}
