// Package config loads and validates the collector's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/golangsnmp/snmpcollect/internal/poller"
	"github.com/golangsnmp/snmpcollect/internal/resolver"
	"github.com/golangsnmp/snmpcollect/internal/snmp"
)

// Defaults applied to unset fields.
const (
	DefaultWorkers  = 32
	DefaultResolver = "gomib"
	DefaultRetries  = snmp.DefaultRetries
)

// Config is the whole configuration.
type Config struct {
	Main    Main              `yaml:"main"`
	Output  Output            `yaml:"output"`
	Data    map[string]Data   `yaml:"data"`
	Devices map[string]Device `yaml:"devices"`
}

// Main holds process-wide settings.
type Main struct {
	Workers       int            `yaml:"workers"`
	Jitter        *time.Duration `yaml:"jitter"`
	MIBDirs       []string       `yaml:"mib_dirs"`
	MIBs          []string       `yaml:"mibs"`
	Resolver      string         `yaml:"resolver"`
	MetricsListen string         `yaml:"metrics_listen"`
}

// Output selects the metrics sink. graphite is accepted as an alias of
// carbon.
type Output struct {
	Carbon   *Carbon `yaml:"carbon"`
	Graphite *Carbon `yaml:"graphite"`
}

// Carbon configures a Graphite plaintext sink.
type Carbon struct {
	Prefix     string        `yaml:"prefix"`
	Server     string        `yaml:"graphite_server"`
	Port       int           `yaml:"graphite_port"`
	Buffer     int           `yaml:"buffer"`
	Batch      int           `yaml:"batch"`
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// Data is a data definition in symbolic form.
type Data struct {
	Table    bool     `yaml:"table"`
	Instance string   `yaml:"instance"`
	Values   []string `yaml:"values"`
}

// Device is one polled agent.
type Device struct {
	SNMP     SNMP     `yaml:"snmp"`
	Collect  []string `yaml:"collect"`
	Interval float64  `yaml:"interval"` // seconds
	Deadline float64  `yaml:"deadline"` // seconds, 0 derives it
}

// SNMP holds a device's protocol settings.
type SNMP struct {
	Host           string  `yaml:"host"`
	Version        string  `yaml:"version"`
	Community      string  `yaml:"community"`
	SecName        string  `yaml:"secname"`
	AuthProtocol   string  `yaml:"authprotocol"`
	AuthPassword   string  `yaml:"authpassword"`
	PrivProtocol   string  `yaml:"privprotocol"`
	PrivPassword   string  `yaml:"privpassword"`
	Timeout        float64 `yaml:"timeout"` // seconds
	Retries        *int    `yaml:"retries"`
	MaxRepetitions int     `yaml:"max_repetitions"`
	MaxOIDs        int     `yaml:"max_oids"`
	FillMissing    *bool   `yaml:"fill_missing"`
}

// Sink returns the configured Graphite sink, or an error if there is none.
func (c *Config) Sink() (*Carbon, error) {
	switch {
	case c.Output.Carbon != nil && c.Output.Graphite != nil:
		return nil, errors.New("output: carbon and graphite are aliases; configure only one")
	case c.Output.Carbon != nil:
		return c.Output.Carbon, nil
	case c.Output.Graphite != nil:
		return c.Output.Graphite, nil
	}
	return nil, errors.New("output: no carbon (graphite) output configured")
}

// Workers returns the pool size.
func (c *Config) Workers() int {
	if c.Main.Workers > 0 {
		return c.Main.Workers
	}
	return DefaultWorkers
}

// ResolverName returns the MIB backend name.
func (c *Config) ResolverName() string {
	if c.Main.Resolver == "" {
		return DefaultResolver
	}
	return c.Main.Resolver
}

// DeviceNames returns the device names, sorted.
func (c *Config) DeviceNames() []string {
	names := make([]string, 0, len(c.Devices))
	for name := range c.Devices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DataNames returns the data definition names, sorted.
func (c *Config) DataNames() []string {
	names := make([]string, 0, len(c.Data))
	for name := range c.Data {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// UsedData returns the data definitions referenced by at least one
// device, sorted.
func (c *Config) UsedData() []string {
	seen := make(map[string]bool)
	for _, d := range c.Devices {
		for _, name := range d.Collect {
			seen[name] = true
		}
	}
	var out []string
	for name := range seen {
		if _, ok := c.Data[name]; ok {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Symbols returns every MIB name used by the referenced data definitions.
func (c *Config) Symbols() []string {
	var out []string
	for _, name := range c.UsedData() {
		d := c.Data[name]
		if d.Instance != "" {
			out = append(out, d.Instance)
		}
		out = append(out, d.Values...)
	}
	return out
}

// Spec converts d for resolver.Compile.
func (d Data) Spec() resolver.DataSpec {
	return resolver.DataSpec{Table: d.Table, Instance: d.Instance, Values: d.Values}
}

// Compile resolves every referenced data definition.
func (c *Config) Compile(r resolver.Resolver) (map[string]*resolver.Definition, error) {
	defs := make(map[string]*resolver.Definition)
	var errs []error
	for _, name := range c.UsedData() {
		def, err := resolver.Compile(r, name, c.Data[name].Spec())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs[name] = def
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return defs, nil
}

// Targets builds the poller targets, sorted by device name. defs must
// hold every definition the devices collect.
func (c *Config) Targets(defs map[string]*resolver.Definition) ([]poller.Target, error) {
	var (
		out  []poller.Target
		errs []error
	)
	for _, name := range c.DeviceNames() {
		t, err := c.Devices[name].target(name, defs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, t)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (d Device) target(name string, defs map[string]*resolver.Definition) (poller.Target, error) {
	creds, err := d.SNMP.Credentials()
	if err != nil {
		return poller.Target{}, fmt.Errorf("device %q: %w", name, err)
	}
	t := poller.Target{
		Name:           name,
		Address:        d.SNMP.Host,
		Credentials:    creds,
		Timeout:        seconds(d.SNMP.Timeout),
		Retries:        DefaultRetries,
		Interval:       seconds(d.Interval),
		MaxRepetitions: d.SNMP.MaxRepetitions,
		MaxOIDs:        d.SNMP.MaxOIDs,
		Deadline:       seconds(d.Deadline),
		FillMissing:    true,
	}
	if t.Timeout == 0 {
		t.Timeout = snmp.DefaultTimeout
	}
	if t.Interval == 0 {
		t.Interval = poller.DefaultInterval
	}
	if d.SNMP.Retries != nil {
		t.Retries = *d.SNMP.Retries
	}
	if d.SNMP.FillMissing != nil {
		t.FillMissing = *d.SNMP.FillMissing
	}
	for _, c := range d.Collect {
		def, ok := defs[c]
		if !ok {
			return poller.Target{}, fmt.Errorf("device %q: undefined data %q", name, c)
		}
		t.Definitions = append(t.Definitions, def)
	}
	return t, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Credentials builds the protocol credentials. An empty version means 2c
// and an empty community means "public".
func (s SNMP) Credentials() (snmp.Credentials, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s.Version)), "v") {
	case "1":
		return snmp.CommunityV1{Community: s.community()}, nil
	case "2", "2c", "":
		return snmp.CommunityV2c{Community: s.community()}, nil
	case "3":
		auth, err := snmp.ParseAuthProtocol(s.AuthProtocol)
		if err != nil {
			return nil, err
		}
		priv, err := snmp.ParsePrivProtocol(s.PrivProtocol)
		if err != nil {
			return nil, err
		}
		u := snmp.USM{
			UserName:       s.SecName,
			AuthProtocol:   auth,
			AuthPassphrase: s.AuthPassword,
			PrivProtocol:   priv,
			PrivPassphrase: s.PrivPassword,
		}
		if err := u.Validate(); err != nil {
			return nil, err
		}
		return u, nil
	}
	return nil, fmt.Errorf("unknown SNMP version %q (want 1, 2c or 3)", s.Version)
}

func (s SNMP) community() string {
	if s.Community == "" {
		return "public"
	}
	return s.Community
}

// Validate reports every structural problem found. The output section is
// checked only when present; use Sink to require one.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.ResolverName() {
	case "gomib", "wasmib":
	default:
		add("main: unknown resolver %q (want gomib or wasmib)", c.Main.Resolver)
	}
	if c.Main.Workers < 0 {
		add("main: workers must not be negative")
	}
	if c.Main.Jitter != nil && *c.Main.Jitter < 0 {
		add("main: jitter must not be negative")
	}
	if c.Output.Carbon != nil || c.Output.Graphite != nil {
		if sink, err := c.Sink(); err != nil {
			errs = append(errs, err)
		} else {
			if sink.Server == "" {
				add("output: graphite_server is required")
			}
			if sink.Port < 0 || sink.Port > math.MaxUint16 {
				add("output: graphite_port %d out of range", sink.Port)
			}
		}
	}

	for _, name := range c.DataNames() {
		d := c.Data[name]
		if len(d.Values) == 0 {
			add("data %q: no values", name)
		}
		if d.Table && d.Instance == "" {
			add("data %q: table definitions need an instance column", name)
		}
	}

	if len(c.Devices) == 0 {
		add("no devices configured")
	}
	for _, name := range c.DeviceNames() {
		d := c.Devices[name]
		if d.SNMP.Host == "" {
			add("device %q: snmp.host is required", name)
		}
		if _, err := d.SNMP.Credentials(); err != nil {
			add("device %q: %w", name, err)
		}
		if d.Interval < 0 {
			add("device %q: interval must be positive", name)
		}
		if d.SNMP.Timeout < 0 {
			add("device %q: timeout must be positive", name)
		}
		if d.Deadline < 0 {
			add("device %q: deadline must not be negative", name)
		}
		if d.SNMP.Retries != nil && *d.SNMP.Retries < 0 {
			add("device %q: retries must not be negative", name)
		}
		if d.SNMP.MaxRepetitions < 0 || d.SNMP.MaxOIDs < 0 {
			add("device %q: max_repetitions and max_oids must not be negative", name)
		}
		if len(d.Collect) == 0 {
			add("device %q: nothing to collect", name)
		}
		for _, ref := range d.Collect {
			if _, ok := c.Data[ref]; !ok {
				add("device %q: undefined data %q", name, ref)
			}
		}
	}
	return errors.Join(errs...)
}
