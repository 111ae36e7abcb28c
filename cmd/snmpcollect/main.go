// Command snmpcollect polls SNMP agents and sends the results to Graphite.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/golangsnmp/snmpcollect/cmd/internal/cliutil"
	"github.com/golangsnmp/snmpcollect/internal/config"
	"github.com/golangsnmp/snmpcollect/internal/types"
)

// Exit codes.
const (
	exitOK    = 0 // success, including a signalled shutdown of run
	exitError = 1 // configuration, MIB or startup failure
)

// defaultConfigDir is read when neither -c nor -d is given.
const defaultConfigDir = "/etc/snmpcollect/config.d"

const usage = `snmpcollect - SNMP poller for Graphite

Usage:
  snmpcollect [options] <command> [arguments]

Commands:
  run               Poll devices and send the values to Graphite
  config-test       Parse and validate the configuration
  mib-test          Load the required MIBs and resolve every configured name
  preflight-check   config-test and mib-test
  show-output-keys  Print the metric paths the configuration produces
  mib-paths         Show the MIB directories that would be searched
  version           Show version

Options:
  -c, --config FILE      Configuration file
  -d, --config-dir DIR   Directory of *.yaml files to merge (default ` + defaultConfigDir + `)
  -p, --path DIR         Add MIB search directory (repeatable)
  -v, --verbose          Enable debug logging
  -vv                    Enable trace logging (implies -v)
  -h, --help             Show help

Environment:
  MIBS      Colon-separated modules to load in addition to those configured
  MIBDIRS   Additional MIB directories

Examples:
  snmpcollect -c snmpcollect.yaml preflight-check
  snmpcollect -d /etc/snmpcollect/config.d run
  snmpcollect -c snmpcollect.yaml show-output-keys -o keys.txt
`

type cli struct {
	cliutil.GlobalFlags
}

func main() {
	os.Exit(run())
}

func run() int {
	flags, cmd, cmdArgs := cliutil.ParseArgs(os.Args[1:])
	c := &cli{GlobalFlags: flags}

	if c.Help && cmd == "" {
		_, _ = fmt.Fprint(os.Stdout, usage)
		return exitOK
	}
	if cmd == "" {
		_, _ = fmt.Fprint(os.Stderr, usage)
		return exitError
	}

	switch cmd {
	case "run":
		return c.cmdRun(cmdArgs)
	case "config-test":
		return c.cmdConfigTest(cmdArgs)
	case "mib-test":
		return c.cmdMIBTest(cmdArgs)
	case "preflight-check":
		return c.cmdPreflight(cmdArgs)
	case "show-output-keys":
		return c.cmdShowOutputKeys(cmdArgs)
	case "mib-paths":
		return c.cmdMIBPaths(cmdArgs)
	case "version":
		printVersion()
		return exitOK
	case "help":
		_, _ = fmt.Fprint(os.Stdout, usage)
		return exitOK
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		_, _ = fmt.Fprint(os.Stderr, usage)
		return exitError
	}
}

// setupLogger returns a text logger on stderr at info level, debug with -v
// and trace with -vv.
func (c *cli) setupLogger() *slog.Logger {
	level := slog.LevelInfo
	switch {
	case c.Verbose >= 2:
		level = types.LevelTrace
	case c.Verbose == 1:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// loadConfig reads the configuration named on the command line and adds
// the -p directories ahead of the configured ones.
func (c *cli) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case c.Config != "" && c.ConfigDir != "":
		return nil, errors.New("-c and -d are mutually exclusive")
	case c.Config != "":
		cfg, err = config.Load(c.Config)
	case c.ConfigDir != "":
		cfg, err = config.LoadDir(c.ConfigDir)
	default:
		cfg, err = config.LoadDir(defaultConfigDir)
	}
	if err != nil {
		return nil, err
	}
	if len(c.MIBDirs) > 0 {
		cfg.Main.MIBDirs = append(append([]string(nil), c.MIBDirs...), cfg.Main.MIBDirs...)
	}
	return cfg, nil
}

func printVersion() {
	version := "(devel)"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	fmt.Printf("snmpcollect %s\n", version)
}

func printError(format string, args ...any) {
	cliutil.PrintError(format, args...)
}
