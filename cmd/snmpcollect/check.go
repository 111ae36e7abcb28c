package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golangsnmp/snmpcollect"
	"github.com/golangsnmp/snmpcollect/internal/config"
)

const configTestUsage = `snmpcollect config-test - Parse and validate the configuration

Usage:
  snmpcollect [options] config-test

Exits 0 and prints "Config is OK" when the configuration is valid. MIB
names are not resolved; use mib-test or preflight-check for that.
`

const mibTestUsage = `snmpcollect mib-test - Check that every configured name resolves

Usage:
  snmpcollect [options] mib-test

Loads the required MIB modules with the configured resolver and compiles
every data definition a device collects.
`

const preflightUsage = `snmpcollect preflight-check - config-test and mib-test

Usage:
  snmpcollect [options] preflight-check
`

func (c *cli) cmdConfigTest(args []string) int {
	if code, done := c.parseNoArgs("config-test", configTestUsage, args); done {
		return code
	}
	if _, ok := c.configTest(); !ok {
		return exitError
	}
	fmt.Println("Config is OK")
	return exitOK
}

func (c *cli) cmdMIBTest(args []string) int {
	if code, done := c.parseNoArgs("mib-test", mibTestUsage, args); done {
		return code
	}
	cfg, err := c.loadConfig()
	if err != nil {
		printError("%v", err)
		return exitError
	}
	if !c.mibTest(cfg) {
		return exitError
	}
	fmt.Println("MIBs are OK")
	return exitOK
}

func (c *cli) cmdPreflight(args []string) int {
	if code, done := c.parseNoArgs("preflight-check", preflightUsage, args); done {
		return code
	}
	cfg, ok := c.configTest()
	if !ok || !c.mibTest(cfg) {
		return exitError
	}
	if _, err := cfg.Sink(); err != nil {
		printError("%v", err)
		return exitError
	}
	fmt.Println("We are GO for launch.")
	return exitOK
}

// parseNoArgs handles commands that take only -h.
func (c *cli) parseNoArgs(name, usage string, args []string) (int, bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	help := fs.Bool("h", false, "show help")
	fs.BoolVar(help, "help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return exitError, true
	}
	if *help || c.Help {
		_, _ = fmt.Fprint(os.Stdout, usage)
		return exitOK, true
	}
	if fs.NArg() > 0 {
		printError("%s takes no arguments", name)
		return exitError, true
	}
	return 0, false
}

func (c *cli) configTest() (*config.Config, bool) {
	cfg, err := c.loadConfig()
	if err != nil {
		printError("%v", err)
		return nil, false
	}
	if err := cfg.Validate(); err != nil {
		printErrors(err)
		return nil, false
	}
	return cfg, true
}

func (c *cli) mibTest(cfg *config.Config) bool {
	table, err := snmpcollect.LoadMIBs(context.Background(), cfg, c.setupLogger())
	if err != nil {
		printError("%v", err)
		return false
	}
	ok := true
	if missing := table.Missing(snmpcollect.RequiredModules(cfg)); len(missing) > 0 {
		printError("MIB modules not found: %s", strings.Join(missing, ", "))
		ok = false
	}
	if _, err := cfg.Compile(table); err != nil {
		printErrors(err)
		ok = false
	}
	return ok
}

// printErrors prints each error of a joined error on its own line.
func printErrors(err error) {
	for _, line := range strings.Split(err.Error(), "\n") {
		printError("%s", line)
	}
}
