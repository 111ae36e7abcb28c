package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golangsnmp/snmpcollect"
)

const runUsage = `snmpcollect run - Poll devices and send the values to Graphite

Usage:
  snmpcollect [options] run

Runs until interrupted (SIGINT or SIGTERM). On shutdown, running polls are
cancelled and buffered samples get one last chance to be sent.

Options:
  -h, --help   Show help
`

func (c *cli) cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, runUsage) }

	help := fs.Bool("h", false, "show help")
	fs.BoolVar(help, "help", false, "show help")

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *help || c.Help {
		_, _ = fmt.Fprint(os.Stdout, runUsage)
		return exitOK
	}

	cfg, err := c.loadConfig()
	if err != nil {
		printError("%v", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := c.setupLogger()
	collector, err := snmpcollect.New(ctx, cfg, snmpcollect.WithLogger(logger))
	if err != nil {
		printError("%v", err)
		return exitError
	}
	if err := collector.Run(ctx); err != nil {
		printError("%v", err)
		return exitError
	}
	return exitOK
}
