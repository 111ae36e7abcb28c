package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/golangsnmp/snmpcollect"
	"github.com/golangsnmp/snmpcollect/cmd/internal/cliutil"
)

const keysUsage = `snmpcollect show-output-keys - Print the metric paths

Usage:
  snmpcollect [options] show-output-keys [-o FILE]

Prints one line per device, data definition and value, in the form sent to
Graphite. Table rows are shown as <instance>.

Options:
  -o, --output FILE   Write to FILE instead of stdout
  -h, --help          Show help
`

func (c *cli) cmdShowOutputKeys(args []string) int {
	fs := flag.NewFlagSet("show-output-keys", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, keysUsage) }

	help := fs.Bool("h", false, "show help")
	fs.BoolVar(help, "help", false, "show help")
	out := fs.String("o", "", "output file")
	fs.StringVar(out, "output", "", "output file")

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *help || c.Help {
		_, _ = fmt.Fprint(os.Stdout, keysUsage)
		return exitOK
	}

	cfg, err := c.loadConfig()
	if err != nil {
		printError("%v", err)
		return exitError
	}
	collector, err := snmpcollect.New(context.Background(), cfg, snmpcollect.WithLogger(c.setupLogger()))
	if err != nil {
		printError("%v", err)
		return exitError
	}
	defer func() { _ = collector.Close() }()

	w, closeOut, err := cliutil.GetOutput(*out)
	if err != nil {
		printError("%v", err)
		return exitError
	}
	defer closeOut()
	for _, key := range collector.OutputKeys() {
		if _, err := fmt.Fprintln(w, key); err != nil {
			printError("%v", err)
			return exitError
		}
	}
	return exitOK
}
