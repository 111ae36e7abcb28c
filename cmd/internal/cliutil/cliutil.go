// Package cliutil provides shared CLI utilities for snmpcollect commands.
package cliutil

import (
	"fmt"
	"os"
	"strings"
)

// GlobalFlags holds the options accepted before or after the subcommand.
type GlobalFlags struct {
	Config    string   // -c FILE
	ConfigDir string   // -d DIR
	MIBDirs   []string // -p DIR, repeatable
	Verbose   int      // 1 for -v, 2 for -vv
	Help      bool
}

// ParseArgs extracts the global flags and the subcommand from args.
// Unrecognised flags are passed through to the subcommand.
func ParseArgs(args []string) (flags GlobalFlags, cmd string, cmdArgs []string) {
	value := func(i *int) string {
		if *i+1 < len(args) {
			*i++
			return args[*i]
		}
		return ""
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
		case arg == "-v" || arg == "--verbose":
			flags.Verbose = max(flags.Verbose, 1)
		case arg == "-vv":
			flags.Verbose = 2
		case arg == "-c" || arg == "--config":
			flags.Config = value(&i)
		case strings.HasPrefix(arg, "--config="):
			flags.Config = strings.TrimPrefix(arg, "--config=")
		case arg == "-d" || arg == "--config-dir":
			flags.ConfigDir = value(&i)
		case strings.HasPrefix(arg, "--config-dir="):
			flags.ConfigDir = strings.TrimPrefix(arg, "--config-dir=")
		case arg == "-p" || arg == "--path":
			if p := value(&i); p != "" {
				flags.MIBDirs = append(flags.MIBDirs, p)
			}
		case strings.HasPrefix(arg, "--path="):
			flags.MIBDirs = append(flags.MIBDirs, strings.TrimPrefix(arg, "--path="))
		case len(arg) > 0 && arg[0] == '-':
			cmdArgs = append(cmdArgs, arg)
		case cmd == "":
			cmd = arg
		default:
			cmdArgs = append(cmdArgs, arg)
		}
	}
	return
}

// GetOutput opens the output file or returns stdout.
func GetOutput(outputFile string) (*os.File, func(), error) {
	if outputFile == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// PrintError writes a formatted error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
