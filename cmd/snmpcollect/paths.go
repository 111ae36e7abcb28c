package main

import (
	"fmt"
	"os"

	"github.com/golangsnmp/snmpcollect"
	"github.com/golangsnmp/snmpcollect/internal/config"
	"github.com/golangsnmp/snmpcollect/internal/resolver"
)

const pathsUsage = `snmpcollect mib-paths - Show MIB search directories

Usage:
  snmpcollect [options] mib-paths

Shows -p directories, main.mib_dirs and MIBDIRS when any are set.
Otherwise shows the directories discovered from net-snmp and libsmi
configuration. The configuration file is optional for this command.
`

func (c *cli) cmdMIBPaths(args []string) int {
	if code, done := c.parseNoArgs("mib-paths", pathsUsage, args); done {
		return code
	}

	cfg := &config.Config{Main: config.Main{MIBDirs: c.MIBDirs}}
	if c.Config != "" || c.ConfigDir != "" {
		loaded, err := c.loadConfig()
		if err != nil {
			printError("%v", err)
			return exitError
		}
		cfg = loaded
	}

	dirs := snmpcollect.MIBDirs(cfg)
	if len(dirs) == 0 {
		dirs = resolver.SystemDirs(nil)
	}
	if len(dirs) == 0 {
		fmt.Fprintln(os.Stderr, "no search paths found")
		return exitOK
	}
	for _, d := range dirs {
		fmt.Println(d)
	}
	return exitOK
}
