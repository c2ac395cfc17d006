package main

import (
	"flag"
	"fmt"
	"os"
)

const usage = `dittomount - mount framework for local, archive and network filesystems

Usage:
  dittomount <command> [flags] [args]

Commands:
  init              Write a default configuration file
  schema [file]     Write the configuration JSON schema (default config.schema.json)
  mount             Serve the configured mounts over FUSE until interrupted
  mounts            List the configured mounts
  ls <path>         List a directory, e.g. "ram:/"
  stat <path>       Show the attributes of a path
  cat <path>...     Write files to stdout

Run "dittomount <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "init":
		err = runInit(args)
	case "schema":
		err = runSchema(args)
	case "mount":
		err = runMount(args)
	case "mounts":
		err = runMounts(args)
	case "ls":
		err = runLs(args)
	case "stat":
		err = runStat(args)
	case "cat":
		err = runCat(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set with the --config flag every command
// that loads configuration accepts.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittomount/config.yaml)")
	return fs, configPath
}
