package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/proxyscope/proxyscope/proxyscope/cli"
	"github.com/proxyscope/proxyscope/proxyscope/config"
	"github.com/proxyscope/proxyscope/proxyscope/service"
	"github.com/proxyscope/proxyscope/proxyscope/traffic"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printRootUsage()
		return 1
	}

	var err error
	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "traffic":
		err = traffic.Parse(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("proxyscope version %s\n", config.Version)
		return 0
	case "help", "--help", "-h":
		printRootUsage()
		return 0
	default:
		validCommands := []string{"serve", "traffic", "version", "help"}
		err = cli.UnknownCommandError(args[0], validCommands)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runServe(args []string) int {
	flags, err := service.ParseServeFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing serve flags: %v\n", err)
		return 1
	}

	if err := service.NewServer(flags).Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}

func printRootUsage() {
	fmt.Fprint(os.Stderr, `Usage: proxyscope <command> [options]

Commands:
  serve      Run the capture server (MCP tool surface over the traffic store)
  traffic    Query a captured traffic store (list, search, status, clear)

Use "proxyscope <command> --help" for specific command usage.
`)
}
