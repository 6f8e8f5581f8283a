package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
)

type command struct {
	summary string
	run     func(args []string) error
}

var commands = map[string]command{
	"fit":         {"Find and fit spots in a FITS image stack", runFit},
	"convert":     {"Convert a spot file to another format", runConvert},
	"info":        {"Print a summary of a spot file", runInfo},
	"filter":      {"Keep spots within the configured width, intensity and precision ranges", runFilter},
	"pairs":       {"Pair channel 1 and 2 spots and fit their distance", runPairs},
	"track":       {"Link spots across frames and save each track", runTrack},
	"init-config": {"Write a configuration file with default values", runInitConfig},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags]\n\nCommands:\n", os.Args[0])
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(os.Stderr, "\nRun '%s <command> -h' for the flags of a command.\n", os.Args[0])
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}
	if err := cmd.run(flag.Args()[1:]); err != nil {
		log.Fatalf("%s failed: %v", flag.Arg(0), err)
	}
}
