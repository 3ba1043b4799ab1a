package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	WeftLogger "github.com/weftlabs/weft/internal/utils/logger"
)

type cliOptions struct {
	Target     string
	Path       string
	Requests   int
	Threads    int
	PostSize   int
	DelayMs    int
	TimeoutMs  int
	Verbose    bool
	NoProgress bool
}

type multiFlag struct {
	name   string
	usage  string
	value  interface{}
	defVal interface{}
}

func parseFlags() (*cliOptions, error) {
	opts := &cliOptions{}

	flags := []multiFlag{
		{name: "u,url", usage: "Target base URL (example: http://127.0.0.1:8080)", value: &opts.Target, defVal: "http://127.0.0.1:8080"},
		{name: "p,path", usage: "Request path", value: &opts.Path, defVal: "/"},
		{name: "n,requests", usage: "Total number of requests to send", value: &opts.Requests, defVal: 200},
		{name: "t,threads", usage: "Number of concurrent workers", value: &opts.Threads, defVal: 8},
		{name: "post-size", usage: "POST a urlencoded payload of this many random bytes instead of GET", value: &opts.PostSize, defVal: 0},
		{name: "delay", usage: "Delay before each request (in milliseconds)", value: &opts.DelayMs, defVal: 0},
		{name: "T,timeout", usage: "Per-request timeout (in milliseconds)", value: &opts.TimeoutMs, defVal: 5000},
		{name: "v,verbose", usage: "Verbose output (disables the progress bar)", value: &opts.Verbose, defVal: false},
		{name: "dpg,disable-progress-bar", usage: "Disable progress bar", value: &opts.NoProgress, defVal: false},
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "weft-bench\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		for _, f := range flags {
			names := strings.Split(f.name, ",")
			if len(names) > 1 {
				fmt.Fprintf(os.Stderr, "  -%s, -%s\n", names[0], names[1])
			} else {
				fmt.Fprintf(os.Stderr, "  -%s\n", names[0])
			}
			if f.defVal != nil {
				fmt.Fprintf(os.Stderr, "        %s (Default: %v)\n", f.usage, f.defVal)
			} else {
				fmt.Fprintf(os.Stderr, "        %s\n", f.usage)
			}
		}
	}

	for _, f := range flags {
		for _, name := range strings.Split(f.name, ",") {
			name = strings.TrimSpace(name)
			switch v := f.value.(type) {
			case *string:
				if def, ok := f.defVal.(string); ok {
					flag.StringVar(v, name, def, f.usage)
				} else {
					flag.StringVar(v, name, "", f.usage)
				}
			case *int:
				if def, ok := f.defVal.(int); ok {
					flag.IntVar(v, name, def, f.usage)
				} else {
					flag.IntVar(v, name, 0, f.usage)
				}
			case *bool:
				if def, ok := f.defVal.(bool); ok {
					flag.BoolVar(v, name, def, f.usage)
				} else {
					flag.BoolVar(v, name, false, f.usage)
				}
			}
		}
	}

	flag.Parse()

	if opts.Requests <= 0 {
		return nil, fmt.Errorf("requests must be positive")
	}
	if opts.Threads <= 0 {
		opts.Threads = 8
	}
	opts.Target = strings.TrimSuffix(opts.Target, "/")
	if !strings.HasPrefix(opts.Path, "/") {
		opts.Path = "/" + opts.Path
	}
	return opts, nil
}

func main() {
	cli, err := parseFlags()
	if err != nil {
		WeftLogger.Error().Msgf("Could not parse options: %v", err)
		os.Exit(1)
	}
	if cli.Verbose {
		WeftLogger.DefaultLogger.EnableVerbose()
	}

	gen, err := NewLoadGenerator(&BenchOptions{
		Target:     cli.Target,
		Path:       cli.Path,
		Requests:   cli.Requests,
		Threads:    cli.Threads,
		PostSize:   cli.PostSize,
		Delay:      time.Duration(cli.DelayMs) * time.Millisecond,
		Timeout:    time.Duration(cli.TimeoutMs) * time.Millisecond,
		Verbose:    cli.Verbose,
		NoProgress: cli.NoProgress,
	})
	if err != nil {
		WeftLogger.Error().Msgf("%v", err)
		os.Exit(1)
	}
	defer gen.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gen.Run(ctx); err != nil {
		WeftLogger.Warning().Msgf("Run interrupted: %v", err)
	}
	gen.PrintSummary()
}
