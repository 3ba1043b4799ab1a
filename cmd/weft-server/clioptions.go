package main

import (
	"fmt"

	"github.com/projectdiscovery/goflags"
)

// Options represents the command-line options of the demo server.
type Options struct {
	Host    string
	Port    int
	Threads int

	PublicDir    string
	SPA          bool
	UploadDir    string
	NotFoundPage string
	EnvFile      string
	Module       string

	Verbose bool
	Debug   bool
}

func parseOptions() (*Options, error) {
	opts := &Options{}

	flagSet := goflags.NewFlagSet()
	flagSet.SetDescription(`weft-server - demo HTTP server built on the weft framework`)

	flagSet.CreateGroup("server", "Server",
		flagSet.StringVarP(&opts.Host, "host", "H", "localhost", "interface to bind (localhost binds the wildcard address)"),
		flagSet.IntVarP(&opts.Port, "port", "p", 8080, "port to listen on"),
		flagSet.IntVarP(&opts.Threads, "threads", "t", 0, "connection pool workers (0 selects the CPU count)"),
	)

	flagSet.CreateGroup("content", "Content",
		flagSet.StringVarP(&opts.PublicDir, "public-dir", "P", "./public", "directory served for unrouted paths"),
		flagSet.BoolVar(&opts.SPA, "spa", false, "rewrite extension-less paths to index.html"),
		flagSet.StringVarP(&opts.UploadDir, "upload-dir", "U", "./uploads", "directory receiving multipart uploads"),
		flagSet.StringVar(&opts.NotFoundPage, "not-found-page", "", "HTML file served for 404 responses"),
		flagSet.StringVarP(&opts.EnvFile, "env-file", "e", "", ".env file passed to handlers"),
		flagSet.StringVarP(&opts.Module, "module", "m", "", "dynamic handler unit to load (.so or .js)"),
	)

	flagSet.CreateGroup("debug", "Debug",
		flagSet.BoolVarP(&opts.Verbose, "verbose", "v", false, "log each served request"),
		flagSet.BoolVarP(&opts.Debug, "debug", "d", false, "enable debug logging"),
	)

	if err := flagSet.Parse(); err != nil {
		return nil, fmt.Errorf("could not parse flags: %w", err)
	}

	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", opts.Port)
	}
	return opts, nil
}
