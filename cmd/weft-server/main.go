package main

import (
	"os"
	"os/signal"
	"syscall"

	fileutil "github.com/projectdiscovery/utils/file"

	"github.com/weftlabs/weft/cron"
	"github.com/weftlabs/weft/format"
	WeftLogger "github.com/weftlabs/weft/internal/utils/logger"
	"github.com/weftlabs/weft/weblet"
)

func main() {
	opts, err := parseOptions()
	if err != nil {
		WeftLogger.Error().Msgf("Could not parse options: %v", err)
		os.Exit(1)
	}
	if opts.Verbose {
		WeftLogger.DefaultLogger.EnableVerbose()
	}
	if opts.Debug {
		WeftLogger.DefaultLogger.EnableDebug()
	}

	env := format.NewDotEnv()
	if opts.EnvFile != "" {
		if err := env.Load(opts.EnvFile); err != nil {
			WeftLogger.Warning().Msgf("Could not load %s: %v", opts.EnvFile, err)
		}
	}

	srv := weblet.New(weblet.Options{
		Host:    opts.Host,
		Port:    opts.Port,
		SPA:     opts.SPA,
		Verbose: opts.Verbose,
		Workers: opts.Threads,
		Env:     env,
		ErrorCallback: func(msg string) {
			WeftLogger.Error().Component("weblet").Msg(msg)
		},
	})

	cache := newEmployeeCache()
	defer cache.Close()

	srv.Handle("/api/handshake", handshakeHandler)
	srv.Handle("/api/employee/{id}", employeeHandler(cache))
	srv.Handle("/api/upload", uploadHandler(opts.UploadDir))
	srv.Handle("/robots.txt", robotsHandler())

	if opts.Module != "" {
		if id := srv.AddModule(opts.Module); id > 0 {
			srv.Handle("/api/dynamic", srv.DynamicHandler(id, "handle_dynamic"))
			WeftLogger.Info().Msgf("Dynamic unit %s registered as module %d", opts.Module, id)
		}
	}

	if opts.NotFoundPage != "" {
		srv.AddErrorHandler(404, opts.NotFoundPage)
	}
	if opts.PublicDir != "" && fileutil.FolderExists(opts.PublicDir) {
		srv.ServeLocalDir(opts.PublicDir)
	}

	sched := cron.NewScheduler(2)
	err = sched.Add("cache-stats", "log employee cache statistics", "*/5 * * * *", func() {
		stats := cache.Stats()
		WeftLogger.Info().Component("cron").Msgf("employee cache: %d items, %d hits, %d misses",
			stats.Items, stats.Hits, stats.Misses)
	})
	if err != nil {
		WeftLogger.Error().Msgf("Could not schedule stats job: %v", err)
		os.Exit(1)
	}
	sched.Start()

	srv.Start()
	WeftLogger.Info().Msgf("weft-server listening on %s:%d (public dir: %s)",
		opts.Host, opts.Port, opts.PublicDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	WeftLogger.Info().Msg("Shutting down")
	sched.Stop()
	srv.Close()
}
