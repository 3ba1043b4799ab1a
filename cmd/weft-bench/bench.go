package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/projectdiscovery/fastdialer/fastdialer"
	"github.com/projectdiscovery/retryablehttp-go"
	"github.com/pterm/pterm"
	"github.com/valyala/fasthttp"

	"github.com/weftlabs/weft/helper"
	WeftErrorHandler "github.com/weftlabs/weft/internal/utils/error"
	WeftLogger "github.com/weftlabs/weft/internal/utils/logger"
)

// BenchOptions configures a load run.
type BenchOptions struct {
	Target     string
	Path       string
	Requests   int
	Threads    int
	PostSize   int
	Delay      time.Duration
	Timeout    time.Duration
	Verbose    bool
	NoProgress bool
}

// LoadGenerator drives a fixed number of requests at a weblet server and
// aggregates transport metrics.
type LoadGenerator struct {
	opts     *BenchOptions
	dialer   *fastdialer.Dialer
	client   *fasthttp.Client
	pool     pond.Pool
	recorder *WeftErrorHandler.ErrorHandler
	throttle *throttler

	startTime    atomic.Int64
	sent         atomic.Uint64
	failed       atomic.Uint64
	statusCounts [6]atomic.Uint64
	bodyBytes    atomic.Int64
	totalLatency atomic.Int64
	maxLatency   atomic.Int64
}

func NewLoadGenerator(opts *BenchOptions) (*LoadGenerator, error) {
	fdOpts := fastdialer.DefaultOptions
	fdOpts.EnableFallback = true
	fdOpts.DialerTimeout = 5 * time.Second
	fdOpts.DialerKeepAlive = 10 * time.Second
	fdOpts.MaxRetries = 3
	fdOpts.HostsFile = true
	fdOpts.ResolversFile = true
	if opts.Verbose {
		fdOpts.OnDialCallback = func(hostname, ip string) {
			WeftLogger.Verbose().Msgf("dialed %s (%s)", hostname, ip)
		}
	}

	dialer, err := fastdialer.NewDialer(fdOpts)
	if err != nil {
		return nil, fmt.Errorf("could not create dialer: %w", err)
	}

	g := &LoadGenerator{
		opts:     opts,
		dialer:   dialer,
		recorder: WeftErrorHandler.NewErrorHandler(8),
		pool:     pond.NewPool(opts.Threads),
		throttle: newThrottler(nil),
	}
	g.client = &fasthttp.Client{
		MaxConnsPerHost:          opts.Threads * 2,
		MaxIdleConnDuration:      time.Minute,
		NoDefaultUserAgentHeader: true,
		ReadBufferSize:           12288,
		WriteBufferSize:          12288,
		Dial: func(addr string) (net.Conn, error) {
			dialCtx, cancel := context.WithTimeout(context.Background(), fdOpts.DialerTimeout)
			defer cancel()
			return dialer.Dial(dialCtx, "tcp", addr)
		},
	}
	return g, nil
}

// waitReady probes the target until it answers, so pool workers never race
// the server's first bind.
func (g *LoadGenerator) waitReady() error {
	httpOpts := retryablehttp.DefaultOptionsSingle
	httpOpts.RetryMax = 5
	httpOpts.Timeout = 3 * time.Second

	client := retryablehttp.NewClient(httpOpts)
	resp, err := client.Get(g.opts.Target + "/")
	if err != nil {
		return fmt.Errorf("target %s is not answering: %w", g.opts.Target, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Run sends the configured number of requests and blocks until they all
// complete or ctx is cancelled.
func (g *LoadGenerator) Run(ctx context.Context) error {
	if err := g.waitReady(); err != nil {
		return err
	}

	WeftLogger.Info().Msgf("Sending %d requests to %s%s with %d workers",
		g.opts.Requests, g.opts.Target, g.opts.Path, g.opts.Threads)

	stopProgress := func() {}
	if !g.opts.NoProgress && !g.opts.Verbose {
		stopProgress = g.trackProgress()
	}

	g.startTime.Store(time.Now().UnixNano())
	group := g.pool.NewGroupContext(ctx)
	for i := 0; i < g.opts.Requests; i++ {
		group.Submit(func() {
			g.fire()
		})
	}

	select {
	case <-ctx.Done():
		g.pool.StopAndWait()
		stopProgress()
		return ctx.Err()
	case <-group.Done():
	}
	stopProgress()
	return nil
}

// trackProgress mirrors pool counters into a progress display until the
// returned stop function runs. The display is owned by a single
// goroutine so workers never touch it.
func (g *LoadGenerator) trackProgress() func() {
	label := g.opts.Target + g.opts.Path
	display := newProgressDisplay(label, g.opts.Requests, g.opts.Threads)

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(150 * time.Millisecond)
		defer ticker.Stop()

		var shown uint64
		sync := func() {
			completed := g.pool.CompletedTasks()
			for ; shown < completed; shown++ {
				display.Increment()
			}
		}
		for {
			select {
			case <-done:
				sync()
				display.Success(label, g.pool.CompletedTasks())
				display.Stop()
				return
			case <-ticker.C:
				sync()
				display.UpdateText(label, g.pool.RunningWorkers(),
					g.pool.CompletedTasks(), g.pool.SubmittedTasks())
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (g *LoadGenerator) fire() {
	if g.opts.Delay > 0 {
		time.Sleep(g.opts.Delay)
	}
	g.throttle.Wait()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.opts.Target + g.opts.Path)
	req.Header.SetMethod(fasthttp.MethodGet)
	// The server closes the connection after every response; announcing
	// it keeps the client from reusing dead connections.
	req.SetConnectionClose()
	if g.opts.PostSize > 0 {
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/x-www-form-urlencoded")
		req.SetBodyString("payload=" + helper.RandomString(g.opts.PostSize))
	}

	start := time.Now()
	err := g.client.DoTimeout(req, resp, g.opts.Timeout)
	elapsed := time.Since(start)

	g.sent.Add(1)
	if err != nil {
		g.failed.Add(1)
		g.recorder.Record(err, WeftErrorHandler.ErrorContext{
			Source: "weft-bench",
			Path:   g.opts.Path,
		})
		return
	}

	g.totalLatency.Add(elapsed.Nanoseconds())
	for {
		cur := g.maxLatency.Load()
		if elapsed.Nanoseconds() <= cur || g.maxLatency.CompareAndSwap(cur, elapsed.Nanoseconds()) {
			break
		}
	}

	if class := resp.StatusCode() / 100; class >= 1 && class <= 5 {
		g.statusCounts[class].Add(1)
	}
	g.bodyBytes.Add(int64(len(resp.Body())))

	if g.throttle.Observe(resp.StatusCode()) && g.opts.Verbose {
		WeftLogger.Verbose().Msgf("target overloaded (%d), backing off", resp.StatusCode())
	}

	if g.opts.Verbose {
		WeftLogger.Verbose().Msgf("%s %s -> %d (%s)",
			string(req.Header.Method()), g.opts.Path, resp.StatusCode(), elapsed.Round(time.Microsecond))
	}
}

// PrintSummary renders the aggregated run metrics.
func (g *LoadGenerator) PrintSummary() {
	elapsed := time.Duration(time.Now().UnixNano() - g.startTime.Load())
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	sent := g.sent.Load()
	failed := g.failed.Load()
	ok := sent - failed

	avg := time.Duration(0)
	if ok > 0 {
		avg = time.Duration(g.totalLatency.Load() / int64(ok))
	}

	pterm.DefaultHeader.WithBackgroundStyle(pterm.NewStyle(pterm.BgGreen)).
		Println("Benchmark results for " + g.opts.Target + g.opts.Path)

	tableData := pterm.TableData{
		{"Metric", "Value"},
		{"Requests sent", strconv.FormatUint(sent, 10)},
		{"Failed", strconv.FormatUint(failed, 10)},
		{"2xx", strconv.FormatUint(g.statusCounts[2].Load(), 10)},
		{"3xx", strconv.FormatUint(g.statusCounts[3].Load(), 10)},
		{"4xx", strconv.FormatUint(g.statusCounts[4].Load(), 10)},
		{"5xx", strconv.FormatUint(g.statusCounts[5].Load(), 10)},
		{"Body bytes", helper.FormatBytes(g.bodyBytes.Load())},
		{"Elapsed", elapsed.Round(time.Millisecond).String()},
		{"Throughput", fmt.Sprintf("%.1f req/s", float64(sent)/elapsed.Seconds())},
		{"Avg latency", avg.Round(time.Microsecond).String()},
		{"Max latency", time.Duration(g.maxLatency.Load()).Round(time.Microsecond).String()},
	}

	table := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(tableData)
	rendered, err := table.Srender()
	if err != nil {
		WeftLogger.Error().Msgf("Could not render results table: %v", err)
		return
	}
	fmt.Print(rendered)

	if g.recorder.TotalCount() > 0 {
		g.recorder.PrintStats()
	}
}

// Close stops the worker pool and releases client resources.
func (g *LoadGenerator) Close() {
	g.pool.StopAndWait()
	g.client.CloseIdleConnections()
	g.dialer.Close()
}
