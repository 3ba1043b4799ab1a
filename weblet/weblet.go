/*
WEFT
github.com/weftlabs/weft
*/

// Package weblet is a small HTTP/1.1 server built directly on TCP
// sockets. It parses one request per connection, routes it through
// registered path patterns with {name} placeholders, falls back to
// static files with optional SPA rewriting, and serializes the
// handler's response before closing the connection. Connections are
// handled on the server's own task pool; dynamic handlers can be loaded
// from Go plugins or embedded JavaScript units.
package weblet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"syscall"

	"github.com/projectdiscovery/gcache"
	fileutil "github.com/projectdiscovery/utils/file"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"

	"github.com/weftlabs/weft/concurrent"
	"github.com/weftlabs/weft/format"
	WeftErrorHandler "github.com/weftlabs/weft/internal/utils/error"
	WeftLogger "github.com/weftlabs/weft/internal/utils/logger"
)

// Options configures a Server. The zero value binds a wildcard listener
// on an ephemeral port with CPU-count workers.
type Options struct {
	Host string
	Port int

	// SPA rewrites unmatched extension-less paths to index.html so a
	// client-side router can take over.
	SPA bool

	// Verbose logs one line per served request.
	Verbose bool

	// Workers sizes the connection pool; <= 0 selects the CPU count.
	Workers int

	// ErrorCallback receives every startup, parse and handler failure
	// message. Errors are logged through the shared recorder regardless.
	ErrorCallback func(message string)

	// Env is handed to every handler. A nil Env becomes an empty one.
	Env *format.DotEnv
}

// DefaultOptions returns the conventional localhost:8080 setup.
func DefaultOptions() Options {
	return Options{
		Host: "localhost",
		Port: 8080,
	}
}

// Server is a single-listener HTTP server. Routes, error pages, the
// public directory and dynamic modules are registered during setup;
// mutating them after Start is not safe.
type Server struct {
	host string
	port int
	spa  bool

	env        *format.DotEnv
	pool       *concurrent.TaskPool
	routes     []route
	registry   *Registry
	errorPages map[int]string
	publicDir  string

	staticCache gcache.Cache[string, *staticEntry]

	verbose       bool
	errorCallback func(string)
	recorder      *WeftErrorHandler.ErrorHandler

	mu       sync.Mutex
	running  bool
	listener net.Listener
}

func New(opts Options) *Server {
	env := opts.Env
	if env == nil {
		env = format.NewDotEnv()
	}

	s := &Server{
		host:          opts.Host,
		port:          opts.Port,
		spa:           opts.SPA,
		env:           env,
		pool:          concurrent.NewTaskPool(opts.Workers),
		errorPages:    make(map[int]string),
		staticCache:   newStaticCache(),
		verbose:       opts.Verbose,
		errorCallback: opts.ErrorCallback,
		recorder:      WeftErrorHandler.NewErrorHandler(8),
	}
	s.registry = NewRegistry(s.report)
	return s
}

// Handle registers handler for a path pattern. {name} placeholders match
// any run of characters except '/'; everything else is literal. Routes
// are tried in registration order and the first match wins.
func (s *Server) Handle(pathPattern string, handler Handler) {
	s.routes = append(s.routes, compileRoute(pathPattern, handler))
}

// ServeLocalDir makes dir the public directory for requests no route
// claims. "/" maps to index.html.
func (s *Server) ServeLocalDir(dir string) {
	s.publicDir = dir
}

// AddErrorHandler maps a status code to an error-page file. The path is
// used as given; when the file is missing at serve time the synthesized
// plain-text body is sent instead.
func (s *Server) AddErrorHandler(code int, path string) {
	s.errorPages[code] = path
}

// AddModule loads a dynamic code unit (.so or .js) and returns its id,
// or 0 when loading failed.
func (s *Server) AddModule(path string) int {
	return s.registry.Register(path)
}

// DynamicHandler resolves a named handler from a loaded module. The
// result is always callable; resolution failures answer 500.
func (s *Server) DynamicHandler(id int, name string) Handler {
	return s.registry.Load(id, name)
}

// SetEnv replaces the configuration handed to handlers. Setup-time only.
func (s *Server) SetEnv(env *format.DotEnv) {
	if env == nil {
		env = format.NewDotEnv()
	}
	s.env = env
}

// Env returns the configuration handed to handlers.
func (s *Server) Env() *format.DotEnv {
	return s.env
}

// IsSPA reports whether unmatched extension-less paths rewrite to
// index.html.
func (s *Server) IsSPA() bool {
	return s.spa
}

// Start submits the accept task to the server's pool and returns
// immediately. Binding happens inside the task; a socket, bind or listen
// failure is reported through the error callback and the server stays
// stopped. Starting a running server is a no-op.
func (s *Server) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if err := s.pool.Submit(s.serve); err != nil {
		s.report(fmt.Sprintf("failed to submit accept task: %v", err))
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}
}

// Stop closes the listener, breaking the accept loop, and waits for the
// pool to drain. The server can be started again afterwards.
func (s *Server) Stop() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.running = false
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.pool.WaitIdle()
}

// Close stops the server, releases the dynamic modules and shuts the
// pool down for good.
func (s *Server) Close() {
	s.Stop()
	s.registry.Close()
	s.pool.Stop()
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound listener address, or nil while the server is
// not listening. Binding happens asynchronously after Start, so callers
// that need the ephemeral port poll until non-nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// serve is the accept task: bind, listen, then accept and handle each
// connection inline until the listener closes.
func (s *Server) serve() {
	addr := s.bindAddr()
	lc := net.ListenConfig{Control: reuseAddrAndPort}
	ln, err := lc.Listen(context.Background(), "tcp4", addr)
	if err != nil {
		s.report(fmt.Sprintf("failed to listen on %s: %v", addr, err))
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if !s.running {
		// Stop won the race; back out.
		s.mu.Unlock()
		ln.Close()
		return
	}
	s.listener = ln
	s.mu.Unlock()

	WeftLogger.Info().Component("weblet").Msgf("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.report(fmt.Sprintf("accept failed: %v", err))
			continue
		}
		s.handleConn(conn)
	}
}

// bindAddr maps localhost to the wildcard address, the way the listener
// has always behaved.
func (s *Server) bindAddr() string {
	host := s.host
	if host == "localhost" || host == "127.0.0.1" {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(s.port))
}

// reuseAddrAndPort sets SO_REUSEADDR and SO_REUSEPORT before bind so
// restarts never trip over TIME_WAIT sockets.
func reuseAddrAndPort(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// handleConn serves exactly one request and closes the connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	req, err := readRequest(conn, connWarner(remote))
	if err != nil {
		if errors.Is(err, errClientGone) {
			return
		}
		status, message := 500, ""
		var perr *parseError
		if errors.As(err, &perr) {
			status, message = perr.status, perr.message
		}
		s.reportContext(err.Error(), remote, "")
		s.writeResponse(conn, s.handleError(status, message))
		return
	}

	if s.verbose {
		WeftLogger.Info().Component("weblet").RequestID(req.RequestID).
			Msgf("%s %s from %s", req.Method, req.Path, remote)
	}

	s.writeResponse(conn, s.routeRequest(req))
}

func (s *Server) writeResponse(conn net.Conn, resp *Response) {
	buf := resp.build()
	defer bytebufferpool.Put(buf)
	if _, err := conn.Write(buf.B); err != nil {
		s.report(fmt.Sprintf("failed to write response: %v", err))
	}
}

// handleError builds the response for a server-generated error, serving
// a registered error page when its file exists.
func (s *Server) handleError(code int, message string) *Response {
	if page, ok := s.errorPages[code]; ok && fileutil.FileExists(page) {
		content, err := os.ReadFile(page)
		if err == nil {
			resp := NewResponse()
			resp.StatusCode = code
			resp.StatusMessage = "Error Page"
			resp.SetHeader("Content-Type", "text/html")
			resp.Contents = content
			return resp
		}
	}

	if message == "" {
		message = "An unexpected error occurred."
	}
	resp := NewResponse()
	resp.StatusCode = code
	resp.StatusMessage = http.StatusText(code)
	resp.SetHeader("Content-Type", "text/plain")
	resp.Contents = []byte(fmt.Sprintf("Error %d: %s", code, message))
	return resp
}

func connWarner(remote string) func(string) {
	return func(message string) {
		WeftLogger.Warning().Component("weblet").Metadata("remote", remote).Msg(message)
	}
}

// report surfaces a failure through the dedup recorder and the
// user-supplied callback.
func (s *Server) report(message string) {
	s.reportContext(message, "", "")
}

func (s *Server) reportContext(message, remoteAddr, path string) {
	s.recorder.Record(errors.New(message), WeftErrorHandler.ErrorContext{
		Source:     "weblet",
		RemoteAddr: remoteAddr,
		Path:       path,
	})
	if s.errorCallback != nil {
		s.errorCallback(message)
	}
}
