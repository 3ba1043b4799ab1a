package weblet

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/weftlabs/weft/format"
)

// startServer runs a real listener on an ephemeral port and returns the
// dialable address. Binding happens inside the accept task, so the
// address is polled.
func startServer(t *testing.T, opts Options, configure func(*Server)) (*Server, string) {
	t.Helper()
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	s := New(opts)
	if configure != nil {
		configure(s)
	}
	s.Start()
	t.Cleanup(s.Close)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != nil {
			_, port, err := net.SplitHostPort(a.String())
			require.NoError(t, err)
			return s, net.JoinHostPort("127.0.0.1", port)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server did not start listening")
	return nil, ""
}

// rawRoundTrip writes one wire-level request and reads until the server
// closes the connection.
func rawRoundTrip(t *testing.T, addr, wire string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(wire))
	require.NoError(t, err)

	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(data)
}

func httpDo(t *testing.T, req *fasthttp.Request) *fasthttp.Response {
	t.Helper()
	resp := fasthttp.AcquireResponse()
	t.Cleanup(func() { fasthttp.ReleaseResponse(resp) })

	client := &fasthttp.Client{}
	require.NoError(t, client.Do(req, resp))
	return resp
}

func httpGet(t *testing.T, url string) *fasthttp.Response {
	t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetConnectionClose()
	return httpDo(t, req)
}

func TestServerServesRoute(t *testing.T) {
	_, addr := startServer(t, Options{}, func(s *Server) {
		s.Handle("/api/handshake", textHandler("welcome"))
	})

	resp := httpGet(t, "http://"+addr+"/api/handshake")
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "welcome", string(resp.Body()))
	assert.Equal(t, "text/plain", string(resp.Header.ContentType()))
}

func TestServerRouteParamsEndToEnd(t *testing.T) {
	_, addr := startServer(t, Options{}, func(s *Server) {
		s.Handle("/api/employee/{id}", func(env *format.DotEnv, req *Request, params map[string]string) *Response {
			resp := NewResponse()
			resp.Contents = []byte("employee:" + params["id"])
			return resp
		})
	})

	resp := httpGet(t, "http://"+addr+"/api/employee/101")
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "employee:101", string(resp.Body()))
}

func TestServerPostFormEndToEnd(t *testing.T) {
	_, addr := startServer(t, Options{}, func(s *Server) {
		s.Handle("/submit", func(env *format.DotEnv, req *Request, params map[string]string) *Response {
			resp := NewResponse()
			resp.Contents = []byte(req.FormFields["name"] + ":" + req.FormFields["age"])
			return resp
		})
	})

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI("http://" + addr + "/submit")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.SetBodyString("name=Alice%20Liddell&age=7")
	req.SetConnectionClose()

	resp := httpDo(t, req)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "Alice Liddell:7", string(resp.Body()))
}

func TestServerMultipartEndToEnd(t *testing.T) {
	_, addr := startServer(t, Options{}, func(s *Server) {
		s.Handle("/upload", func(env *format.DotEnv, req *Request, params map[string]string) *Response {
			file := req.Files["myFile"]
			resp := NewResponse()
			resp.Contents = []byte(fmt.Sprintf("%s|%s|%s|%s",
				req.FormFields["description"], file.Filename, file.ContentType, file.Data))
			return resp
		})
	})

	body := "--X\r\n" +
		"Content-Disposition: form-data; name=\"description\"\r\n" +
		"\r\n" +
		"hello\r\n" +
		"--X\r\n" +
		"Content-Disposition: form-data; name=\"myFile\"; filename=\"a.txt\"\r\n" +
		"\r\n" +
		"abc\r\n" +
		"--X--\r\n"
	wire := "POST /upload HTTP/1.1\r\n" +
		"Host: weft.test\r\n" +
		"Content-Type: multipart/form-data; boundary=X\r\n" +
		fmt.Sprintf("Content-Length: %d\r\n", len(body)) +
		"\r\n" + body

	reply := rawRoundTrip(t, addr, wire)
	assert.Contains(t, reply, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, reply, "hello|a.txt|application/octet-stream|abc")
}

func TestServerRoutingAndNotFound(t *testing.T) {
	_, addr := startServer(t, Options{}, func(s *Server) {
		s.Handle("/api/user/{id}", func(env *format.DotEnv, req *Request, params map[string]string) *Response {
			resp := NewResponse()
			resp.Contents = []byte("user " + params["id"])
			return resp
		})
		s.Handle("/api/user", textHandler("user index"))
	})

	resp := httpGet(t, "http://"+addr+"/api/user/42")
	assert.Equal(t, "user 42", string(resp.Body()))

	reply := rawRoundTrip(t, addr, "GET /api/unknown HTTP/1.1\r\nHost: a\r\n\r\n")
	assert.Contains(t, reply, "HTTP/1.1 404 Not Found\r\n")
	assert.True(t, strings.HasSuffix(reply, "Error 404: An unexpected error occurred."),
		"reply = %q", reply)
}

func TestServerBadContentLengthWire(t *testing.T) {
	_, addr := startServer(t, Options{}, nil)

	reply := rawRoundTrip(t, addr, "POST / HTTP/1.1\r\nContent-Length: banana\r\n\r\n")
	assert.Contains(t, reply, "HTTP/1.1 400 Bad Request\r\n")
	assert.Contains(t, reply, "Error 400: Bad Request: Invalid Content-Length header.")
}

func TestServerOversizedHeadersWire(t *testing.T) {
	_, addr := startServer(t, Options{}, nil)

	// Exactly the header cap with no terminator: the server consumes
	// every byte, rejects, and closes cleanly.
	head := "GET / HTTP/1.1\r\nX-Pad: "
	wire := head + strings.Repeat("a", maxHeaderBytes-len(head))
	reply := rawRoundTrip(t, addr, wire)
	assert.Contains(t, reply, "HTTP/1.1 400 Bad Request\r\n")
	assert.Contains(t, reply, "Error 400: Bad Request: Request headers too large or malformed.")
}

func TestServerSetCookieWire(t *testing.T) {
	_, addr := startServer(t, Options{}, func(s *Server) {
		s.Handle("/login", func(env *format.DotEnv, req *Request, params map[string]string) *Response {
			resp := NewResponse()
			resp.SetCookie("session", "s-"+req.Cookies["client"], map[string]string{"HttpOnly": "", "Path": "/"})
			resp.SetCookie("theme", "dark", nil)
			resp.Contents = []byte("ok")
			return resp
		})
	})

	reply := rawRoundTrip(t, addr, "GET /login HTTP/1.1\r\nCookie: client=c1\r\n\r\n")
	assert.Contains(t, reply, "Set-Cookie: session=s-c1; HttpOnly; Path=/\r\n")
	assert.Contains(t, reply, "Set-Cookie: theme=dark\r\n")
	assert.Less(t, strings.Index(reply, "session=s-c1"), strings.Index(reply, "theme=dark"),
		"cookies out of registration order")
}

func TestServerOneRequestPerConnection(t *testing.T) {
	_, addr := startServer(t, Options{}, func(s *Server) {
		s.Handle("/a", textHandler("a-response"))
		s.Handle("/b", textHandler("b-response"))
	})

	// Two pipelined requests: only the first is served, then the
	// connection closes.
	wire := "GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n"
	reply := rawRoundTrip(t, addr, wire)

	assert.Equal(t, 1, strings.Count(reply, "HTTP/1.1 200 OK"))
	assert.Contains(t, reply, "a-response")
	assert.NotContains(t, reply, "b-response")
}

func TestServerStaticEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.html", "<h1>weft</h1>")

	_, addr := startServer(t, Options{}, func(s *Server) {
		s.ServeLocalDir(dir)
	})

	resp := httpGet(t, "http://"+addr+"/")
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "<h1>weft</h1>", string(resp.Body()))
}

func TestServerStopAndRestart(t *testing.T) {
	s, addr := startServer(t, Options{}, func(s *Server) {
		s.Handle("/ping", textHandler("pong"))
	})

	resp := httpGet(t, "http://"+addr+"/ping")
	require.Equal(t, 200, resp.StatusCode())

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.Addr())

	if conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond); err == nil {
		conn.Close()
		t.Error("listener still accepting after Stop")
	}

	// A stopped server starts again on a fresh ephemeral port.
	s.Start()
	deadline := time.Now().Add(5 * time.Second)
	var again string
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != nil {
			_, port, err := net.SplitHostPort(a.String())
			require.NoError(t, err)
			again = net.JoinHostPort("127.0.0.1", port)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, again, "server did not restart")

	resp = httpGet(t, "http://"+again+"/ping")
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "pong", string(resp.Body()))
}

func TestServerStopWithoutRequests(t *testing.T) {
	s, _ := startServer(t, Options{}, nil)
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop hung with no requests in flight")
	}
}

func TestServerListenFailureReportsError(t *testing.T) {
	// Hold the wildcard port without SO_REUSEPORT so the server's bind
	// fails deterministically.
	blocker, err := net.Listen("tcp4", "0.0.0.0:0")
	require.NoError(t, err)
	defer blocker.Close()
	_, port, err := net.SplitHostPort(blocker.Addr().String())
	require.NoError(t, err)

	errCh := make(chan string, 8)
	s := New(Options{
		Host: "127.0.0.1",
		Port: atoiOrFail(t, port),
		ErrorCallback: func(msg string) {
			select {
			case errCh <- msg:
			default:
			}
		},
	})
	t.Cleanup(s.Close)

	s.Start()

	select {
	case msg := <-errCh:
		assert.Contains(t, msg, "failed to listen")
	case <-time.After(5 * time.Second):
		t.Fatal("listen failure never reported")
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, s.IsRunning(), "server claims to run after bind failure")
}

func TestServerConcurrentRequests(t *testing.T) {
	_, addr := startServer(t, Options{Workers: 4}, func(s *Server) {
		s.Handle("/n/{i}", func(env *format.DotEnv, req *Request, params map[string]string) *Response {
			resp := NewResponse()
			resp.Contents = []byte(params["i"])
			return resp
		})
	})

	const clients = 8
	results := make(chan error, clients)
	for i := 0; i < clients; i++ {
		go func(i int) {
			reply := ""
			conn, err := net.Dial("tcp", addr)
			if err == nil {
				fmt.Fprintf(conn, "GET /n/%d HTTP/1.1\r\n\r\n", i)
				data, rerr := io.ReadAll(conn)
				conn.Close()
				err = rerr
				reply = string(data)
			}
			if err != nil {
				results <- err
				return
			}
			if !strings.HasSuffix(reply, fmt.Sprintf("\r\n\r\n%d", i)) {
				results <- fmt.Errorf("client %d got %q", i, reply)
				return
			}
			results <- nil
		}(i)
	}
	for i := 0; i < clients; i++ {
		if err := <-results; err != nil {
			t.Error(err)
		}
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.Host != "localhost" || opts.Port != 8080 {
		t.Errorf("DefaultOptions = %+v", opts)
	}
}

func atoiOrFail(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}
