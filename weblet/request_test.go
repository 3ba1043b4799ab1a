package weblet

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
)

// chunkReader hands out one slice per Read call so body reads can be
// split across arbitrary boundaries.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n == len(r.chunks[0]) {
		r.chunks = r.chunks[1:]
	} else {
		r.chunks[0] = r.chunks[0][n:]
	}
	return n, nil
}

func parseWire(t *testing.T, wire string) *Request {
	t.Helper()
	req, err := readRequest(strings.NewReader(wire), nil)
	if err != nil {
		t.Fatalf("readRequest failed: %v", err)
	}
	return req
}

func parseWireErr(t *testing.T, wire string) *parseError {
	t.Helper()
	_, err := readRequest(strings.NewReader(wire), nil)
	if err == nil {
		t.Fatal("readRequest succeeded, want parse error")
	}
	var perr *parseError
	if !errors.As(err, &perr) {
		t.Fatalf("readRequest returned %v, want *parseError", err)
	}
	return perr
}

func TestReadRequestSimpleGet(t *testing.T) {
	req := parseWire(t, "GET /hello HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n")

	if req.Method != "GET" {
		t.Errorf("Method = %q, want GET", req.Method)
	}
	if req.Path != "/hello" {
		t.Errorf("Path = %q, want /hello", req.Path)
	}
	if req.FullURL != "/hello" {
		t.Errorf("FullURL = %q, want /hello", req.FullURL)
	}
	if req.Headers["Host"] != "example.com" {
		t.Errorf("Host = %q, want example.com", req.Headers["Host"])
	}
	if req.Headers["Accept"] != "*/*" {
		t.Errorf("Accept = %q, want */*", req.Headers["Accept"])
	}
	if len(req.Body) != 0 {
		t.Errorf("Body = %q, want empty", req.Body)
	}
	if req.RequestID == "" {
		t.Error("RequestID not assigned")
	}
}

func TestReadRequestPathQuerySplit(t *testing.T) {
	req := parseWire(t, "GET /api/items?page=2&sort=name HTTP/1.1\r\nHost: shop.test:8080\r\n\r\n")

	if req.Path != "/api/items" {
		t.Errorf("Path = %q, want /api/items", req.Path)
	}
	if req.FullURL != "/api/items?page=2&sort=name" {
		t.Errorf("FullURL = %q", req.FullURL)
	}

	u, err := req.URL()
	if err != nil {
		t.Fatalf("URL() failed: %v", err)
	}
	if u.Host != "shop.test" || u.Port != "8080" {
		t.Errorf("URL host:port = %s:%s, want shop.test:8080", u.Host, u.Port)
	}
	if u.Param("page") != "2" || u.Param("sort") != "name" {
		t.Errorf("URL params = %v", u.Params())
	}
}

func TestReadRequestHeaderLastWins(t *testing.T) {
	req := parseWire(t, "GET / HTTP/1.1\r\nX-Tag: first\r\nX-Tag: second\r\n\r\n")
	if req.Headers["X-Tag"] != "second" {
		t.Errorf("X-Tag = %q, want second", req.Headers["X-Tag"])
	}
}

func TestReadRequestHeaderNamesKeepCase(t *testing.T) {
	req := parseWire(t, "GET / HTTP/1.1\r\nx-lower: a\r\nX-Upper: b\r\n\r\n")
	if _, ok := req.Headers["x-lower"]; !ok {
		t.Error("x-lower not stored under its own case")
	}
	if _, ok := req.Headers["X-upper"]; ok {
		t.Error("header names were canonicalized")
	}
}

func TestReadRequestCookies(t *testing.T) {
	req := parseWire(t, "GET / HTTP/1.1\r\nCookie: session=abc123; theme = dark ;broken; empty=\r\n\r\n")

	want := map[string]string{"session": "abc123", "theme": "dark", "empty": ""}
	if len(req.Cookies) != len(want) {
		t.Fatalf("Cookies = %v, want %v", req.Cookies, want)
	}
	for k, v := range want {
		if req.Cookies[k] != v {
			t.Errorf("Cookie %q = %q, want %q", k, req.Cookies[k], v)
		}
	}
}

func TestReadRequestMissingContentLength(t *testing.T) {
	// Plain requests carry no Content-Length; the body is simply empty.
	req := parseWire(t, "GET /page HTTP/1.1\r\nHost: a\r\n\r\n")
	if len(req.Body) != 0 || req.Contents != "" {
		t.Errorf("Body = %q Contents = %q, want empty", req.Body, req.Contents)
	}
}

func TestReadRequestInvalidContentLength(t *testing.T) {
	for _, cl := range []string{"abc", "-5", "12x"} {
		wire := "POST / HTTP/1.1\r\nContent-Length: " + cl + "\r\n\r\n"
		perr := parseWireErr(t, wire)
		if perr.status != 400 {
			t.Errorf("Content-Length %q: status = %d, want 400", cl, perr.status)
		}
		if perr.message != "Bad Request: Invalid Content-Length header." {
			t.Errorf("Content-Length %q: message = %q", cl, perr.message)
		}
	}
}

func TestReadRequestBodyAcrossReads(t *testing.T) {
	head := "POST /submit HTTP/1.1\r\nContent-Length: 11\r\n\r\n"
	reader := &chunkReader{chunks: [][]byte{
		[]byte(head + "hello"),
		[]byte(" "),
		[]byte("world"),
	}}

	req, err := readRequest(reader, nil)
	if err != nil {
		t.Fatalf("readRequest failed: %v", err)
	}
	if req.Contents != "hello world" {
		t.Errorf("Contents = %q, want %q", req.Contents, "hello world")
	}
}

func TestReadRequestIncompleteBody(t *testing.T) {
	perr := parseWireErr(t, "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc")
	if perr.status != 400 || perr.message != "Bad Request: Incomplete request body." {
		t.Errorf("got %d %q", perr.status, perr.message)
	}
}

func TestReadRequestHeaderCapExceeded(t *testing.T) {
	wire := "GET / HTTP/1.1\r\nX-Pad: " + strings.Repeat("a", maxHeaderBytes) // no terminator
	perr := parseWireErr(t, wire)
	if perr.status != 400 || perr.message != "Bad Request: Request headers too large or malformed." {
		t.Errorf("got %d %q", perr.status, perr.message)
	}
}

func TestReadRequestHeaderCapBoundary(t *testing.T) {
	// Terminator ending exactly at the cap is accepted.
	base := "GET /edge HTTP/1.1\r\nX-Pad: "
	pad := maxHeaderBytes - len(base) - len("\r\n\r\n")
	wire := base + strings.Repeat("a", pad) + "\r\n\r\n"
	if len(wire) != maxHeaderBytes {
		t.Fatalf("test wire is %d bytes, want %d", len(wire), maxHeaderBytes)
	}

	req := parseWire(t, wire)
	if req.Path != "/edge" {
		t.Errorf("Path = %q, want /edge", req.Path)
	}
}

func TestReadRequestEmptyConnection(t *testing.T) {
	_, err := readRequest(strings.NewReader(""), nil)
	if !errors.Is(err, errClientGone) {
		t.Errorf("err = %v, want errClientGone", err)
	}
}

func TestReadRequestURLEncodedBody(t *testing.T) {
	body := "name=Alice%20Liddell&age=7"
	wire := "POST /submit HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	req := parseWire(t, wire)
	if req.FormFields["name"] != "Alice Liddell" {
		t.Errorf("name = %q, want %q", req.FormFields["name"], "Alice Liddell")
	}
	if req.FormFields["age"] != "7" {
		t.Errorf("age = %q, want 7", req.FormFields["age"])
	}
	if req.Contents != body {
		t.Errorf("Contents = %q, want raw body", req.Contents)
	}
}

func TestReadRequestURLEncodedMalformedEscape(t *testing.T) {
	body := "note=50%ZZ+off&ok=1"
	wire := "POST / HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	var warnings []string
	req, err := readRequest(strings.NewReader(wire), func(msg string) {
		warnings = append(warnings, msg)
	})
	if err != nil {
		t.Fatalf("readRequest failed: %v", err)
	}
	if req.FormFields["note"] != "50%ZZ off" {
		t.Errorf("note = %q, want %q", req.FormFields["note"], "50%ZZ off")
	}
	if req.FormFields["ok"] != "1" {
		t.Errorf("ok = %q, want 1", req.FormFields["ok"])
	}
	if len(warnings) == 0 {
		t.Error("malformed escape produced no warning")
	}
}

func TestURLDecode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a+b", "a b"},
		{"%41%62%63", "Abc"},
		{"caf%C3%A9", "café"},
		{"100%", "100%"},
		{"%4", "%4"},
		{"%%41", "%A"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := urlDecode(tt.in, func(string) {}); got != tt.want {
			t.Errorf("urlDecode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadRequestMultipart(t *testing.T) {
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
		"Content-Type: multipart/form-data; boundary=X\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	req := parseWire(t, wire)

	if req.FormFields["description"] != "hello" {
		t.Errorf("description = %q, want hello", req.FormFields["description"])
	}
	file, ok := req.Files["myFile"]
	if !ok {
		t.Fatalf("myFile missing, files = %v", req.Files)
	}
	if file.Filename != "a.txt" {
		t.Errorf("Filename = %q, want a.txt", file.Filename)
	}
	if file.ContentType != "application/octet-stream" {
		t.Errorf("ContentType = %q, want application/octet-stream", file.ContentType)
	}
	if string(file.Data) != "abc" {
		t.Errorf("Data = %q, want abc", file.Data)
	}
	if req.Contents != "" {
		t.Errorf("Contents = %q, want empty for multipart", req.Contents)
	}
}

func TestReadRequestMultipartFileContentType(t *testing.T) {
	body := "--B\r\n" +
		"Content-Disposition: form-data; name=\"avatar\"; filename=\"me.png\"\r\n" +
		"Content-Type: image/png\r\n" +
		"\r\n" +
		"PNGDATA\r\n" +
		"--B--\r\n"
	wire := "POST /upload HTTP/1.1\r\n" +
		"Content-Type: multipart/form-data; boundary=B\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	req := parseWire(t, wire)
	file := req.Files["avatar"]
	if file.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", file.ContentType)
	}
	if string(file.Data) != "PNGDATA" {
		t.Errorf("Data = %q", file.Data)
	}
}

func TestReadRequestMultipartMissingBoundary(t *testing.T) {
	wire := "POST /upload HTTP/1.1\r\n" +
		"Content-Type: multipart/form-data\r\n" +
		"Content-Length: 5\r\n\r\nhello"

	perr := parseWireErr(t, wire)
	if perr.status != 400 || perr.message != "Bad Request: Malformed multipart/form-data (missing boundary)." {
		t.Errorf("got %d %q", perr.status, perr.message)
	}
}

func TestReadRequestMultipartSkipsMalformedPart(t *testing.T) {
	body := "--X\r\n" +
		"X-Other: no disposition here\r\n" +
		"\r\n" +
		"orphan\r\n" +
		"--X\r\n" +
		"Content-Disposition: form-data; name=\"kept\"\r\n" +
		"\r\n" +
		"value\r\n" +
		"--X--\r\n"
	wire := "POST /upload HTTP/1.1\r\n" +
		"Content-Type: multipart/form-data; boundary=X\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	var warnings []string
	req, err := readRequest(strings.NewReader(wire), func(msg string) {
		warnings = append(warnings, msg)
	})
	if err != nil {
		t.Fatalf("readRequest failed: %v", err)
	}
	if req.FormFields["kept"] != "value" {
		t.Errorf("kept = %q, want value", req.FormFields["kept"])
	}
	if len(req.FormFields) != 1 || len(req.Files) != 0 {
		t.Errorf("unexpected extra parts: fields=%v files=%v", req.FormFields, req.Files)
	}
	if len(warnings) == 0 {
		t.Error("malformed part produced no warning")
	}
}

func TestReadRequestOpaqueBody(t *testing.T) {
	body := `{"k":"v"}`
	wire := "POST /raw HTTP/1.1\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	req := parseWire(t, wire)
	if req.Contents != body {
		t.Errorf("Contents = %q, want %q", req.Contents, body)
	}
	if len(req.FormFields) != 0 {
		t.Errorf("opaque body was parsed: %v", req.FormFields)
	}
}

func TestMultipartBoundary(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"multipart/form-data; boundary=X", "X"},
		{"multipart/form-data; boundary=----WebKit123; charset=utf-8", "----WebKit123"},
		{"multipart/form-data", ""},
		{"multipart/form-data; boundary=", ""},
	}
	for _, tt := range tests {
		if got := multipartBoundary(tt.contentType); got != tt.want {
			t.Errorf("multipartBoundary(%q) = %q, want %q", tt.contentType, got, tt.want)
		}
	}
}
