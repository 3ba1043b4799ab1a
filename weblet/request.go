package weblet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/weftlabs/weft/helper"
)

// Header blocks larger than this are rejected with a 400 before any
// routing happens.
const maxHeaderBytes = 16 * 1024

const readChunkSize = 4096

// errClientGone marks a connection that closed without sending a single
// byte. No response is owed.
var errClientGone = errors.New("client closed without sending a request")

// parseError carries the status and body message for a request that
// could not be parsed.
type parseError struct {
	status  int
	message string
}

func (e *parseError) Error() string { return e.message }

func badRequest(message string) *parseError {
	return &parseError{status: 400, message: message}
}

// UploadedFile is one file carried by a multipart/form-data body.
type UploadedFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Request is a single parsed HTTP request. Header names are kept exactly
// as received; a repeated header keeps the last value.
type Request struct {
	Method  string
	FullURL string // request target as received, path plus query
	Path    string // target up to the first '?'

	Headers    map[string]string
	Cookies    map[string]string
	FormFields map[string]string
	Files      map[string]UploadedFile

	// Contents is the body as text. Multipart bodies leave it empty;
	// their decoded parts land in FormFields and Files instead.
	Contents string
	Body     []byte

	// RequestID correlates log lines from concurrent connections.
	RequestID string
}

// URL resolves the request target against the Host header.
func (r *Request) URL() (*helper.URL, error) {
	host := r.Headers["Host"]
	if host == "" {
		host = "localhost"
	}
	return helper.ParseURL("http://" + host + r.FullURL)
}

// readRequest reads and parses one request. warn receives non-fatal
// decode problems; errClientGone means the peer closed before sending
// anything, every other error is a *parseError.
func readRequest(conn io.Reader, warn func(string)) (*Request, error) {
	if warn == nil {
		warn = func(string) {}
	}

	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	headerEnd := -1
	for headerEnd == -1 && len(buf) < maxHeaderBytes {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			headerEnd = bytes.Index(buf, []byte("\r\n\r\n"))
		}
		if err != nil {
			if len(buf) == 0 {
				return nil, errClientGone
			}
			break
		}
	}
	if headerEnd == -1 {
		return nil, badRequest("Bad Request: Request headers too large or malformed.")
	}

	req := &Request{
		Headers:    make(map[string]string),
		Cookies:    make(map[string]string),
		FormFields: make(map[string]string),
		Files:      make(map[string]UploadedFile),
		RequestID:  helper.NewRequestID(),
	}

	head := string(buf[:headerEnd])
	firstLine, headerLines, _ := strings.Cut(head, "\n")
	fields := strings.Fields(firstLine)
	if len(fields) > 0 {
		req.Method = fields[0]
	}
	if len(fields) > 1 {
		req.FullURL = fields[1]
		req.Path = fields[1]
		if i := strings.IndexByte(fields[1], '?'); i != -1 {
			req.Path = fields[1][:i]
		}
	}

	parseHeaderLines(headerLines, func(name, value string) {
		req.Headers[name] = value
		if name == "Cookie" {
			parseCookies(value, req.Cookies)
		}
	})

	contentLength := 0
	if raw, ok := req.Headers["Content-Length"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			return nil, badRequest("Bad Request: Invalid Content-Length header.")
		}
		contentLength = n
	}

	// Bytes already read past the terminator count toward the body.
	body := buf[headerEnd+4:]
	if remaining := contentLength - len(body); remaining > 0 {
		rest := make([]byte, remaining)
		n, err := io.ReadFull(conn, rest)
		body = append(body, rest[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, badRequest("Bad Request: Incomplete request body.")
			}
			return nil, &parseError{status: 500, message: "Internal Server Error: Failed to read request body."}
		}
	}
	req.Body = body

	contentType := req.Headers["Content-Type"]
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		boundary := multipartBoundary(contentType)
		if boundary == "" {
			return nil, badRequest("Bad Request: Malformed multipart/form-data (missing boundary).")
		}
		parseMultipartData(body, boundary, req, warn)
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		req.Contents = string(body)
		parseURLEncoded(req.Contents, req.FormFields, warn)
	default:
		req.Contents = string(body)
	}

	return req, nil
}

// parseHeaderLines feeds every "Name: value" line to store, stripping
// the trailing CR and one space after the colon. Lines without a colon
// are ignored. Names keep their case.
func parseHeaderLines(block string, store func(name, value string)) {
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		store(name, strings.TrimPrefix(value, " "))
	}
}

// parseCookies splits a Cookie header into into. Pairs without '=' are
// dropped; names and values are trimmed of spaces and tabs.
func parseCookies(header string, into map[string]string) {
	for _, pair := range strings.Split(header, ";") {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		name = strings.Trim(name, " \t")
		if name == "" {
			continue
		}
		into[name] = strings.Trim(value, " \t")
	}
}

// parseURLEncoded decodes an application/x-www-form-urlencoded body.
// Pairs without '=' are skipped.
func parseURLEncoded(body string, into map[string]string, warn func(string)) {
	for _, pair := range strings.Split(body, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			continue
		}
		into[urlDecode(key, warn)] = urlDecode(value, warn)
	}
}

// urlDecode resolves + and %HH escapes. A % not followed by two hex
// digits is kept verbatim and reported through warn.
func urlDecode(encoded string, warn func(string)) string {
	var b strings.Builder
	b.Grow(len(encoded))
	for i := 0; i < len(encoded); i++ {
		switch {
		case encoded[i] == '+':
			b.WriteByte(' ')
		case encoded[i] == '%' && i+2 < len(encoded):
			v, err := strconv.ParseUint(encoded[i+1:i+3], 16, 8)
			if err != nil {
				warn("Malformed URL encoding encountered: " + encoded[i:i+3])
				b.WriteByte(encoded[i])
				continue
			}
			b.WriteByte(byte(v))
			i += 2
		case encoded[i] == '%':
			warn("Malformed URL encoding encountered: " + encoded[i:])
			b.WriteByte(encoded[i])
		default:
			b.WriteByte(encoded[i])
		}
	}
	return b.String()
}

// multipartBoundary pulls the boundary parameter out of a Content-Type
// value. Empty means missing.
func multipartBoundary(contentType string) string {
	_, after, found := strings.Cut(contentType, "boundary=")
	if !found {
		return ""
	}
	if i := strings.IndexByte(after, ';'); i != -1 {
		after = after[:i]
	}
	return after
}

var (
	dispositionNameRe     = regexp.MustCompile(`\bname="([^"]+)"`)
	dispositionFilenameRe = regexp.MustCompile(`filename="([^"]+)"`)
)

// parseMultipartData walks the body part by part. Malformed parts are
// skipped with a warning; they never fail the whole request.
func parseMultipartData(body []byte, boundary string, req *Request, warn func(string)) {
	delimiter := []byte("--" + boundary)
	pos := 0
	for {
		start := bytes.Index(body[pos:], delimiter)
		if start == -1 {
			return
		}
		start += pos + len(delimiter)

		if len(body) >= start+2 && string(body[start:start+2]) == "--" {
			return
		}
		if len(body) < start+2 || string(body[start:start+2]) != "\r\n" {
			warn("Malformed multipart part: boundary not followed by CRLF; skipping")
			pos = start
			continue
		}
		start += 2

		end := bytes.Index(body[start:], delimiter)
		if end == -1 {
			warn("Malformed multipart body: part without end delimiter; skipping remaining body")
			return
		}
		end += start

		parsePart(body[start:end], req, warn)
		pos = end
	}
}

func parsePart(part []byte, req *Request, warn func(string)) {
	headersEnd := bytes.Index(part, []byte("\r\n\r\n"))
	if headersEnd == -1 {
		warn("Malformed multipart part: no header-body separator; skipping part")
		return
	}

	headers := make(map[string]string)
	parseHeaderLines(string(part[:headersEnd]), func(name, value string) {
		headers[name] = value
	})

	content := part[headersEnd+4:]
	content = bytes.TrimSuffix(content, []byte("\r\n"))

	disposition, ok := headers["Content-Disposition"]
	if !ok {
		warn("Multipart part without Content-Disposition header; skipping part")
		return
	}
	nameMatch := dispositionNameRe.FindStringSubmatch(disposition)
	if nameMatch == nil {
		warn(fmt.Sprintf("Multipart part without a field name (%s); skipping part", disposition))
		return
	}
	fieldName := nameMatch[1]

	if fileMatch := dispositionFilenameRe.FindStringSubmatch(disposition); fileMatch != nil {
		contentType := headers["Content-Type"]
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		req.Files[fieldName] = UploadedFile{
			Filename:    fileMatch[1],
			ContentType: contentType,
			Data:        append([]byte(nil), content...),
		}
		return
	}
	req.FormFields[fieldName] = string(content)
}
