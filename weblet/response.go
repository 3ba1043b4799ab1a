package weblet

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/valyala/bytebufferpool"
)

// Cookie is one Set-Cookie line. Attributes map attribute names to
// values; an empty value renders the attribute as a bare flag
// (HttpOnly, Secure).
type Cookie struct {
	Name       string
	Value      string
	Attributes map[string]string
}

// Response is what a handler returns. Zero or more headers and cookies
// plus a body; Content-Length is always computed at serialization time.
type Response struct {
	StatusCode    int
	StatusMessage string
	Headers       map[string]string
	Contents      []byte

	cookies []Cookie
}

// NewResponse returns a 200 OK response with no body.
func NewResponse() *Response {
	return &Response{
		StatusCode:    200,
		StatusMessage: "OK",
		Headers:       make(map[string]string),
	}
}

// SetHeader sets a header, replacing any previous value.
func (r *Response) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[name] = value
}

// SetCookie adds a Set-Cookie line. Setting a name twice replaces the
// earlier cookie in place, keeping its original position.
func (r *Response) SetCookie(name, value string, attributes map[string]string) {
	for i := range r.cookies {
		if r.cookies[i].Name == name {
			r.cookies[i].Value = value
			r.cookies[i].Attributes = attributes
			return
		}
	}
	r.cookies = append(r.cookies, Cookie{Name: name, Value: value, Attributes: attributes})
}

// Cookies returns the cookies in registration order.
func (r *Response) Cookies() []Cookie {
	out := make([]Cookie, len(r.cookies))
	copy(out, r.cookies)
	return out
}

// build serializes the response to wire form. The returned buffer comes
// from bytebufferpool; the caller releases it after writing.
func (r *Response) build() *bytebufferpool.ByteBuffer {
	buf := bytebufferpool.Get()

	status := r.StatusMessage
	if status == "" {
		status = http.StatusText(r.StatusCode)
	}
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", r.StatusCode, status)
	fmt.Fprintf(buf, "Content-Length: %d\r\n", len(r.Contents))

	for _, name := range sortedKeys(r.Headers) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(r.Headers[name])
		buf.WriteString("\r\n")
	}

	for _, c := range r.cookies {
		buf.WriteString("Set-Cookie: ")
		buf.WriteString(c.Name)
		buf.WriteByte('=')
		buf.WriteString(c.Value)
		for _, attr := range sortedKeys(c.Attributes) {
			buf.WriteString("; ")
			buf.WriteString(attr)
			if v := c.Attributes[attr]; v != "" {
				buf.WriteByte('=')
				buf.WriteString(v)
			}
		}
		buf.WriteString("\r\n")
	}

	buf.WriteString("\r\n")
	buf.Write(r.Contents)
	return buf
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
