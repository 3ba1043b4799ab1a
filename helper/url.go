/*
WEFT
github.com/weftlabs/weft
*/

// Package helper carries small cross-cutting conveniences shared by the
// other packages: an absolute-URL wrapper built on go-rawurlparser,
// request-id generation and human-readable byte formatting.
package helper

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/slicingmelon/go-rawurlparser"
)

// URL is a decomposed absolute URL. The component fields may be mutated
// directly; Build reassembles them. Query parameter values are kept raw,
// exactly as they appeared on the wire.
type URL struct {
	Scheme   string
	Host     string // hostname without the port
	Port     string // "" when the URL carries no explicit port
	Path     string // never empty, "/" at minimum
	Fragment string

	original string
	params   map[string]string
}

// ParseURL splits raw into its components. The scheme and host are
// mandatory. Query pairs without '=' are dropped.
func ParseURL(raw string) (*URL, error) {
	parsed, err := rawurlparser.RawURLParseStrict(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Hostname() == "" {
		return nil, fmt.Errorf("invalid URL %q: missing scheme or host", raw)
	}
	u := &URL{
		Scheme:   parsed.Scheme,
		Host:     parsed.Hostname(),
		Port:     parsed.Port(),
		Path:     parsed.Path,
		Fragment: parsed.Fragment,
		original: raw,
		params:   parseQueryParams(parsed.Query),
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

func parseQueryParams(query string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(query, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			continue
		}
		params[key] = value
	}
	return params
}

// Original returns the raw string ParseURL was given.
func (u *URL) Original() string { return u.original }

// Authority returns host[:port] as it appears in a Host header.
func (u *URL) Authority() string {
	if u.Port == "" {
		return u.Host
	}
	return net.JoinHostPort(u.Host, u.Port)
}

// Origin returns scheme://authority.
func (u *URL) Origin() string {
	return u.Scheme + "://" + u.Authority()
}

func (u *URL) IsSecure() bool {
	return strings.EqualFold(u.Scheme, "https")
}

// IsDefaultPort reports whether the port is absent or implied by the
// scheme (443 for https, 80 otherwise).
func (u *URL) IsDefaultPort() bool {
	if u.Port == "" {
		return true
	}
	if u.IsSecure() {
		return u.Port == "443"
	}
	return u.Port == "80"
}

// Param returns the raw value of a query parameter, "" when absent.
func (u *URL) Param(key string) string { return u.params[key] }

func (u *URL) HasParam(key string) bool {
	_, ok := u.params[key]
	return ok
}

// SetParam adds or replaces a query parameter.
func (u *URL) SetParam(key, value string) {
	if u.params == nil {
		u.params = make(map[string]string)
	}
	u.params[key] = value
}

// RemoveParam deletes a query parameter and reports whether it existed.
func (u *URL) RemoveParam(key string) bool {
	if _, ok := u.params[key]; !ok {
		return false
	}
	delete(u.params, key)
	return true
}

func (u *URL) ClearParams() { u.params = make(map[string]string) }

func (u *URL) HasParams() bool { return len(u.params) > 0 }

// Params returns a copy of the query parameters.
func (u *URL) Params() map[string]string {
	out := make(map[string]string, len(u.params))
	for k, v := range u.params {
		out[k] = v
	}
	return out
}

// QueryString reassembles the query parameters in key order, without the
// leading '?'.
func (u *URL) QueryString() string {
	if len(u.params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(u.params))
	for k := range u.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + u.params[k]
	}
	return strings.Join(pairs, "&")
}

// FileName returns the final path segment, "" when the path ends in '/'.
func (u *URL) FileName() string {
	slash := strings.LastIndexByte(u.Path, '/')
	if slash == len(u.Path)-1 {
		return ""
	}
	return u.Path[slash+1:]
}

// Extension returns the file-name suffix after the last dot. Dotless
// names and dotfiles have no extension.
func (u *URL) Extension() string {
	name := u.FileName()
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return ""
	}
	return name[dot+1:]
}

// Build reassembles the URL from its current components.
func (u *URL) Build() string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Authority())
	b.WriteString(u.Path)
	if qs := u.QueryString(); qs != "" {
		b.WriteByte('?')
		b.WriteString(qs)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.Fragment)
	}
	return b.String()
}
