package weblet

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/weftlabs/weft/format"
)

// Handler produces the response for one request. Handlers run on pool
// workers and must be safe to call from any of them.
type Handler func(env *format.DotEnv, req *Request, params map[string]string) *Response

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// route is one compiled path pattern. Placeholders become ([^/]*) capture
// groups; everything else is matched literally.
type route struct {
	pattern *regexp.Regexp
	names   []string
	handler Handler
}

func compileRoute(pathPattern string, handler Handler) route {
	var names []string
	var expr strings.Builder
	expr.WriteString("^")

	rest := pathPattern
	for {
		loc := placeholderRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			expr.WriteString(regexp.QuoteMeta(rest))
			break
		}
		expr.WriteString(regexp.QuoteMeta(rest[:loc[0]]))
		expr.WriteString("([^/]*)")
		names = append(names, rest[loc[2]:loc[3]])
		rest = rest[loc[1]:]
	}
	expr.WriteString("$")

	return route{
		pattern: regexp.MustCompile(expr.String()),
		names:   names,
		handler: handler,
	}
}

// routeRequest finds the first registered route matching the request
// path. With no match the static fallback chain takes over.
func (s *Server) routeRequest(req *Request) *Response {
	for _, rt := range s.routes {
		match := rt.pattern.FindStringSubmatch(req.Path)
		if match == nil {
			continue
		}
		params := make(map[string]string, len(rt.names))
		for i, name := range rt.names {
			if match[i+1] != "" {
				params[name] = match[i+1]
			}
		}
		return s.invokeHandler(rt.handler, req, params)
	}
	return s.serveFallback(req)
}

// invokeHandler runs one handler with panic containment. A panicking or
// nil-returning handler becomes a 500 and a report through the error
// callback; the worker keeps going.
func (s *Server) invokeHandler(handler Handler, req *Request, params map[string]string) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			s.reportContext(fmt.Sprintf("error executing handler for '%s': %v", req.Path, r), "", req.Path)
			resp = s.handleError(500, "")
		}
	}()

	resp = handler(s.env, req, params)
	if resp == nil {
		s.reportContext(fmt.Sprintf("handler for '%s' returned no response", req.Path), "", req.Path)
		resp = s.handleError(500, "")
	}
	return resp
}
