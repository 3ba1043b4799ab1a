package weblet

import (
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/projectdiscovery/gcache"
	fileutil "github.com/projectdiscovery/utils/file"
)

const (
	staticCacheSize    = 256
	staticCacheTTL     = 5 * time.Second
	staticCacheMaxFile = 512 * 1024
)

type staticEntry struct {
	content  []byte
	mimeType string
}

func newStaticCache() gcache.Cache[string, *staticEntry] {
	return gcache.New[string, *staticEntry](staticCacheSize).
		LRU().
		Expiration(staticCacheTTL).
		Build()
}

// serveFallback handles a request no route claimed: a file under the
// public directory, then the SPA index, then 404.
func (s *Server) serveFallback(req *Request) *Response {
	if s.publicDir == "" {
		return s.handleError(404, "")
	}

	requested := req.Path
	if requested == "" || requested == "/" {
		requested = "/index.html"
	}

	full := s.publicPath(requested)
	if fileutil.FileExists(full) {
		return s.serveStatic(full)
	}

	// SPA mode sends extension-less paths to the client-side router.
	if s.spa {
		segment := requested
		if i := strings.LastIndexByte(requested, '/'); i != -1 {
			segment = requested[i+1:]
		}
		index := filepath.Join(s.publicDir, "index.html")
		if !strings.ContainsRune(segment, '.') && fileutil.FileExists(index) {
			return s.serveStatic(index)
		}
	}

	return s.handleError(404, "")
}

// publicPath roots requested under the public directory. Cleaning the
// path first keeps traversal segments from escaping it.
func (s *Server) publicPath(requested string) string {
	clean := path.Clean("/" + requested)
	return filepath.Join(s.publicDir, filepath.FromSlash(clean))
}

func (s *Server) serveStatic(file string) *Response {
	if entry, err := s.staticCache.Get(file); err == nil {
		return staticResponse(entry)
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return s.handleError(500, "Could not read file: "+file)
	}

	entry := &staticEntry{content: content, mimeType: mimeTypeFor(file)}
	if len(content) <= staticCacheMaxFile {
		_ = s.staticCache.Set(file, entry)
	}
	return staticResponse(entry)
}

func staticResponse(entry *staticEntry) *Response {
	resp := NewResponse()
	resp.Contents = entry.content
	resp.SetHeader("Content-Type", entry.mimeType)
	return resp
}

func mimeTypeFor(file string) string {
	if t := mime.TypeByExtension(filepath.Ext(file)); t != "" {
		return t
	}
	return "application/octet-stream"
}
