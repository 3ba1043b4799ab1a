package weblet

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/weftlabs/weft/format"
)

// ModuleLoader resolves named handlers out of one externally built code
// unit.
type ModuleLoader interface {
	Lookup(name string) (Handler, error)
	Close() error
}

// Registry holds the dynamic code units a server has loaded. Units are
// registered during setup, before the server starts; the registry is not
// safe for concurrent registration.
type Registry struct {
	units  []ModuleLoader
	report func(string)
}

func NewRegistry(report func(string)) *Registry {
	if report == nil {
		report = func(string) {}
	}
	return &Registry{report: report}
}

// Register opens the code unit at path and returns its id. Ids start at
// 1; 0 means the unit could not be loaded and the failure was reported.
func (r *Registry) Register(path string) int {
	loader, err := openUnit(path)
	if err != nil {
		r.report(fmt.Sprintf("failed to load dynamic module %s: %v", path, err))
		return 0
	}
	r.units = append(r.units, loader)
	return len(r.units)
}

// Load resolves name inside unit id. The result is always callable:
// failures are reported once here and yield a stub that answers 500.
func (r *Registry) Load(id int, name string) Handler {
	if id < 1 || id > len(r.units) {
		r.report(fmt.Sprintf("dynamic module %d not loaded", id))
		return stubHandler("Error: Dynamic module not loaded.")
	}
	h, err := r.units[id-1].Lookup(name)
	if err != nil {
		r.report(fmt.Sprintf("dynamic handler %q not found in module %d: %v", name, id, err))
		return stubHandler("Error: Dynamic handler function not found.")
	}
	return h
}

// Close releases every unit. The registry is empty afterwards.
func (r *Registry) Close() {
	for _, unit := range r.units {
		if err := unit.Close(); err != nil {
			r.report(fmt.Sprintf("failed to release dynamic module: %v", err))
		}
	}
	r.units = nil
}

func stubHandler(message string) Handler {
	return func(*format.DotEnv, *Request, map[string]string) *Response {
		return plainError(500, message)
	}
}

func plainError(code int, message string) *Response {
	resp := NewResponse()
	resp.StatusCode = code
	resp.StatusMessage = http.StatusText(code)
	resp.SetHeader("Content-Type", "text/plain")
	resp.Contents = []byte(message)
	return resp
}

func openUnit(path string) (ModuleLoader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".so":
		return openPlugin(path)
	case ".js":
		return openScript(path)
	}
	return nil, fmt.Errorf("unsupported dynamic unit %s (want .so or .js)", path)
}

// pluginLoader serves handlers from a Go plugin. The exported symbol may
// be the handler function itself or a *Handler variable.
type pluginLoader struct {
	plug *plugin.Plugin
}

func openPlugin(path string) (*pluginLoader, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &pluginLoader{plug: p}, nil
}

func (l *pluginLoader) Lookup(name string) (Handler, error) {
	sym, err := l.plug.Lookup(name)
	if err != nil {
		return nil, err
	}
	switch h := sym.(type) {
	case func(*format.DotEnv, *Request, map[string]string) *Response:
		return Handler(h), nil
	case *Handler:
		return *h, nil
	}
	return nil, fmt.Errorf("symbol %s has type %T, not a handler", name, sym)
}

// Close is a no-op: Go plugins stay mapped until the process exits.
func (l *pluginLoader) Close() error { return nil }

// gojaLoader serves handlers from an embedded JavaScript unit. A script
// function receives (env, request, params) as plain objects and returns
// {status_code, status_message, contents, headers}. The runtime is not
// goroutine-safe, so every call into it holds the loader mutex.
type gojaLoader struct {
	mu sync.Mutex
	vm *goja.Runtime
}

func openScript(path string) (*gojaLoader, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vm := goja.New()
	if _, err := vm.RunString(string(src)); err != nil {
		return nil, fmt.Errorf("script %s failed to evaluate: %w", path, err)
	}
	return &gojaLoader{vm: vm}, nil
}

func (l *gojaLoader) Lookup(name string) (Handler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fn, ok := goja.AssertFunction(l.vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("script does not define function %q", name)
	}

	return func(env *format.DotEnv, req *Request, params map[string]string) *Response {
		l.mu.Lock()
		defer l.mu.Unlock()

		value, err := fn(goja.Undefined(),
			l.vm.ToValue(scriptEnv(env)),
			l.vm.ToValue(scriptRequest(req)),
			l.vm.ToValue(params))
		if err != nil {
			return plainError(500, "Error: Dynamic handler failed: "+err.Error())
		}
		return responseFromScript(value.Export())
	}, nil
}

func (l *gojaLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vm = nil
	return nil
}

func scriptEnv(env *format.DotEnv) map[string]string {
	out := make(map[string]string)
	if env == nil {
		return out
	}
	for _, key := range env.Keys() {
		out[key] = env.GetDefault(key, "")
	}
	return out
}

func scriptRequest(req *Request) map[string]any {
	return map[string]any{
		"method":      req.Method,
		"path":        req.Path,
		"full_url":    req.FullURL,
		"headers":     req.Headers,
		"cookies":     req.Cookies,
		"form_fields": req.FormFields,
		"contents":    req.Contents,
	}
}

// responseFromScript maps a script return value onto a Response. Missing
// keys keep the 200 OK defaults; a non-object return is a script bug and
// comes back as a 500.
func responseFromScript(value any) *Response {
	obj, ok := value.(map[string]any)
	if !ok {
		return plainError(500, "Error: Dynamic handler returned no response object.")
	}

	resp := NewResponse()
	switch v := obj["status_code"].(type) {
	case int64:
		resp.StatusCode = int(v)
	case float64:
		resp.StatusCode = int(v)
	}
	if v, ok := obj["status_message"].(string); ok {
		resp.StatusMessage = v
	}
	if v, ok := obj["contents"].(string); ok {
		resp.Contents = []byte(v)
	}
	if headers, ok := obj["headers"].(map[string]any); ok {
		for name, hv := range headers {
			if sv, ok := hv.(string); ok {
				resp.SetHeader(name, sv)
			}
		}
	}
	return resp
}
