package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	fileutil "github.com/projectdiscovery/utils/file"

	"github.com/weftlabs/weft/format"
	"github.com/weftlabs/weft/helper"
	"github.com/weftlabs/weft/memcache"
	"github.com/weftlabs/weft/weblet"
)

// Employee is the record served by the /api/employee/{id} route.
type Employee struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email"`
}

// employeeDirectory stands in for a slow backing store. Lookups go through
// the cache first so repeated requests for the same id skip this map.
var employeeDirectory = map[string]Employee{
	"1001": {ID: "1001", Name: "Ada Calloway", Role: "Platform Engineer", Email: "ada@weft.test"},
	"1002": {ID: "1002", Name: "Miles Okafor", Role: "Site Reliability", Email: "miles@weft.test"},
	"1003": {ID: "1003", Name: "June Park", Role: "Protocol Research", Email: "june@weft.test"},
}

func newEmployeeCache() *memcache.Cache[Employee] {
	opts := memcache.DefaultCacheOptions()
	opts.MaxItems = 128
	opts.TTL = 5 * time.Minute
	return memcache.New[Employee](opts)
}

func employeeHandler(cache *memcache.Cache[Employee]) weblet.Handler {
	return func(env *format.DotEnv, req *weblet.Request, params map[string]string) *weblet.Response {
		id := params["id"]
		if emp, ok := cache.Get(id); ok {
			return jsonResponse(http.StatusOK, emp)
		}
		emp, ok := employeeDirectory[id]
		if !ok {
			return jsonResponse(http.StatusNotFound, map[string]string{
				"error": fmt.Sprintf("no employee with id %q", id),
			})
		}
		cache.Put(id, emp)
		return jsonResponse(http.StatusOK, emp)
	}
}

// handshakeHandler greets returning clients by the client_id cookie and
// hands a fresh one to everyone else.
func handshakeHandler(env *format.DotEnv, req *weblet.Request, params map[string]string) *weblet.Response {
	service := "weft"
	if env != nil {
		service = env.GetDefault("SERVICE_NAME", service)
	}

	resp := weblet.NewResponse()
	resp.SetHeader("Content-Type", "text/plain")
	if id, ok := req.Cookies["client_id"]; ok && id != "" {
		resp.Contents = []byte(fmt.Sprintf("%s: welcome back, client %s", service, id))
		return resp
	}

	id := helper.RandomString(12)
	resp.SetCookie("client_id", id, map[string]string{"Path": "/", "HttpOnly": ""})
	resp.Contents = []byte(fmt.Sprintf("%s: hello, new client %s", service, id))
	return resp
}

func uploadHandler(uploadDir string) weblet.Handler {
	return func(env *format.DotEnv, req *weblet.Request, params map[string]string) *weblet.Response {
		if len(req.Files) == 0 {
			return jsonResponse(http.StatusBadRequest, map[string]string{
				"error": "no files in request",
			})
		}
		if err := os.MkdirAll(uploadDir, 0o755); err != nil {
			return jsonResponse(http.StatusInternalServerError, map[string]string{
				"error": fmt.Sprintf("could not create upload directory: %v", err),
			})
		}

		saved := make([]map[string]string, 0, len(req.Files))
		for field, file := range req.Files {
			name := uniqueName(uploadDir, filepath.Base(file.Filename))
			if err := os.WriteFile(filepath.Join(uploadDir, name), file.Data, 0o644); err != nil {
				return jsonResponse(http.StatusInternalServerError, map[string]string{
					"error": fmt.Sprintf("could not store %q: %v", file.Filename, err),
				})
			}
			saved = append(saved, map[string]string{
				"field": field,
				"name":  name,
				"size":  helper.FormatBytes(int64(len(file.Data))),
			})
		}
		return jsonResponse(http.StatusOK, map[string]any{"saved": saved})
	}
}

// uniqueName appends _1, _2, ... before the extension until the name is
// free in dir. filename must already be a bare base name.
func uniqueName(dir, filename string) string {
	if filename == "" || filename == "." {
		filename = "upload"
	}
	candidate := filename
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for i := 1; fileutil.FileExists(filepath.Join(dir, candidate)); i++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	return candidate
}

func robotsHandler() weblet.Handler {
	robots := &format.RobotsTxt{
		Blocks: []format.UserAgentBlock{
			{
				UserAgents: []string{"*"},
				Rules: []format.RobotsRule{
					{Type: format.DirectiveDisallow, Path: "/api/"},
					{Type: format.DirectiveDisallow, Path: "/uploads/"},
					{Type: format.DirectiveAllow, Path: "/"},
				},
			},
		},
		Sitemaps: []string{"/sitemap.xml"},
	}
	body := []byte(robots.Build())

	return func(env *format.DotEnv, req *weblet.Request, params map[string]string) *weblet.Response {
		resp := weblet.NewResponse()
		resp.SetHeader("Content-Type", "text/plain")
		resp.Contents = body
		return resp
	}
}

func jsonResponse(status int, payload any) *weblet.Response {
	resp := weblet.NewResponse()
	resp.StatusCode = status
	resp.StatusMessage = http.StatusText(status)
	resp.SetHeader("Content-Type", "application/json")

	data, err := json.Marshal(payload)
	if err != nil {
		resp.StatusCode = http.StatusInternalServerError
		resp.StatusMessage = http.StatusText(http.StatusInternalServerError)
		resp.Contents = []byte(`{"error":"response encoding failed"}`)
		return resp
	}
	resp.Contents = data
	return resp
}
