/*
WEFT
github.com/weftlabs/weft
*/

// Package format holds the small text formats the framework reads and
// writes: .env configuration files and robots.txt documents.
package format

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// DotEnv is a set of key/value pairs loaded from .env files. Load may
// be called more than once; later files overwrite earlier keys. It is
// not safe to call Load concurrently with readers; load everything
// before handing the environment out.
type DotEnv struct {
	vars map[string]string
}

// NewDotEnv returns an empty environment.
func NewDotEnv() *DotEnv {
	return &DotEnv{vars: make(map[string]string)}
}

// Load reads one .env file into the environment. Lines are trimmed;
// empty lines, # comments and lines without an = are skipped. Values
// may be wrapped in matching single or double quotes; double-quoted
// values additionally understand the \n \r \t \\ \" escapes, any other
// escape is preserved verbatim.
func (d *DotEnv) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		d.vars[strings.TrimSpace(key)] = unquoteAndUnescape(strings.TrimSpace(value))
	}
	return scanner.Err()
}

// Get returns the value for key, or an error when the key was never
// loaded.
func (d *DotEnv) Get(key string) (string, error) {
	if v, ok := d.vars[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("environment variable %q not found", key)
}

// GetDefault returns the value for key, or def when the key is absent.
func (d *DotEnv) GetDefault(key, def string) string {
	if v, ok := d.vars[key]; ok {
		return v
	}
	return def
}

// Has reports whether key was loaded.
func (d *DotEnv) Has(key string) bool {
	_, ok := d.vars[key]
	return ok
}

// Keys returns all loaded keys in sorted order.
func (d *DotEnv) Keys() []string {
	keys := make([]string, 0, len(d.vars))
	for k := range d.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unquoteAndUnescape(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if first != last || (first != '\'' && first != '"') {
		return value
	}

	inner := value[1 : len(value)-1]
	if first == '\'' {
		return inner
	}

	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] != '\\' || i+1 >= len(inner) {
			b.WriteByte(inner[i])
			continue
		}
		switch inner[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		default:
			// unknown escape, keep both characters
			b.WriteByte(inner[i])
			b.WriteByte(inner[i+1])
		}
		i++
	}
	return b.String()
}
