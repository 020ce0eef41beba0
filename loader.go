package qjsbridge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
)

// NormalizeModuleName resolves name against the module that imports it.
//
// Doubled slashes are collapsed and a leading "./" is dropped. Absolute
// names are returned as is. Otherwise name is joined to the directory of
// base, consuming leading ".." segments; a base ending in "/" is treated as
// a directory.
func NormalizeModuleName(base, name string) string {
	name = strings.TrimPrefix(strings.ReplaceAll(name, "//", "/"), "./")
	if name == "" || name[0] == '/' {
		return name
	}
	if base == "" {
		return name
	}
	base = strings.TrimPrefix(strings.ReplaceAll(base, "//", "/"), "./")
	switch {
	case base == "/":
		return "/" + name
	case strings.HasSuffix(base, "/"):
		return base + name
	}

	dir := splitPath(base)
	rest := strings.Split(name, "/")
	for len(rest) > 0 && rest[0] == ".." {
		rest = rest[1:]
		if len(dir) > 0 {
			dir = dir[:len(dir)-1]
		}
	}
	if len(dir) > 0 {
		dir = dir[:len(dir)-1] // the importing file itself
	}

	var b strings.Builder
	if strings.HasPrefix(base, "/") {
		b.WriteByte('/')
	}
	for _, seg := range append(dir, rest...) {
		b.WriteString(seg)
		b.WriteByte('/')
	}
	return strings.TrimSuffix(b.String(), "/")
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// ErrModuleNotFound is wrapped by loaders when a module does not exist.
var ErrModuleNotFound = errors.New("module not found")

// ---------------------------------------------------------------------------
// MapLoader
// ---------------------------------------------------------------------------

// MapLoader serves module sources from memory. It is safe for concurrent
// use.
type MapLoader struct {
	mu      sync.RWMutex
	sources map[string]string
}

// NewMapLoader creates a loader holding a copy of sources, keyed by
// normalized module name.
func NewMapLoader(sources map[string]string) *MapLoader {
	l := &MapLoader{sources: make(map[string]string, len(sources))}
	for k, v := range sources {
		l.sources[k] = v
	}
	return l
}

// Put adds or replaces a module.
func (l *MapLoader) Put(name, source string) {
	l.mu.Lock()
	l.sources[name] = source
	l.mu.Unlock()
}

func (l *MapLoader) Normalize(base, name string) (string, error) {
	return NormalizeModuleName(base, name), nil
}

func (l *MapLoader) Load(name string) (string, error) {
	l.mu.RLock()
	src, ok := l.sources[name]
	l.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	return src, nil
}

// ---------------------------------------------------------------------------
// FSLoader
// ---------------------------------------------------------------------------

// FSLoader reads module sources from a file system. When name is missing a
// brotli-compressed sibling name+".br" is used instead.
type FSLoader struct {
	FS fs.FS
}

// NewFSLoader returns a loader rooted at the directory dir.
func NewFSLoader(dir string) *FSLoader {
	return &FSLoader{FS: os.DirFS(dir)}
}

func (l *FSLoader) Normalize(base, name string) (string, error) {
	return NormalizeModuleName(base, name), nil
}

func (l *FSLoader) Load(name string) (string, error) {
	p := strings.TrimPrefix(path.Clean("/"+name), "/")
	if !fs.ValidPath(p) {
		return "", fmt.Errorf("invalid module path %q", name)
	}
	data, err := fs.ReadFile(l.FS, p)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	data, err = fs.ReadFile(l.FS, p+compressedExt)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	if err != nil {
		return "", err
	}
	return decompressSource(data)
}
