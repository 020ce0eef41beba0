package qjsbridge

import (
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeModuleName(t *testing.T) {
	tests := []struct {
		base, name, want string
	}{
		{"", "util.js", "util.js"},
		{"main.js", "./util.js", "util.js"},
		{"lib/index.js", "./math.js", "lib/math.js"},
		{"a/b/c.js", "../d.js", "a/d.js"},
		{"a/b/c.js", "../../d.js", "d.js"},
		{"a.js", "../../x.js", "x.js"},
		{"/src/main.js", "./x.js", "/src/x.js"},
		{"lib/a.js", "/abs/mod.js", "/abs/mod.js"},
		{"dir/", "x.js", "dir/x.js"},
		{"/", "x.js", "/x.js"},
		{"main.js", "a//b.js", "a/b.js"},
		{"a//b/c.js", "d.js", "a/b/d.js"},
		{"lib/a.js", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.base+"+"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeModuleName(tt.base, tt.name))
		})
	}
}

func TestMapLoader(t *testing.T) {
	l := NewMapLoader(map[string]string{"a.js": "A"})

	src, err := l.Load("a.js")
	require.NoError(t, err)
	assert.Equal(t, "A", src)

	_, err = l.Load("b.js")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	l.Put("b.js", "B")
	src, err = l.Load("b.js")
	require.NoError(t, err)
	assert.Equal(t, "B", src)

	name, err := l.Normalize("x/y.js", "./b.js")
	require.NoError(t, err)
	assert.Equal(t, "x/b.js", name)
}

func TestFSLoader(t *testing.T) {
	packed, err := compressSource("export const packed = true;")
	require.NoError(t, err)

	l := &FSLoader{FS: fstest.MapFS{
		"mods/plain.js":  {Data: []byte("export const plain = 1;")},
		"mods/big.js.br": {Data: packed},
	}}

	src, err := l.Load("mods/plain.js")
	require.NoError(t, err)
	assert.Equal(t, "export const plain = 1;", src)

	src, err = l.Load("/mods/big.js")
	require.NoError(t, err)
	assert.Equal(t, "export const packed = true;", src)

	_, err = l.Load("mods/none.js")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	// Paths cannot climb out of the root.
	src, err = l.Load("../../mods/plain.js")
	require.NoError(t, err)
	assert.Equal(t, "export const plain = 1;", src)
}

func TestFSLoader_WithRuntime(t *testing.T) {
	l := &FSLoader{FS: fstest.MapFS{
		"app/main.js": {Data: []byte(`import { v } from "./dep.js"; globalThis.fromFS = v;`)},
		"app/dep.js":  {Data: []byte(`export const v = "disk";`)},
	}}
	c := newTestContext(t, WithModuleLoader(l))

	src, err := l.Load("app/main.js")
	require.NoError(t, err)
	require.NoError(t, c.EvalModule(src, "app/main.js"))
	assert.Equal(t, "disk", evalValue(t, c, "fromFS"))
}

func TestCompression_RoundTrip(t *testing.T) {
	src := strings.Repeat("export const x = 1;\n", 200)
	packed, err := compressSource(src)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(src))

	got, err := decompressSource(packed)
	require.NoError(t, err)
	assert.Equal(t, src, got)

	_, err = decompressSource([]byte("not brotli"))
	assert.Error(t, err)
}

func TestSQLLoader(t *testing.T) {
	l, err := OpenSQLLoader(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	require.NoError(t, l.Put("lib/b.js", "export const b = 1;"))
	require.NoError(t, l.Put("lib/a.js", "export const a = 1;"))
	require.NoError(t, l.Put("lib/a.js", "export const a = 2;"))

	names, err := l.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/a.js", "lib/b.js"}, names)

	src, err := l.Load("lib/a.js")
	require.NoError(t, err)
	assert.Equal(t, "export const a = 2;", src)

	require.NoError(t, l.Delete("lib/b.js"))
	require.NoError(t, l.Delete("lib/b.js"))
	_, err = l.Load("lib/b.js")
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestSQLLoader_PersistsAndServesModules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.db")

	l, err := OpenSQLLoader(path)
	require.NoError(t, err)
	require.NoError(t, l.Put("util.js", `export const twice = (n) => n * 2;`))
	require.NoError(t, l.Close())

	l, err = OpenSQLLoader(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	c := newTestContext(t, WithModuleLoader(l))
	require.NoError(t, c.EvalModule(`
		import { twice } from "./util.js";
		globalThis.fromDB = twice(21);
	`, "main.js"))
	assert.Equal(t, int64(42), evalValue(t, c, "fromDB"))
}
