package qjsbridge

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// transpileLoaders maps source extensions that need compiling to the
// esbuild loader that handles them.
var transpileLoaders = map[string]esbuild.Loader{
	".ts":  esbuild.LoaderTS,
	".mts": esbuild.LoaderTS,
	".tsx": esbuild.LoaderTSX,
	".jsx": esbuild.LoaderJSX,
}

// TranspileLoader wraps another loader and compiles TypeScript and JSX
// sources to plain ES modules as they are loaded. Other sources pass
// through untouched.
type TranspileLoader struct {
	Next ModuleLoader
}

func (l *TranspileLoader) Normalize(base, name string) (string, error) {
	return l.Next.Normalize(base, name)
}

func (l *TranspileLoader) Load(name string) (string, error) {
	src, err := l.Next.Load(name)
	if err != nil {
		return "", err
	}
	loader, ok := transpileLoaders[path.Ext(name)]
	if !ok {
		return src, nil
	}
	return Transpile(src, name, loader)
}

// Transpile compiles one TypeScript or JSX source to an ES module.
func Transpile(source, filename string, loader esbuild.Loader) (string, error) {
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:     loader,
		Format:     esbuild.FormatESModule,
		Target:     esbuild.ES2022,
		Sourcefile: filename,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("transpiling %s: %s", filename, joinMessages(result.Errors))
	}
	return string(result.Code), nil
}

// Bundle resolves entry (relative to dir) and everything it imports into a
// single ES module.
func Bundle(dir, entry string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("bundling %s: %w", entry, err)
	}
	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{filepath.Join(abs, entry)},
		AbsWorkingDir: abs,
		Bundle:        true,
		Format:        esbuild.FormatESModule,
		Write:         false,
		Platform:      esbuild.PlatformNeutral,
		Target:        esbuild.ES2022,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("bundling %s: %s", entry, joinMessages(result.Errors))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling %s: no output", entry)
	}
	return string(result.OutputFiles[0].Contents), nil
}

func joinMessages(msgs []esbuild.Message) string {
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			texts = append(texts, fmt.Sprintf("%s:%d: %s", m.Location.File, m.Location.Line, m.Text))
			continue
		}
		texts = append(texts, m.Text)
	}
	return strings.Join(texts, "; ")
}
