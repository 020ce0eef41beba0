package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cryguy/qjsbridge"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to a TOML config file")
		asModule   = flag.Bool("module", false, "Evaluate the file as an ES module")
		bundle     = flag.Bool("bundle", false, "Bundle the file and its imports with esbuild first (implies -module)")
		expr       = flag.String("e", "", "Evaluate this script instead of a file")
	)
	flag.Parse()

	if *expr == "" && flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: qjsrun [-config file.toml] [-module] [-bundle] <file.js>")
		fmt.Fprintln(os.Stderr, "       qjsrun [-config file.toml] -e <script>")
		os.Exit(1)
	}

	if err := run(*configFile, *expr, flag.Arg(0), *asModule || *bundle, *bundle); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, expr, file string, asModule, bundle bool) error {
	cfg := qjsbridge.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = qjsbridge.LoadConfig(configFile); err != nil {
			return err
		}
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	loader, closeLoader, err := newLoader(cfg)
	if err != nil {
		return err
	}
	defer closeLoader()

	rt, err := qjsbridge.NewRuntime(
		qjsbridge.WithConfig(cfg),
		qjsbridge.WithLogger(log),
		qjsbridge.WithModuleLoader(loader),
	)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close()

	c, err := rt.NewContext()
	if err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	if err := c.EnableRequire(); err != nil {
		return fmt.Errorf("enable require: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case expr != "":
		if err := evalScript(c, expr, "<eval>"); err != nil {
			return err
		}
	case bundle:
		src, err := qjsbridge.Bundle(filepath.Dir(file), filepath.Base(file))
		if err != nil {
			return err
		}
		if err := c.EvalModule(src, file); err != nil {
			return err
		}
	case asModule:
		src, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		if err := c.EvalModule(string(src), file); err != nil {
			return err
		}
	default:
		src, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		if err := evalScript(c, string(src), file); err != nil {
			return err
		}
	}

	return rt.Wait(ctx)
}

// evalScript runs a classic script and prints its completion value.
func evalScript(c *qjsbridge.Context, src, name string) error {
	res, err := c.Eval(src, name, qjsbridge.EvalGlobal)
	if err != nil {
		return err
	}
	defer res.Free()

	switch {
	case res.Type == qjsbridge.TypeUndefined:
	case res.Handle() != nil:
		out, err := res.Handle().JSON()
		if err != nil || out == "" {
			out = res.Handle().String()
		}
		fmt.Println(out)
	case res.Type == qjsbridge.TypeNull:
		fmt.Println("null")
	default:
		fmt.Println(res.Value)
	}
	return nil
}

// newLoader picks the module store named by the config: a SQLite database
// when ModuleDB is set, otherwise the ModuleRoot directory.
func newLoader(cfg qjsbridge.Config) (qjsbridge.ModuleLoader, func(), error) {
	var (
		loader qjsbridge.ModuleLoader
		closer = func() {}
	)
	if cfg.ModuleDB != "" {
		db, err := qjsbridge.OpenSQLLoader(cfg.ModuleDB)
		if err != nil {
			return nil, nil, err
		}
		loader, closer = db, func() { _ = db.Close() }
	} else {
		loader = qjsbridge.NewFSLoader(cfg.ModuleRoot)
	}
	if cfg.Transpile {
		loader = &qjsbridge.TranspileLoader{Next: loader}
	}
	return loader, closer, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
	}
	zc := zap.NewDevelopmentConfig()
	if lvl > zapcore.DebugLevel {
		zc = zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
