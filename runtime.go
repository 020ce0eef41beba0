package qjsbridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/qjsbridge/internal/abi"
	"github.com/cryguy/qjsbridge/internal/eventloop"
	"github.com/cryguy/qjsbridge/internal/quickjs"
)

// Runtime owns one engine runtime and the goroutine that drives it. All
// contexts created from a Runtime share its heap, its job queue and its
// unhandled-rejection queue.
//
// A Runtime is safe for concurrent use: every call is forwarded to the
// runtime's event loop and runs there one at a time.
type Runtime struct {
	cfg    Config
	log    *zap.Logger
	loader ModuleLoader

	loop   *eventloop.Loop
	engine *quickjs.Runtime

	// The fields below are only touched on the loop goroutine.
	contexts   map[*quickjs.Context]*Context
	rejections []pendingRejection
	depth      int // nesting of boundary calls and job pumps
	closed     bool
}

// NewRuntime creates a runtime and starts its event loop.
func NewRuntime(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		cfg:      DefaultConfig(),
		log:      Logger(),
		contexts: make(map[*quickjs.Context]*Context),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r.loop = eventloop.New(nil)
	var err error
	if lerr := r.loop.Do(func() {
		r.engine, err = quickjs.NewRuntime(
			uintptr(r.cfg.MemoryLimitMB)*1024*1024,
			uintptr(r.cfg.GCThresholdKB)*1024,
			hooks{r},
		)
	}); lerr != nil {
		err = lerr
	}
	if err != nil {
		r.loop.Close()
		return nil, err
	}
	r.log.Debug("runtime created",
		zap.Int("memory_limit_mb", r.cfg.MemoryLimitMB),
		zap.Bool("module_loader", r.loader != nil))
	return r, nil
}

// Config returns the configuration the runtime was created with.
func (r *Runtime) Config() Config { return r.cfg }

// run executes fn on the event loop.
func (r *Runtime) run(fn func() error) error {
	var err error
	if lerr := r.loop.Do(func() {
		if r.closed {
			err = ErrClosed
			return
		}
		err = fn()
	}); lerr != nil {
		if errors.Is(lerr, eventloop.ErrClosed) {
			return ErrClosed
		}
		return lerr
	}
	return err
}

// Do runs fn on the runtime's event loop and waits for it. Bridge calls made
// inside fn run inline, which makes Do the cheap way to batch many small
// operations.
func (r *Runtime) Do(fn func() error) error {
	return r.run(fn)
}

// Post queues fn to run on the event loop without waiting for it. An error
// or panic from fn is logged.
func (r *Runtime) Post(fn func() error) error {
	err := r.loop.Post(func() {
		if r.closed {
			return
		}
		if err := fn(); err != nil {
			r.log.Warn("posted task failed", zap.Error(err))
		}
	}, func(err error) {
		r.log.Error("posted task panicked", zap.Error(err))
	})
	if errors.Is(err, eventloop.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Wait blocks until no timers or posted tasks remain, then reports the first
// asynchronous failure recorded by any context, clearing it.
func (r *Runtime) Wait(ctx context.Context) error {
	if err := r.loop.Wait(ctx); err != nil {
		if errors.Is(err, eventloop.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return r.run(func() error {
		for _, c := range r.contexts {
			if err := c.takeFault(); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunGC forces a garbage collection cycle.
func (r *Runtime) RunGC() error {
	return r.run(func() error {
		r.engine.RunGC()
		return nil
	})
}

// Close closes every context, drops queued rejections, frees the engine and
// stops the event loop.
func (r *Runtime) Close() error {
	err := r.run(func() error {
		for _, c := range r.contexts {
			c.close()
		}
		for _, p := range r.rejections {
			r.engine.FreeValue(p.promise)
			r.engine.FreeValue(p.reason)
		}
		r.rejections = nil
		r.engine.Close()
		r.closed = true
		return nil
	})
	r.loop.Close()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// hooks receives the engine's calls into the host.
type hooks struct{ r *Runtime }

func (h hooks) CallHost(ec *quickjs.Context, this abi.Value, args, data []abi.Value) abi.Value {
	c := h.r.contexts[ec]
	if c == nil {
		return ec.ThrowError("Error", "host callback invoked on a closed context")
	}
	return c.dispatch(data[0].Int32(), data[1].Bool(), this, args)
}

func (h hooks) TrackRejection(ec *quickjs.Context, promise, reason abi.Value, handled bool) {
	c := h.r.contexts[ec]
	if c == nil {
		return
	}
	h.r.trackRejection(c, promise, reason, handled)
}

func (h hooks) NormalizeModule(_ *quickjs.Context, base, name string) (string, error) {
	return h.r.normalize(base, name)
}

func (h hooks) LoadModule(_ *quickjs.Context, name string) (string, error) {
	return h.r.loadSource(name)
}

// normalize resolves a module specifier against the importing module.
func (r *Runtime) normalize(base, name string) (string, error) {
	if r.loader == nil {
		return NormalizeModuleName(base, name), nil
	}
	resolved, err := r.loader.Normalize(base, name)
	if err != nil {
		r.log.Debug("module normalize failed",
			zap.String("base", base), zap.String("name", name), zap.Error(err))
		return "", err
	}
	return resolved, nil
}

// loadSource fetches the source of a normalized module name.
func (r *Runtime) loadSource(name string) (string, error) {
	if r.loader == nil {
		return "", fmt.Errorf("could not load module %q: no module loader configured", name)
	}
	src, err := r.loader.Load(name)
	if err != nil {
		r.log.Debug("module load failed", zap.String("name", name), zap.Error(err))
		return "", fmt.Errorf("could not load module %q: %w", name, err)
	}
	return src, nil
}
