package qjsbridge

import "go.uber.org/zap"

// Option configures a Runtime.
type Option func(*Runtime)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runtime) { r.cfg = cfg }
}

// WithLogger sets the runtime's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.log = l
		}
	}
}

// WithModuleLoader sets the loader used for ES module imports and require.
func WithModuleLoader(l ModuleLoader) Option {
	return func(r *Runtime) { r.loader = l }
}
