package qjsbridge

import (
	"go.uber.org/zap"

	"github.com/cryguy/qjsbridge/internal/abi"
)

// pendingRejection is a promise that was rejected with no handler attached.
// Both values are owned by the queue.
type pendingRejection struct {
	ctx     *Context
	promise abi.Value
	reason  abi.Value
}

// trackRejection records an unhandled rejection, or forgets one when a
// handler is attached later. Entries are matched by promise identity.
func (r *Runtime) trackRejection(c *Context, promise, reason abi.Value, handled bool) {
	if !handled {
		r.rejections = append(r.rejections, pendingRejection{
			ctx:     c,
			promise: c.engine.Dup(promise),
			reason:  c.engine.Dup(reason),
		})
		return
	}
	for i, p := range r.rejections {
		if abi.Equal(p.promise, promise) {
			r.rejections = append(r.rejections[:i], r.rejections[i+1:]...)
			r.engine.FreeValue(p.promise)
			r.engine.FreeValue(p.reason)
			return
		}
	}
}

// reportRejections drains the queue into a single error. Reasons are
// described in the context that rejected them when it is still open.
func (r *Runtime) reportRejections(c *Context) error {
	if len(r.rejections) == 0 {
		return nil
	}
	pending := r.rejections
	r.rejections = nil

	reasons := make([]string, 0, len(pending))
	for _, p := range pending {
		describer := c
		if p.ctx != nil && !p.ctx.closed {
			describer = p.ctx
		}
		reasons = append(reasons, describer.describe(p.reason))
		r.engine.FreeValue(p.promise)
		r.engine.FreeValue(p.reason)
	}
	err := &RejectionError{Reasons: reasons}
	r.log.Warn("unhandled promise rejection", zap.Strings("reasons", reasons))
	return err
}

// forgetRejectionsOf drops queued entries whose reason is reason itself.
func (r *Runtime) forgetRejectionsOf(reason abi.Value) {
	kept := r.rejections[:0]
	for _, p := range r.rejections {
		if abi.Equal(p.reason, reason) {
			r.engine.FreeValue(p.promise)
			r.engine.FreeValue(p.reason)
			continue
		}
		kept = append(kept, p)
	}
	r.rejections = kept
}
