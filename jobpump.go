package qjsbridge

import (
	"go.uber.org/zap"
)

// drainJobs runs the runtime's job queue until it is empty or a job throws,
// then reports unhandled rejections. A pending asynchronous fault is
// returned first and no jobs run. Calls nested inside another boundary call
// do nothing.
//
// The engine gives no notice when a job is queued, so every outermost
// boundary call ends here.
func (c *Context) drainJobs() error {
	r := c.rt
	if r.depth > 0 {
		return nil
	}
	if err := c.takeFault(); err != nil {
		return err
	}

	r.depth++
	defer func() { r.depth-- }()

	n := 0
	for {
		ret, jc := r.engine.ExecutePendingJob()
		if ret == 0 {
			break
		}
		if ret < 0 {
			owner := c
			if oc := r.contexts[jc]; oc != nil {
				owner = oc
			}
			err := owner.currentError()
			r.log.Warn("pending job failed", zap.Int("executed", n), zap.Error(err))
			return err
		}
		n++
	}
	if n > 0 {
		r.log.Debug("drained job queue", zap.Int("jobs", n))
	}
	return r.reportRejections(c)
}
