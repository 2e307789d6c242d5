package dispatcher

import (
	"context"

	"github.com/openev/carwings/internal/clock"
	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/protocol"
)

// Wait polls op with the pending result key until the server reports that the vehicle finished
// the command. It fails with protocol.ErrMissingResultKey if no command is pending, and with a
// *protocol.TimeoutError once the maximum wait has elapsed, in which case the result key stays
// pending so that Wait can be called again.
//
// The context is checked between polls.
func (d *Dispatcher) Wait(ctx context.Context, op protocol.Operation) (*protocol.Response, error) {
	key, ok := d.Pending()
	if !ok {
		return nil, protocol.ErrMissingResultKey
	}

	params := map[string]string{d.config.Params.ResultKey: key}
	start := d.clock.Now()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rsp, err := d.Send(ctx, op, params)
		if err != nil {
			return rsp, err
		}
		if rsp.Get(d.config.ResultFlagPath).Bool() {
			d.lock.Lock()
			d.pending = ""
			d.lock.Unlock()
			log.Debug("Result for %s ready after %d checks", key, attempt)
			return rsp, nil
		}
		if waited := clock.Since(d.clock, start); waited > d.maxWait {
			return rsp, &protocol.TimeoutError{Endpoint: string(op), Waited: waited}
		}
		d.clock.Sleep(d.pollInterval)
	}
}
