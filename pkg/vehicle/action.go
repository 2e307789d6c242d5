package vehicle

import (
	"context"

	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/protocol"
)

// executeCommand issues op. If wait is true, it then polls resultOp until the vehicle confirms
// the command and returns the confirmation instead of the acknowledgement.
func (v *Vehicle) executeCommand(ctx context.Context, op, resultOp protocol.Operation, params map[string]string, wait bool) (*protocol.Response, error) {
	if err := v.dispatcher.Prepare(ctx); err != nil {
		return nil, err
	}
	rsp, err := v.dispatcher.Send(ctx, op, params)
	if err != nil || !wait {
		return rsp, err
	}
	log.Info("Waiting for vehicle to confirm %s", op)
	return v.dispatcher.Wait(ctx, resultOp)
}
