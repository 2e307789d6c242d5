package vehicle

import (
	"context"

	"github.com/openev/carwings/pkg/protocol"
)

// StartClimateControl turns on remote climate control. If wait is true, the call blocks until the
// vehicle confirms, which can take several minutes.
func (v *Vehicle) StartClimateControl(ctx context.Context, wait bool) (*protocol.Response, error) {
	return v.executeCommand(ctx, protocol.OpClimateOn, protocol.OpClimateOnResult, nil, wait)
}

// StopClimateControl turns off remote climate control. If wait is true, the call blocks until the
// vehicle confirms.
func (v *Vehicle) StopClimateControl(ctx context.Context, wait bool) (*protocol.Response, error) {
	return v.executeCommand(ctx, protocol.OpClimateOff, protocol.OpClimateOffResult, nil, wait)
}
