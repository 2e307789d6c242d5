// File implements commands related to vehicle charging.

package vehicle

import (
	"context"

	"github.com/openev/carwings/pkg/protocol"
)

// StartCharging asks a plugged-in vehicle to begin charging. The vendor does not report whether
// charging actually started; use Status to find out.
func (v *Vehicle) StartCharging(ctx context.Context) (*protocol.Response, error) {
	return v.executeCommand(ctx, protocol.OpChargeStart, "", nil, false)
}

func (v *Vehicle) StopCharging(ctx context.Context) (*protocol.Response, error) {
	return v.executeCommand(ctx, protocol.OpChargeStop, "", nil, false)
}
