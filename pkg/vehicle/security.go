package vehicle

import (
	"context"
	"fmt"

	"github.com/openev/carwings/pkg/protocol"
)

// LockDoors locks the vehicle. The account PIN must be four digits.
func (v *Vehicle) LockDoors(ctx context.Context, pin string) (*protocol.Response, error) {
	if !validPIN(pin) {
		return nil, ErrInvalidPIN
	}
	if !v.supports(protocol.OpLockDoors) {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnsupported, protocol.OpLockDoors)
	}
	params := map[string]string{v.config.Params.PIN: pin}
	return v.executeCommand(ctx, protocol.OpLockDoors, protocol.OpLockDoorsResult, params, v.supports(protocol.OpLockDoorsResult))
}

func validPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
