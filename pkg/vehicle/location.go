package vehicle

import (
	"context"
	"time"

	"github.com/openev/carwings/pkg/protocol"
)

type Location struct {
	Latitude  float64
	Longitude float64
	// Recorded is zero if the server did not report when the position was taken.
	Recorded time.Time
}

// Location asks the vehicle for its position and waits for the answer.
func (v *Vehicle) Location(ctx context.Context) (*Location, error) {
	rsp, err := v.executeCommand(ctx, protocol.OpLocate, protocol.OpLocateResult, nil, true)
	if err != nil {
		return nil, err
	}
	paths := v.config.Position
	lat, lng := rsp.Get(paths.Latitude), rsp.Get(paths.Longitude)
	if !lat.Exists() || !lng.Exists() {
		return nil, &protocol.InvalidResponseError{Endpoint: rsp.Endpoint, Reason: "missing coordinates", Body: rsp.Body}
	}
	loc := &Location{Latitude: lat.Float(), Longitude: lng.Float()}
	if ts := rsp.String(paths.Timestamp); ts != "" {
		if t, err := v.config.ParseTimestamp(ts); err == nil {
			loc.Recorded = t
		}
	}
	return loc, nil
}
