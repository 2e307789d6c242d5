package vehicle

import (
	"context"
	"time"

	"github.com/openev/carwings/pkg/protocol"
)

// DrivingHistory returns the vendor's driving analysis for the day containing date, as recorded
// in the configured timezone.
func (v *Vehicle) DrivingHistory(ctx context.Context, date time.Time) (*protocol.Response, error) {
	if v.config.Location != nil {
		date = date.In(v.config.Location)
	}
	params := map[string]string{v.config.Params.Date: date.Format("2006-01-02")}
	return v.executeCommand(ctx, protocol.OpDrivingHistory, "", params, false)
}
