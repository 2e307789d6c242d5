// Package vehicle exposes the remote operations of a connected vehicle.
package vehicle

import (
	"context"
	"errors"
	"time"

	"github.com/openev/carwings/internal/clock"
	"github.com/openev/carwings/internal/dispatcher"
	"github.com/openev/carwings/pkg/cache"
	"github.com/openev/carwings/pkg/protocol"
)

// ErrInvalidPIN indicates a door-lock PIN that is not exactly four digits.
var ErrInvalidPIN = errors.New("PIN must be four digits")

// sender provides an interface that handles the session and request/result-key protocol layer.
type sender interface {
	// Prepare loads or establishes a session.
	Prepare(ctx context.Context) error

	// Send issues a request, re-authenticating once if the session has expired.
	Send(ctx context.Context, op protocol.Operation, params map[string]string) (*protocol.Response, error)

	// Wait polls op until the most recently issued asynchronous command completes.
	Wait(ctx context.Context, op protocol.Operation) (*protocol.Response, error)

	Session() cache.Record
}

// A Vehicle represents a vehicle registered to the logged-in account.
type Vehicle struct {
	dispatcher sender
	config     *protocol.Config
	clock      clock.Clock
	freshness  *dispatcher.FreshnessGate
}

// NewVehicle creates a Vehicle that issues requests through d.
func NewVehicle(d *dispatcher.Dispatcher) *Vehicle {
	return &Vehicle{
		dispatcher: d,
		config:     d.Config(),
		clock:      d.Clock(),
		freshness:  dispatcher.NewFreshnessGate(d, d.Clock(), timestampReader(d.Config())),
	}
}

// Connect establishes a session, loading it from the session store when possible. Every
// operation calls Connect implicitly; calling it up front surfaces login failures early.
func (v *Vehicle) Connect(ctx context.Context) error {
	return v.dispatcher.Prepare(ctx)
}

// VIN returns the vehicle identification number of the current session.
func (v *Vehicle) VIN() string {
	return v.dispatcher.Session().VIN
}

// TimeZone returns the timezone in which the vehicle reports times and interprets dates.
func (v *Vehicle) TimeZone() *time.Location {
	if v.config.Location == nil {
		return time.UTC
	}
	return v.config.Location
}

// SetFreshnessLimits configures how long Status waits for the server to publish data recorded
// after a refresh. Zero values keep the current setting.
func (v *Vehicle) SetFreshnessLimits(tolerance, interval, ceiling time.Duration) {
	if tolerance > 0 {
		v.freshness.Tolerance = tolerance
	}
	if interval > 0 {
		v.freshness.Interval = interval
	}
	if ceiling > 0 {
		v.freshness.Ceiling = ceiling
	}
}

func (v *Vehicle) supports(op protocol.Operation) bool {
	_, ok := v.config.Endpoint(op)
	return ok
}
