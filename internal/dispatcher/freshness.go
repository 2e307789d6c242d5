package dispatcher

import (
	"context"
	"time"

	"github.com/openev/carwings/internal/clock"
	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/protocol"
)

const (
	DefaultFreshnessTolerance = 2 * time.Minute
	DefaultFreshnessInterval  = 5 * time.Second
	DefaultFreshnessCeiling   = 2 * time.Minute
)

// Sender issues a request with session recovery. *Dispatcher implements Sender.
type Sender interface {
	Send(ctx context.Context, op protocol.Operation, params map[string]string) (*protocol.Response, error)
}

// TimestampFunc extracts the time at which the data in a response was recorded.
type TimestampFunc func(*protocol.Response) (time.Time, error)

// FreshnessGate re-reads a status endpoint until the server's cached data catches up with a
// refresh that was requested at a known time.
type FreshnessGate struct {
	Tolerance time.Duration
	Interval  time.Duration
	Ceiling   time.Duration

	sender    Sender
	clock     clock.Clock
	timestamp TimestampFunc
}

func NewFreshnessGate(sender Sender, c clock.Clock, timestamp TimestampFunc) *FreshnessGate {
	if c == nil {
		c = clock.System
	}
	return &FreshnessGate{
		Tolerance: DefaultFreshnessTolerance,
		Interval:  DefaultFreshnessInterval,
		Ceiling:   DefaultFreshnessCeiling,
		sender:    sender,
		clock:     c,
		timestamp: timestamp,
	}
}

// Wait reads op until the response timestamp is within Tolerance of expected. Once Ceiling has
// elapsed, Wait returns the last response with fresh set to false. Stale data is not an error.
func (g *FreshnessGate) Wait(ctx context.Context, op protocol.Operation, expected time.Time) (rsp *protocol.Response, fresh bool, err error) {
	start := g.clock.Now()
	for {
		if err = ctx.Err(); err != nil {
			return nil, false, err
		}
		rsp, err = g.sender.Send(ctx, op, nil)
		if err != nil {
			return rsp, false, err
		}
		received, tsErr := g.timestamp(rsp)
		if tsErr != nil {
			log.Debug("Could not read timestamp from %s: %s", op, tsErr)
		} else if abs(received.Sub(expected)) < g.Tolerance {
			return rsp, true, nil
		} else {
			log.Debug("Data from %s is stale: recorded %s, expected %s", op, received, expected)
		}
		if clock.Since(g.clock, start) >= g.Ceiling {
			log.Warning("Giving up waiting for fresh data from %s", op)
			return rsp, false, nil
		}
		g.clock.Sleep(g.Interval)
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
