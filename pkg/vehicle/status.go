package vehicle

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/protocol"
)

// StatusMode selects how Status obtains data.
type StatusMode int

const (
	// StatusFresh asks the vehicle to report, waits for it, and then reads the new records.
	StatusFresh StatusMode = iota
	// StatusAsync asks the vehicle to report and returns immediately without data.
	StatusAsync
	// StatusCached reads whatever records the server holds.
	StatusCached
)

func (m StatusMode) String() string {
	switch m {
	case StatusFresh:
		return "fresh"
	case StatusAsync:
		return "async"
	case StatusCached:
		return "cached"
	}
	return fmt.Sprintf("StatusMode(%d)", int(m))
}

const (
	milesPerMetre = 0.000621371192
	UnitMiles     = "miles"
	UnitKm        = "km"
)

var validOperationResults = []string{"START", "START_BATTERY", "FINISH"}

// TimeToFull is the estimated time to a full charge.
type TimeToFull struct {
	Hours   int
	Minutes int
}

// Formatted returns the duration in the form "3h 20m".
func (t TimeToFull) Formatted() string {
	var parts []string
	if t.Hours != 0 {
		parts = append(parts, strconv.Itoa(t.Hours)+"h")
	}
	if t.Minutes != 0 {
		parts = append(parts, strconv.Itoa(t.Minutes)+"m")
	}
	return strings.Join(parts, " ")
}

func (t TimeToFull) Duration() time.Duration {
	return time.Duration(t.Hours)*time.Hour + time.Duration(t.Minutes)*time.Minute
}

// Status summarizes battery and climate-control state.
type Status struct {
	LastUpdated time.Time
	// Fresh is true if the data was recorded after a refresh requested by this call.
	Fresh bool

	PluggedIn bool
	Charging  bool

	BatteryCapacity int
	// Remaining amounts are nil when the vehicle does not report them.
	BatteryRemainingAmount    *int
	BatteryRemainingAmountWH  *float64
	BatteryRemainingAmountKWH *float64

	TimeToFull        *TimeToFull
	TimeToFull200     *TimeToFull
	TimeToFull200_6kW *TimeToFull

	CruisingRangeAcOn  float64
	CruisingRangeAcOff float64
	CruisingRangeUnit  string

	RemoteACRunning      bool
	RemoteACLastChanged  time.Time
	ACStartStopURL       string
	ACDurationBatterySec int
	ACDurationPluggedSec int
}

// Status returns battery and climate-control state. With StatusAsync, Status only triggers a
// refresh and returns nil.
func (v *Vehicle) Status(ctx context.Context, mode StatusMode) (*Status, error) {
	if err := v.dispatcher.Prepare(ctx); err != nil {
		return nil, err
	}

	expected := v.clock.Now()
	if mode != StatusCached {
		if _, err := v.dispatcher.Send(ctx, protocol.OpStatusRefresh, nil); err != nil {
			return nil, err
		}
		if mode == StatusAsync {
			return nil, nil
		}
		if _, err := v.dispatcher.Wait(ctx, protocol.OpStatusRefreshResult); err != nil {
			return nil, err
		}
	}

	var battery *protocol.Response
	var fresh bool
	var err error
	if mode == StatusFresh {
		battery, fresh, err = v.freshness.Wait(ctx, protocol.OpBatteryRecords, expected)
	} else {
		battery, err = v.dispatcher.Send(ctx, protocol.OpBatteryRecords, nil)
	}
	if err != nil {
		return nil, err
	}
	if err := checkOperationResult(battery, v.config.Status.OperationResult); err != nil {
		return nil, err
	}

	var climate *protocol.Response
	if v.supports(protocol.OpClimateRecords) {
		if climate, err = v.dispatcher.Send(ctx, protocol.OpClimateRecords, nil); err != nil {
			return nil, err
		}
		if err := checkOperationResult(climate, v.config.Status.ClimateOperationResult); err != nil {
			return nil, err
		}
	}

	status := v.mapStatus(battery, climate)
	status.Fresh = fresh
	return status, nil
}

func checkOperationResult(rsp *protocol.Response, path string) error {
	if path == "" {
		return nil
	}
	if i := strings.LastIndex(path, "."); i > 0 && !rsp.Get(path[:i]).Exists() {
		return &protocol.InvalidResponseError{Endpoint: rsp.Endpoint, Reason: fmt.Sprintf("missing '%s'", path[:i]), Body: rsp.Body}
	}
	result := rsp.String(path)
	if result == "" {
		return &protocol.InvalidResponseError{Endpoint: rsp.Endpoint, Reason: fmt.Sprintf("missing '%s'", path), Body: rsp.Body}
	}
	if !slices.Contains(validOperationResults, result) {
		return &protocol.InvalidResponseError{Endpoint: rsp.Endpoint, Reason: fmt.Sprintf("invalid OperationResult '%s'", result), Body: rsp.Body}
	}
	return nil
}

// timestampReader returns the function used to decide whether battery records are fresh.
func timestampReader(config *protocol.Config) func(*protocol.Response) (time.Time, error) {
	return func(rsp *protocol.Response) (time.Time, error) {
		value := rsp.String(config.Status.Timestamp)
		if value == "" {
			return time.Time{}, fmt.Errorf("missing '%s'", config.Status.Timestamp)
		}
		return config.ParseTimestamp(value)
	}
}

func (v *Vehicle) mapStatus(battery, climate *protocol.Response) *Status {
	paths := v.config.Status
	s := &Status{
		PluggedIn:       !strings.EqualFold(battery.String(paths.PluginState), "NOT_CONNECTED"),
		Charging:        !strings.EqualFold(battery.String(paths.ChargingStatus), "NOT_CHARGING"),
		BatteryCapacity: int(battery.Get(paths.Capacity).Int()),
	}
	if ts := battery.String(paths.Timestamp); ts != "" {
		if t, err := v.config.ParseTimestamp(ts); err == nil {
			s.LastUpdated = t
		} else {
			log.Debug("Ignoring timestamp: %s", err)
		}
	}

	if r := battery.Get(paths.Remaining); nonEmpty(r) {
		n := int(r.Int())
		s.BatteryRemainingAmount = &n
	}
	if r := battery.Get(paths.RemainingWH); nonEmpty(r) {
		f := r.Float()
		s.BatteryRemainingAmountWH = &f
	}
	if r := battery.Get(paths.RemainingKWH); nonEmpty(r) {
		f := r.Float()
		s.BatteryRemainingAmountKWH = &f
	}

	s.TimeToFull = timeToFull(battery, paths.TimeToFull, paths)
	s.TimeToFull200 = timeToFull(battery, paths.TimeToFull200, paths)
	s.TimeToFull200_6kW = timeToFull(battery, paths.TimeToFull200_6, paths)

	acOn := battery.Get(paths.RangeAcOn).Float()
	acOff := battery.Get(paths.RangeAcOff).Float()
	if v.config.UsesMiles() {
		s.CruisingRangeAcOn, s.CruisingRangeAcOff, s.CruisingRangeUnit = acOn*milesPerMetre, acOff*milesPerMetre, UnitMiles
	} else {
		s.CruisingRangeAcOn, s.CruisingRangeAcOff, s.CruisingRangeUnit = acOn/1000, acOff/1000, UnitKm
	}

	if climate != nil {
		s.RemoteACRunning = (climate.String(paths.ClimatePluginState) == "CONNECTED" ||
			climate.String(paths.ClimateOperationResult) == "START_BATTERY") &&
			climate.String(paths.ClimateOperation) != "STOP"
		if ts := climate.String(paths.ClimateChanged); ts != "" {
			if t, err := v.config.ParseTimestamp(ts); err == nil {
				s.RemoteACLastChanged = t
			}
		}
		s.ACStartStopURL = climate.String(paths.ClimateStopURL)
		s.ACDurationBatterySec = int(climate.Get(paths.ClimateDurationBattery).Int())
		s.ACDurationPluggedSec = int(climate.Get(paths.ClimateDurationPlugged).Int())
	}
	return s
}

func timeToFull(rsp *protocol.Response, path string, paths protocol.StatusPaths) *TimeToFull {
	if path == "" {
		return nil
	}
	t := TimeToFull{
		Hours:   int(rsp.Get(path + "." + paths.HoursField).Int()),
		Minutes: int(rsp.Get(path + "." + paths.MinutesField).Int()),
	}
	if t.Hours == 0 && t.Minutes == 0 {
		return nil
	}
	return &t
}

// nonEmpty mirrors the vendor's convention of sending "" or 0 for values it does not know.
func nonEmpty(r gjson.Result) bool {
	switch r.Type {
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != "" && r.Str != "0"
	}
	return false
}
