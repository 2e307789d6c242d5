package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openev/carwings/pkg/protocol"
	"github.com/openev/carwings/pkg/vehicle"
)

var (
	// ErrCommandNotImplemented indicates the proxy does not know the requested command.
	ErrCommandNotImplemented = errors.New("command not implemented")
)

// ParameterError indicates a request carried missing or malformed parameters.
type ParameterError struct {
	Details error
}

func (e *ParameterError) Error() string {
	return e.Details.Error()
}

func (e *ParameterError) Unwrap() error {
	return e.Details
}

// Action runs against a vehicle and returns a value to be encoded as the response.
type Action func(*vehicle.Vehicle) (interface{}, error)

// RequestParameters allows simple type check
type RequestParameters map[string]interface{}

// rawResponse passes a vendor reply through to the client.
func rawResponse(rsp *protocol.Response, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	if rsp == nil {
		return nil, nil
	}
	return json.RawMessage(rsp.Body), nil
}

// ExtractCommandAction use command to define which action should be executed.
func ExtractCommandAction(ctx context.Context, command string, params RequestParameters) (Action, error) {
	switch command {
	case "climate_start", "climate_stop":
		wait, err := params.getBool("wait", false, true)
		if err != nil {
			return nil, err
		}
		if command == "climate_start" {
			return func(v *vehicle.Vehicle) (interface{}, error) {
				return rawResponse(v.StartClimateControl(ctx, wait))
			}, nil
		}
		return func(v *vehicle.Vehicle) (interface{}, error) {
			return rawResponse(v.StopClimateControl(ctx, wait))
		}, nil
	case "charge_start":
		return func(v *vehicle.Vehicle) (interface{}, error) { return rawResponse(v.StartCharging(ctx)) }, nil
	case "charge_stop":
		return func(v *vehicle.Vehicle) (interface{}, error) { return rawResponse(v.StopCharging(ctx)) }, nil
	case "lock_doors":
		pin, err := params.getString("pin", true)
		if err != nil {
			return nil, err
		}
		return func(v *vehicle.Vehicle) (interface{}, error) {
			rsp, err := v.LockDoors(ctx, pin)
			if errors.Is(err, vehicle.ErrInvalidPIN) {
				return nil, &ParameterError{Details: err}
			}
			return rawResponse(rsp, err)
		}, nil
	case "status_refresh":
		return func(v *vehicle.Vehicle) (interface{}, error) {
			_, err := v.Status(ctx, vehicle.StatusAsync)
			return nil, err
		}, nil
	}
	return nil, ErrCommandNotImplemented
}

// ExtractQueryAction maps a read-only resource to an action.
func ExtractQueryAction(ctx context.Context, resource string, params RequestParameters) (Action, error) {
	switch resource {
	case "status":
		mode, err := params.getStatusMode("mode")
		if err != nil {
			return nil, err
		}
		return func(v *vehicle.Vehicle) (interface{}, error) { return v.Status(ctx, mode) }, nil
	case "location":
		return func(v *vehicle.Vehicle) (interface{}, error) { return v.Location(ctx) }, nil
	case "history":
		value, err := params.getString("date", false)
		if err != nil {
			return nil, err
		}
		if _, err := parseDate(value, time.UTC); err != nil {
			return nil, err
		}
		return func(v *vehicle.Vehicle) (interface{}, error) {
			date, _ := parseDate(value, v.TimeZone())
			return rawResponse(v.DrivingHistory(ctx, date))
		}, nil
	case "vin":
		return func(v *vehicle.Vehicle) (interface{}, error) {
			return map[string]string{"vin": v.VIN()}, nil
		}, nil
	}
	return nil, ErrCommandNotImplemented
}

func (p RequestParameters) getString(key string, required bool) (string, error) {
	value, ok := p[key]
	if !ok {
		if required {
			return "", missingParamError(key)
		}
		return "", nil
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", invalidParamError(key)
}

func (p RequestParameters) getBool(key string, required, fallback bool) (bool, error) {
	value, ok := p[key]
	if !ok {
		if required {
			return false, missingParamError(key)
		}
		return fallback, nil
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, invalidParamError(key)
		}
		return b, nil
	}
	return false, invalidParamError(key)
}

func (p RequestParameters) getStatusMode(key string) (vehicle.StatusMode, error) {
	value, err := p.getString(key, false)
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(value) {
	case "", "cached":
		return vehicle.StatusCached, nil
	case "fresh":
		return vehicle.StatusFresh, nil
	case "async":
		return vehicle.StatusAsync, nil
	}
	return 0, invalidParamError(key)
}

// parseDate reads a YYYY-MM-DD date as midnight in loc. Empty means today.
func parseDate(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Now().In(loc), nil
	}
	date, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return time.Time{}, invalidParamError("date")
	}
	return date, nil
}

func missingParamError(key string) error {
	return &ParameterError{Details: fmt.Errorf("missing %s param", key)}
}

func invalidParamError(key string) error {
	return &ParameterError{Details: fmt.Errorf("invalid %s param", key)}
}
