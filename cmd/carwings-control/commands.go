package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openev/carwings/pkg/account"
	"github.com/openev/carwings/pkg/protocol"
	"github.com/openev/carwings/pkg/vehicle"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrInvalidDate     = errors.New("invalid date")
	ErrUnknownCommand  = errors.New("unrecognized command")
)

type Argument struct {
	name string
	help string
}

// session bundles what command handlers act on.
type session struct {
	acct    *account.Account
	car     *vehicle.Vehicle
	out     *printer
	spinner func(label string, fn func() error) error
}

type Handler func(ctx context.Context, s *session, args map[string]string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	handler  Handler
}

// ParseBool accepts the usual spellings of a yes/no argument.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: expected yes or no", ErrCommandLineArgs)
	}
	return b, nil
}

func ParseStatusMode(value string) (vehicle.StatusMode, error) {
	switch strings.ToLower(value) {
	case "", "fresh":
		return vehicle.StatusFresh, nil
	case "async":
		return vehicle.StatusAsync, nil
	case "cached":
		return vehicle.StatusCached, nil
	}
	return 0, fmt.Errorf("%w: unknown status mode '%s'", ErrCommandLineArgs, value)
}

// ParseDate accepts YYYY-MM-DD, "today" and "yesterday". Empty means today.
func ParseDate(value string, now time.Time) (time.Time, error) {
	switch strings.ToLower(value) {
	case "", "today":
		return now, nil
	case "yesterday":
		return now.AddDate(0, 0, -1), nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expected YYYY-MM-DD", ErrInvalidDate)
	}
	return t, nil
}

func execute(ctx context.Context, s *session, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, s, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

// report prints the vendor's reply to a command. Commands that were not waited for only print in
// raw mode, since the acknowledgement carries no vehicle state.
func (s *session) report(rsp *protocol.Response, confirmed string) error {
	if s.out.raw && rsp != nil {
		return s.out.JSON(rsp.Body)
	}
	s.out.Println(confirmed)
	return nil
}

func climateHandler(start bool) Handler {
	return func(ctx context.Context, s *session, args map[string]string) error {
		wait, err := ParseBool(args["WAIT"])
		if err != nil {
			return err
		}
		var rsp *protocol.Response
		run := func() error {
			var err error
			if start {
				rsp, err = s.car.StartClimateControl(ctx, wait)
			} else {
				rsp, err = s.car.StopClimateControl(ctx, wait)
			}
			return err
		}
		if wait {
			err = s.spinner("Waiting for vehicle to confirm climate control", run)
		} else {
			err = run()
		}
		if err != nil {
			return err
		}
		switch {
		case !wait:
			return s.report(rsp, "Request sent.")
		case start:
			return s.report(rsp, "Climate control started.")
		}
		return s.report(rsp, "Climate control stopped.")
	}
}

var waitArgument = Argument{name: "WAIT", help: "Wait for the vehicle to confirm (yes|no, default yes)"}

var commands = map[string]*Command{
	"climate-on": &Command{
		help:     "Start climate control",
		optional: []Argument{waitArgument},
		handler:  climateHandler(true),
	},
	"climate-off": &Command{
		help:     "Stop climate control",
		optional: []Argument{waitArgument},
		handler:  climateHandler(false),
	},
	"charging-start": &Command{
		help: "Start charging",
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			rsp, err := s.car.StartCharging(ctx)
			if err != nil {
				return err
			}
			return s.report(rsp, "Charging requested.")
		},
	},
	"charging-stop": &Command{
		help: "Stop charging",
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			rsp, err := s.car.StopCharging(ctx)
			if err != nil {
				return err
			}
			return s.report(rsp, "Charging stop requested.")
		},
	},
	"status": &Command{
		help: "Fetch battery and climate-control state",
		optional: []Argument{
			Argument{name: "MODE", help: "fresh (ask the vehicle), async (ask without waiting) or cached (server records)"},
		},
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			mode, err := ParseStatusMode(args["MODE"])
			if err != nil {
				return err
			}
			var status *vehicle.Status
			err = s.spinner("Waiting for vehicle to report", func() error {
				var err error
				status, err = s.car.Status(ctx, mode)
				return err
			})
			if err != nil {
				return err
			}
			if status == nil {
				s.out.Println("Refresh requested.")
				return nil
			}
			s.out.Println(renderStatus(status))
			return nil
		},
	},
	"locate": &Command{
		help: "Ask the vehicle for its position",
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			var loc *vehicle.Location
			err := s.spinner("Locating vehicle", func() error {
				var err error
				loc, err = s.car.Location(ctx)
				return err
			})
			if err != nil {
				return err
			}
			s.out.Println(renderLocation(loc))
			return nil
		},
	},
	"history": &Command{
		help: "Fetch the driving analysis of a day",
		optional: []Argument{
			Argument{name: "DATE", help: "YYYY-MM-DD, today or yesterday (default today)"},
		},
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			date, err := ParseDate(args["DATE"], time.Now().In(s.car.TimeZone()))
			if err != nil {
				return fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
			}
			rsp, err := s.car.DrivingHistory(ctx, date)
			if err != nil {
				return err
			}
			return s.out.JSON(rsp.Body)
		},
	},
	"lock": &Command{
		help: "Lock the doors",
		args: []Argument{
			Argument{name: "PIN", help: "Four-digit vehicle PIN"},
		},
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			var rsp *protocol.Response
			err := s.spinner("Waiting for vehicle to lock", func() error {
				var err error
				rsp, err = s.car.LockDoors(ctx, args["PIN"])
				return err
			})
			if errors.Is(err, vehicle.ErrInvalidPIN) {
				return fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
			}
			if err != nil {
				return err
			}
			return s.report(rsp, "Doors locked.")
		},
	},
	"vin": &Command{
		help: "Print the VIN of the connected vehicle",
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			s.out.Println(s.car.VIN())
			return nil
		},
	},
	"logout": &Command{
		help: "Forget the stored session",
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			return s.acct.Logout(ctx)
		},
	},
}
