package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
	"golang.org/x/term"

	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/account"
	"github.com/openev/carwings/pkg/cli"
	"github.com/openev/carwings/pkg/protocol"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usage = `
 * Credentials are read from the command line, the environment, a -config file and finally the
   system keyring (see carwings-password). The password is prompted for if none is found.
 * Session identifiers are cached between runs, so most invocations do not log in.`

func Usage() {
	fmt.Printf("Usage: %s [OPTION...] COMMAND [ARG...]\n", os.Args[0])
	fmt.Printf("\nRun %s help COMMAND for more information. Valid COMMANDs are listed below.", os.Args[0])
	fmt.Println("")
	fmt.Println(usage)
	fmt.Println("")

	fmt.Printf("Available OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Printf("Available COMMANDs:\n")
	maxLength := 0
	var labels []string
	for command := range commands {
		labels = append(labels, command)
		if len(command) > maxLength {
			maxLength = len(command)
		}
	}
	sort.Strings(labels)
	for _, command := range labels {
		info := commands[command]
		fmt.Printf("  %s%s %s\n", command, strings.Repeat(" ", maxLength-len(command)), info.help)
	}
}

func runCommand(s *session, args []string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := execute(ctx, s, args); err != nil {
		if protocol.MayHaveSucceeded(err) {
			writeErr("Couldn't verify success: %s", err)
		} else if errors.Is(err, protocol.ErrUnsupported) {
			writeErr("This command is not available for the selected protocol generation")
		} else {
			writeErr("Failed to execute command: %s", err)
		}
		return 1
	}
	return 0
}

func runInteractiveShell(s *session, timeout time.Duration) int {
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		runCommand(s, args, timeout)
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return 0
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		debug          bool
		raw            bool
		quiet          bool
		commandTimeout time.Duration
		connTimeout    time.Duration
		maxWait        time.Duration
	)
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		os.Exit(1)
	}
	flag.Usage = Usage
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.BoolVar(&raw, "raw", false, "Print vendor responses as JSON")
	flag.BoolVar(&quiet, "quiet", false, "Do not display progress while waiting for the vehicle")
	flag.DurationVar(&commandTimeout, "command-timeout", 5*time.Minute, "Set timeout for commands sent to the vehicle.")
	flag.DurationVar(&connTimeout, "connect-timeout", 60*time.Second, "Set timeout for logging in.")
	flag.DurationVar(&maxWait, "max-wait", 0, "Give up waiting for the vehicle to confirm a command after this long (default 290s).")

	config.RegisterCommandLineFlags()
	flag.Parse()
	if !debug {
		if debugEnv, ok := os.LookupEnv("CARWINGS_VERBOSE"); ok {
			debug = debugEnv != "false" && debugEnv != "0"
		}
	}
	if debug {
		log.SetLevel(log.LevelDebug)
	}
	config.ReadFromEnvironment()
	if err := config.ReadFromFile(); err != nil {
		writeErr("%s", err)
		return
	}

	args := flag.Args()
	if len(args) > 0 {
		if args[0] == "help" {
			if len(args) == 1 {
				Usage()
				status = 0
				return
			}
			info, ok := commands[args[1]]
			if !ok {
				writeErr("Unrecognized command: %s", args[1])
				return
			}
			info.Usage(args[1])
			status = 0
			return
		}
		if _, ok := commands[args[0]]; !ok {
			writeErr("Unrecognized command: %s", args[0])
			return
		}
	}

	if config.Username == "" {
		writeErr("Missing required flag: -username (or $%s)", cli.EnvUsername)
		return
	}
	if err := config.LoadCredentials(); err != nil {
		writeErr("Error loading credentials: %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	defer cancel()

	acct, car, err := config.Connect(ctx, account.WithMaxWait(maxWait))
	if err != nil {
		writeErr("Error: %s", err)
		return
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	s := &session{
		acct: acct,
		car:  car,
		out:  &printer{out: os.Stdout, raw: raw, color: isTerminal},
	}
	var progress io.Writer
	if !quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		progress = os.Stderr
	}
	s.spinner = func(label string, fn func() error) error {
		return withSpinner(progress, label, fn)
	}

	if flag.NArg() > 0 {
		status = runCommand(s, flag.Args(), commandTimeout)
	} else {
		status = runInteractiveShell(s, commandTimeout)
	}
}
