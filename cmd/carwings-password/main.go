// Utility for saving, checking, and deleting account passwords in the system keyring

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/cli"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usageText = `
Saves the account password in the system keyring so that carwings-control does not need to prompt
for it, checks whether a password is stored, or deletes it.

The save command reads the password from $CARWINGS_PASSWORD if set, and prompts for it otherwise.
The type of keyring and the account are controlled by the command-line options below, or through
the corresponding environment variables.`

func cliUsage() {
	usage(flag.CommandLine.Output())
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [OPTION...] save|check|delete\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	config, err := cli.NewConfig(cli.FlagAccount | cli.FlagKeyring)
	config.RegisterCommandLineFlags()
	flag.Usage = cliUsage
	flag.Parse()
	if config.Debug {
		log.SetLevel(log.LevelDebug)
	}
	if err != nil {
		writeErr("Failed to load credential configuration: %s", err)
		return
	}
	config.ReadFromEnvironment()
	if err := config.ReadFromFile(); err != nil {
		writeErr("%s", err)
		return
	}

	if flag.NArg() != 1 {
		usage(os.Stderr)
		return
	}
	if config.Username == "" {
		writeErr("Must provide the account username (-username or $%s)", cli.EnvUsername)
		return
	}

	switch flag.Arg(0) {
	case "save":
		password := os.Getenv(cli.EnvPassword)
		if password == "" {
			if password, err = config.Password(); err != nil {
				writeErr("Unable to read password: %s", err)
				return
			}
		}
		if err := config.SavePasswordToKeyring(password); err != nil {
			writeErr("%s", err)
			return
		}
		fmt.Printf("Saved password for %s\n", config.Username)
	case "check":
		if _, err := config.LoadPasswordFromKeyring(); err != nil {
			writeErr("No password stored for %s: %s", config.Username, err)
			return
		}
		fmt.Printf("A password is stored for %s\n", config.Username)
	case "delete":
		if err := config.DeletePassword(); err != nil {
			writeErr("Failed to delete password: %s", err)
			return
		}
		fmt.Printf("Deleted password for %s\n", config.Username)
	default:
		usage(os.Stderr)
		return
	}
	status = 0
}
