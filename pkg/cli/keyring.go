package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName     = "com.openev.carwings"
	keyringPasswordService = "password"
	keyringDirectory       = "~/.carwings_keys"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

// prompt reads a secret from the terminal without echoing it.
func prompt(label string) (string, error) {
	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		} else {
			w = os.Stderr
		}
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	return string(b), nil
}

func (c *Config) getKeyringPassword(label string) (string, error) {
	if c.keyringPassword != nil && *c.keyringPassword != "" {
		return *c.keyringPassword, nil
	}
	password, err := prompt(label)
	if err != nil {
		return "", err
	}
	c.keyringPassword = &password
	return password, nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	if c.Backend.FileDir == "" {
		c.Backend.FileDir = keyringDirectory
	}
	c.Backend.KeyCtlScope = "user"
	if c.Debug {
		keyring.Debug = true
	}
	return keyring.Open(c.Backend)
}

func (c *Config) passwordKey() string {
	return keyringPasswordService + "." + c.Username
}

// LoadPasswordFromKeyring reads the account password for c.Username from the system keyring.
func (c *Config) LoadPasswordFromKeyring() (string, error) {
	if c.Username == "" {
		return "", ErrNoUsername
	}
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(c.passwordKey())
	if err != nil {
		return "", fmt.Errorf("could not load password: %w", err)
	}
	return string(item.Data), nil
}

// SavePasswordToKeyring writes the account password for c.Username to the system keyring.
func (c *Config) SavePasswordToKeyring(password string) error {
	if c.Username == "" {
		return ErrNoUsername
	}
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}

	if err := kr.Set(keyring.Item{
		Key:   c.passwordKey(),
		Data:  []byte(password),
		Label: "Carwings account password",
	}); err != nil {
		return fmt.Errorf("failed to enroll password in keyring: %s", err)
	}
	c.password = password
	return nil
}

// DeletePassword removes the account password from the system keyring.
func (c *Config) DeletePassword() error {
	if c.Username == "" {
		return ErrNoUsername
	}
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(c.passwordKey())
}
