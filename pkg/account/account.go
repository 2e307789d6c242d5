// Package account is the entry point of the library: it binds a user's credentials to a protocol
// generation and hands out Vehicle objects.
package account

import (
	"context"
	_ "embed" // Used to embed version for use with user agent
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/openev/carwings/internal/authentication"
	"github.com/openev/carwings/internal/clock"
	"github.com/openev/carwings/internal/dispatcher"
	"github.com/openev/carwings/pkg/cache"
	"github.com/openev/carwings/pkg/connector"
	"github.com/openev/carwings/pkg/connector/inet"
	"github.com/openev/carwings/pkg/protocol"
	"github.com/openev/carwings/pkg/vehicle"
)

var (
	//go:embed version.txt
	libraryVersion string
)

func buildUserAgent(app string) string {
	library := strings.TrimSpace("carwings-go/" + libraryVersion)
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return library
	}
	path := strings.Split(build.Path, "/")
	if len(path) == 0 {
		return library
	}

	if app == "" {
		app = path[len(path)-1]
		var version string
		if build.Main.Version != "(devel)" && build.Main.Version != "" {
			version = build.Main.Version
		} else {
			for _, info := range build.Settings {
				if info.Key == "vcs.revision" {
					if len(info.Value) > 8 {
						version = info.Value[0:8]
					}
					break
				}
			}
		}

		if version != "" {
			app = fmt.Sprintf("%s/%s", app, version)
		}
	}

	return fmt.Sprintf("%s %s", app, library)
}

// Option configures an Account.
type Option func(*Account)

// WithVerifiedLogin makes GetVehicle log in with the account password instead of reusing a
// stored session, so that a wrong password fails with protocol.ErrLoginFailed.
func WithVerifiedLogin() Option {
	return func(a *Account) { a.verifyLogin = true }
}

// WithStore persists sessions in store instead of the default FileStore in the system temporary
// directory. Pass nil to disable persistence.
func WithStore(store cache.Store) Option {
	return func(a *Account) { a.store = store; a.storeSet = true }
}

// WithTransport replaces the HTTPS transport.
func WithTransport(transport connector.Transport) Option {
	return func(a *Account) { a.transport = transport }
}

// WithCipher replaces the password cipher selected by the protocol generation.
func WithCipher(cipher authentication.Cipher) Option {
	return func(a *Account) { a.cipher = cipher }
}

// WithClock replaces the wall clock used for polling.
func WithClock(c clock.Clock) Option {
	return func(a *Account) { a.clock = c }
}

// WithSession supplies known session identifiers, which are used before consulting the store.
func WithSession(r cache.Record) Option {
	return func(a *Account) { a.session = r }
}

// WithVIN selects one vehicle of an account that has several.
func WithVIN(vin string) Option {
	return func(a *Account) { a.vin = vin }
}

// WithMaxWait bounds how long commands wait for the vehicle to confirm.
func WithMaxWait(d time.Duration) Option {
	return func(a *Account) { a.maxWait = d }
}

// WithPollInterval sets the delay between result checks.
func WithPollInterval(d time.Duration) Option {
	return func(a *Account) { a.pollInterval = d }
}

// WithUserAgent sets the application part of the User-Agent header.
func WithUserAgent(app string) Option {
	return func(a *Account) { a.UserAgent = buildUserAgent(app) }
}

// Account allows interaction with a vendor account.
type Account struct {
	// The default UserAgent is constructed from build information, but can be overridden.
	UserAgent string
	Username  string

	password     string
	config       *protocol.Config
	store        cache.Store
	storeSet     bool
	transport    connector.Transport
	cipher       authentication.Cipher
	clock        clock.Clock
	session      cache.Record
	vin          string
	maxWait      time.Duration
	pollInterval time.Duration

	verifyLogin bool

	dispatcher *dispatcher.Dispatcher
}

// New returns an [Account] that can be used to fetch a [vehicle.Vehicle]. No requests are sent
// until the first vehicle operation.
func New(username, password string, config *protocol.Config, options ...Option) (*Account, error) {
	if username == "" {
		return nil, errors.New("username is required")
	}
	if config == nil {
		return nil, errors.New("protocol configuration is required")
	}
	a := &Account{
		UserAgent: buildUserAgent(""),
		Username:  username,
		password:  password,
		config:    config,
		clock:     clock.System,
	}
	for _, option := range options {
		option(a)
	}
	if !a.storeSet {
		a.store = cache.NewFileStore("")
	}
	if a.transport == nil {
		a.transport = inet.NewTransport(nil)
	}
	if a.cipher == nil {
		cipher, err := authentication.NewCipher(config, a.transport)
		if err != nil {
			return nil, err
		}
		a.cipher = cipher
	}
	return a, nil
}

// GetVehicle returns the Vehicle belonging to the account and establishes a session, loading it
// from the session store when possible.
func (a *Account) GetVehicle(ctx context.Context) (*vehicle.Vehicle, error) {
	auth := authentication.NewAuthenticator(a.config, a.Username, a.password, a.cipher)
	d := dispatcher.New(a.config, a.transport, auth, a.store, cache.KeyFor(a.Username))
	d.SetClock(a.clock)
	d.SetUserAgent(a.UserAgent)
	d.SetMaxWait(a.maxWait)
	d.SetPollInterval(a.pollInterval)
	if !a.session.IsZero() {
		d.SetSession(a.session)
	}
	d.SetVIN(a.vin)

	car := vehicle.NewVehicle(d)
	connect := car.Connect
	if a.verifyLogin {
		connect = d.Login
	}
	if err := connect(ctx); err != nil {
		return nil, err
	}
	a.dispatcher = d
	return car, nil
}

// Logout forgets the stored session so that the next run logs in again.
func (a *Account) Logout(ctx context.Context) error {
	if a.dispatcher != nil {
		return a.dispatcher.Logout(ctx)
	}
	if a.store == nil {
		return nil
	}
	return a.store.Remove(ctx, cache.KeyFor(a.Username))
}
