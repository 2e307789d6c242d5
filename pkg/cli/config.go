/*
Package cli facilitates building command-line applications that control vehicles. It defines a
[Config] type that can be used to register common command-line flags (using the Golang flag
package), environment variable equivalents, and an optional configuration file.

The package uses [keyring]'s platform-agnostic interface for storing sensitive values (account
passwords and, optionally, session identifiers) in an OS-dependent credential store.

# Examples

	import flag

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for credentials, region, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	config.ReadFromFile()             // Fills in remaining fields from a TOML or YAML file
	config.LoadCredentials()          // Prompt for the account password if needed

	acct, car, err := config.Connect(ctx)
	if err != nil {
		panic(err)
	}

Precedence is command line, then environment, then configuration file. Use a [Flag] mask to control
which [Config] fields are registered and read.
*/
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/99designs/keyring"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/account"
	"github.com/openev/carwings/pkg/cache"
	"github.com/openev/carwings/pkg/protocol"
	"github.com/openev/carwings/pkg/vehicle"
)

// Environment variable names used are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvUsername      = "CARWINGS_USERNAME"
	EnvPassword      = "CARWINGS_PASSWORD"
	EnvRegion        = "CARWINGS_REGION"
	EnvTimeZone      = "CARWINGS_TZ"
	EnvGeneration    = "CARWINGS_GENERATION"
	EnvCipherURL     = "CARWINGS_CIPHER_URL"
	EnvVIN           = "CARWINGS_VIN"
	EnvSessionDir    = "CARWINGS_SESSION_DIR"
	EnvSessionStore  = "CARWINGS_SESSION_STORE"
	EnvConfig        = "CARWINGS_CONFIG"
	EnvKeyringType   = "CARWINGS_KEYRING_TYPE"
	EnvKeyringPass   = "CARWINGS_KEYRING_PASSWORD"
	EnvKeyringPath   = "CARWINGS_KEYRING_PATH"
	EnvKeyringDebug  = "CARWINGS_KEYRING_DEBUG"
	defaultRegion    = "US"
	sessionStoreFile = "file"
	sessionStoreRing = "keyring"
	sessionStoreNone = "none"
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagProtocol    Flag = 1  // Enable region, timezone and generation options.
	FlagCredentials Flag = 2  // Enable username and password options.
	FlagVIN         Flag = 4  // Enable VIN option.
	FlagSession     Flag = 8  // Enable session persistence options.
	FlagKeyring     Flag = 16 // Enable keyring options.
	FlagAccount     Flag = FlagProtocol | FlagCredentials
	FlagAll         Flag = FlagAccount | FlagVIN | FlagSession | FlagKeyring
)

var (
	ErrNoUsername  = errors.New("username not provided")
	ErrKeyNotFound = keyring.ErrKeyNotFound
)

// Config fields determine how a client authenticates to the vendor's backend.
type Config struct {
	Flags        Flag // Controls which set of environment variables/CLI flags to use.
	Username     string
	Region       string
	TimeZone     string
	Generation   string
	CipherURL    string // Password encryption service, for generations that need one.
	VIN          string
	SessionDir   string
	SessionStore string // One of "file", "keyring" or "none".
	ConfigFile   string
	Backend      keyring.Config
	BackendType  backendType
	Debug        bool // Enable keyring debug messages

	password        string
	keyringPassword *string
	acct            *account.Account
}

// fileConfig is the schema of the optional configuration file.
type fileConfig struct {
	Username     string `toml:"username" yaml:"username"`
	Password     string `toml:"password" yaml:"password"`
	Region       string `toml:"region" yaml:"region"`
	TimeZone     string `toml:"timezone" yaml:"timezone"`
	Generation   string `toml:"generation" yaml:"generation"`
	CipherURL    string `toml:"cipher_url" yaml:"cipher_url"`
	VIN          string `toml:"vin" yaml:"vin"`
	SessionDir   string `toml:"session_dir" yaml:"session_dir"`
	SessionStore string `toml:"session_store" yaml:"session_store"`
	KeyringType  string `toml:"keyring_type" yaml:"keyring_type"`
	KeyringPath  string `toml:"keyring_path" yaml:"keyring_path"`
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getKeyringPassword
	c.Backend.FilePasswordFunc = c.getKeyringPassword

	return &c, nil
}

// RegisterCommandLineFlags adds the options enabled by c.Flags to the default flag set.
func (c *Config) RegisterCommandLineFlags() {
	c.RegisterFlags(flag.CommandLine)
}

// RegisterFlags adds the options enabled by c.Flags to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", "", "Read defaults from a TOML or YAML `file`. Defaults to $CARWINGS_CONFIG.")
	if c.Flags.isSet(FlagCredentials) {
		fs.StringVar(&c.Username, "username", "", "Account `email`. Defaults to $CARWINGS_USERNAME.")
	}
	if c.Flags.isSet(FlagProtocol) {
		var generations []string
		for name := range protocol.Generations {
			generations = append(generations, name)
		}
		sort.Strings(generations)
		fs.StringVar(&c.Region, "region", "", "Account `region` (US|CA|EU|JP|AU or a vendor code). Defaults to $CARWINGS_REGION.")
		fs.StringVar(&c.TimeZone, "tz", "", "IANA `timezone` used to interpret vehicle timestamps. Defaults to $CARWINGS_TZ.")
		fs.StringVar(&c.Generation, "generation", "", "Protocol `generation` ("+strings.Join(generations, "|")+"). Defaults to $CARWINGS_GENERATION.")
		fs.StringVar(&c.CipherURL, "cipher-url", "", "Password encryption service `URL` for generations that use one. Defaults to $CARWINGS_CIPHER_URL.")
	}
	if c.Flags.isSet(FlagVIN) {
		fs.StringVar(&c.VIN, "vin", "", "Vehicle Identification Number, for accounts with several vehicles. Defaults to $CARWINGS_VIN.")
	}
	if c.Flags.isSet(FlagSession) {
		fs.StringVar(&c.SessionStore, "session-store", "", "Where to keep session identifiers (file|keyring|none). Defaults to $CARWINGS_SESSION_STORE.")
		fs.StringVar(&c.SessionDir, "session-dir", "", "`Directory` for session files. Defaults to $CARWINGS_SESSION_DIR or the system temporary directory.")
	}
	if c.Flags.isSet(FlagKeyring) {
		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		fs.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $CARWINGS_KEYRING_TYPE.")
		fs.StringVar(&c.Backend.FileDir, "keyring-file-dir", "", "keyring `directory` for file-backed keyring types. Defaults to "+keyringDirectory+".")
		fs.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if c.ConfigFile == "" {
		c.ConfigFile = os.Getenv(EnvConfig)
	}
	if c.Flags.isSet(FlagProtocol) {
		setFromEnv(&c.Region, EnvRegion, "region")
		setFromEnv(&c.TimeZone, EnvTimeZone, "timezone")
		setFromEnv(&c.Generation, EnvGeneration, "protocol generation")
		setFromEnv(&c.CipherURL, EnvCipherURL, "cipher URL")
	}
	if c.Flags.isSet(FlagCredentials) {
		setFromEnv(&c.Username, EnvUsername, "username")
		if c.password == "" {
			c.password = os.Getenv(EnvPassword)
			if c.password != "" {
				log.Debug("Set account password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
	}
	if c.Flags.isSet(FlagVIN) {
		setFromEnv(&c.VIN, EnvVIN, "VIN")
	}
	if c.Flags.isSet(FlagSession) {
		setFromEnv(&c.SessionStore, EnvSessionStore, "session store")
		setFromEnv(&c.SessionDir, EnvSessionDir, "session directory")
	}
	if c.Flags.isSet(FlagKeyring) {
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.keyringPassword == nil {
			password := os.Getenv(EnvKeyringPass)
			c.keyringPassword = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		setFromEnv(&c.Backend.FileDir, EnvKeyringPath, "keyring File Path")
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
}

func setFromEnv(field *string, name, label string) {
	if *field != "" {
		return
	}
	if value, ok := os.LookupEnv(name); ok {
		*field = value
		log.Debug("Set %s to '%s'", label, value)
	}
}

func setFromFile(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// ReadFromFile fills fields that are still empty from c.ConfigFile. The format is selected by file
// extension: .toml, or .yaml/.yml. A missing ConfigFile is not an error.
func (c *Config) ReadFromFile() error {
	if c.ConfigFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(c.ConfigFile)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("unsupported configuration file type '%s'", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.ConfigFile, err)
	}
	log.Debug("Loaded configuration from %s", c.ConfigFile)

	if c.Flags.isSet(FlagCredentials) {
		setFromFile(&c.Username, fc.Username)
		setFromFile(&c.password, fc.Password)
	}
	if c.Flags.isSet(FlagProtocol) {
		setFromFile(&c.Region, fc.Region)
		setFromFile(&c.TimeZone, fc.TimeZone)
		setFromFile(&c.Generation, fc.Generation)
		setFromFile(&c.CipherURL, fc.CipherURL)
	}
	if c.Flags.isSet(FlagVIN) {
		setFromFile(&c.VIN, fc.VIN)
	}
	if c.Flags.isSet(FlagSession) {
		setFromFile(&c.SessionDir, fc.SessionDir)
		setFromFile(&c.SessionStore, fc.SessionStore)
	}
	if c.Flags.isSet(FlagKeyring) {
		if c.BackendType.String() == string(keyring.InvalidBackend) && fc.KeyringType != "" {
			if err := c.BackendType.Set(fc.KeyringType); err != nil {
				return err
			}
		}
		setFromFile(&c.Backend.FileDir, fc.KeyringPath)
	}
	return nil
}

// ProtocolConfig returns the protocol configuration selected by c.
func (c *Config) ProtocolConfig() (*protocol.Config, error) {
	gen, err := protocol.GenerationByName(c.Generation)
	if err != nil {
		return nil, err
	}
	regionName := c.Region
	if regionName == "" {
		regionName = defaultRegion
	}
	region, err := protocol.ParseRegion(regionName)
	if err != nil {
		return nil, err
	}
	if c.CipherURL != "" {
		gen.CipherProxyURL = c.CipherURL
	}
	if gen.Cipher == protocol.CipherRemote && gen.CipherProxyURL == "" {
		return nil, fmt.Errorf("protocol generation '%s' requires -cipher-url or $%s", gen.Name, EnvCipherURL)
	}
	return protocol.NewConfig(gen, region, c.TimeZone)
}

// Store returns the session store selected by c. The returned store is nil when persistence is
// disabled.
func (c *Config) Store() (cache.Store, error) {
	switch strings.ToLower(c.SessionStore) {
	case "", sessionStoreFile:
		return cache.NewFileStore(c.SessionDir), nil
	case sessionStoreRing:
		kr, err := c.openKeyring()
		if err != nil {
			return nil, err
		}
		return cache.NewKeyringStore(kr), nil
	case sessionStoreNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown session store '%s'", c.SessionStore)
}

// LoadCredentials resolves the account password, prompting for it if needed. Call this method
// before [Config.Connect] to prevent interactive prompts from counting against timeouts.
func (c *Config) LoadCredentials() error {
	if !c.Flags.isSet(FlagCredentials) {
		return nil
	}
	_, err := c.Password()
	return err
}

// Password returns the account password. It is taken from the environment or configuration file
// if present, else from the system keyring, else from an interactive prompt.
func (c *Config) Password() (string, error) {
	if c.password != "" {
		return c.password, nil
	}
	if c.Username == "" {
		return "", ErrNoUsername
	}
	if c.Flags.isSet(FlagKeyring) {
		password, err := c.LoadPasswordFromKeyring()
		if err == nil {
			c.password = password
			return password, nil
		}
		log.Debug("No password in keyring: %s", err)
	}
	password, err := prompt(fmt.Sprintf("Password for %s", c.Username))
	if err != nil {
		return "", err
	}
	c.password = password
	return password, nil
}

// Account returns the configured account. Options are applied after those derived from c.
func (c *Config) Account(options ...account.Option) (*account.Account, error) {
	if c.acct != nil {
		return c.acct, nil
	}
	if c.Username == "" {
		return nil, ErrNoUsername
	}
	config, err := c.ProtocolConfig()
	if err != nil {
		return nil, err
	}
	password, err := c.Password()
	if err != nil {
		return nil, err
	}
	store, err := c.Store()
	if err != nil {
		return nil, err
	}
	opts := []account.Option{account.WithStore(store), account.WithVIN(c.VIN)}
	c.acct, err = account.New(c.Username, password, config, append(opts, options...)...)
	return c.acct, err
}

// Connect logs in to the configured account, reusing a stored session when possible, and returns
// the account's vehicle.
func (c *Config) Connect(ctx context.Context, options ...account.Option) (acct *account.Account, car *vehicle.Vehicle, err error) {
	acct, err = c.Account(options...)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Connecting to account...")
	car, err = acct.GetVehicle(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize vehicle connection: %w", err)
	}
	return acct, car, nil
}
