package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/account"
	"github.com/openev/carwings/pkg/cli"
	"github.com/openev/carwings/pkg/proxy"
)

const (
	defaultPort = 8443
)

const (
	EnvTlsCert = "CARWINGS_HTTP_PROXY_TLS_CERT"
	EnvTlsKey  = "CARWINGS_HTTP_PROXY_TLS_KEY"
	EnvHost    = "CARWINGS_HTTP_PROXY_HOST"
	EnvPort    = "CARWINGS_HTTP_PROXY_PORT"
	EnvTimeout = "CARWINGS_HTTP_PROXY_TIMEOUT"
	EnvVerbose = "CARWINGS_VERBOSE"
)

const nonLocalhostWarning = `
Do not listen on a network interface you do not trust. Clients authenticate with account
credentials, and each request may create traffic from your IP address to the vendor's servers,
which the vendor may respond to by rate limiting or blocking your account.`

type HttpProxyConfig struct {
	keyFilename  string
	certFilename string
	verbose      bool
	host         string
	port         int
	timeout      time.Duration
}

var (
	httpConfig = &HttpProxyConfig{}
)

func init() {
	flag.StringVar(&httpConfig.certFilename, "cert", "", "TLS certificate chain `file`. A self-signed certificate is generated if omitted.")
	flag.StringVar(&httpConfig.keyFilename, "tls-key", "", "Server TLS private key `file`")
	flag.BoolVar(&httpConfig.verbose, "verbose", false, "Enable verbose logging")
	flag.StringVar(&httpConfig.host, "host", "localhost", "Proxy server `hostname`")
	flag.IntVar(&httpConfig.port, "port", defaultPort, "`Port` to listen on")
	flag.DurationVar(&httpConfig.timeout, "timeout", proxy.DefaultTimeout, "Timeout interval when sending commands")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nA server that exposes a REST API for controlling vehicles")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, nonLocalhostWarning)
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
}

func main() {
	config, err := cli.NewConfig(cli.FlagProtocol | cli.FlagSession | cli.FlagKeyring)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		os.Exit(1)
	}

	defer func() {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}()

	flag.Usage = Usage
	config.RegisterCommandLineFlags()
	flag.Parse()
	if err = readFromEnvironment(); err != nil {
		return
	}
	config.ReadFromEnvironment()
	if err = config.ReadFromFile(); err != nil {
		return
	}

	if httpConfig.verbose {
		log.SetLevel(log.LevelDebug)
	}

	if httpConfig.host != "localhost" {
		fmt.Fprintln(os.Stderr, nonLocalhostWarning)
	}

	protocolConfig, err := config.ProtocolConfig()
	if err != nil {
		return
	}
	store, err := config.Store()
	if err != nil {
		return
	}

	log.Debug("Creating proxy")
	p := proxy.New(proxy.NewAccountFactory(protocolConfig, account.WithStore(store)))
	p.Timeout = httpConfig.timeout
	addr := fmt.Sprintf("%s:%d", httpConfig.host, httpConfig.port)

	if httpConfig.certFilename == "" {
		var server *http.Server
		var certPEM string
		if server, certPEM, err = NewServer(addr, p); err != nil {
			return
		}
		log.Warning("No -cert provided; using self-signed certificate:\n%s", certPEM)
		log.Info("Listening on %s", addr)
		log.Error("Server stopped: %s", server.ListenAndServeTLS("", ""))
		return
	}

	// To add more application logic, such as restricting which accounts may use the proxy, wrap
	// p in an http.Handler that performs the checks and then invokes p.ServeHTTP.
	server := &http.Server{
		Addr:      addr,
		Handler:   p,
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	log.Info("Listening on %s", addr)
	log.Error("Server stopped: %s", server.ListenAndServeTLS(httpConfig.certFilename, httpConfig.keyFilename))
}

// readFromEnvironment applies configuration from environment variables.
// Values are not overwritten.
func readFromEnvironment() error {
	if httpConfig.certFilename == "" {
		httpConfig.certFilename = os.Getenv(EnvTlsCert)
	}

	if httpConfig.keyFilename == "" {
		httpConfig.keyFilename = os.Getenv(EnvTlsKey)
	}

	if httpConfig.host == "localhost" {
		host, ok := os.LookupEnv(EnvHost)
		if ok {
			httpConfig.host = host
		}
	}

	if !httpConfig.verbose {
		if verbose, ok := os.LookupEnv(EnvVerbose); ok {
			httpConfig.verbose = verbose != "false" && verbose != "0"
		}
	}

	var err error
	if httpConfig.port == defaultPort {
		if port, ok := os.LookupEnv(EnvPort); ok {
			httpConfig.port, err = strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("invalid port: %s", port)
			}
		}
	}

	if httpConfig.timeout == proxy.DefaultTimeout {
		if timeoutEnv, ok := os.LookupEnv(EnvTimeout); ok {
			httpConfig.timeout, err = time.ParseDuration(timeoutEnv)
			if err != nil {
				return fmt.Errorf("invalid timeout: %s", timeoutEnv)
			}
		}
	}

	return nil
}
