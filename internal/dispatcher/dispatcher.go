// Package dispatcher sends authenticated requests to the vendor API, recovers from expired
// sessions, and polls for the results of asynchronous commands.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/openev/carwings/internal/authentication"
	"github.com/openev/carwings/internal/clock"
	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/cache"
	"github.com/openev/carwings/pkg/connector"
	"github.com/openev/carwings/pkg/protocol"
)

const (
	// DefaultPollInterval is the delay between result checks of an asynchronous command.
	DefaultPollInterval = time.Second
	// DefaultMaxWait bounds how long Wait polls before giving up.
	DefaultMaxWait = 290 * time.Second
)

// Dispatcher objects send requests on behalf of a single user. A Dispatcher holds the current
// session record, the result key of the most recent asynchronous command, and a RetryBudget.
//
// A Dispatcher may be shared by goroutines, but it tracks only one pending asynchronous command:
// issuing a second command before the first has been collected with Wait replaces the first
// command's result key.
type Dispatcher struct {
	config    *protocol.Config
	transport connector.Transport
	auth      *authentication.Authenticator
	store     cache.Store
	storeKey  string
	clock     clock.Clock
	userAgent string
	vin       string

	pollInterval time.Duration
	maxWait      time.Duration

	lock    sync.Mutex
	session cache.Record
	pending string
	budget  RetryBudget
}

// New creates a Dispatcher. The store may be nil, in which case sessions are not persisted.
func New(config *protocol.Config, transport connector.Transport, auth *authentication.Authenticator, store cache.Store, storeKey string) *Dispatcher {
	return &Dispatcher{
		config:       config,
		transport:    transport,
		auth:         auth,
		store:        store,
		storeKey:     storeKey,
		clock:        clock.System,
		pollInterval: DefaultPollInterval,
		maxWait:      DefaultMaxWait,
	}
}

func (d *Dispatcher) Config() *protocol.Config {
	return d.config
}

func (d *Dispatcher) Clock() clock.Clock {
	return d.clock
}

func (d *Dispatcher) SetClock(c clock.Clock) {
	if c != nil {
		d.clock = c
	}
}

func (d *Dispatcher) SetUserAgent(userAgent string) {
	d.userAgent = userAgent
}

// SetVIN selects a vehicle. The VIN takes precedence over VINs found in stored records or login
// responses, which matters for accounts with more than one vehicle.
func (d *Dispatcher) SetVIN(vin string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.vin = vin
	if vin != "" {
		d.session.VIN = vin
	}
}

// SetPollInterval sets the delay between result checks in Wait.
func (d *Dispatcher) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		d.pollInterval = interval
	}
}

// SetMaxWait sets the time after which Wait gives up.
func (d *Dispatcher) SetMaxWait(maxWait time.Duration) {
	if maxWait > 0 {
		d.maxWait = maxWait
	}
}

// Budget returns the state of the session-expiry retry budget.
func (d *Dispatcher) Budget() RetryBudget {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.budget
}

// ResetBudget allows one more automatic re-login.
func (d *Dispatcher) ResetBudget() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.budget.Reset()
}

// Pending returns the result key of the outstanding asynchronous command, if any.
func (d *Dispatcher) Pending() (string, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.pending, d.pending != ""
}

func (d *Dispatcher) setPending(key string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.pending != "" && d.pending != key {
		log.Debug("Replacing pending result key %s with %s", d.pending, key)
	}
	d.pending = key
}

// Send issues op with params. If the response signals an expired session and the retry budget is
// available, Send consumes the budget, logs in again without consulting the store, and reissues
// the request once.
//
// When the server responds with an error, Send returns the decoded response (if any) together
// with the error.
func (d *Dispatcher) Send(ctx context.Context, op protocol.Operation, params map[string]string) (*protocol.Response, error) {
	rsp, err := d.Exchange(ctx, op, params)
	if err == nil {
		return rsp, nil
	}

	var requestErr *protocol.RequestError
	if !errors.As(err, &requestErr) || !d.config.IsExpiryCode(requestErr.Status) {
		return rsp, err
	}

	d.lock.Lock()
	retry := d.budget.Take()
	if retry {
		d.session.ClearTokens()
	}
	d.lock.Unlock()
	if !retry {
		log.Debug("Session expired (status %d) but retry budget is spent", requestErr.Status)
		return rsp, err
	}

	log.Info("Session expired (status %d); logging in again", requestErr.Status)
	if err := d.login(ctx); err != nil {
		return nil, err
	}
	return d.Exchange(ctx, op, params)
}

// Exchange issues op with params exactly once. Session identifiers and fixed protocol parameters
// are always injected and take precedence over params.
func (d *Dispatcher) Exchange(ctx context.Context, op protocol.Operation, params map[string]string) (*protocol.Response, error) {
	endpoint, ok := d.config.Endpoint(op)
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnsupported, op)
	}

	d.lock.Lock()
	session := d.session
	d.lock.Unlock()

	path, err := expandPath(endpoint.Path, session)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(params)+8)
	for k, v := range params {
		merged[k] = v
	}
	d.inject(merged, session)

	request, err := d.encode(endpoint.Method, d.config.BaseURL+path, merged, session)
	if err != nil {
		return nil, err
	}

	log.Debug("Sending %s %s: %s", endpoint.Method, path, log.Redact(merged))
	reply, err := d.transport.Send(ctx, request)
	if err != nil {
		return nil, err
	}

	rsp, err := protocol.Evaluate(d.config.Convention, path, reply.StatusCode, reply.Header, reply.Body)
	if rsp != nil && d.config.ResultKeyPath != "" {
		if key := rsp.String(d.config.ResultKeyPath); key != "" {
			d.setPending(key)
		}
	}
	return rsp, err
}

func (d *Dispatcher) inject(params map[string]string, session cache.Record) {
	names := d.config.Params
	set := func(name, value string) {
		if name != "" && value != "" {
			params[name] = value
		}
	}
	set(names.AppStrings, d.config.InitialAppStrings)
	set(names.Region, string(d.config.Region))
	set(names.Locale, d.config.Locale)
	set(names.TimeZone, d.config.TimeZone)
	for field, name := range names.Session {
		set(name, session.Value(field))
	}
}

func (d *Dispatcher) encode(method, target string, params map[string]string, session cache.Record) (*connector.Request, error) {
	request := &connector.Request{
		Method: method,
		URL:    target,
		Header: http.Header{},
	}
	if d.userAgent != "" {
		request.Header.Set("User-Agent", d.userAgent)
	}
	if name := d.config.Params.AuthHeader; name != "" && session.AuthToken != "" {
		request.Header.Set(name, "Bearer "+session.AuthToken)
	}
	if d.config.SessionCookie != "" && session.Cookie != "" {
		request.Header.Set("Cookie", (&http.Cookie{Name: d.config.SessionCookie, Value: session.Cookie}).String())
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	switch {
	case method == http.MethodGet:
		if len(form) > 0 {
			request.URL += "?" + form.Encode()
		}
	case d.config.Encoding == protocol.JSONEncoded:
		body, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		request.Body = body
		request.Header.Set("Content-Type", "application/json")
	default:
		request.Body = []byte(form.Encode())
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return request, nil
}

func expandPath(path string, session cache.Record) (string, error) {
	placeholders := map[string]string{
		"{vin}":       session.VIN,
		"{accountId}": session.AccountID,
	}
	for placeholder, value := range placeholders {
		if !strings.Contains(path, placeholder) {
			continue
		}
		if value == "" {
			return "", fmt.Errorf("cannot build path '%s': session has no value for %s", path, placeholder)
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
	}
	return path, nil
}
