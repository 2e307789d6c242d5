package proxy

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/account"
	"github.com/openev/carwings/pkg/protocol"
	"github.com/openev/carwings/pkg/vehicle"
)

const (
	// DefaultTimeout leaves room for the vehicle to confirm a command.
	DefaultTimeout       = 5 * time.Minute
	maxRequestBodyBytes  = 512
	proxyProtocolVersion = "carwings-http-proxy/1.0.0"
	apiPrefix            = "/api/1/vehicle/"
)

// AccountFactory creates the account for a set of client credentials.
type AccountFactory func(username, password string) (*account.Account, error)

type connection struct {
	password string
	acct     *account.Account
	car      *vehicle.Vehicle
}

// Proxy exposes an HTTP API for sending vehicle commands.
type Proxy struct {
	Timeout time.Duration

	newAccount  AccountFactory
	userLock    sync.Map
	connections sync.Map
}

// New creates an http proxy. Connections are cached per username, so that each user logs in once
// and then reuses the session.
func New(newAccount AccountFactory) *Proxy {
	return &Proxy{
		Timeout:    DefaultTimeout,
		newAccount: newAccount,
	}
}

// NewAccountFactory returns an AccountFactory that binds credentials to config. Accounts log in
// with the caller's password on first use even when a stored session exists, so a wrong password
// fails with protocol.ErrLoginFailed.
func NewAccountFactory(config *protocol.Config, options ...account.Option) AccountFactory {
	return func(username, password string) (*account.Account, error) {
		opts := append([]account.Option{account.WithUserAgent(proxyProtocolVersion)}, options...)
		opts = append(opts, account.WithVerifiedLogin())
		return account.New(username, password, config, opts...)
	}
}

// lockUser locks a user-specific mutex, blocking until the operation succeeds or ctx expires.
func (p *Proxy) lockUser(ctx context.Context, username string) error {
	lock := make(chan bool, 1)
	for {
		if obj, loaded := p.userLock.LoadOrStore(username, lock); loaded {
			select {
			case <-obj.(chan bool):
				// The goroutine that reads from the channel doesn't necessarily own the mutex. This
				// allows the mutex owner to delete the entry from the map, limiting the size of the
				// map to the number of concurrent requests.
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			return nil
		}
	}
}

// unlockUser releases a user-specific mutex.
func (p *Proxy) unlockUser(username string) {
	obj, ok := p.userLock.Load(username)
	if !ok {
		panic("called unlock without owning mutex")
	}
	p.userLock.Delete(username) // Allow someone else to claim the mutex
	close(obj.(chan bool))      // Unblock goroutines
}

// Response contains a server's response to a client request.
type Response struct {
	Response   interface{} `json:"response"`
	Error      string      `json:"error,omitempty"`
	ErrDetails string      `json:"error_description,omitempty"`
}

// statusForError maps library errors to HTTP status codes.
func statusForError(err error) int {
	var paramErr *ParameterError
	switch {
	case errors.As(err, &paramErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrCommandNotImplemented):
		return http.StatusNotFound
	case errors.Is(err, protocol.ErrLoginFailed):
		return http.StatusUnauthorized
	case errors.Is(err, protocol.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, protocol.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var requestErr *protocol.RequestError
	var transportErr *protocol.TransportError
	if errors.As(err, &requestErr) || errors.As(err, &transportErr) ||
		errors.Is(err, protocol.ErrNonJSONResponse) || errors.Is(err, protocol.ErrInvalidResponse) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSONError(w http.ResponseWriter, code int, err error) {
	reply := Response{}
	if err == nil {
		reply.Error = http.StatusText(code)
	} else {
		reply.Error = http.StatusText(code)
		reply.ErrDetails = err.Error()
	}
	if code != http.StatusOK {
		log.Error("Returning error %s: %v", http.StatusText(code), err)
	}
	writeJSON(w, code, &reply)
}

func writeJSON(w http.ResponseWriter, code int, reply *Response) {
	jsonBytes, err := json.Marshal(reply)
	if err != nil {
		log.Error("Error serializing reply %+v: %s", reply, err)
		code = http.StatusInternalServerError
		jsonBytes = []byte("{\"error\": \"internal server error\"}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsonBytes = append(jsonBytes, '\n')
	w.Write(jsonBytes)
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	log.Info("Received %s request for %s", req.Method, req.URL.Path)

	username, password, ok := req.BasicAuth()
	if !ok || username == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="carwings"`)
		writeJSONError(w, http.StatusUnauthorized, fmt.Errorf("client did not provide account credentials"))
		return
	}

	resource, ok := strings.CutPrefix(req.URL.Path, apiPrefix)
	if !ok {
		writeJSONError(w, http.StatusNotFound, nil)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
	defer cancel()

	var action Action
	var err error
	if command, ok := strings.CutPrefix(resource, "command/"); ok {
		if req.Method != http.MethodPost {
			writeJSONError(w, http.StatusMethodNotAllowed, nil)
			return
		}
		var params RequestParameters
		if params, err = readBody(req); err == nil {
			action, err = ExtractCommandAction(ctx, command, params)
		}
	} else {
		if req.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, nil)
			return
		}
		action, err = ExtractQueryAction(ctx, resource, queryParameters(req))
	}
	if err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}

	p.handleVehicleRequest(ctx, w, username, password, action)
}

func readBody(req *http.Request) (RequestParameters, error) {
	params := make(RequestParameters)
	if req.Body == nil {
		return params, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBodyBytes+1))
	if err != nil {
		return nil, &ParameterError{Details: fmt.Errorf("could not read request body: %s", err)}
	}
	if len(body) > maxRequestBodyBytes {
		return nil, &ParameterError{Details: errors.New("request body too large")}
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			return nil, &ParameterError{Details: errors.New("error occurred while parsing request parameters")}
		}
	}
	return params, nil
}

func queryParameters(req *http.Request) RequestParameters {
	params := make(RequestParameters)
	for key, values := range req.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}

func (p *Proxy) handleVehicleRequest(ctx context.Context, w http.ResponseWriter, username, password string, action Action) {
	// Serialize requests for a user so that asynchronous commands do not replace each other's
	// result keys.
	if err := p.lockUser(ctx, username); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer p.unlockUser(username)

	car, err := p.vehicle(ctx, username, password)
	if err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}

	result, err := action(car)
	if err != nil {
		writeJSONError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, &Response{Response: result})
}

// vehicle returns the cached vehicle of username, connecting first if needed. The caller must hold
// the user's lock.
func (p *Proxy) vehicle(ctx context.Context, username, password string) (*vehicle.Vehicle, error) {
	if obj, ok := p.connections.Load(username); ok {
		conn := obj.(*connection)
		if subtle.ConstantTimeCompare([]byte(conn.password), []byte(password)) == 1 {
			return conn.car, nil
		}
		log.Info("Credentials for %s changed; reconnecting", username)
	}

	acct, err := p.newAccount(username, password)
	if err != nil {
		return nil, err
	}
	car, err := acct.GetVehicle(ctx)
	if err != nil {
		return nil, err
	}
	p.connections.Store(username, &connection{password: password, acct: acct, car: car})
	return car, nil
}
