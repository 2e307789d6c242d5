// Package authentication implements the login handshake with the vendor API.
package authentication

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/cache"
	"github.com/openev/carwings/pkg/protocol"
)

// Requester issues a single API call without session recovery.
type Requester interface {
	Exchange(ctx context.Context, op protocol.Operation, params map[string]string) (*protocol.Response, error)
}

type Authenticator struct {
	config   *protocol.Config
	username string
	password string
	cipher   Cipher
}

func NewAuthenticator(config *protocol.Config, username, password string, cipher Cipher) *Authenticator {
	return &Authenticator{
		config:   config,
		username: username,
		password: password,
		cipher:   cipher,
	}
}

// Login authenticates and returns the session identifiers required by the protocol generation.
// The returned record is complete; if the login response lacks a required identifier, Login
// returns a *protocol.LoginError carrying the raw response.
func (a *Authenticator) Login(ctx context.Context, r Requester) (cache.Record, error) {
	var record cache.Record
	if a.username == "" || a.password == "" {
		return record, &protocol.LoginError{Reason: "username and password are required"}
	}

	key, err := a.passwordKey(ctx, r)
	if err != nil {
		return record, err
	}
	encrypted, err := a.cipher.Encrypt(ctx, a.password, key)
	if err != nil {
		return record, &protocol.LoginError{Reason: "could not encrypt password", Err: err}
	}

	params := map[string]string{
		a.config.Params.Username: a.username,
		a.config.Params.Password: encrypted,
	}
	log.Info("Logging in as %s", a.username)
	rsp, err := r.Exchange(ctx, protocol.OpLogin, params)
	if err != nil {
		return record, loginError("credentials rejected", err)
	}

	for f := protocol.FieldVIN; f <= protocol.FieldVehicleBoundTime; f++ {
		for _, path := range a.config.LoginPaths[f] {
			if v := rsp.String(path); v != "" {
				record.Set(f, v)
				break
			}
		}
	}
	if a.config.SessionCookie != "" {
		record.Cookie = rsp.Cookie(a.config.SessionCookie)
	}

	if missing := record.Missing(a.config.Required); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = f.String()
		}
		return cache.Record{}, &protocol.LoginError{
			Reason: "response lacks " + strings.Join(names, ", "),
			Body:   rsp.Body,
		}
	}
	log.Debug("Logged in; VIN %s", record.VIN)
	return record, nil
}

func (a *Authenticator) passwordKey(ctx context.Context, r Requester) (string, error) {
	if a.config.StaticKey != "" {
		return a.config.StaticKey, nil
	}
	rsp, err := r.Exchange(ctx, protocol.OpInitialApp, nil)
	if err != nil {
		return "", loginError("could not fetch password key", err)
	}
	key := rsp.String(a.config.KeyPath)
	if key == "" {
		return "", &protocol.LoginError{
			Reason: fmt.Sprintf("bootstrap response lacks '%s'", a.config.KeyPath),
			Body:   rsp.Body,
		}
	}
	return key, nil
}

// loginError converts API-level failures into LoginErrors. Transport failures and cancellations
// are returned unchanged.
func loginError(reason string, err error) error {
	var requestErr *protocol.RequestError
	if errors.As(err, &requestErr) {
		return &protocol.LoginError{Reason: reason, Body: requestErr.Body, Err: err}
	}
	if errors.Is(err, protocol.ErrNonJSONResponse) {
		return &protocol.LoginError{Reason: reason, Err: err}
	}
	return err
}
