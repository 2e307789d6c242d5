package dispatcher

import (
	"context"

	"github.com/openev/carwings/internal/authentication"
	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/cache"
)

// Session returns a copy of the current session record.
func (d *Dispatcher) Session() cache.Record {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.session
}

// SetSession replaces the in-memory session, e.g. with identifiers supplied by the caller.
func (d *Dispatcher) SetSession(r cache.Record) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.session = r
	if d.vin != "" {
		d.session.VIN = d.vin
	}
}

// usable reports whether r can be used without logging in.
func (d *Dispatcher) usable(r cache.Record) bool {
	if !r.Complete(d.config.Required) {
		return false
	}
	if r.AuthToken != "" && authentication.TokenExpired(r.AuthToken, d.clock.Now()) {
		log.Debug("Cached auth token has expired")
		return false
	}
	return true
}

// Prepare makes sure the Dispatcher holds a usable session: the in-memory record if it is
// complete, else the stored record, else a fresh login. Failures to read or write the store are
// logged and otherwise ignored.
func (d *Dispatcher) Prepare(ctx context.Context) error {
	d.lock.Lock()
	ready := d.usable(d.session)
	d.lock.Unlock()
	if ready {
		return nil
	}

	if d.store != nil {
		stored, ok, err := d.store.Load(ctx, d.storeKey)
		if err != nil {
			log.Warning("Could not load session: %s", err)
		} else if ok {
			d.lock.Lock()
			d.session.Merge(stored)
			ready = d.usable(d.session)
			d.lock.Unlock()
			if ready {
				log.Info("Session loaded from cache")
				return nil
			}
			log.Debug("Cached session is incomplete")
		}
	}
	return d.login(ctx)
}

// Invalidate clears the in-memory session tokens. The stored record is left untouched and will be
// overwritten by the next login.
func (d *Dispatcher) Invalidate() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.session.ClearTokens()
}

// Logout invalidates the session and removes the stored record.
func (d *Dispatcher) Logout(ctx context.Context) error {
	d.Invalidate()
	if d.store == nil {
		return nil
	}
	return d.store.Remove(ctx, d.storeKey)
}

// Login authenticates with the account credentials even if a usable session is available, and
// persists the new session. Use it when the credentials themselves must be proven.
func (d *Dispatcher) Login(ctx context.Context) error {
	return d.login(ctx)
}

func (d *Dispatcher) login(ctx context.Context) error {
	record, err := d.auth.Login(ctx, d)
	if err != nil {
		return err
	}
	d.lock.Lock()
	if d.vin != "" {
		record.VIN = d.vin
	}
	d.session = record
	d.lock.Unlock()

	if d.store != nil {
		if err := d.store.Save(ctx, d.storeKey, record); err != nil {
			log.Warning("Could not save session: %s", err)
		}
	}
	return nil
}
