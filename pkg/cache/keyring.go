package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/99designs/keyring"

	"github.com/openev/carwings/internal/log"
)

const keyringPrefix = "session-"

// KeyringStore saves records in an OS keyring.
type KeyringStore struct {
	ring keyring.Keyring
}

func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func (s *KeyringStore) Load(_ context.Context, key string) (Record, bool, error) {
	item, err := s.ring.Get(keyringPrefix + key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var r Record
	if err := json.Unmarshal(item.Data, &r); err != nil {
		log.Warning("Ignoring corrupt session record in keyring: %s", err)
		return Record{}, false, nil
	}
	return r, !r.IsZero(), nil
}

func (s *KeyringStore) Save(_ context.Context, key string, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.ring.Set(keyring.Item{
		Key:         keyringPrefix + key,
		Data:        data,
		Label:       "Carwings session",
		Description: "Session identifiers for the vehicle telematics API",
	})
}

func (s *KeyringStore) Remove(_ context.Context, key string) error {
	if err := s.ring.Remove(keyringPrefix + key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}
