package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openev/carwings/internal/log"
)

const (
	filePrefix       = "carwings-"
	legacyFilePrefix = ".nissan-connect-storage-"
	fileSuffix       = ".json"
)

// FileStore saves each record as a JSON file in a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir. If dir is empty, the system temporary directory
// is used, which is also where earlier releases kept their session files.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = os.TempDir()
	}
	return &FileStore{dir: dir}
}

// Path returns the file that holds the record for key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, filePrefix+key+fileSuffix)
}

// LegacyPath returns the file name used for key by earlier releases.
func (s *FileStore) LegacyPath(key string) string {
	return filepath.Join(s.dir, legacyFilePrefix+key+fileSuffix)
}

// migrate moves a legacy record to its current name if no current record exists. Linking fails if
// the destination exists, so a concurrent process that already migrated (or saved a fresh record)
// wins, and the failure is ignored.
func (s *FileStore) migrate(key string) {
	legacy := s.LegacyPath(key)
	if _, err := os.Stat(legacy); err != nil {
		return
	}
	if err := os.Link(legacy, s.Path(key)); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			log.Debug("Could not migrate session file %s: %s", legacy, err)
		}
		return
	}
	if err := os.Remove(legacy); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug("Could not remove legacy session file %s: %s", legacy, err)
	}
	log.Info("Migrated session file %s", legacy)
}

func (s *FileStore) Load(_ context.Context, key string) (Record, bool, error) {
	s.migrate(key)
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		log.Warning("Ignoring corrupt session file %s: %s", s.Path(key), err)
		return Record{}, false, nil
	}
	if r.IsZero() {
		return Record{}, false, nil
	}
	return r, true, nil
}

func (s *FileStore) Save(_ context.Context, key string, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("could not create session directory: %w", err)
	}
	// Write to a temporary file and rename it so that concurrent readers never observe a partial
	// record.
	tmp, err := os.CreateTemp(s.dir, filePrefix+"*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path(key))
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
