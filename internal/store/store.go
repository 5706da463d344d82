// Package store persists the engine's JSON documents. Each dataset lives in
// its own named document and is rewritten in full on every save.
package store

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/stellarlinkco/autoreply/internal/config"
)

// Document keys.
const (
	KeyHistory   = "history"
	KeyProfiles  = "profiles"
	KeyAnalytics = "analytics"
)

// ErrNotFound is returned by Load when a document has never been saved.
var ErrNotFound = errors.New("document not found")

type Store interface {
	Load(key string, v any) error
	Save(key string, v any) error
	Close() error
}

// ReadError reports a document that exists but could not be read or decoded.
type ReadError struct {
	Key string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read document %s: %v", e.Key, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError reports a failed save. The caller's in-memory state stays authoritative.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write document %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// LoadOrEmpty loads key into v and reports whether anything was loaded.
// Missing or corrupt documents leave v untouched and are logged, never returned.
func LoadOrEmpty(s Store, key string, v any) bool {
	err := s.Load(key, v)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrNotFound) {
		log.Printf("[store] no previous %s found, starting fresh", key)
	} else {
		log.Printf("[store] %v, starting fresh", err)
	}
	return false
}

// Open returns the store selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", config.StorageDriverFile:
		return NewFileStore(cfg.Dir)
	case config.StorageDriverSQLite:
		dbPath := strings.TrimSpace(cfg.DBPath)
		if dbPath == "" {
			dbPath = filepath.Join(cfg.Dir, "autoreply.db")
		}
		return NewSQLiteStore(dbPath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
