// Package kv is a namespaced key/value blob store with short keys and typed
// scalar values, backed by badger. Every open handle is one badger
// transaction; writes become visible on CommitAndClose.
package kv

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/hkdf"
)

// MaxKeyLen is the longest key accepted by a handle.
const MaxKeyLen = 15

var (
	ErrNotFound     = errors.New("kv: not found")
	ErrKeyTooLong   = fmt.Errorf("kv: key longer than %d characters", MaxKeyLen)
	ErrReadOnly     = errors.New("kv: handle is read-only")
	ErrClosed       = errors.New("kv: handle is closed")
	ErrTypeMismatch = errors.New("kv: stored value has a different type")
)

// Mode selects how a namespace is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Options configures the backing database.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	// EncryptionSecret enables encryption at rest for on-disk stores. The
	// AES key is derived from it with HKDF-SHA256.
	EncryptionSecret string
}

// Store owns the badger database.
type Store struct {
	db *badger.DB
}

// encryptionInfo is the HKDF info string for the at-rest key.
const encryptionInfo = "pgpemu-kv"

// DeriveEncryptionKey derives a 32-byte AES-256 key from secret.
func DeriveEncryptionKey(secret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(encryptionInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("kv: derive key: %w", err)
	}
	return key, nil
}

// New opens (or creates) the database described by opts.
func New(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("kv: path must not be empty")
		}
		bopts = badger.DefaultOptions(opts.Path)
		if opts.EncryptionSecret != "" {
			key, err := DeriveEncryptionKey([]byte(opts.EncryptionSecret))
			if err != nil {
				return nil, err
			}
			bopts = bopts.WithEncryptionKey(key).WithIndexCacheSize(16 << 20)
		}
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("kv: open: %w", err)
	}
	slog.Debug("[STORAGE] opened store", "path", opts.Path, "in_memory", opts.InMemory, "encrypted", opts.EncryptionSecret != "")
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("kv: close: %w", err)
	}
	return nil
}

// Erase drops every namespace and key.
func (s *Store) Erase() error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("kv: erase: %w", err)
	}
	return nil
}

func namespaceMarker(ns string) []byte {
	return []byte("ns\x00" + ns)
}

// Open starts a handle on namespace ns. Opening a namespace that was never
// written in ReadOnly mode fails with ErrNotFound; ReadWrite creates it.
func (s *Store) Open(ns string, mode Mode) (*Handle, error) {
	if ns == "" || len(ns) > MaxKeyLen {
		return nil, fmt.Errorf("kv: invalid namespace %q", ns)
	}
	txn := s.db.NewTransaction(mode == ReadWrite)
	marker := namespaceMarker(ns)

	_, err := txn.Get(marker)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		if mode == ReadOnly {
			txn.Discard()
			return nil, fmt.Errorf("kv: namespace %q: %w", ns, ErrNotFound)
		}
		if err := txn.Set(marker, nil); err != nil {
			txn.Discard()
			return nil, fmt.Errorf("kv: create namespace %q: %w", ns, err)
		}
	case err != nil:
		txn.Discard()
		return nil, fmt.Errorf("kv: open namespace %q: %w", ns, err)
	}

	return &Handle{ns: ns, mode: mode, txn: txn}, nil
}
