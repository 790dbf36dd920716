package kv

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Value type tags, stored as the first byte of every value.
const (
	tagBlob byte = 'b'
	tagU8   byte = 'u'
	tagI8   byte = 'i'
)

// Handle is an open namespace. It is not safe for concurrent use.
type Handle struct {
	ns     string
	mode   Mode
	txn    *badger.Txn
	closed bool
}

// Namespace returns the namespace the handle was opened on.
func (h *Handle) Namespace() string { return h.ns }

func (h *Handle) key(k string) ([]byte, error) {
	if h.closed {
		return nil, ErrClosed
	}
	if k == "" || len(k) > MaxKeyLen {
		return nil, fmt.Errorf("%w: %q", ErrKeyTooLong, k)
	}
	return []byte(h.ns + "\x00" + k), nil
}

func (h *Handle) writable(k string) ([]byte, error) {
	key, err := h.key(k)
	if err != nil {
		return nil, err
	}
	if h.mode != ReadWrite {
		return nil, ErrReadOnly
	}
	return key, nil
}

func (h *Handle) get(k string, tag byte) ([]byte, error) {
	key, err := h.key(k)
	if err != nil {
		return nil, err
	}
	item, err := h.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("kv: %s/%s: %w", h.ns, k, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get %s/%s: %w", h.ns, k, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("kv: read %s/%s: %w", h.ns, k, err)
	}
	if len(raw) == 0 || raw[0] != tag {
		return nil, fmt.Errorf("kv: %s/%s: %w", h.ns, k, ErrTypeMismatch)
	}
	return raw[1:], nil
}

func (h *Handle) set(k string, tag byte, val []byte) error {
	key, err := h.writable(k)
	if err != nil {
		return err
	}
	raw := make([]byte, 0, len(val)+1)
	raw = append(raw, tag)
	raw = append(raw, val...)
	if err := h.txn.Set(key, raw); err != nil {
		return fmt.Errorf("kv: set %s/%s: %w", h.ns, k, err)
	}
	return nil
}

// GetBlob returns a copy of the blob stored under k.
func (h *Handle) GetBlob(k string) ([]byte, error) {
	return h.get(k, tagBlob)
}

// BlobSize returns the length of the blob under k without copying it.
func (h *Handle) BlobSize(k string) (int, error) {
	key, err := h.key(k)
	if err != nil {
		return 0, err
	}
	item, err := h.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, fmt.Errorf("kv: %s/%s: %w", h.ns, k, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("kv: get %s/%s: %w", h.ns, k, err)
	}
	size := int(item.ValueSize()) - 1
	if size < 0 {
		return 0, fmt.Errorf("kv: %s/%s: %w", h.ns, k, ErrTypeMismatch)
	}
	return size, nil
}

// SetBlob stores a copy of val under k.
func (h *Handle) SetBlob(k string, val []byte) error {
	return h.set(k, tagBlob, val)
}

// GetU8 reads an unsigned byte.
func (h *Handle) GetU8(k string) (uint8, error) {
	v, err := h.get(k, tagU8)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("kv: %s/%s: %w", h.ns, k, ErrTypeMismatch)
	}
	return v[0], nil
}

// GetI8 reads a signed byte.
func (h *Handle) GetI8(k string) (int8, error) {
	v, err := h.get(k, tagI8)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("kv: %s/%s: %w", h.ns, k, ErrTypeMismatch)
	}
	return int8(v[0]), nil
}

// SetU8 stores an unsigned byte.
func (h *Handle) SetU8(k string, v uint8) error {
	return h.set(k, tagU8, []byte{v})
}

// SetI8 stores a signed byte.
func (h *Handle) SetI8(k string, v int8) error {
	return h.set(k, tagI8, []byte{byte(v)})
}

// EraseKey deletes k. A missing key yields ErrNotFound, which callers
// usually treat as success.
func (h *Handle) EraseKey(k string) error {
	key, err := h.writable(k)
	if err != nil {
		return err
	}
	if _, err := h.txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("kv: %s/%s: %w", h.ns, k, ErrNotFound)
	} else if err != nil {
		return fmt.Errorf("kv: get %s/%s: %w", h.ns, k, err)
	}
	if err := h.txn.Delete(key); err != nil {
		return fmt.Errorf("kv: erase %s/%s: %w", h.ns, k, err)
	}
	return nil
}

// CommitAndClose makes the handle's writes durable and closes it. On a
// read-only handle it only closes.
func (h *Handle) CommitAndClose() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	if h.mode != ReadWrite {
		h.txn.Discard()
		return nil
	}
	if err := h.txn.Commit(); err != nil {
		return fmt.Errorf("kv: commit %s: %w", h.ns, err)
	}
	return nil
}

// Close discards uncommitted writes. Closing twice is harmless.
func (h *Handle) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.txn.Discard()
}
