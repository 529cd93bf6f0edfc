package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// InmemoryStore keeps every key in a single JSON document. Values are stored
// base64 encoded so arbitrary binary values survive the trip through JSON.
type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte

	// stop willl be closed when Close() is called
	stop     chan struct{}
	stopOnce sync.Once
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values: []byte("{}"),
		stop:   make(chan struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.stopOnce.Do(func() {
		close(i.stop)
	})

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key, value []byte) (err error) {
	if !i.isRunning() {
		return ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if len(key) == 0 {
		return ErrEmptyKey
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	values, err := sjson.SetBytes(i.values, path(key), base64.StdEncoding.EncodeToString(value))
	if err != nil {
		return fmt.Errorf("Failed to set %q: %w", key, err)
	}

	i.values = values

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if !i.isRunning() {
		return nil, false, ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	if len(key) == 0 {
		return nil, false, nil
	}

	i.mu.RLock()
	result := gjson.GetBytes(i.values, path(key))
	i.mu.RUnlock()

	if !result.Exists() {
		return nil, false, nil
	}

	value, err := base64.StdEncoding.DecodeString(result.String())
	if err != nil {
		return nil, false, fmt.Errorf("Corrupt value for %q: %w", key, err)
	}

	return value, true, nil
}

// Delete removes each key that exists and returns how many did.
func (i *InmemoryStore) Delete(ctx context.Context, keys ...[]byte) (int, error) {
	if !i.isRunning() {
		return 0, ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if len(key) == 0 {
			continue
		}

		p := path(key)
		if !gjson.GetBytes(i.values, p).Exists() {
			continue
		}

		values, err := sjson.DeleteBytes(i.values, p)
		if err != nil {
			return removed, fmt.Errorf("Failed to delete %q: %w", key, err)
		}

		i.values = values
		removed++
	}

	return removed, nil
}

// Restore replaces the store's contents with a document previously produced
// by Backup.
func (i *InmemoryStore) Restore(values []byte) error {
	if !gjson.ValidBytes(values) || !gjson.ParseBytes(values).IsObject() {
		return fmt.Errorf("Failed to restore: not a JSON object")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte(nil), values...)

	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	if !i.isRunning() {
		return nil, ErrClosed
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte(nil), i.values...), nil
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

// path escapes key so gjson/sjson treat it as a single literal member name
// rather than a path expression.
func path(key []byte) string {
	return gjson.Escape(string(key))
}

var _ Store = (*InmemoryStore)(nil)
