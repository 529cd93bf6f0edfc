package storage

import (
	"context"
	"errors"
)

var (
	ErrClosed   = errors.New("storage: store is closed")
	ErrEmptyKey = errors.New("storage: keys must not be empty")
)

type Store interface {
	Set(ctx context.Context, key, value []byte) error
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)
	Delete(ctx context.Context, keys ...[]byte) (int, error)

	Restore(values []byte) error
	Backup() ([]byte, error)

	Close() error
}
