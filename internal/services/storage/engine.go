// Package storage implements the single-writer key-value store of spec
// §4.3: scalar get/put/delete plus named FIFO queues built from head/tail
// index keys and per-element keys, all linearized through one request
// channel so there is exactly one source of atomicity and no multi-key
// transactions.
package storage

import "context"

// Engine is the on-disk key-value collaborator the service serializes all
// access through. Engine implementations need not be safe for concurrent
// use — Service's single-writer loop is what makes that safe.
type Engine interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
