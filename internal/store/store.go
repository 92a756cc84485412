// Package store persists JSON blobs in named slots and layers the typed
// shipment document on top of them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Slot keys used by shipline. Each one holds an independent JSON document.
const (
	DocumentKey  = "shipline.document"
	CountersKey  = "shipline.counters"
	TemplatesKey = "shipline.task-templates"
)

// Driver names a slot backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverFile     Driver = "file"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrNotFound is returned by Get when a slot has never been written.
var ErrNotFound = errors.New("slot not found")

// Slots is a key/value store of opaque JSON payloads. Put overwrites unconditionally.
type Slots interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Driver() Driver
	Close() error
}

// GetJSON decodes the slot into v. It reports false without error when the slot is absent.
func GetJSON(ctx context.Context, s Slots, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read slot %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode slot %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and overwrites the slot.
func PutJSON(ctx context.Context, s Slots, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode slot %s: %w", key, err)
	}
	if err := s.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write slot %s: %w", key, err)
	}
	return nil
}
