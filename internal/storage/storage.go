// Package storage provides the node's namespaced key/value persistence.
//
// Two implementations exist: SQLiteStore for devices (backed by the
// migrated kv table) and MemoryStore for tests and for running without a
// writable filesystem. Both are safe for concurrent use, although in
// practice only the control loop writes.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Namespaces and keys used by the node.
const (
	NSSystem   = "system"
	NSZone     = "zone"
	NSSubzone  = "subzone"
	NSConfig   = "config"
	NSSafety   = "safety"
	NSWatchdog = "wdt"

	KeyState          = "state"
	KeyBootCount      = "boot_count"
	KeyLastBootMs     = "last_boot_ms"
	KeyApproved       = "approved"
	KeyAssignment     = "assignment"
	KeyActuators      = "actuators"
	KeySensors        = "sensors"
	KeyProvisioned    = "provisioned"
	KeyEmergencyToken = "emergency_token"
	KeyDiagnostics    = "diagnostics"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Store is a namespaced key/value store.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	// Clear removes every key in namespace.
	Clear(ctx context.Context, namespace string) error
	// Keys lists the keys in namespace in ascending order.
	Keys(ctx context.Context, namespace string) ([]string, error)
}

// Event is one entry in the safety event log.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	GPIO      int       `json:"gpio"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventLog is an append-only, bounded log of safety events.
type EventLog interface {
	AppendEvent(ctx context.Context, e Event) error
	// RecentEvents returns up to n events, newest first.
	RecentEvents(ctx context.Context, n int) ([]Event, error)
}

// MaxEvents bounds the event log; older entries are discarded on append.
const MaxEvents = 500

// GetJSON loads namespace/key and decodes it into v.
func GetJSON(ctx context.Context, s Store, namespace, key string, v any) error {
	data, err := s.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", namespace, key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under namespace/key.
func PutJSON(ctx context.Context, s Store, namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", namespace, key, err)
	}
	return s.Put(ctx, namespace, key, data)
}
