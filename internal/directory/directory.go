// Package directory maps stable user identities to their current live
// transport handles. It is the single source of truth for "who is online,
// and at which handle".
package directory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound indicates no record exists for the requested identity.
var ErrNotFound = errors.New("identity not found")

// Record ties an identity to its current delivery handle. A record is
// overwritten whole on every registration; reconnects with a new handle
// replace the old one. Disconnects do not purge records, so a stored handle
// may be stale.
type Record struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"displayName"`
	Handle      string    `json:"liveHandle"`
	UpdatedAt   time.Time `json:"-"`
}

// Directory persists identity records. At most one record exists per
// identity at any time; concurrent upserts race freely and the last write
// wins.
type Directory interface {
	// Upsert creates or overwrites the record for record.Identity.
	Upsert(ctx context.Context, record Record) (Record, error)

	// LookupHandle returns the current handle for an identity, or
	// ErrNotFound.
	LookupHandle(ctx context.Context, identity string) (string, error)

	// List enumerates every record. Full scan, O(n); acceptable only at
	// small scale.
	List(ctx context.Context) ([]Record, error)
}

// InMemory is a map-backed Directory for tests and single-process
// deployments.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]Record
	nowFn   func() time.Time
}

// NewInMemory builds an empty in-memory directory.
func NewInMemory() *InMemory {
	return &InMemory{
		records: make(map[string]Record),
		nowFn:   time.Now,
	}
}

// Upsert overwrites the record for record.Identity.
func (d *InMemory) Upsert(_ context.Context, record Record) (Record, error) {
	if record.Identity == "" {
		return Record{}, errors.New("identity is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = d.nowFn()
	}
	d.records[record.Identity] = record
	return record, nil
}

// LookupHandle fetches the handle stored for identity.
func (d *InMemory) LookupHandle(_ context.Context, identity string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, ok := d.records[identity]
	if !ok {
		return "", ErrNotFound
	}
	return record.Handle, nil
}

// List enumerates all records sorted by identity.
func (d *InMemory) List(_ context.Context) ([]Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Record, 0, len(d.records))
	for _, record := range d.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// Len reports the number of stored records.
func (d *InMemory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}
