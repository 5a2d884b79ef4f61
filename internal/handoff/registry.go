// Package handoff tracks unsigned transactions handed to clients for signing
// and decides whether a signed transaction may be submitted.
package handoff

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/R3E-Network/token_engine/internal/ledger"
)

var (
	// ErrNotFound means no live entry exists for the transaction id.
	ErrNotFound = errors.New("handoff: no entry for transaction")
	// ErrConsumed means the transaction was already claimed for submission.
	ErrConsumed = errors.New("handoff: transaction already submitted")
)

// Entry records who built a transaction and what it does.
type Entry struct {
	TransactionID string               `json:"transactionId"`
	TenantID      string               `json:"tenantId"`
	AccountID     string               `json:"accountId"`
	Kind          ledger.OperationKind `json:"kind"`
	Operation     ledger.Operation     `json:"operation"`
	RecordRef     string               `json:"recordRef,omitempty"`
	BuiltAt       time.Time            `json:"builtAt"`
	ExpiresAt     time.Time            `json:"expiresAt"`
	Consumed      bool                 `json:"consumed"`
}

// Expired reports whether the ledger validity window has passed.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Registry stores entries until they expire.
type Registry interface {
	Put(ctx context.Context, entry Entry) error
	Get(ctx context.Context, txID string) (Entry, error)
	// Claim marks the entry consumed. It fails with ErrConsumed if another
	// caller claimed it first.
	Claim(ctx context.Context, txID string) error
	// Release undoes a Claim after a submission that never reached the ledger.
	Release(ctx context.Context, txID string) error
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]Entry), now: time.Now}
}

func (r *MemoryRegistry) Put(_ context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.TransactionID] = entry
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, txID string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[txID]
	if !ok || entry.Expired(r.now()) {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (r *MemoryRegistry) Claim(_ context.Context, txID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[txID]
	if !ok || entry.Expired(r.now()) {
		return ErrNotFound
	}
	if entry.Consumed {
		return ErrConsumed
	}
	entry.Consumed = true
	r.entries[txID] = entry
	return nil
}

func (r *MemoryRegistry) Release(_ context.Context, txID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[txID]; ok {
		entry.Consumed = false
		r.entries[txID] = entry
	}
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (r *MemoryRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for id, entry := range r.entries {
		if entry.Expired(now) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
