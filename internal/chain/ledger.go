package chain

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/oversight-labs/auditpipe/internal/audit"
)

// Ledger errors.
var (
	// ErrNilEvent is returned when a nil event is appended.
	ErrNilEvent = errors.New("chain: cannot append nil event")
)

// Ledger maintains one hash chain per tenant. Appends for the same tenant
// are serialized through a per-tenant mutex: the "read latest hash, write
// next entry" sequence must never interleave or the chain would fork.
// Appends for different tenants proceed in parallel.
type Ledger struct {
	mu      sync.RWMutex
	tenants map[string]*tenantChain
	logger  *slog.Logger
}

// tenantChain is the single logical sequence of entries for one tenant.
type tenantChain struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewLedger creates an empty ledger.
func NewLedger(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		tenants: make(map[string]*tenantChain),
		logger:  logger,
	}
}

// tenant returns the chain for a tenant, creating it on first use.
func (l *Ledger) tenant(tenantID string) *tenantChain {
	l.mu.RLock()
	tc, ok := l.tenants[tenantID]
	l.mu.RUnlock()
	if ok {
		return tc
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if tc, ok = l.tenants[tenantID]; ok {
		return tc
	}
	tc = &tenantChain{}
	l.tenants[tenantID] = tc
	return tc
}

// Append computes the next entry for the event's tenant and links it to
// the previous entry's hash. The returned entry carries both the new hash
// and the previous hash actually used, so downstream verification does not
// need a second lookup.
func (l *Ledger) Append(ctx context.Context, e *audit.Event) (*Entry, error) {
	if e == nil {
		return nil, ErrNilEvent
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	tc := l.tenant(e.TenantID)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	previousHash := ""
	if n := len(tc.entries); n > 0 {
		previousHash = tc.entries[n-1].Hash
	}

	hash, err := ComputeHash(e, previousHash)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		EventID:       e.ID,
		Hash:          hash,
		PreviousHash:  previousHash,
		SequenceIndex: len(tc.entries),
		Event:         e.Clone(),
	}
	tc.entries = append(tc.entries, entry)

	l.logger.Debug("chain entry appended",
		"tenant_id", e.TenantID,
		"event_id", e.ID,
		"sequence_index", entry.SequenceIndex)

	// Return a copy so callers cannot mutate ledger state
	cp := *entry
	return &cp, nil
}

// Entries returns a copy of the tenant's chain, oldest first.
func (l *Ledger) Entries(tenantID string) []*Entry {
	tc := l.tenant(tenantID)
	tc.mu.Lock()
	defer tc.mu.Unlock()

	out := make([]*Entry, len(tc.entries))
	for i, e := range tc.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// VerifyTenant re-verifies the tenant's full chain. See Verify.
func (l *Ledger) VerifyTenant(tenantID string) (bool, int) {
	return Verify(l.Entries(tenantID))
}

// Verify checks an ordered entry sequence for tampering. For each entry it
// recomputes the hash from the entry's claimed event content and previous
// hash, and checks the previous-hash link against the prior entry's hash.
//
// Returns (true, -1) for an intact chain (an empty sequence is intact).
// On the first mismatch it returns (false, i) where i is the first broken
// index, so operators can bound the damage: the suffix from i onward can
// no longer be trusted.
func Verify(entries []*Entry) (bool, int) {
	for i, entry := range entries {
		if entry == nil || entry.Event == nil {
			return false, i
		}

		// Link check: entry 0 is the chain root and may carry any hash,
		// but its previous hash must be empty.
		if i == 0 {
			if entry.PreviousHash != "" {
				return false, 0
			}
		} else if entry.PreviousHash != entries[i-1].Hash {
			return false, i
		}

		// Content check: recompute the hash from the claimed event.
		expected, err := ComputeHash(entry.Event, entry.PreviousHash)
		if err != nil {
			return false, i
		}
		if expected != entry.Hash {
			return false, i
		}
	}
	return true, -1
}
