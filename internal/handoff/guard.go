package handoff

import (
	"context"
	"errors"
	"time"

	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/logging"
)

// Guard binds a signed transaction to the tenant that built it.
type Guard struct {
	registry Registry
	ttl      time.Duration
	log      *logging.Logger
	now      func() time.Time
}

// DefaultTTL is how long a built transaction stays submittable.
const DefaultTTL = 180 * time.Second

// NewGuard creates a guard whose entries live for ttl, or DefaultTTL when ttl <= 0.
func NewGuard(registry Registry, ttl time.Duration, log *logging.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logging.NewDefault("handoff")
	}
	return &Guard{registry: registry, ttl: ttl, log: log, now: time.Now}
}

// TTL returns the lifetime of registered entries.
func (g *Guard) TTL() time.Duration {
	return g.ttl
}

// Register records a freshly built transaction for tenantID.
func (g *Guard) Register(ctx context.Context, tenantID string, unsigned ledger.Unsigned, recordRef string) (Entry, error) {
	now := g.now()
	entry := Entry{
		TransactionID: unsigned.TransactionID,
		TenantID:      tenantID,
		AccountID:     unsigned.Operation.AccountID,
		Kind:          unsigned.Operation.Kind,
		Operation:     unsigned.Operation,
		RecordRef:     recordRef,
		BuiltAt:       now,
		ExpiresAt:     now.Add(g.ttl),
	}
	if err := g.registry.Put(ctx, entry); err != nil {
		return Entry{}, svcerrors.Internal("failed to register transaction", err)
	}
	return entry, nil
}

// Authorize checks that op was built by tenantID for accountID with the same
// content, then claims it. Every rejection happens before any ledger call.
func (g *Guard) Authorize(ctx context.Context, tenantID, accountID string, op ledger.Operation) (Entry, error) {
	entry, err := g.registry.Get(ctx, op.TransactionID)
	if errors.Is(err, ErrNotFound) {
		g.reject(ctx, "handoff_unknown_transaction", tenantID, op, nil)
		return Entry{}, svcerrors.Forbidden("Transaction was not built for this tenant or has expired")
	}
	if err != nil {
		return Entry{}, svcerrors.Internal("failed to load transaction handoff", err)
	}

	switch {
	case entry.TenantID != tenantID:
		g.reject(ctx, "handoff_cross_tenant_submission", tenantID, op, map[string]interface{}{"owner_tenant_id": entry.TenantID})
		return Entry{}, svcerrors.Forbidden("Transaction was not built for this tenant or has expired")
	case accountID != "" && entry.AccountID != accountID:
		g.reject(ctx, "handoff_account_mismatch", tenantID, op, map[string]interface{}{"requested_account_id": accountID})
		return Entry{}, svcerrors.Forbidden("Transaction does not belong to the requested account")
	case entry.Kind != op.Kind || !entry.Operation.Equal(op):
		g.reject(ctx, "handoff_operation_mismatch", tenantID, op, nil)
		return Entry{}, svcerrors.Forbidden("Signed transaction differs from the transaction that was built")
	case entry.Consumed:
		return Entry{}, alreadyProcessed(op.TransactionID)
	}

	if err := g.registry.Claim(ctx, op.TransactionID); err != nil {
		switch {
		case errors.Is(err, ErrConsumed):
			return Entry{}, alreadyProcessed(op.TransactionID)
		case errors.Is(err, ErrNotFound):
			return Entry{}, svcerrors.Forbidden("Transaction was not built for this tenant or has expired")
		}
		return Entry{}, svcerrors.Internal("failed to claim transaction handoff", err)
	}
	entry.Consumed = true
	return entry, nil
}

// Release reopens an entry whose submission never reached the ledger, so the
// caller can drive the same signed bytes again.
func (g *Guard) Release(ctx context.Context, entry Entry) {
	if err := g.registry.Release(ctx, entry.TransactionID); err != nil {
		g.log.WithContext(ctx).WithError(err).WithField("transaction_id", entry.TransactionID).
			Warn("failed to release handoff claim")
	}
}

func alreadyProcessed(txID string) *svcerrors.ServiceError {
	return svcerrors.Conflict("Transaction already processed").WithDetails("transactionId", txID)
}

func (g *Guard) reject(ctx context.Context, event, tenantID string, op ledger.Operation, extra map[string]interface{}) {
	fields := map[string]interface{}{
		"tenant_id":      tenantID,
		"transaction_id": op.TransactionID,
		"kind":           string(op.Kind),
	}
	for k, v := range extra {
		fields[k] = v
	}
	g.log.LogSecurityEvent(ctx, event, fields)
}
