// Package signing runs the two-phase handoff: the gateway freezes an unsigned
// transaction, the end user signs it offline, and the gateway submits the
// signed bytes exactly once.
package signing

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/token_engine/internal/app/core/service"
	"github.com/R3E-Network/token_engine/internal/app/domain/tenant"
	"github.com/R3E-Network/token_engine/internal/app/metrics"
	svcerrors "github.com/R3E-Network/token_engine/internal/errors"
	"github.com/R3E-Network/token_engine/internal/handoff"
	"github.com/R3E-Network/token_engine/internal/ledger"
	"github.com/R3E-Network/token_engine/internal/logging"
)

// receiptLookupTimeout bounds the follow-up receipt query after a submission
// lost its receipt.
const receiptLookupTimeout = 15 * time.Second

// Service builds and submits handoff transactions.
type Service struct {
	network ledger.Network
	guard   *handoff.Guard
	log     *logging.Logger
}

// New constructs a signing service.
func New(network ledger.Network, guard *handoff.Guard, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("signing")
	}
	return &Service{network: network, guard: guard, log: log}
}

// Descriptor advertises the service placement.
func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:         "signing",
		Domain:       "handoff",
		Layer:        service.LayerLedger,
		Capabilities: []string{"build-unsigned", "submit-signed"},
	}
}

// Built is an unsigned transaction ready to be returned to the client.
type Built struct {
	Transaction   string
	TransactionID string
	ExpiresAt     time.Time
	Operation     ledger.Operation
}

// Submission is a signed transaction returned by the client.
type Submission struct {
	Transaction string
	AccountID   string
	// Kind restricts the endpoint to one operation kind.
	Kind ledger.OperationKind
}

// Confirmed is a submission the ledger accepted.
type Confirmed struct {
	Entry   handoff.Entry
	Receipt ledger.Receipt
}

// RecordFunc writes the operation record for a confirmed submission. It runs
// at most once per transaction.
type RecordFunc func(ctx context.Context, entry handoff.Entry, receipt ledger.Receipt) error

// Build freezes params into an unsigned transaction and registers it for tc.
// recordRef names the record the later submission will touch, if any.
func (s *Service) Build(ctx context.Context, tc tenant.Context, params ledger.BuildParams, recordRef string) (Built, error) {
	if err := params.Validate(); err != nil {
		return Built{}, svcerrors.Validation(err.Error())
	}

	unsigned, err := s.network.BuildUnsigned(ctx, params)
	if err != nil {
		return Built{}, ledger.ToServiceError(err)
	}

	entry, err := s.guard.Register(ctx, tc.ID(), unsigned, recordRef)
	if err != nil {
		return Built{}, err
	}
	metrics.RecordBuild(string(params.Kind))

	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"transaction_id": unsigned.TransactionID,
		"kind":           string(params.Kind),
		"account_id":     entry.AccountID,
	}).Info("unsigned transaction built")

	return Built{
		Transaction:   ledger.Encode(unsigned.Bytes),
		TransactionID: unsigned.TransactionID,
		ExpiresAt:     entry.ExpiresAt,
		Operation:     unsigned.Operation,
	}, nil
}

// Submit decodes, authorizes and executes a signed transaction, then calls
// record once the receipt confirms success. A record failure after
// confirmation is reported but the transaction stays consumed.
func (s *Service) Submit(ctx context.Context, tc tenant.Context, sub Submission, record RecordFunc) (Confirmed, error) {
	if sub.Transaction == "" {
		return Confirmed{}, svcerrors.Validation("signedTransaction is required")
	}
	if sub.AccountID != "" && !ledger.ValidEntityID(sub.AccountID) {
		return Confirmed{}, svcerrors.Validation("accountId must be of the form shard.realm.num")
	}

	raw, err := ledger.Decode(sub.Transaction)
	if err != nil {
		s.outcome(sub.Kind, "decode_error", 0)
		return Confirmed{}, ledger.ToServiceError(err)
	}
	op, err := s.network.Inspect(raw)
	if err != nil {
		s.outcome(sub.Kind, "decode_error", 0)
		return Confirmed{}, ledger.ToServiceError(err)
	}
	if sub.Kind != "" && op.Kind != sub.Kind {
		return Confirmed{}, svcerrors.Validation("signed transaction is not a " + string(sub.Kind) + " transaction")
	}

	entry, err := s.guard.Authorize(ctx, tc.ID(), sub.AccountID, op)
	if err != nil {
		s.outcome(op.Kind, "refused", 0)
		return Confirmed{}, err
	}

	start := time.Now()
	receipt, err := s.network.SubmitSigned(ctx, raw)
	if errors.Is(err, ledger.ErrOutcomeUnknown) {
		receipt, err = s.reconcile(ctx, op.TransactionID, err)
	}
	if err == nil && !receipt.Success() {
		err = ledger.Rejected(receipt.Status, receipt.TransactionID, nil)
	}
	if err != nil {
		logger := s.log.WithContext(ctx).WithError(err).WithField("transaction_id", op.TransactionID)
		switch {
		case errors.Is(err, ledger.ErrNetwork):
			s.guard.Release(ctx, entry)
			s.outcome(op.Kind, "network_error", time.Since(start))
			logger.Warn("signed submission failed")
		case errors.Is(err, ledger.ErrOutcomeUnknown):
			// The claim stays: the ledger may have executed it.
			s.outcome(op.Kind, "unknown", time.Since(start))
			logger.WithFields(map[string]interface{}{
				"tenant_id": tc.ID(),
				"kind":      string(op.Kind),
			}).Error("signed transaction sent but its outcome is unknown")
		default:
			s.outcome(op.Kind, "rejected", time.Since(start))
			logger.Warn("signed submission failed")
		}
		return Confirmed{}, ledger.ToServiceError(err)
	}
	s.outcome(op.Kind, "confirmed", time.Since(start))

	if receipt.TransactionID == "" {
		receipt.TransactionID = op.TransactionID
	}

	if record != nil {
		// The ledger already confirmed; a client disconnect must not drop the record.
		if err := record(context.WithoutCancel(ctx), entry, receipt); err != nil {
			s.log.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"transaction_id": receipt.TransactionID,
				"kind":           string(op.Kind),
			}).Error("transaction confirmed but record write failed")
			return Confirmed{}, svcerrors.Internal("transaction confirmed but the record could not be saved", err).
				WithDetails("transactionId", receipt.TransactionID)
		}
		metrics.RecordWrite(string(op.Kind))
	}

	return Confirmed{Entry: entry, Receipt: receipt}, nil
}

// reconcile queries the receipt of a submission whose own receipt read failed.
// The query outlives a cancelled request so a client disconnect does not lose
// a confirmed operation.
func (s *Service) reconcile(ctx context.Context, txID string, cause error) (ledger.Receipt, error) {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), receiptLookupTimeout)
	defer cancel()

	receipt, err := s.network.Receipt(lookupCtx, txID)
	if err != nil {
		if errors.Is(err, ledger.ErrRejected) {
			return receipt, err
		}
		return ledger.Receipt{}, cause
	}
	s.log.WithContext(ctx).WithField("transaction_id", txID).Info("receipt recovered after failed read")
	return receipt, nil
}

func (s *Service) outcome(kind ledger.OperationKind, outcome string, d time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	metrics.RecordSubmission(string(kind), outcome, d)
}
