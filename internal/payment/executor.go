// Package payment implements the Payment Executor: a single
// pay-estimated reservation against an on-ledger write, followed by a
// local-only reconcile-actual settlement. There is no on-ledger refund
// path — variance between estimate and actual is logged, never repaid,
// to avoid a second transaction's gas/fees.
package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentwarden/gateway/internal/gwerr"
	"github.com/agentwarden/gateway/internal/types"
)

// Ledger is the opaque value-ledger collaborator: a single write to
// reserve funds. Settlement makes no Ledger call; Executor.Settle
// records it locally.
type Ledger interface {
	Reserve(ctx context.Context, principalID, projectID string, amount float64) (txRef string, blockNumber *int64, err error)
}

// InsufficientFundsError and ledger-failure distinctions are surfaced
// by the Ledger as sentinel-wrapped errors the caller classifies via
// gwerr.Classify.

// Executor is the Payment Executor.
type Executor struct {
	ledger Ledger

	mu           sync.Mutex
	reservations map[string]types.PaymentReservation // keyed by request-id, idempotent
	results      map[string]types.PaymentResult       // keyed by reservation-id, idempotent
}

// NewExecutor builds an Executor over the given Ledger.
func NewExecutor(ledger Ledger) *Executor {
	return &Executor{
		ledger:       ledger,
		reservations: make(map[string]types.PaymentReservation),
		results:      make(map[string]types.PaymentResult),
	}
}

// Reserve pays the estimated amount via a single on-ledger write.
// Idempotent per request-id: a second call with the same request-id
// returns the original reservation without writing to the ledger again.
func (e *Executor) Reserve(ctx context.Context, requestID, principalID, projectID string, estimated float64) (types.PaymentReservation, error) {
	e.mu.Lock()
	if existing, ok := e.reservations[requestID]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.mu.Unlock()

	txRef, blockNumber, err := e.ledger.Reserve(ctx, principalID, projectID, estimated)
	if err != nil {
		var insufficient *gwerr.InsufficientFundsError
		if errors.As(err, &insufficient) {
			return types.PaymentReservation{}, err
		}
		return types.PaymentReservation{}, &gwerr.PaymentError{Cause: err}
	}

	reservation := types.PaymentReservation{
		ReservationID:   types.NewID("rsv"),
		RequestID:       requestID,
		PrincipalID:     principalID,
		ProjectID:       projectID,
		EstimatedAmount: estimated,
		Status:          types.PaymentReserved,
		TxRef:           txRef,
		BlockNumber:     blockNumber,
		ReservedAt:      time.Now().UTC(),
	}

	e.mu.Lock()
	e.reservations[requestID] = reservation
	e.mu.Unlock()

	return reservation, nil
}

// Settle reconciles the actual cost against a RESERVED reservation.
// It always succeeds locally once RESERVED: no further ledger write is
// made, and variance is recorded only for transparency. Idempotent per
// reservation-id.
func (e *Executor) Settle(reservation types.PaymentReservation, actual float64, provider string) types.PaymentResult {
	e.mu.Lock()
	if existing, ok := e.results[reservation.ReservationID]; ok {
		e.mu.Unlock()
		return existing
	}
	e.mu.Unlock()

	varianceAmount, variancePercent := types.ComputeVariance(reservation.EstimatedAmount, actual)
	now := time.Now().UTC()

	result := types.PaymentResult{
		PaymentID:       types.NewID("pay"),
		ReservationID:   reservation.ReservationID,
		RequestID:       reservation.RequestID,
		EstimatedAmount: reservation.EstimatedAmount,
		ActualAmount:    actual,
		VarianceAmount:  varianceAmount,
		VariancePercent: variancePercent,
		Provider:        provider,
		Status:          types.PaymentCommitted,
		TxRef:           reservation.TxRef,
		InitiatedAt:     reservation.ReservedAt,
		CompletedAt:     now,
	}

	e.mu.Lock()
	e.results[reservation.ReservationID] = result
	e.mu.Unlock()

	return result
}

// Status returns the opaque status dict for a reservation or settled
// payment, keyed by either id.
func (e *Executor) Status(id string) (map[string]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, ok := e.results[id]
	if !ok {
		for _, r := range e.results {
			if r.PaymentID == id {
				result, ok = r, true
				break
			}
		}
	}
	if ok {
		return map[string]any{
			"payment_id":       result.PaymentID,
			"reservation_id":   result.ReservationID,
			"status":           string(result.Status),
			"estimated_amount": result.EstimatedAmount,
			"actual_amount":    result.ActualAmount,
			"variance_amount":  result.VarianceAmount,
		}, true
	}
	for _, r := range e.reservations {
		if r.ReservationID == id {
			return map[string]any{
				"reservation_id":   r.ReservationID,
				"status":           string(r.Status),
				"estimated_amount": r.EstimatedAmount,
				"tx_ref":           r.TxRef,
			}, true
		}
	}
	return nil, false
}
