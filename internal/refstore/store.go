// Package refstore provides the UpstreamStore contract and a
// SQLite-backed reference implementation. This stands in for the
// remote backend (principal/policy/budget/pricing/baseline system of
// record), which the pipeline treats as an opaque collaborator.
package refstore

import (
	"context"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

// UpstreamStore is everything the Decision Engine and its pipeline
// steps need to fetch or persist against the backend of record.
type UpstreamStore interface {
	// LoadPrincipalContext fetches the full PrincipalContext for
	// (principalID, projectID), including its current UserPolicy.
	LoadPrincipalContext(ctx context.Context, principalID, projectID string) (types.PrincipalContext, error)

	// LoadSystemPolicy fetches the single platform-wide policy.
	LoadSystemPolicy(ctx context.Context) (types.SystemPolicy, error)

	// LoadPricing fetches the pricing model for a (provider, model) pair.
	LoadPricing(ctx context.Context, provider, model string) (types.Pricing, error)

	// FetchBaseline satisfies baseline.Store.
	FetchBaseline(ctx context.Context, principalID, projectID string, lookbackDays int) (*types.Baseline, error)

	// RecordSpend appends a settled spend record, used both for the
	// running budget totals and for SpendingAnalytics.
	RecordSpend(ctx context.Context, principalID, projectID, provider, model string, amount float64, at time.Time) error

	// SpendRecords returns the raw spend history used to build
	// SpendingAnalytics, most recent last.
	SpendRecords(ctx context.Context, principalID, projectID string, since time.Time) ([]SpendRow, error)

	// SaveReservation persists a payment reservation.
	SaveReservation(ctx context.Context, r types.PaymentReservation) error

	// SavePaymentResult persists a settlement result.
	SavePaymentResult(ctx context.Context, r types.PaymentResult) error

	Close() error
}

// SpendRow is one historical spend entry as read back from the store.
type SpendRow struct {
	Provider string
	Model    string
	Amount   float64
	At       time.Time
}
