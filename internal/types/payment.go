package types

import (
	"time"

	"github.com/agentwarden/gateway/internal/money"
)

// PaymentStatus is the state-machine value of a reservation/payment.
type PaymentStatus string

const (
	PaymentReserved  PaymentStatus = "RESERVED"
	PaymentCommitted PaymentStatus = "COMMITTED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// PaymentReservation is the single on-ledger write for a request: the
// estimated amount paid up front. No second ledger write ever follows.
type PaymentReservation struct {
	ReservationID   string        `json:"reservation_id"`
	RequestID       string        `json:"request_id"`
	PrincipalID     string        `json:"principal_id"`
	ProjectID       string        `json:"project_id"`
	EstimatedAmount float64       `json:"estimated_amount"`
	Status          PaymentStatus `json:"status"`
	TxRef           string        `json:"tx_ref"`
	BlockNumber     *int64        `json:"block_number,omitempty"`
	ReservedAt      time.Time     `json:"reserved_at"`
}

// PaymentResult is the local-only settlement record: actual cost,
// variance against the estimate, no additional ledger write.
type PaymentResult struct {
	PaymentID       string        `json:"payment_id"`
	ReservationID   string        `json:"reservation_id"`
	RequestID       string        `json:"request_id"`
	EstimatedAmount float64       `json:"estimated_amount"`
	ActualAmount    float64       `json:"actual_amount"`
	VarianceAmount  float64       `json:"variance_amount"`
	VariancePercent float64       `json:"variance_percent"`
	Provider        string        `json:"provider"`
	Status          PaymentStatus `json:"status"`
	TxRef           string        `json:"tx_ref"`
	InitiatedAt     time.Time     `json:"initiated_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	Error           string        `json:"error,omitempty"`
}

// ComputeVariance derives variance_amount and variance_percent per the
// spec's sign convention: positive means the user overpaid.
func ComputeVariance(estimated, actual float64) (amount, percent float64) {
	amount = money.FromFloat(estimated).Sub(money.FromFloat(actual)).Float64()
	if estimated > 0 {
		percent = amount / estimated * 100
	}
	return amount, percent
}
