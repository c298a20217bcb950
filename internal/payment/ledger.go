package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/agentwarden/gateway/internal/gwerr"
)

// MemoryLedger is the reference Ledger: the actual settlement rail
// (on-chain wallet, card network, ACH) is out of scope, so this tracks
// a per-(principal,project) available balance in memory and reserves
// against it with a single debit, same as a real ledger's write would.
// Seeded from BudgetStatus.AvailableBalance at first sight of a pair.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]float64
	seq      int64
}

// NewMemoryLedger builds an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]float64)}
}

// Seed sets the opening balance for (principalID, projectID). Call
// before any Reserve for that pair; a second call is a no-op once a
// balance is already tracked, so repeated seeding from a stale
// BudgetStatus read never claws back funds already reserved.
func (l *MemoryLedger) Seed(principalID, projectID string, balance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := principalID + ":" + projectID
	if _, ok := l.balances[key]; !ok {
		l.balances[key] = balance
	}
}

// Reserve debits amount from the tracked balance and returns a
// deterministic-looking tx reference, standing in for a real ledger
// write's transaction hash.
func (l *MemoryLedger) Reserve(ctx context.Context, principalID, projectID string, amount float64) (string, *int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := principalID + ":" + projectID
	balance, ok := l.balances[key]
	if !ok {
		balance = 0
	}
	if balance < amount {
		return "", nil, &gwerr.InsufficientFundsError{PrincipalID: principalID}
	}
	l.balances[key] = balance - amount
	l.seq++
	block := l.seq

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.6f|%d|%d", principalID, projectID, amount, block, time.Now().UnixNano())))
	txRef := "0x" + hex.EncodeToString(sum[:])[:40]
	return txRef, &block, nil
}

// Balance returns the tracked balance for (principalID, projectID).
func (l *MemoryLedger) Balance(principalID, projectID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[principalID+":"+projectID]
}
