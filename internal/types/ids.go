// Package types defines the shared data model of the decision pipeline:
// requests, principal context, policy, budget, pricing, baseline, risk,
// decision, payment and audit value types.
package types

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a lexicographically sortable, timestamp-embedding
// identifier with the given prefix (e.g. "req", "dec", "log").
func NewID(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return prefix + "_" + id.String()
}
