package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/agentwarden/gateway/internal/types"
)

// canonicalFields is what entry_hash is computed over: every field of
// the event except entry_hash itself, with map keys sorted so the
// serialization is deterministic regardless of Go's map iteration order.
type canonicalFields struct {
	LogID           string         `json:"log_id"`
	Timestamp       string         `json:"timestamp"`
	RequestID       string         `json:"request_id"`
	PrincipalID     string         `json:"principal_id"`
	ProjectID       string         `json:"project_id"`
	AgentID         string         `json:"agent_id"`
	EventType       string         `json:"event_type"`
	Details         map[string]any `json:"details"`
	ContextSnapshot map[string]any `json:"context_snapshot"`
	Result          string         `json:"result"`
	Error           string         `json:"error"`
	PreviousHash    string         `json:"previous_hash"`
}

// ComputeHash returns entry_hash = H(canonical_json(event \ {entry_hash})),
// where canonical_json sorts all object keys so the hash is stable
// across process restarts and languages.
func ComputeHash(e types.AuditEvent) (string, error) {
	fields := canonicalFields{
		LogID:           e.LogID,
		Timestamp:       e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		RequestID:       e.RequestID,
		PrincipalID:     e.PrincipalID,
		ProjectID:       e.ProjectID,
		AgentID:         e.AgentID,
		EventType:       string(e.EventType),
		Details:         sortedCopy(e.Details),
		ContextSnapshot: sortedCopy(e.ContextSnapshot),
		Result:          string(e.Result),
		Error:           e.Error,
		PreviousHash:    e.PreviousHash,
	}

	data, err := canonicalJSON(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON marshals v with object keys sorted: Go's encoding/json
// already sorts map[string]any keys, but we re-marshal through a
// generic value to guarantee it for nested maps too.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil

	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil

	default:
		return json.Marshal(val)
	}
}

func sortedCopy(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// VerifyChain walks an ordered trail and checks both the per-event hash
// and the previous_hash linkage. Returns (true, -1) when intact.
func VerifyChain(events []types.AuditEvent) (bool, int) {
	for i, e := range events {
		expected, err := ComputeHash(e)
		if err != nil || e.EntryHash != expected {
			return false, i
		}
		if i > 0 && e.PreviousHash != events[i-1].EntryHash {
			return false, i
		}
	}
	return true, -1
}
