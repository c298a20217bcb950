// Package audit implements the Audit Logger: an append-only,
// hash-chained event log written as daily-rotating JSONL files, with
// an in-memory per-request trail cache, integrity verification, and
// compliance report aggregation. Audit state is local-only — it is
// never persisted to the backend.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

// Logger is the Audit Logger.
type Logger struct {
	dir string

	mu        sync.Mutex
	file      *os.File
	fileDate  string
	lastHash  map[string]string // last entry_hash per request-id, for chaining
	trails    map[string]*types.Trail
}

// NewLogger builds a Logger writing daily-rotating files under dir.
func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	return &Logger{
		dir:      dir,
		lastHash: make(map[string]string),
		trails:   make(map[string]*types.Trail),
	}, nil
}

// Append writes a new event for requestID, chaining it to the last
// event written for that request (or treating it as chain-root when
// there is none), computes its entry_hash, appends it to the
// current day's JSONL file, and records it in the in-memory trail.
func (l *Logger) Append(requestID string, e types.AuditEvent) (types.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.RequestID = requestID
	if e.LogID == "" {
		e.LogID = types.NewID("log")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.PreviousHash = l.lastHash[requestID]

	hash, err := ComputeHash(e)
	if err != nil {
		return types.AuditEvent{}, fmt.Errorf("audit: compute hash: %w", err)
	}
	e.EntryHash = hash

	if err := l.writeLine(e); err != nil {
		return types.AuditEvent{}, err
	}

	l.lastHash[requestID] = hash
	trail, ok := l.trails[requestID]
	if !ok {
		trail = &types.Trail{RequestID: requestID}
		l.trails[requestID] = trail
	}
	trail.Events = append(trail.Events, e)

	return e, nil
}

func (l *Logger) writeLine(e types.AuditEvent) error {
	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	return l.file.Sync()
}

func (l *Logger) rotateIfNeeded() error {
	today := time.Now().UTC().Format("20060102")
	if l.file != nil && l.fileDate == today {
		return nil
	}
	if l.file != nil {
		l.file.Close()
	}

	path := filepath.Join(l.dir, fmt.Sprintf("audit_%s.jsonl", today))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open log file %s: %w", path, err)
	}
	l.file = f
	l.fileDate = today
	return nil
}

// Trail returns the in-memory trail for requestID, loading it from disk
// if it is not (or no longer) cached in-process.
func (l *Logger) Trail(requestID string) (types.Trail, error) {
	l.mu.Lock()
	if t, ok := l.trails[requestID]; ok {
		cp := *t
		l.mu.Unlock()
		return cp, nil
	}
	l.mu.Unlock()

	events, err := l.scanForRequest(requestID)
	if err != nil {
		return types.Trail{}, err
	}
	return types.Trail{RequestID: requestID, Events: events}, nil
}

// scanForRequest reads every log file in the directory, oldest first,
// collecting events for requestID.
func (l *Logger) scanForRequest(requestID string) ([]types.AuditEvent, error) {
	paths, err := l.sortedLogFiles()
	if err != nil {
		return nil, err
	}

	var events []types.AuditEvent
	for _, path := range paths {
		lines, err := readLines(path)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			var e types.AuditEvent
			if err := json.Unmarshal(line, &e); err != nil {
				continue
			}
			if e.RequestID == requestID {
				events = append(events, e)
			}
		}
	}
	return events, nil
}

func (l *Logger) sortedLogFiles() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "audit_*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: glob log dir: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// VerifyIntegrity checks a request's trail for hash/chain breakage.
func (l *Logger) VerifyIntegrity(requestID string) (bool, int, error) {
	trail, err := l.Trail(requestID)
	if err != nil {
		return false, -1, err
	}
	ok, brokenAt := VerifyChain(trail.Events)
	return ok, brokenAt, nil
}

// Close flushes and closes the currently open log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
