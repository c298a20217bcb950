package refstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentwarden/gateway/internal/types"
)

// SQLiteStore implements UpstreamStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("refstore: open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Initialize creates the schema if it does not already exist.
func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS principals (
		principal_id   TEXT NOT NULL,
		project_id     TEXT NOT NULL,
		account_status TEXT NOT NULL DEFAULT 'active',
		verified       INTEGER NOT NULL DEFAULT 0,
		known_agents   TEXT,
		policy         TEXT NOT NULL,
		PRIMARY KEY (principal_id, project_id)
	);

	CREATE TABLE IF NOT EXISTS system_policy (
		id                  INTEGER PRIMARY KEY CHECK (id = 1),
		deny_providers      TEXT,
		deny_models         TEXT,
		abs_per_request_cap REAL DEFAULT 0,
		abs_daily_cap       REAL DEFAULT 0,
		retention_days      INTEGER DEFAULT 90
	);

	CREATE TABLE IF NOT EXISTS pricing (
		provider TEXT NOT NULL,
		model    TEXT NOT NULL,
		data     TEXT NOT NULL,
		PRIMARY KEY (provider, model)
	);

	CREATE TABLE IF NOT EXISTS baselines (
		principal_id TEXT NOT NULL,
		project_id   TEXT NOT NULL,
		data         TEXT NOT NULL,
		valid_until  DATETIME NOT NULL,
		PRIMARY KEY (principal_id, project_id)
	);

	CREATE TABLE IF NOT EXISTS spend_records (
		id           TEXT PRIMARY KEY,
		principal_id TEXT NOT NULL,
		project_id   TEXT NOT NULL,
		provider     TEXT NOT NULL,
		model        TEXT NOT NULL,
		amount       REAL NOT NULL,
		occurred_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reservations (
		reservation_id   TEXT PRIMARY KEY,
		request_id       TEXT NOT NULL,
		principal_id     TEXT NOT NULL,
		project_id       TEXT NOT NULL,
		estimated_amount REAL NOT NULL,
		status           TEXT NOT NULL,
		tx_ref           TEXT,
		block_number     INTEGER,
		reserved_at      DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payment_results (
		payment_id       TEXT PRIMARY KEY,
		reservation_id   TEXT NOT NULL,
		request_id       TEXT NOT NULL,
		estimated_amount REAL NOT NULL,
		actual_amount    REAL NOT NULL,
		variance_amount  REAL NOT NULL,
		variance_percent REAL NOT NULL,
		provider         TEXT NOT NULL,
		status           TEXT NOT NULL,
		tx_ref           TEXT,
		initiated_at     DATETIME NOT NULL,
		completed_at     DATETIME NOT NULL,
		error            TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_spend_principal ON spend_records(principal_id, project_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_reservations_request ON reservations(request_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadPrincipalContext implements UpstreamStore.
func (s *SQLiteStore) LoadPrincipalContext(ctx context.Context, principalID, projectID string) (types.PrincipalContext, error) {
	var pc types.PrincipalContext
	var status string
	var verified int
	var knownAgents, policyJSON sql.NullString

	row := s.db.QueryRowContext(ctx, `SELECT account_status, verified, known_agents, policy
		FROM principals WHERE principal_id = ? AND project_id = ?`, principalID, projectID)
	if err := row.Scan(&status, &verified, &knownAgents, &policyJSON); err != nil {
		if err == sql.ErrNoRows {
			return types.PrincipalContext{}, fmt.Errorf("refstore: no principal context for %s/%s: %w", principalID, projectID, err)
		}
		return types.PrincipalContext{}, fmt.Errorf("refstore: load principal context: %w", err)
	}

	pc.PrincipalID = principalID
	pc.ProjectID = projectID
	pc.AccountStatus = status
	pc.Verified = verified != 0
	if knownAgents.Valid && knownAgents.String != "" {
		if err := json.Unmarshal([]byte(knownAgents.String), &pc.KnownAgents); err != nil {
			return types.PrincipalContext{}, fmt.Errorf("refstore: decode known_agents: %w", err)
		}
	}
	if policyJSON.Valid {
		if err := json.Unmarshal([]byte(policyJSON.String), &pc.Policy); err != nil {
			return types.PrincipalContext{}, fmt.Errorf("refstore: decode policy: %w", err)
		}
	}

	spentToday, spentMonth, recentCount, rejectCount, rates, err := s.spendCounters(ctx, principalID, projectID)
	if err != nil {
		return types.PrincipalContext{}, err
	}
	pc.SpentToday = spentToday
	pc.SpentThisMonth = spentMonth
	pc.RecentRequestCount = recentCount
	pc.RecentRejectionCount = rejectCount
	pc.RateCounters = rates

	return pc, nil
}

func (s *SQLiteStore) spendCounters(ctx context.Context, principalID, projectID string) (spentToday, spentMonth float64, recentCount, rejectCount int, rates types.RateCounters, err error) {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	minuteStart := now.Add(-time.Minute)
	hourStart := now.Add(-time.Hour)

	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM spend_records
		WHERE principal_id = ? AND project_id = ? AND occurred_at >= ?`, principalID, projectID, dayStart)
	if err = row.Scan(&spentToday); err != nil {
		return 0, 0, 0, 0, types.RateCounters{}, fmt.Errorf("refstore: sum spent today: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM spend_records
		WHERE principal_id = ? AND project_id = ? AND occurred_at >= ?`, principalID, projectID, monthStart)
	if err = row.Scan(&spentMonth); err != nil {
		return 0, 0, 0, 0, types.RateCounters{}, fmt.Errorf("refstore: sum spent month: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spend_records
		WHERE principal_id = ? AND project_id = ? AND occurred_at >= ?`, principalID, projectID, dayStart)
	if err = row.Scan(&recentCount); err != nil {
		return 0, 0, 0, 0, types.RateCounters{}, fmt.Errorf("refstore: count recent requests: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spend_records
		WHERE principal_id = ? AND project_id = ? AND occurred_at >= ?`, principalID, projectID, minuteStart)
	if err = row.Scan(&rates.PerMinute); err != nil {
		return 0, 0, 0, 0, types.RateCounters{}, fmt.Errorf("refstore: count requests last minute: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spend_records
		WHERE principal_id = ? AND project_id = ? AND occurred_at >= ?`, principalID, projectID, hourStart)
	if err = row.Scan(&rates.PerHour); err != nil {
		return 0, 0, 0, 0, types.RateCounters{}, fmt.Errorf("refstore: count requests last hour: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spend_records
		WHERE principal_id = ? AND project_id = ? AND occurred_at >= ?`, principalID, projectID, now.Add(-24*time.Hour))
	if err = row.Scan(&rates.PerDay); err != nil {
		return 0, 0, 0, 0, types.RateCounters{}, fmt.Errorf("refstore: count requests last day: %w", err)
	}

	return spentToday, spentMonth, recentCount, 0, rates, nil
}

// LoadSystemPolicy implements UpstreamStore.
func (s *SQLiteStore) LoadSystemPolicy(ctx context.Context) (types.SystemPolicy, error) {
	var sp types.SystemPolicy
	var denyProviders, denyModels sql.NullString

	row := s.db.QueryRowContext(ctx, `SELECT deny_providers, deny_models, abs_per_request_cap, abs_daily_cap, retention_days
		FROM system_policy WHERE id = 1`)
	if err := row.Scan(&denyProviders, &denyModels, &sp.AbsPerRequestCap, &sp.AbsDailyCap, &sp.RetentionDays); err != nil {
		if err == sql.ErrNoRows {
			return types.SystemPolicy{RetentionDays: 90}, nil
		}
		return types.SystemPolicy{}, fmt.Errorf("refstore: load system policy: %w", err)
	}
	if denyProviders.Valid && denyProviders.String != "" {
		json.Unmarshal([]byte(denyProviders.String), &sp.DenyProviders)
	}
	if denyModels.Valid && denyModels.String != "" {
		json.Unmarshal([]byte(denyModels.String), &sp.DenyModels)
	}
	return sp, nil
}

// LoadPricing implements UpstreamStore.
func (s *SQLiteStore) LoadPricing(ctx context.Context, provider, model string) (types.Pricing, error) {
	var data string
	row := s.db.QueryRowContext(ctx, `SELECT data FROM pricing WHERE provider = ? AND model = ?`, provider, model)
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return types.Pricing{}, fmt.Errorf("refstore: no pricing for %s/%s: %w", provider, model, err)
		}
		return types.Pricing{}, fmt.Errorf("refstore: load pricing: %w", err)
	}
	var p types.Pricing
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return types.Pricing{}, fmt.Errorf("refstore: decode pricing: %w", err)
	}
	return p, nil
}

// FetchBaseline implements baseline.Store.
func (s *SQLiteStore) FetchBaseline(ctx context.Context, principalID, projectID string, lookbackDays int) (*types.Baseline, error) {
	var data string
	row := s.db.QueryRowContext(ctx, `SELECT data FROM baselines WHERE principal_id = ? AND project_id = ?`, principalID, projectID)
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("refstore: load baseline: %w", err)
	}
	var b types.Baseline
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("refstore: decode baseline: %w", err)
	}
	return &b, nil
}

// RecordSpend implements UpstreamStore.
func (s *SQLiteStore) RecordSpend(ctx context.Context, principalID, projectID, provider, model string, amount float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO spend_records (id, principal_id, project_id, provider, model, amount, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, uuid.NewString(), principalID, projectID, provider, model, amount, at.UTC())
	if err != nil {
		return fmt.Errorf("refstore: record spend: %w", err)
	}
	return nil
}

// SpendRecords implements UpstreamStore.
func (s *SQLiteStore) SpendRecords(ctx context.Context, principalID, projectID string, since time.Time) ([]SpendRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, model, amount, occurred_at FROM spend_records
		WHERE principal_id = ? AND project_id = ? AND occurred_at >= ? ORDER BY occurred_at ASC`,
		principalID, projectID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("refstore: query spend records: %w", err)
	}
	defer rows.Close()

	var out []SpendRow
	for rows.Next() {
		var r SpendRow
		if err := rows.Scan(&r.Provider, &r.Model, &r.Amount, &r.At); err != nil {
			return nil, fmt.Errorf("refstore: scan spend record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveReservation implements UpstreamStore.
func (s *SQLiteStore) SaveReservation(ctx context.Context, r types.PaymentReservation) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO reservations
		(reservation_id, request_id, principal_id, project_id, estimated_amount, status, tx_ref, block_number, reserved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReservationID, r.RequestID, r.PrincipalID, r.ProjectID, r.EstimatedAmount, string(r.Status), r.TxRef, r.BlockNumber, r.ReservedAt)
	if err != nil {
		return fmt.Errorf("refstore: save reservation: %w", err)
	}
	return nil
}

// SavePaymentResult implements UpstreamStore.
func (s *SQLiteStore) SavePaymentResult(ctx context.Context, r types.PaymentResult) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO payment_results
		(payment_id, reservation_id, request_id, estimated_amount, actual_amount, variance_amount, variance_percent,
		 provider, status, tx_ref, initiated_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PaymentID, r.ReservationID, r.RequestID, r.EstimatedAmount, r.ActualAmount, r.VarianceAmount, r.VariancePercent,
		r.Provider, string(r.Status), r.TxRef, r.InitiatedAt, r.CompletedAt, r.Error)
	if err != nil {
		return fmt.Errorf("refstore: save payment result: %w", err)
	}
	return nil
}
