package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertPayloadSQL = `INSERT INTO source_payloads (
        snapshot_date,
        source_id,
        pulled_at,
        status,
        data,
        data_date,
        errors,
        raw_snippet
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (snapshot_date, source_id) DO UPDATE
    SET
        pulled_at   = EXCLUDED.pulled_at,
        status      = EXCLUDED.status,
        data        = EXCLUDED.data,
        data_date   = EXCLUDED.data_date,
        errors      = EXCLUDED.errors,
        raw_snippet = EXCLUDED.raw_snippet;`

	listRecentPayloadsSQL = `SELECT
        snapshot_date,
        source_id,
        pulled_at,
        status,
        data,
        data_date,
        errors,
        raw_snippet
    FROM source_payloads
    ORDER BY snapshot_date DESC, source_id
    LIMIT $1;`

	upsertAnalysisSQL = `INSERT INTO chain_analyses (
        analysis_date,
        generated_at,
        analysis,
        digest
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (analysis_date) DO UPDATE
    SET generated_at = EXCLUDED.generated_at,
        analysis     = EXCLUDED.analysis,
        digest       = EXCLUDED.digest;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AnalysisRecord is a generated daily package as mirrored to PostgreSQL.
type AnalysisRecord struct {
	Date        string
	GeneratedAt time.Time
	Analysis    json.RawMessage
	Digest      string
}

// StoredPayload is a payload row together with its snapshot date.
type StoredPayload struct {
	Date    string
	Payload SourcePayload
}

// Mirror copies payloads and analyses into a queryable database.
type Mirror interface {
	UpsertPayload(ctx context.Context, date string, payload SourcePayload) error
	UpsertAnalysis(ctx context.Context, record AnalysisRecord) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store mirrors snapshots and analyses into PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock also dies with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertPayload persists or replaces the payload of a source for date.
func (s *Store) UpsertPayload(ctx context.Context, date string, payload SourcePayload) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return fmt.Errorf("upsert payload: %w", err)
	}
	data, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal payload data: %w", err)
	}
	errs := payload.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("marshal payload errors: %w", err)
	}

	var dataDate interface{}
	if payload.DataDate != "" {
		dataDate = payload.DataDate
	}

	_, execErr := pool.Exec(ctx, upsertPayloadSQL,
		day,
		payload.SourceID,
		payload.PulledAt.Time,
		string(payload.Status),
		data,
		dataDate,
		errorsJSON,
		payload.RawSnippet,
	)
	if execErr != nil {
		return fmt.Errorf("upsert payload: %w", execErr)
	}
	return nil
}

// ListRecentPayloads lists the latest payload rows, newest date first.
func (s *Store) ListRecentPayloads(ctx context.Context, limit int) ([]StoredPayload, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPayloadsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent payloads: %w", queryErr)
	}
	defer rows.Close()

	payloads := make([]StoredPayload, 0, limit)
	for rows.Next() {
		stored, scanErr := scanPayload(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		payloads = append(payloads, stored)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return payloads, nil
}

// UpsertAnalysis persists or replaces the generated package for a date.
func (s *Store) UpsertAnalysis(ctx context.Context, record AnalysisRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	day, err := time.Parse(DateLayout, record.Date)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}
	if _, execErr := pool.Exec(ctx, upsertAnalysisSQL, day, record.GeneratedAt, []byte(record.Analysis), record.Digest); execErr != nil {
		return fmt.Errorf("upsert analysis: %w", execErr)
	}
	return nil
}

func scanPayload(rows pgx.Rows) (StoredPayload, error) {
	var (
		day        time.Time
		sourceID   string
		pulledAt   time.Time
		status     string
		data       []byte
		dataDate   *string
		errorsJSON []byte
		snippet    string
	)

	if err := rows.Scan(&day, &sourceID, &pulledAt, &status, &data, &dataDate, &errorsJSON, &snippet); err != nil {
		return StoredPayload{}, err
	}

	payload := SourcePayload{
		SourceID:   sourceID,
		PulledAt:   NewTimestamp(pulledAt),
		Status:     Status(status),
		RawSnippet: snippet,
	}
	if err := json.Unmarshal(data, &payload.Data); err != nil {
		return StoredPayload{}, fmt.Errorf("decode payload data: %w", err)
	}
	if err := json.Unmarshal(errorsJSON, &payload.Errors); err != nil {
		return StoredPayload{}, fmt.Errorf("decode payload errors: %w", err)
	}
	if dataDate != nil {
		payload.DataDate = *dataDate
	}

	return StoredPayload{Date: day.Format(DateLayout), Payload: payload}, nil
}

var (
	_ Mirror         = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
