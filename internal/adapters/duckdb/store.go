package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
	"github.com/louisjham/hexstrike-ai/internal/core/ports"
)

// Store is the DuckDB-backed persistence layer: the job queue, the
// append-only usage log, and the inference cache entries all live in one
// database file. Job claims are serialized through a mutex on top of a
// status compare-and-swap, so at most one claimant ever sees a job.
type Store struct {
	db      *sql.DB
	claimMu sync.Mutex
}

var _ ports.JobStore = (*Store)(nil)
var _ ports.UsageLog = (*Store)(nil)
var _ ports.CacheStore = (*Store)(nil)

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id         TEXT PRIMARY KEY,
			skill      TEXT NOT NULL,
			params     TEXT NOT NULL,
			target     TEXT,
			status     TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			result     TEXT,
			error      TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS token_log (
			id         TEXT PRIMARY KEY,
			provider   TEXT NOT NULL,
			model      TEXT,
			tier       TEXT NOT NULL,
			tokens_in  INTEGER NOT NULL,
			tokens_out INTEGER NOT NULL,
			cost       DOUBLE NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			fingerprint TEXT PRIMARY KEY,
			prompt      TEXT NOT NULL,
			response    TEXT NOT NULL,
			embedding   TEXT,
			created_at  TIMESTAMP NOT NULL,
			expires_at  TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- Jobs ---

func (s *Store) InsertJob(ctx context.Context, job domain.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal job params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, skill, params, target, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(job.ID), job.Skill, string(params), job.Target,
		string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimNext selects the oldest pending job and flips it to running. The
// UPDATE re-checks the status so a concurrent claimant loses cleanly; the
// mutex keeps the single-loop case cheap.
func (s *Store) ClaimNext(ctx context.Context) (domain.Job, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`,
		string(domain.JobStatusPending),
	)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return domain.Job{}, domain.ErrNoPendingJobs
		}
		return domain.Job{}, fmt.Errorf("select pending job: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(domain.JobStatusRunning), time.Now().UTC(), id, string(domain.JobStatusPending),
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("claim job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		// Lost the race to another claimant or a cancel.
		return domain.Job{}, domain.ErrNoPendingJobs
	}

	return s.GetJob(ctx, domain.JobID(id))
}

func (s *Store) UpdateJob(ctx context.Context, id domain.JobID, status domain.JobStatus, result map[string]any, errMsg *string) error {
	current, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s for job %s", domain.ErrInvalidTransition, current.Status, status, id)
	}

	var resultJSON *string
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
		str := string(raw)
		resultJSON = &str
	}

	// Re-check the status in the write so a cancel landing between the
	// read and this UPDATE wins instead of being overwritten.
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?, result = ?, error = ? WHERE id = ? AND status = ?`,
		string(status), time.Now().UTC(), resultJSON, errMsg, string(id), string(current.Status),
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: job %s moved past %s concurrently", domain.ErrInvalidTransition, id, current.Status)
	}
	return nil
}

func (s *Store) CancelJob(ctx context.Context, id domain.JobID) error {
	current, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	switch current.Status {
	case domain.JobStatusPending, domain.JobStatusRunning:
	default:
		return fmt.Errorf("%w: job %s is %s", domain.ErrJobNotCancellable, id, current.Status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(domain.JobStatusCancelled), time.Now().UTC(), string(id),
		string(domain.JobStatusPending), string(domain.JobStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: job %s finished concurrently", domain.ErrJobNotCancellable, id)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, skill, params, target, status, created_at, updated_at, result, error
		FROM jobs WHERE id = ?`, string(id),
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return job, err
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, skill, params, target, status, created_at, updated_at, result, error
		FROM jobs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	msg := "marked failed by stale-job sweep"
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?, error = ?
		WHERE status = ? AND updated_at < ?`,
		string(domain.JobStatusFailed), time.Now().UTC(), msg,
		string(domain.JobStatusRunning), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var job domain.Job
	var id, skill, status string
	var paramsJSON string
	var target, resultJSON, errMsg *string

	if err := row.Scan(&id, &skill, &paramsJSON, &target, &status,
		&job.CreatedAt, &job.UpdatedAt, &resultJSON, &errMsg); err != nil {
		if err == sql.ErrNoRows {
			return domain.Job{}, err
		}
		return domain.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.ID = domain.JobID(id)
	job.Skill = skill
	job.Status = domain.JobStatus(status)
	if target != nil {
		job.Target = *target
	}
	job.Error = errMsg

	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal params for job %s: %w", id, err)
	}
	if resultJSON != nil {
		if err := json.Unmarshal([]byte(*resultJSON), &job.Result); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal result for job %s: %w", id, err)
		}
	}
	return job, nil
}
