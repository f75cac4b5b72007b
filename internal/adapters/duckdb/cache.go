package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

func (s *Store) GetExact(ctx context.Context, fingerprint string) (domain.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, prompt, response, embedding, created_at, expires_at
		FROM cache_entries WHERE fingerprint = ? AND expires_at > ?`,
		fingerprint, time.Now().UTC(),
	)
	entry, err := scanCacheEntry(row)
	if err == sql.ErrNoRows {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	return entry, true, nil
}

// PutEntry upserts under the fingerprint; last write wins, which is fine
// for best-effort cache hints.
func (s *Store) PutEntry(ctx context.Context, entry domain.CacheEntry) error {
	var embJSON *string
	if len(entry.Embedding) > 0 {
		raw, err := json.Marshal(entry.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		str := string(raw)
		embJSON = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (fingerprint, prompt, response, embedding, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
			response   = excluded.response,
			embedding  = excluded.embedding,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		entry.Fingerprint, entry.Prompt, entry.Response, embJSON,
		entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (s *Store) ListEmbedded(ctx context.Context, limit int) ([]domain.CacheEntry, error) {
	if limit <= 0 {
		limit = 2000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, prompt, response, embedding, created_at, expires_at
		FROM cache_entries
		WHERE embedding IS NOT NULL AND expires_at > ?
		ORDER BY created_at DESC LIMIT ?`,
		time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list embedded cache entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.CacheEntry
	for rows.Next() {
		entry, err := scanCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) Prune(ctx context.Context, maxEmbedded int) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UTC()); err != nil {
		return fmt.Errorf("prune expired cache entries: %w", err)
	}

	if maxEmbedded > 0 {
		// Evict oldest embedded entries beyond the cap.
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM cache_entries WHERE fingerprint IN (
				SELECT fingerprint FROM cache_entries
				WHERE embedding IS NOT NULL
				ORDER BY created_at DESC
				OFFSET ?
			)`, maxEmbedded,
		)
		if err != nil {
			return fmt.Errorf("evict cache entries: %w", err)
		}
	}
	return nil
}

func scanCacheEntry(row rowScanner) (domain.CacheEntry, error) {
	var entry domain.CacheEntry
	var embJSON *string

	if err := row.Scan(&entry.Fingerprint, &entry.Prompt, &entry.Response,
		&embJSON, &entry.CreatedAt, &entry.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.CacheEntry{}, err
		}
		return domain.CacheEntry{}, fmt.Errorf("scan cache entry: %w", err)
	}

	if embJSON != nil {
		if err := json.Unmarshal([]byte(*embJSON), &entry.Embedding); err != nil {
			return domain.CacheEntry{}, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	return entry, nil
}
