package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/chainproof-org/chainproof/internal/domain/models"
)

// InsertSignatures upserts a batch, returning one was-inserted flag per
// entry. Duplicates inside the batch count as inserted once.
func (s *Store) InsertSignatures(ctx context.Context, sigs []models.Signature) ([]bool, error) {
	inserted := make([]bool, len(sigs))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, sig := range sigs {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO signatures (signature_hash_32, signature_hash_4, signature)
				VALUES ($1, $2, $3)
				ON CONFLICT (signature_hash_32) DO NOTHING`,
				sig.SignatureHash32, sig.SignatureHash4, sig.Signature)
			if err != nil {
				return fmt.Errorf("inserting signature %q: %w", sig.Signature, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted[i] = n > 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// SignaturesByHash32 loads entries for full keccak hashes.
func (s *Store) SignaturesByHash32(ctx context.Context, hashes [][]byte) ([]models.Signature, error) {
	return s.querySignatures(ctx, `
		SELECT signature_hash_32, signature_hash_4, signature, created_at
		FROM signatures WHERE signature_hash_32 = ANY($1)
		ORDER BY signature`, pq.Array(hashes))
}

// SignaturesByHash4 loads entries for 4-byte selectors.
func (s *Store) SignaturesByHash4(ctx context.Context, hashes [][]byte) ([]models.Signature, error) {
	return s.querySignatures(ctx, `
		SELECT signature_hash_32, signature_hash_4, signature, created_at
		FROM signatures WHERE signature_hash_4 = ANY($1)
		ORDER BY signature`, pq.Array(hashes))
}

// SearchSignatures finds entries whose text matches an SQL LIKE pattern.
func (s *Store) SearchSignatures(ctx context.Context, likePattern string, limit int) ([]models.Signature, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	return s.querySignatures(ctx, `
		SELECT signature_hash_32, signature_hash_4, signature, created_at
		FROM signatures WHERE signature LIKE $1
		ORDER BY signature LIMIT $2`, likePattern, limit)
}

func (s *Store) querySignatures(ctx context.Context, query string, args ...any) ([]models.Signature, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying signatures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Signature
	for rows.Next() {
		var sig models.Signature
		if err := rows.Scan(&sig.SignatureHash32, &sig.SignatureHash4, &sig.Signature, &sig.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// VerifiedSignatureHashes reports which of the given 32-byte hashes are
// referenced by at least one verified compilation.
func (s *Store) VerifiedSignatureHashes(ctx context.Context, hashes [][]byte) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT signature_hash FROM compiled_contracts_signatures
		WHERE signature_hash = ANY($1)`, pq.Array(hashes))
	if err != nil {
		return nil, fmt.Errorf("querying verified signatures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]bool{}
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out[string(h)] = true
	}
	return out, rows.Err()
}

// LinkCompilationSignatures records the selectors a compilation exposes.
func (s *Store) LinkCompilationSignatures(ctx context.Context, compilationID int64, links []models.CompiledContractSignature) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, link := range links {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO compiled_contracts_signatures (compilation_id, signature_hash, signature_type)
				VALUES ($1, $2, $3)
				ON CONFLICT (compilation_id, signature_hash, signature_type) DO NOTHING`,
				compilationID, link.SignatureHash, string(link.SignatureType)); err != nil {
				return fmt.Errorf("linking signature: %w", err)
			}
		}
		return nil
	})
}

// SignatureStats reads the materialized stats view.
func (s *Store) SignatureStats(ctx context.Context) (*models.SignatureStats, error) {
	var stats models.SignatureStats
	err := s.db.QueryRowContext(ctx, `
		SELECT function_count, event_count, error_count, total, unknown, refreshed_at
		FROM signature_stats`).Scan(
		&stats.FunctionCount, &stats.EventCount, &stats.ErrorCount,
		&stats.Total, &stats.Unknown, &stats.RefreshedAt)
	if err != nil {
		return nil, fmt.Errorf("reading signature stats: %w", err)
	}
	return &stats, nil
}

// RefreshSignatureStats recomputes the materialized view.
func (s *Store) RefreshSignatureStats(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW signature_stats`); err != nil {
		return fmt.Errorf("refreshing signature stats: %w", err)
	}
	return nil
}
