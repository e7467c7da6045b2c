package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// DeleteMatch removes every verification of an address on a chain, cascading
// in dependency order and garbage-collecting rows the cascade orphaned.
// Content-addressed rows shared with other verifications survive.
func (s *Store) DeleteMatch(ctx context.Context, chainID uint64, address common.Address) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		deploymentIDs, err := collectIDs(ctx, tx, `
			SELECT id FROM contract_deployments WHERE chain_id = $1 AND address = $2`,
			chainID, address.Bytes())
		if err != nil {
			return err
		}
		if len(deploymentIDs) == 0 {
			return domain.ErrNotFound
		}

		compilationIDs, err := collectIDs(ctx, tx, `
			SELECT DISTINCT compilation_id FROM verified_contracts
			WHERE deployment_id = ANY($1)`, pq.Array(deploymentIDs))
		if err != nil {
			return err
		}
		signatureHashes, err := collectHashes(ctx, tx, `
			SELECT DISTINCT signature_hash FROM compiled_contracts_signatures
			WHERE compilation_id = ANY($1)`, pq.Array(compilationIDs))
		if err != nil {
			return err
		}

		steps := []struct {
			name  string
			query string
			args  []any
		}{
			{"ephemeral", `
				DELETE FROM verification_jobs_ephemeral WHERE id IN (
					SELECT id FROM verification_jobs WHERE chain_id = $1 AND contract_address = $2)`,
				[]any{chainID, address.Bytes()}},
			{"jobs", `
				DELETE FROM verification_jobs WHERE chain_id = $1 AND contract_address = $2`,
				[]any{chainID, address.Bytes()}},
			{"matches", `
				DELETE FROM sourcify_matches WHERE verified_contract_id IN (
					SELECT id FROM verified_contracts WHERE deployment_id = ANY($1))`,
				[]any{pq.Array(deploymentIDs)}},
			{"verified contracts", `
				DELETE FROM verified_contracts WHERE deployment_id = ANY($1)`,
				[]any{pq.Array(deploymentIDs)}},
			{"orphan compilation sources", `
				DELETE FROM compiled_contracts_sources WHERE compilation_id = ANY($1)
				AND NOT EXISTS (SELECT 1 FROM verified_contracts vc WHERE vc.compilation_id = compiled_contracts_sources.compilation_id)`,
				[]any{pq.Array(compilationIDs)}},
			{"orphan compilation signatures", `
				DELETE FROM compiled_contracts_signatures WHERE compilation_id = ANY($1)
				AND NOT EXISTS (SELECT 1 FROM verified_contracts vc WHERE vc.compilation_id = compiled_contracts_signatures.compilation_id)`,
				[]any{pq.Array(compilationIDs)}},
			{"orphan sources", `
				DELETE FROM sources WHERE NOT EXISTS (
					SELECT 1 FROM compiled_contracts_sources ccs WHERE ccs.source_hash = sources.source_hash)`,
				nil},
			{"orphan signatures", `
				DELETE FROM signatures WHERE signature_hash_32 = ANY($1)
				AND NOT EXISTS (
					SELECT 1 FROM compiled_contracts_signatures ccs WHERE ccs.signature_hash = signatures.signature_hash_32)`,
				[]any{pq.Array(signatureHashes)}},
			{"orphan compiled contracts", `
				DELETE FROM compiled_contracts WHERE id = ANY($1)
				AND NOT EXISTS (SELECT 1 FROM verified_contracts vc WHERE vc.compilation_id = compiled_contracts.id)`,
				[]any{pq.Array(compilationIDs)}},
			{"orphan deployments", `
				DELETE FROM contract_deployments WHERE id = ANY($1)
				AND NOT EXISTS (SELECT 1 FROM verified_contracts vc WHERE vc.deployment_id = contract_deployments.id)`,
				[]any{pq.Array(deploymentIDs)}},
			{"orphan contracts", `
				DELETE FROM contracts WHERE NOT EXISTS (
					SELECT 1 FROM contract_deployments cd WHERE cd.contract_id = contracts.id)`,
				nil},
			{"orphan code", `
				DELETE FROM code WHERE NOT EXISTS (
					SELECT 1 FROM contracts c WHERE c.creation_code_hash = code.code_hash OR c.runtime_code_hash = code.code_hash)
				AND NOT EXISTS (
					SELECT 1 FROM compiled_contracts cc WHERE cc.creation_code_hash = code.code_hash OR cc.runtime_code_hash = code.code_hash)`,
				nil},
		}
		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
				return fmt.Errorf("deleting %s: %w", step.name, err)
			}
		}
		return nil
	})
}

// OrphanGC applies the orphan policy globally: rows referenced by nothing are
// removed. The signature registry is left alone, imported signatures carry no
// verification references.
func (s *Store) OrphanGC(ctx context.Context) error {
	queries := []string{
		`DELETE FROM compiled_contracts_sources WHERE NOT EXISTS (
			SELECT 1 FROM verified_contracts vc WHERE vc.compilation_id = compiled_contracts_sources.compilation_id)`,
		`DELETE FROM compiled_contracts_signatures WHERE NOT EXISTS (
			SELECT 1 FROM verified_contracts vc WHERE vc.compilation_id = compiled_contracts_signatures.compilation_id)`,
		`DELETE FROM sources WHERE NOT EXISTS (
			SELECT 1 FROM compiled_contracts_sources ccs WHERE ccs.source_hash = sources.source_hash)`,
		`DELETE FROM compiled_contracts WHERE NOT EXISTS (
			SELECT 1 FROM verified_contracts vc WHERE vc.compilation_id = compiled_contracts.id)`,
		`DELETE FROM contract_deployments WHERE NOT EXISTS (
			SELECT 1 FROM verified_contracts vc WHERE vc.deployment_id = contract_deployments.id)`,
		`DELETE FROM contracts WHERE NOT EXISTS (
			SELECT 1 FROM contract_deployments cd WHERE cd.contract_id = contracts.id)`,
		`DELETE FROM code WHERE NOT EXISTS (
			SELECT 1 FROM contracts c WHERE c.creation_code_hash = code.code_hash OR c.runtime_code_hash = code.code_hash)
		AND NOT EXISTS (
			SELECT 1 FROM compiled_contracts cc WHERE cc.creation_code_hash = code.code_hash OR cc.runtime_code_hash = code.code_hash)`,
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range queries {
			res, err := tx.ExecContext(ctx, q)
			if err != nil {
				return fmt.Errorf("orphan gc: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				s.log.Debug("orphan gc removed rows", "count", n)
			}
		}
		return nil
	})
}

func collectIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func collectHashes(ctx context.Context, tx *sql.Tx, query string, args ...any) ([][]byte, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out [][]byte
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
