package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// InsertJob records a pending verification job. Called before any compiler
// work begins so every accepted request is observable.
func (s *Store) InsertJob(ctx context.Context, job *domain.VerificationJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_jobs
			(id, started_at, chain_id, contract_address, verification_endpoint, hardware)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.StartedAt, job.ChainID, job.ContractAddress.Bytes(),
		job.VerificationEndpoint, job.Hardware)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// CompleteJob marks a job successful. The terminal update happens exactly
// once; a second call is a no-op on an already-completed row.
func (s *Store) CompleteJob(ctx context.Context, jobID string, verifiedContractID int64, compilationTime time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE verification_jobs
		SET completed_at = now(), verified_contract_id = $2, compilation_time = $3
		WHERE id = $1 AND completed_at IS NULL`,
		jobID, verifiedContractID, compilationTime.Milliseconds())
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	return nil
}

// FailJob marks a job failed with its structured error.
func (s *Store) FailJob(ctx context.Context, jobID string, jobErr *domain.JobError) error {
	data := jobErr.Data
	if data == nil {
		data = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE verification_jobs
		SET completed_at = now(), error_code = $2, error_id = $3, error_data = $4
		WHERE id = $1 AND completed_at IS NULL`,
		jobID, string(jobErr.Code), jobErr.ID, []byte(data))
	if err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	return nil
}

// GetJob loads a job row by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.VerificationJob, error) {
	var (
		job       domain.VerificationJob
		address   []byte
		errCode   sql.NullString
		errID     sql.NullString
		errData   []byte
		compMilli sql.NullInt64
		hardware  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, chain_id, contract_address,
		       verified_contract_id, error_code, error_id, error_data,
		       compilation_time, verification_endpoint, hardware
		FROM verification_jobs WHERE id = $1`,
		jobID).Scan(
		&job.ID, &job.StartedAt, &job.CompletedAt, &job.ChainID, &address,
		&job.VerifiedContractID, &errCode, &errID, &errData,
		&compMilli, &job.VerificationEndpoint, &hardware)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}

	job.ContractAddress = common.BytesToAddress(address)
	job.Hardware = hardware.String
	if errCode.Valid {
		job.Error = &domain.JobError{
			Code: domain.ErrorCode(errCode.String),
			ID:   errID.String,
			Data: errData,
		}
	}
	if compMilli.Valid {
		d := time.Duration(compMilli.Int64) * time.Millisecond
		job.CompilationTime = &d
	}
	return &job, nil
}

// StoreEphemeral saves the large job payloads, pruned separately from the
// job row itself.
func (s *Store) StoreEphemeral(ctx context.Context, e *domain.VerificationJobEphemeral) error {
	var txHash []byte
	if e.CreationTransactionHash != nil {
		txHash = e.CreationTransactionHash.Bytes()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_jobs_ephemeral
			(id, recompiled_creation_code, recompiled_runtime_code,
			 onchain_creation_code, onchain_runtime_code, creation_transaction_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.RecompiledCreationCode, e.RecompiledRuntimeCode,
		e.OnchainCreationCode, e.OnchainRuntimeCode, txHash)
	if err != nil {
		return fmt.Errorf("storing ephemeral payload: %w", err)
	}
	return nil
}

// PruneEphemeral deletes ephemeral payloads of jobs completed before cutoff.
func (s *Store) PruneEphemeral(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM verification_jobs_ephemeral WHERE id IN (
			SELECT id FROM verification_jobs
			WHERE completed_at IS NOT NULL AND completed_at < $1)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning ephemeral payloads: %w", err)
	}
	return res.RowsAffected()
}
