package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// StoreVerification persists a verification export. Every write is a
// content-addressed upsert and the whole export lands in one transaction:
// either the match is fully recorded or nothing is.
func (s *Store) StoreVerification(ctx context.Context, export *domain.VerificationExport) (*domain.StoredVerification, error) {
	var stored domain.StoredVerification
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		onchainRuntimeHash, err := upsertCode(ctx, tx, export.OnchainRuntimeBytecode)
		if err != nil {
			return err
		}
		var onchainCreationHash []byte
		if len(export.OnchainCreationBytecode) > 0 {
			if onchainCreationHash, err = upsertCode(ctx, tx, export.OnchainCreationBytecode); err != nil {
				return err
			}
		}

		contractID, err := upsertContract(ctx, tx, onchainCreationHash, onchainRuntimeHash)
		if err != nil {
			return err
		}
		deploymentID, err := upsertDeployment(ctx, tx, export, contractID)
		if err != nil {
			return err
		}

		recompiledRuntimeHash, err := upsertCode(ctx, tx, export.RecompiledRuntimeBytecode)
		if err != nil {
			return err
		}
		var recompiledCreationHash []byte
		if len(export.RecompiledCreationBytecode) > 0 {
			if recompiledCreationHash, err = upsertCode(ctx, tx, export.RecompiledCreationBytecode); err != nil {
				return err
			}
		}

		compilationID, err := upsertCompiledContract(ctx, tx, export, recompiledCreationHash, recompiledRuntimeHash)
		if err != nil {
			return err
		}
		if err := upsertSources(ctx, tx, compilationID, export.Sources); err != nil {
			return err
		}

		verifiedID, err := upsertVerifiedContract(ctx, tx, export, compilationID, deploymentID)
		if err != nil {
			return err
		}
		matchID, err := upsertSourcifyMatch(ctx, tx, export, deploymentID, verifiedID)
		if err != nil {
			return err
		}

		stored = domain.StoredVerification{VerifiedContractID: verifiedID, MatchID: matchID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// upsertCode inserts a code row keyed by keccak256 and returns the hash.
func upsertCode(ctx context.Context, tx *sql.Tx, code []byte) ([]byte, error) {
	hash := crypto.Keccak256(code)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO code (code_hash, code_hash_keccak, code)
		VALUES ($1, $1, $2)
		ON CONFLICT (code_hash) DO NOTHING`,
		hash, code)
	if err != nil {
		return nil, fmt.Errorf("upserting code: %w", err)
	}
	return hash, nil
}

func upsertContract(ctx context.Context, tx *sql.Tx, creationHash, runtimeHash []byte) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO contracts (creation_code_hash, runtime_code_hash)
		VALUES ($1, $2)
		ON CONFLICT ((COALESCE(creation_code_hash, ''::bytea)), runtime_code_hash) DO NOTHING
		RETURNING id`,
		creationHash, runtimeHash).Scan(&id)
	if err == sql.ErrNoRows {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM contracts
			WHERE COALESCE(creation_code_hash, ''::bytea) = COALESCE($1, ''::bytea)
			  AND runtime_code_hash = $2`,
			creationHash, runtimeHash).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("upserting contract: %w", err)
	}
	return id, nil
}

func upsertDeployment(ctx context.Context, tx *sql.Tx, export *domain.VerificationExport, contractID int64) (int64, error) {
	txHash := []byte{}
	if export.Deployment.TransactionHash != nil {
		txHash = export.Deployment.TransactionHash.Bytes()
	}
	var deployer []byte
	if export.Deployment.Deployer != nil {
		deployer = export.Deployment.Deployer.Bytes()
	}
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO contract_deployments
			(chain_id, address, transaction_hash, contract_id, block_number, transaction_index, deployer)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chain_id, address, transaction_hash, contract_id)
		DO UPDATE SET
			block_number = COALESCE(contract_deployments.block_number, EXCLUDED.block_number),
			transaction_index = COALESCE(contract_deployments.transaction_index, EXCLUDED.transaction_index),
			deployer = COALESCE(contract_deployments.deployer, EXCLUDED.deployer),
			updated_at = now()
		RETURNING id`,
		export.ChainID, export.Address.Bytes(), txHash, contractID,
		export.Deployment.BlockNumber, export.Deployment.TransactionIndex,
		deployer).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting deployment: %w", err)
	}
	return id, nil
}

func upsertCompiledContract(ctx context.Context, tx *sql.Tx, export *domain.VerificationExport, creationHash, runtimeHash []byte) (int64, error) {
	creationArtifacts, err := json.Marshal(export.CreationArtifacts)
	if err != nil {
		return 0, err
	}
	runtimeArtifacts, err := json.Marshal(export.RuntimeArtifacts)
	if err != nil {
		return 0, err
	}
	compilationArtifacts := export.CompilationArtifacts
	if compilationArtifacts == nil {
		compilationArtifacts = json.RawMessage(`{}`)
	}
	settings := export.CompilerSettings
	if settings == nil {
		settings = json.RawMessage(`{}`)
	}

	fqn := export.Target.Path + ":" + export.Target.Name
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO compiled_contracts
			(compiler, version, language, name, fully_qualified_name, compilation_target_path,
			 compiler_settings, compilation_artifacts,
			 creation_code_hash, runtime_code_hash,
			 creation_code_artifacts, runtime_code_artifacts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (compiler, language, (COALESCE(creation_code_hash, ''::bytea)), runtime_code_hash) DO NOTHING
		RETURNING id`,
		export.Compiler, export.CompilerVersion, string(export.Language),
		export.Target.Name, fqn, export.Target.Path,
		[]byte(settings), []byte(compilationArtifacts),
		creationHash, runtimeHash,
		creationArtifacts, runtimeArtifacts).Scan(&id)
	if err == sql.ErrNoRows {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM compiled_contracts
			WHERE compiler = $1 AND language = $2
			  AND COALESCE(creation_code_hash, ''::bytea) = COALESCE($3, ''::bytea)
			  AND runtime_code_hash = $4`,
			export.Compiler, string(export.Language), creationHash, runtimeHash).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("upserting compiled contract: %w", err)
	}
	return id, nil
}

func upsertSources(ctx context.Context, tx *sql.Tx, compilationID int64, sources map[string]string) error {
	for path, content := range sources {
		sum := sha256.Sum256([]byte(content))
		keccak := crypto.Keccak256([]byte(content))
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sources (source_hash, source_hash_keccak, content)
			VALUES ($1, $2, $3)
			ON CONFLICT (source_hash) DO NOTHING`,
			sum[:], keccak, content); err != nil {
			return fmt.Errorf("upserting source %s: %w", path, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO compiled_contracts_sources (compilation_id, source_hash, path)
			VALUES ($1, $2, $3)
			ON CONFLICT (compilation_id, path) DO NOTHING`,
			compilationID, sum[:], path); err != nil {
			return fmt.Errorf("linking source %s: %w", path, err)
		}
	}
	return nil
}

func upsertVerifiedContract(ctx context.Context, tx *sql.Tx, export *domain.VerificationExport, compilationID, deploymentID int64) (int64, error) {
	creationValues, err := marshalValues(export.CreationValues)
	if err != nil {
		return 0, err
	}
	runtimeValues, err := marshalValues(export.RuntimeValues)
	if err != nil {
		return 0, err
	}
	creationTransformations, err := marshalTransformations(export.CreationTransformations)
	if err != nil {
		return 0, err
	}
	runtimeTransformations, err := marshalTransformations(export.RuntimeTransformations)
	if err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO verified_contracts
			(compilation_id, deployment_id,
			 creation_match, creation_values, creation_transformations,
			 runtime_match, runtime_values, runtime_transformations,
			 runtime_metadata_match, creation_metadata_match)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (compilation_id, deployment_id)
		DO UPDATE SET updated_at = now()
		RETURNING id`,
		compilationID, deploymentID,
		matchParam(export.Status.CreationMatch), creationValues, creationTransformations,
		matchParam(export.Status.RuntimeMatch), runtimeValues, runtimeTransformations,
		export.RuntimeMetadataMatch, export.CreationMetadataMatch).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting verified contract: %w", err)
	}
	return id, nil
}

// upsertSourcifyMatch inserts the canonical match for a deployment, or
// re-points the existing one when the new verdict is strictly better.
func upsertSourcifyMatch(ctx context.Context, tx *sql.Tx, export *domain.VerificationExport, deploymentID, verifiedID int64) (int64, error) {
	var (
		matchID                       int64
		currentRuntime, currentCreate sql.NullString
	)
	err := tx.QueryRowContext(ctx, `
		SELECT sm.id, sm.runtime_match, sm.creation_match
		FROM sourcify_matches sm
		JOIN verified_contracts vc ON vc.id = sm.verified_contract_id
		WHERE vc.deployment_id = $1`,
		deploymentID).Scan(&matchID, &currentRuntime, &currentCreate)

	metadata := metadataFromArtifacts(export.CompilationArtifacts)

	switch {
	case err == sql.ErrNoRows:
		err = tx.QueryRowContext(ctx, `
			INSERT INTO sourcify_matches (verified_contract_id, creation_match, runtime_match, metadata)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			verifiedID, matchParam(export.Status.CreationMatch),
			matchParam(export.Status.RuntimeMatch), metadata).Scan(&matchID)
		if err != nil {
			return 0, fmt.Errorf("inserting sourcify match: %w", err)
		}
		return matchID, nil

	case err != nil:
		return 0, fmt.Errorf("reading sourcify match: %w", err)
	}

	if !domain.BetterThan(
		export.Status.RuntimeMatch, export.Status.CreationMatch,
		domain.Match(currentRuntime.String), domain.Match(currentCreate.String),
	) {
		return 0, &domain.ConflictError{
			ChainID: export.ChainID,
			Address: export.Address.Hex(),
			Message: "an equal or better match already exists",
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sourcify_matches
		SET verified_contract_id = $2, creation_match = $3, runtime_match = $4,
		    metadata = $5, updated_at = now()
		WHERE id = $1`,
		matchID, verifiedID, matchParam(export.Status.CreationMatch),
		matchParam(export.Status.RuntimeMatch), metadata)
	if err != nil {
		return 0, fmt.Errorf("updating sourcify match: %w", err)
	}
	return matchID, nil
}

// matchParam renders a verdict for a nullable text column.
func matchParam(m domain.Match) any {
	if m == domain.MatchNone {
		return nil
	}
	return string(m)
}

func marshalValues(v domain.TransformationValues) ([]byte, error) {
	if v.Empty() {
		return []byte(`{}`), nil
	}
	return json.Marshal(v)
}

func marshalTransformations(ts []domain.Transformation) ([]byte, error) {
	if len(ts) == 0 {
		return []byte(`[]`), nil
	}
	return json.Marshal(ts)
}

// metadataFromArtifacts extracts the metadata document from the compilation
// artifacts blob, if present.
func metadataFromArtifacts(artifacts json.RawMessage) []byte {
	if len(artifacts) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(artifacts, &m); err != nil {
		return nil
	}
	if raw, ok := m["metadata"]; ok {
		return raw
	}
	return nil
}
