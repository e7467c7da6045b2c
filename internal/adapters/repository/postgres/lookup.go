package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/samber/lo"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// matchRow is the base join behind every projection.
type matchRow struct {
	matchID       int64
	verifiedID    int64
	compilationID int64
	contractID    int64
	address       []byte
	runtimeMatch  sql.NullString
	creationMatch sql.NullString
	metadata      []byte
	verifiedAt    time.Time

	language         string
	compilerSettings []byte

	runtimeValues           []byte
	runtimeTransformations  []byte
	creationValues          []byte
	creationTransformations []byte

	onchainCreationHash    []byte
	onchainRuntimeHash     []byte
	recompiledCreationHash []byte
	recompiledRuntimeHash  []byte
}

// LookupByChainAndAddress returns the canonical match for the latest
// deployment of address on chainID, projected to the requested properties.
func (s *Store) LookupByChainAndAddress(ctx context.Context, chainID uint64, address common.Address, props []domain.Property) (map[string]any, error) {
	if err := domain.ValidateProperties(props); err != nil {
		return nil, err
	}
	props = lo.Uniq(props)

	var row matchRow
	err := s.db.QueryRowContext(ctx, `
		SELECT sm.id, vc.id, vc.compilation_id, ctr.id, cd.address,
		       sm.runtime_match, sm.creation_match, COALESCE(sm.metadata, 'null'::jsonb),
		       sm.updated_at,
		       cc.language, cc.compiler_settings,
		       COALESCE(vc.runtime_values, '{}'::jsonb), COALESCE(vc.runtime_transformations, '[]'::jsonb),
		       COALESCE(vc.creation_values, '{}'::jsonb), COALESCE(vc.creation_transformations, '[]'::jsonb),
		       ctr.creation_code_hash, ctr.runtime_code_hash,
		       cc.creation_code_hash, cc.runtime_code_hash
		FROM sourcify_matches sm
		JOIN verified_contracts vc ON vc.id = sm.verified_contract_id
		JOIN contract_deployments cd ON cd.id = vc.deployment_id
		JOIN contracts ctr ON ctr.id = cd.contract_id
		JOIN compiled_contracts cc ON cc.id = vc.compilation_id
		WHERE cd.chain_id = $1 AND cd.address = $2
		ORDER BY sm.id DESC
		LIMIT 1`,
		chainID, address.Bytes()).Scan(
		&row.matchID, &row.verifiedID, &row.compilationID, &row.contractID, &row.address,
		&row.runtimeMatch, &row.creationMatch, &row.metadata, &row.verifiedAt,
		&row.language, &row.compilerSettings,
		&row.runtimeValues, &row.runtimeTransformations,
		&row.creationValues, &row.creationTransformations,
		&row.onchainCreationHash, &row.onchainRuntimeHash,
		&row.recompiledCreationHash, &row.recompiledRuntimeHash)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up match: %w", err)
	}

	out := map[string]any{}
	for _, p := range props {
		value, err := s.projectProperty(ctx, p, &row)
		if err != nil {
			return nil, err
		}
		out[string(p)] = value
	}
	return out, nil
}

func (s *Store) projectProperty(ctx context.Context, p domain.Property, row *matchRow) (any, error) {
	switch p {
	case domain.PropID:
		return row.matchID, nil
	case domain.PropCreationMatch:
		return nullableMatch(row.creationMatch), nil
	case domain.PropRuntimeMatch:
		return nullableMatch(row.runtimeMatch), nil
	case domain.PropAddress:
		return common.BytesToAddress(row.address).Hex(), nil
	case domain.PropVerifiedAt:
		return row.verifiedAt, nil
	case domain.PropMetadata:
		return json.RawMessage(row.metadata), nil
	case domain.PropCompilerSettings:
		return json.RawMessage(row.compilerSettings), nil
	case domain.PropSources:
		return s.loadSources(ctx, row.compilationID)
	case domain.PropStdJSONInput:
		return s.buildStdJSONInput(ctx, row)
	case domain.PropTransformations:
		return map[string]any{
			"runtime": map[string]any{
				"transformations": json.RawMessage(row.runtimeTransformations),
				"values":          json.RawMessage(row.runtimeValues),
			},
			"creation": map[string]any{
				"transformations": json.RawMessage(row.creationTransformations),
				"values":          json.RawMessage(row.creationValues),
			},
		}, nil
	case domain.PropOnchainRuntimeCode:
		return s.loadCode(ctx, row.onchainRuntimeHash)
	case domain.PropOnchainCreationCode:
		return s.loadCode(ctx, row.onchainCreationHash)
	case domain.PropRecompiledRuntimeCode:
		return s.loadCode(ctx, row.recompiledRuntimeHash)
	case domain.PropRecompiledCreationCode:
		return s.loadCode(ctx, row.recompiledCreationHash)
	default:
		return nil, fmt.Errorf("unknown property %q", p)
	}
}

func nullableMatch(v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	return v.String
}

func (s *Store) loadSources(ctx context.Context, compilationID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ccs.path, src.content
		FROM compiled_contracts_sources ccs
		JOIN sources src ON src.source_hash = ccs.source_hash
		WHERE ccs.compilation_id = $1
		ORDER BY ccs.path`,
		compilationID)
	if err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]string{}
	for rows.Next() {
		var path, content string
		if err := rows.Scan(&path, &content); err != nil {
			return nil, err
		}
		out[path] = content
	}
	return out, rows.Err()
}

// buildStdJSONInput reassembles a compilable standard JSON input from the
// stored sources and settings.
func (s *Store) buildStdJSONInput(ctx context.Context, row *matchRow) (*domain.StandardJSONInput, error) {
	sources, err := s.loadSources(ctx, row.compilationID)
	if err != nil {
		return nil, err
	}
	input := &domain.StandardJSONInput{
		Language: domain.Language(row.language).Title(),
		Sources:  map[string]domain.SourceFile{},
		Settings: json.RawMessage(row.compilerSettings),
	}
	for path, content := range sources {
		input.Sources[path] = domain.SourceFile{Content: content}
	}
	return input, nil
}

func (s *Store) loadCode(ctx context.Context, hash []byte) (any, error) {
	if hash == nil {
		return nil, nil
	}
	var code []byte
	err := s.db.QueryRowContext(ctx, `SELECT code FROM code WHERE code_hash = $1`, hash).Scan(&code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading code: %w", err)
	}
	return hexutil.Encode(code), nil
}

// PaginateMatches lists matches on a chain with keyset pagination by match
// id. afterID zero starts at the beginning (or end when descending).
func (s *Store) PaginateMatches(ctx context.Context, chainID uint64, filter domain.MatchFilter, afterID int64, limit int, descending bool) ([]domain.MatchSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	where := `cd.chain_id = $1`
	switch filter {
	case domain.MatchFilterFull:
		where += ` AND (sm.runtime_match = 'perfect' OR sm.creation_match = 'perfect')`
	case domain.MatchFilterPartial:
		where += ` AND COALESCE(sm.runtime_match, '') <> 'perfect' AND COALESCE(sm.creation_match, '') <> 'perfect'`
	case domain.MatchFilterAny, "":
	default:
		return nil, fmt.Errorf("unknown match filter %q", filter)
	}

	order, cmp := "ASC", ">"
	if descending {
		order, cmp = "DESC", "<"
	}
	if afterID > 0 {
		where += fmt.Sprintf(" AND sm.id %s $3", cmp)
	}

	query := fmt.Sprintf(`
		SELECT sm.id, cd.chain_id, cd.address, sm.runtime_match, sm.creation_match, sm.updated_at
		FROM sourcify_matches sm
		JOIN verified_contracts vc ON vc.id = sm.verified_contract_id
		JOIN contract_deployments cd ON cd.id = vc.deployment_id
		WHERE %s
		ORDER BY sm.id %s
		LIMIT $2`, where, order)

	args := []any{chainID, limit}
	if afterID > 0 {
		args = append(args, afterID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("paginating matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.MatchSummary
	for rows.Next() {
		var (
			entry             domain.MatchSummary
			address           []byte
			runtime, creation sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.ChainID, &address, &runtime, &creation, &entry.VerifiedAt); err != nil {
			return nil, err
		}
		entry.Address = common.BytesToAddress(address)
		entry.RuntimeMatch = domain.Match(runtime.String)
		entry.CreationMatch = domain.Match(creation.String)
		out = append(out, entry)
	}
	return out, rows.Err()
}
