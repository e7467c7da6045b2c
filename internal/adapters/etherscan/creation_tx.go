package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/chainproof-org/chainproof/internal/domain"
)

// creationResult is result[0] of a getcontractcreation response.
type creationResult struct {
	ContractAddress string `json:"contractAddress"`
	ContractCreator string `json:"contractCreator"`
	TxHash          string `json:"txHash"`
}

// FindCreationTx discovers a contract's creation transaction through the
// chain's address-indexed explorer API. Chains without a configured endpoint
// return ErrNotFound so callers skip creation verification.
func (i *Importer) FindCreationTx(ctx context.Context, chainID uint64, address common.Address) (*common.Hash, error) {
	chain, ok := i.chains[chainID]
	if !ok || chain.ConfluxscanAPI == "" {
		return nil, domain.ErrNotFound
	}

	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getcontractcreation")
	q.Set("contractaddresses", address.Hex())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, chain.ConfluxscanAPI+"?"+q.Encode(), nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEtherscanNetworkError, err, nil)
	}
	resp, err := i.http.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEtherscanNetworkError, err, nil)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewError(domain.ErrEtherscanHTTPError, map[string]any{"status": resp.StatusCode})
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEtherscanNetworkError, err, nil)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, domain.WrapError(domain.ErrEtherscanAPIError, err, nil)
	}
	if envelope.Status != "1" {
		return nil, domain.ErrNotFound
	}

	var results []creationResult
	if err := json.Unmarshal(envelope.Result, &results); err != nil || len(results) == 0 {
		return nil, domain.ErrNotFound
	}
	raw := results[0].TxHash
	if len(raw) != 2+2*common.HashLength {
		return nil, fmt.Errorf("malformed creation tx hash %q", raw)
	}
	hash := common.HexToHash(raw)
	return &hash, nil
}
