package etherscan

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
)

func creationTxImporter(t *testing.T, apiURL string) *Importer {
	t.Helper()
	cfg := &config.RuntimeConfig{
		Chains: map[uint64]*config.ChainConfig{
			1030: {ChainID: 1030, Name: "conflux espace", ConfluxscanAPI: apiURL},
			1:    {ChainID: 1, Name: "mainnet"},
		},
	}
	return NewImporter(cfg, NewVyperVersionCache(slog.Default()), slog.Default())
}

func TestFindCreationTx(t *testing.T) {
	address := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	wantHash := "0x1111111111111111111111111111111111111111111111111111111111111111"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "getcontractcreation", r.URL.Query().Get("action"))
		require.Equal(t, address.Hex(), r.URL.Query().Get("contractaddresses"))
		raw, err := json.Marshal([]creationResult{{
			ContractAddress: address.Hex(),
			ContractCreator: "0x00000000000000000000000000000000000000bb",
			TxHash:          wantHash,
		}})
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(apiEnvelope{Status: "1", Message: "OK", Result: raw})
	}))
	defer srv.Close()

	imp := creationTxImporter(t, srv.URL)
	hash, err := imp.FindCreationTx(context.Background(), 1030, address)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(wantHash), *hash)
}

func TestFindCreationTxUnconfiguredChain(t *testing.T) {
	imp := creationTxImporter(t, "http://unused.invalid")
	_, err := imp.FindCreationTx(context.Background(), 1, common.Address{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindCreationTxEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(apiEnvelope{Status: "0", Message: "No data found", Result: json.RawMessage(`[]`)})
	}))
	defer srv.Close()

	imp := creationTxImporter(t, srv.URL)
	_, err := imp.FindCreationTx(context.Background(), 1030, common.Address{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
