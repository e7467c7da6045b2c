package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainproof-org/chainproof/internal/adapters/bytecode"
	"github.com/chainproof-org/chainproof/internal/adapters/ipfs"
	"github.com/chainproof-org/chainproof/internal/adapters/rpc"
	"github.com/chainproof-org/chainproof/internal/domain/config"
)

func cidFor(multihash []byte) string {
	return ipfs.CIDFromMultihash(multihash)
}

type fakeSource struct {
	chainID  uint64
	head     uint64
	blocks   map[uint64]*rpc.Block
	receipts map[common.Hash]*rpc.Receipt
	created  map[common.Hash][]rpc.CreatedContract
	code     map[common.Address][]byte
}

func (f *fakeSource) ChainID() uint64                               { return f.chainID }
func (f *fakeSource) BlockNumber(context.Context) (uint64, error)   { return f.head, nil }

func (f *fakeSource) GetBlock(_ context.Context, number uint64) (*rpc.Block, error) {
	b, ok := f.blocks[number]
	if !ok {
		return nil, fmt.Errorf("block %d not found", number)
	}
	return b, nil
}

func (f *fakeSource) GetTransactionReceipt(_ context.Context, hash common.Hash) (*rpc.Receipt, error) {
	r, ok := f.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("receipt not found")
	}
	return r, nil
}

func (f *fakeSource) TraceCreations(_ context.Context, hash common.Hash) ([]rpc.CreatedContract, error) {
	return f.created[hash], nil
}

func (f *fakeSource) GetBytecode(_ context.Context, addr common.Address) ([]byte, error) {
	return f.code[addr], nil
}

type fakeFetcher struct {
	docs map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, cid string) ([]byte, error) {
	doc, ok := f.docs[cid]
	if !ok {
		return nil, fmt.Errorf("cid %s not pinned", cid)
	}
	return doc, nil
}

func testMonitor(cfg *config.RuntimeConfig, fetcher MetadataFetcher) *Monitor {
	if cfg == nil {
		cfg = &config.RuntimeConfig{}
	}
	m := &Monitor{
		log:             slog.Default(),
		cfg:             cfg,
		analyzer:        bytecode.NewAnalyzer(),
		fetcher:         fetcher,
		http:            &http.Client{Timeout: 5 * time.Second},
		sources:         map[uint64]ChainSource{},
		similarityDelay: time.Millisecond,
	}
	return m
}

func testLoop(m *Monitor, chain *config.ChainConfig, source ChainSource) *chainLoop {
	return newChainLoop(m, chain, source)
}

func TestAdaptiveIntervalClamps(t *testing.T) {
	cfg := &config.RuntimeConfig{
		Monitor: config.MonitorConfig{
			BlockInterval:       10 * time.Second,
			BlockIntervalFactor: 2,
			BlockIntervalLower:  time.Second,
			BlockIntervalUpper:  40 * time.Second,
		},
	}
	l := testLoop(testMonitor(cfg, nil), &config.ChainConfig{ChainID: 1}, &fakeSource{chainID: 1})

	// Quiet chain grows the interval up to the upper bound.
	assert.Equal(t, 20*time.Second, l.adapt(10*time.Second, true))
	assert.Equal(t, 40*time.Second, l.adapt(20*time.Second, true))
	assert.Equal(t, 40*time.Second, l.adapt(40*time.Second, true))

	// Active chain shrinks it down to the lower bound.
	assert.Equal(t, 5*time.Second, l.adapt(10*time.Second, false))
	assert.Equal(t, time.Second, l.adapt(1500*time.Millisecond, false))
}

func TestTickAdvancesOneBlock(t *testing.T) {
	txHash := common.HexToHash("0x01")
	deployed := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	source := &fakeSource{
		chainID: 1,
		head:    101,
		blocks: map[uint64]*rpc.Block{
			101: {Number: 101, Transactions: []rpc.Transaction{{Hash: txHash}}},
		},
		receipts: map[common.Hash]*rpc.Receipt{
			txHash: {TransactionHash: txHash, ContractAddress: &deployed, Status: 1},
		},
		code: map[common.Address][]byte{},
	}
	cfg := &config.RuntimeConfig{
		Monitor: config.MonitorConfig{BlockInterval: time.Second, BlockIntervalFactor: 2, BlockIntervalLower: time.Millisecond},
	}
	l := testLoop(testMonitor(cfg, &fakeFetcher{}), &config.ChainConfig{ChainID: 1, Name: "test"}, source)
	l.lastBlockSeen = 100

	l.tick(context.Background())
	assert.Equal(t, uint64(101), l.lastBlockSeen)

	// No new block: the cursor stays put and the interval grows.
	before := l.interval
	l.tick(context.Background())
	assert.Equal(t, uint64(101), l.lastBlockSeen)
	assert.Greater(t, l.interval, before)
}

func TestDiscoverFindsFactoryChildren(t *testing.T) {
	createTx := common.HexToHash("0x01")
	factoryTx := common.HexToHash("0x02")
	topLevel := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	child := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	factory := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	source := &fakeSource{
		chainID: 1,
		receipts: map[common.Hash]*rpc.Receipt{
			createTx: {TransactionHash: createTx, ContractAddress: &topLevel, Status: 1},
		},
		created: map[common.Hash][]rpc.CreatedContract{
			factoryTx: {{Address: child, InitCode: []byte{0x60}}},
		},
	}
	cfg := &config.RuntimeConfig{MonitorFactories: true}
	chain := &config.ChainConfig{
		ChainID: 1,
		Name:    "test",
		RPCs:    []config.RPCEndpointConfig{{URL: "http://x", TraceSupport: config.TraceModeParity}},
	}
	l := testLoop(testMonitor(cfg, nil), chain, source)

	block := &rpc.Block{
		Number: 5,
		Transactions: []rpc.Transaction{
			{Hash: createTx},
			{Hash: factoryTx, To: &factory},
		},
	}
	found := l.discover(context.Background(), block)
	require.Len(t, found, 2)
	assert.Equal(t, "top_level", found[0].kind)
	assert.Equal(t, topLevel, found[0].address)
	assert.Equal(t, "factory_child", found[1].kind)
	assert.Equal(t, child, found[1].address)
}

func TestDiscoverSkipsFactoriesWithoutTraceSupport(t *testing.T) {
	factoryTx := common.HexToHash("0x02")
	factory := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	child := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	source := &fakeSource{
		chainID: 1,
		created: map[common.Hash][]rpc.CreatedContract{
			factoryTx: {{Address: child}},
		},
	}
	cfg := &config.RuntimeConfig{MonitorFactories: true}
	chain := &config.ChainConfig{ChainID: 1, Name: "test"} // no trace-capable RPCs
	l := testLoop(testMonitor(cfg, nil), chain, source)

	block := &rpc.Block{Transactions: []rpc.Transaction{{Hash: factoryTx, To: &factory}}}
	assert.Empty(t, l.discover(context.Background(), block))
}

// auxdataTrailer builds runtime code ending in a CBOR {"ipfs": multihash}
// trailer plus the two-byte length suffix.
func auxdataTrailer(t *testing.T, multihash []byte) []byte {
	t.Helper()
	doc, err := cbor.Marshal(map[string][]byte{"ipfs": multihash})
	require.NoError(t, err)
	code := []byte{0x60, 0x80, 0x60, 0x40}
	code = append(code, doc...)
	return append(code, byte(len(doc)>>8), byte(len(doc)))
}

func TestAssembleFetchesMetadataAndSources(t *testing.T) {
	// sha2-256 multihash prefix 0x12, 0x20 then 32 digest bytes.
	multihash := append([]byte{0x12, 0x20}, make([]byte, 32)...)
	cid := cidFor(multihash)

	metadata, err := json.Marshal(map[string]any{
		"language": "Solidity",
		"sources": map[string]any{
			"src/Token.sol": map[string]any{"content": "contract Token {}"},
		},
		"settings": map[string]any{
			"compilationTarget": map[string]string{"src/Token.sol": "Token"},
		},
	})
	require.NoError(t, err)

	m := testMonitor(nil, &fakeFetcher{docs: map[string][]byte{cid: metadata}})
	gotMetadata, sources, err := m.assemble(context.Background(), auxdataTrailer(t, multihash))
	require.NoError(t, err)
	assert.JSONEq(t, string(metadata), string(gotMetadata))
	assert.Equal(t, "contract Token {}", sources["src/Token.sol"])
}

func TestAssembleFailsWithoutTrailer(t *testing.T) {
	m := testMonitor(nil, &fakeFetcher{})
	_, _, err := m.assemble(context.Background(), []byte{0x60, 0x80, 0x60, 0x40})
	require.Error(t, err)
}

func TestSubmitVerificationPostsFiles(t *testing.T) {
	var got struct {
		Address string            `json:"address"`
		Chain   string            `json:"chain"`
		Files   map[string]string `json:"files"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.RuntimeConfig{SourcifyServerURLs: []string{srv.URL}}
	m := testMonitor(cfg, nil)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	err := m.submitVerification(context.Background(), 1, addr, []byte(`{"language":"Solidity"}`), map[string]string{"a.sol": "contract A {}"})
	require.NoError(t, err)
	assert.Equal(t, addr.Hex(), got.Address)
	assert.Equal(t, "1", got.Chain)
	assert.Equal(t, `{"language":"Solidity"}`, got.Files["metadata.json"])
	assert.Equal(t, "contract A {}", got.Files["a.sol"])
}

func TestTriggerSimilarityPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := &config.RuntimeConfig{SourcifyServerURLs: []string{srv.URL}}
	m := testMonitor(cfg, nil)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, m.Trigger(context.Background(), 1, addr))
	assert.Equal(t, "/v2/verify/similarity/1/"+addr.Hex(), gotPath)
}

func TestTriggerFailsOverServers(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	var goodHit bool
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodHit = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer good.Close()

	cfg := &config.RuntimeConfig{SourcifyServerURLs: []string{bad.URL, good.URL}}
	m := testMonitor(cfg, nil)

	require.NoError(t, m.Trigger(context.Background(), 1, common.Address{}))
	assert.True(t, goodHit)
}
