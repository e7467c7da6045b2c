package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
)

// fakeClient scripts CallContext responses per method.
type fakeClient struct {
	calls     int
	responses map[string]any
	err       error
}

func (f *fakeClient) CallContext(_ context.Context, result any, method string, _ ...any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	resp, ok := f.responses[method]
	if !ok {
		return errors.New("unexpected method " + method)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func newTestProvider(t *testing.T, clients ...*fakeClient) *ChainProvider {
	t.Helper()
	chain := &config.ChainConfig{ChainID: 1, Name: "test"}
	for range clients {
		chain.RPCs = append(chain.RPCs, config.RPCEndpointConfig{
			URL:          "http://unused.invalid",
			TraceSupport: config.TraceModeGeth,
		})
	}
	p := NewChainProvider(chain, slog.Default())
	for i, c := range clients {
		p.endpoints[i].client = c
	}
	return p
}

func TestGetBytecode(t *testing.T) {
	client := &fakeClient{responses: map[string]any{
		"eth_getCode": "0x600160005260206000f3",
	}}
	p := newTestProvider(t, client)

	code, err := p.GetBytecode(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, hexutil.MustDecode("0x600160005260206000f3"), code)
}

func TestFailoverToSecondEndpoint(t *testing.T) {
	failing := &fakeClient{err: errors.New("connection refused")}
	working := &fakeClient{responses: map[string]any{
		"eth_getCode": "0x6001",
	}}
	p := newTestProvider(t, failing, working)

	code, err := p.GetBytecode(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x01}, code)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, working.calls)
}

func TestCircuitBreakerSkipsAfterTwoFailures(t *testing.T) {
	// Single-RPC chain: first call fails and opens the breaker, the second
	// is the allowed last-resort retry, the third must not touch the
	// endpoint at all.
	failing := &fakeClient{err: errors.New("boom")}
	p := newTestProvider(t, failing)
	now := time.Now()
	p.now = func() time.Time { return now }

	_, err := p.GetBytecode(context.Background(), common.Address{})
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)

	_, err = p.GetBytecode(context.Background(), common.Address{})
	require.Error(t, err)
	assert.Equal(t, 2, failing.calls)

	_, err = p.GetBytecode(context.Background(), common.Address{})
	require.Error(t, err)
	assert.Equal(t, 2, failing.calls, "third call must not touch the provider")
	assert.True(t, domain.HasCode(err, domain.ErrAllRPCsFailed))
}

func TestCircuitBreakerBackoffGrowth(t *testing.T) {
	ep := &endpoint{}
	now := time.Now()

	ep.markFailure(now)
	assert.Equal(t, now.Add(10*time.Second), ep.nextRetryTime)

	ep.markFailure(now)
	assert.Equal(t, now.Add(20*time.Second), ep.nextRetryTime)

	ep.markFailure(now)
	assert.Equal(t, now.Add(40*time.Second), ep.nextRetryTime)

	// Clamped at 60s from the fourth failure on.
	ep.markFailure(now)
	assert.Equal(t, now.Add(60*time.Second), ep.nextRetryTime)
	ep.markFailure(now)
	assert.Equal(t, now.Add(60*time.Second), ep.nextRetryTime)

	ep.markSuccess()
	assert.Zero(t, ep.consecutiveFailures)
	assert.True(t, ep.nextRetryTime.IsZero())
}

func TestEndpointRecoversAfterBackoffWindow(t *testing.T) {
	failing := &fakeClient{err: errors.New("boom")}
	p := newTestProvider(t, failing)
	now := time.Now()
	p.now = func() time.Time { return now }

	_, _ = p.GetBytecode(context.Background(), common.Address{})
	_, _ = p.GetBytecode(context.Background(), common.Address{})
	require.Equal(t, 2, failing.calls)

	// Past the backoff window the endpoint is tried again.
	now = now.Add(90 * time.Second)
	failing.err = nil
	failing.responses = map[string]any{"eth_getCode": "0x6001"}

	code, err := p.GetBytecode(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x01}, code)
	assert.Equal(t, 3, failing.calls)
}

func TestGetCreationBytecodeGethTrace(t *testing.T) {
	factory := common.HexToAddress("0x1111111111111111111111111111111111111111")
	child := common.HexToAddress("0x2222222222222222222222222222222222222222")

	client := &fakeClient{responses: map[string]any{
		"debug_traceTransaction": map[string]any{
			"type": "CALL",
			"to":   factory.Hex(),
			"calls": []map[string]any{
				{
					"type":  "CREATE2",
					"to":    child.Hex(),
					"input": "0x60806040",
				},
			},
		},
	}}
	p := newTestProvider(t, client)

	code, err := p.GetCreationBytecode(context.Background(), common.Hash{0x01}, child)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40}, code)
}

func TestGetCreationBytecodeParityTrace(t *testing.T) {
	deployed := common.HexToAddress("0x3333333333333333333333333333333333333333")

	client := &fakeClient{responses: map[string]any{
		"trace_transaction": []map[string]any{
			{
				"type":   "call",
				"action": map[string]any{},
			},
			{
				"type":   "create",
				"action": map[string]any{"init": "0x600160"},
				"result": map[string]any{"address": deployed.Hex()},
			},
		},
	}}
	chain := &config.ChainConfig{ChainID: 1, Name: "test", RPCs: []config.RPCEndpointConfig{{
		URL:          "http://unused.invalid",
		TraceSupport: config.TraceModeParity,
	}}}
	p := NewChainProvider(chain, slog.Default())
	p.endpoints[0].client = client

	code, err := p.GetCreationBytecode(context.Background(), common.Hash{0x01}, deployed)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x01, 0x60}, code)
}

func TestGetCreationBytecodeNoCreateTrace(t *testing.T) {
	client := &fakeClient{responses: map[string]any{
		"debug_traceTransaction": map[string]any{
			"type": "CALL",
			"to":   common.HexToAddress("0x1").Hex(),
		},
	}}
	p := newTestProvider(t, client)

	_, err := p.GetCreationBytecode(context.Background(), common.Hash{0x01}, common.HexToAddress("0x2"))
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrNoCreateTrace))
}

func TestGetCreationBytecodeMalformedTrace(t *testing.T) {
	client := &fakeClient{responses: map[string]any{
		"debug_traceTransaction": nil,
	}}
	p := newTestProvider(t, client)

	_, err := p.GetCreationBytecode(context.Background(), common.Hash{0x01}, common.HexToAddress("0x2"))
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.ErrAllRPCsFailed) || domain.HasCode(err, domain.ErrMalformedTraceResponse))
}

func TestNoTraceSupportFallsBackToTxInput(t *testing.T) {
	deployed := common.HexToAddress("0x4444444444444444444444444444444444444444")
	client := &fakeClient{responses: map[string]any{
		"eth_getTransactionByHash": map[string]any{
			"hash":  common.Hash{0x01}.Hex(),
			"from":  common.Address{0x09}.Hex(),
			"to":    nil,
			"input": "0x606060",
		},
	}}
	chain := &config.ChainConfig{ChainID: 1, Name: "test", RPCs: []config.RPCEndpointConfig{{
		URL: "http://unused.invalid",
	}}}
	p := NewChainProvider(chain, slog.Default())
	p.endpoints[0].client = client

	code, err := p.GetCreationBytecode(context.Background(), common.Hash{0x01}, deployed)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x60, 0x60}, code)
}
