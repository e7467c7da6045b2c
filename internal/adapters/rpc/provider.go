package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
)

const (
	breakerBaseBackoff = 10 * time.Second
	breakerMaxBackoff  = 60 * time.Second
	defaultCallTimeout = 10 * time.Second
)

// rpcClient is the slice of go-ethereum's rpc.Client the provider uses;
// tests substitute fakes.
type rpcClient interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// endpoint is one RPC URL plus its health state. Health is mutated under the
// endpoint's own lock so one slow endpoint never blocks the chain.
type endpoint struct {
	cfg config.RPCEndpointConfig

	mu                  sync.Mutex
	client              rpcClient
	consecutiveFailures int
	nextRetryTime       time.Time
	retriedInBackoff    bool
}

// healthy reports whether the endpoint is outside its backoff window.
func (e *endpoint) healthy(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.After(e.nextRetryTime) || now.Equal(e.nextRetryTime)
}

// allowLastResort reports whether an unhealthy endpoint may still be tried
// as the only remaining candidate. One retry is allowed per backoff window.
func (e *endpoint) allowLastResort() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retriedInBackoff {
		return false
	}
	e.retriedInBackoff = true
	return true
}

func (e *endpoint) markSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures = 0
	e.nextRetryTime = time.Time{}
	e.retriedInBackoff = false
}

func (e *endpoint) markFailure(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures++
	backoff := breakerBaseBackoff << (e.consecutiveFailures - 1)
	if backoff > breakerMaxBackoff || backoff <= 0 {
		backoff = breakerMaxBackoff
	}
	e.nextRetryTime = now.Add(backoff)
}

// clearBackoffExpiry resets the per-window retry flag once the backoff
// window has passed.
func (e *endpoint) clearBackoffExpiry(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now.After(e.nextRetryTime) {
		e.retriedInBackoff = false
	}
}

func (e *endpoint) getClient() (rpcClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	url, err := e.cfg.ResolveURL()
	if err != nil {
		return nil, err
	}
	var opts []gethrpc.ClientOption
	if len(e.cfg.Headers) > 0 {
		headers := make(http.Header, len(e.cfg.Headers))
		for k, v := range e.cfg.Headers {
			headers.Set(k, v)
		}
		opts = append(opts, gethrpc.WithHeaders(headers))
	}
	client, err := gethrpc.DialOptions(context.Background(), url, opts...)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

var (
	rpcCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainproof_rpc_calls_total",
		Help: "RPC calls by chain and outcome.",
	}, []string{"chain", "outcome"})
	rpcEndpointSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainproof_rpc_endpoint_skips_total",
		Help: "Endpoints skipped by the circuit breaker.",
	})
)

func init() {
	prometheus.MustRegister(rpcCallsTotal, rpcEndpointSkips)
}

// ChainProvider serves reads for one chain over an ordered endpoint list
// with per-endpoint circuit breaking.
type ChainProvider struct {
	log       *slog.Logger
	chain     *config.ChainConfig
	endpoints []*endpoint

	// CallTimeout bounds a single endpoint attempt.
	CallTimeout time.Duration

	now func() time.Time
}

// NewChainProvider builds a provider for one configured chain.
func NewChainProvider(chain *config.ChainConfig, log *slog.Logger) *ChainProvider {
	p := &ChainProvider{
		log:         log.With("component", "ChainProvider", "chain", chain.ChainID),
		chain:       chain,
		CallTimeout: defaultCallTimeout,
		now:         time.Now,
	}
	for _, cfg := range chain.RPCs {
		p.endpoints = append(p.endpoints, &endpoint{cfg: cfg})
	}
	return p
}

// ChainID returns the chain this provider serves.
func (p *ChainProvider) ChainID() uint64 {
	return p.chain.ChainID
}

// call runs fn against endpoints in configured order, honoring the circuit
// breaker. needTrace restricts candidates to trace-capable endpoints.
func (p *ChainProvider) call(ctx context.Context, needTrace bool, fn func(ctx context.Context, client rpcClient, cfg config.RPCEndpointConfig) error) error {
	var candidates []*endpoint
	for _, ep := range p.endpoints {
		if needTrace && ep.cfg.TraceSupport == "" {
			continue
		}
		candidates = append(candidates, ep)
	}
	if len(candidates) == 0 {
		return domain.NewError(domain.ErrAllRPCsFailed, map[string]any{
			"chainId": p.chain.ChainID,
			"reason":  "no candidate endpoints",
		})
	}

	now := p.now()
	var healthy, backedOff []*endpoint
	for _, ep := range candidates {
		ep.clearBackoffExpiry(now)
		if ep.healthy(now) {
			healthy = append(healthy, ep)
		} else {
			backedOff = append(backedOff, ep)
		}
	}

	tryOne := func(ep *endpoint) error {
		client, err := ep.getClient()
		if err != nil {
			ep.markFailure(p.now())
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
		defer cancel()
		if err := fn(callCtx, client, ep.cfg); err != nil {
			ep.markFailure(p.now())
			rpcCallsTotal.WithLabelValues(p.chain.Name, "failure").Inc()
			return err
		}
		ep.markSuccess()
		rpcCallsTotal.WithLabelValues(p.chain.Name, "success").Inc()
		return nil
	}

	var lastErr error
	for _, ep := range healthy {
		if err := tryOne(ep); err != nil {
			p.log.Warn("rpc endpoint failed", "error", err)
			lastErr = err
			continue
		}
		return nil
	}

	// All healthy endpoints exhausted; a backed-off endpoint is still tried
	// once per backoff window when nothing else remains.
	if len(healthy) == 0 {
		for _, ep := range backedOff {
			if !ep.allowLastResort() {
				rpcEndpointSkips.Inc()
				continue
			}
			if err := tryOne(ep); err != nil {
				p.log.Warn("rpc endpoint failed (last resort)", "error", err)
				lastErr = err
				continue
			}
			return nil
		}
	} else {
		rpcEndpointSkips.Add(float64(len(backedOff)))
	}

	data := map[string]any{"chainId": p.chain.ChainID}
	if lastErr != nil {
		data["lastError"] = lastErr.Error()
	}
	return domain.WrapError(domain.ErrAllRPCsFailed, lastErr, data)
}

// GetBytecode fetches the runtime code deployed at address.
func (p *ChainProvider) GetBytecode(ctx context.Context, address common.Address) ([]byte, error) {
	var code hexutil.Bytes
	err := p.call(ctx, false, func(ctx context.Context, client rpcClient, _ config.RPCEndpointConfig) error {
		return client.CallContext(ctx, &code, "eth_getCode", address, "latest")
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

// Transaction is the subset of eth_getTransactionByHash the verifier needs.
type Transaction struct {
	Hash             common.Hash     `json:"hash"`
	From             common.Address  `json:"from"`
	To               *common.Address `json:"to"`
	Input            hexutil.Bytes   `json:"input"`
	BlockNumber      *hexutil.Big    `json:"blockNumber"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
}

// GetTransaction fetches a transaction by hash.
func (p *ChainProvider) GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var tx *Transaction
	err := p.call(ctx, false, func(ctx context.Context, client rpcClient, _ config.RPCEndpointConfig) error {
		if err := client.CallContext(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
			return err
		}
		if tx == nil {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Receipt is the subset of eth_getTransactionReceipt the monitor needs.
type Receipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	ContractAddress *common.Address `json:"contractAddress"`
	Status          hexutil.Uint64  `json:"status"`
}

// GetTransactionReceipt fetches a receipt by transaction hash.
func (p *ChainProvider) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var receipt *Receipt
	err := p.call(ctx, false, func(ctx context.Context, client rpcClient, _ config.RPCEndpointConfig) error {
		if err := client.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
			return err
		}
		if receipt == nil {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Block is the subset of eth_getBlockByNumber the monitor consumes, fetched
// with full transaction objects.
type Block struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Transactions []Transaction  `json:"transactions"`
}

// GetBlock fetches a block by number with its transactions.
func (p *ChainProvider) GetBlock(ctx context.Context, number uint64) (*Block, error) {
	var block *Block
	err := p.call(ctx, false, func(ctx context.Context, client rpcClient, _ config.RPCEndpointConfig) error {
		if err := client.CallContext(ctx, &block, "eth_getBlockByNumber", hexutil.Uint64(number), true); err != nil {
			return err
		}
		if block == nil {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

// BlockNumber returns the chain head.
func (p *ChainProvider) BlockNumber(ctx context.Context) (uint64, error) {
	var number hexutil.Uint64
	err := p.call(ctx, false, func(ctx context.Context, client rpcClient, _ config.RPCEndpointConfig) error {
		return client.CallContext(ctx, &number, "eth_blockNumber")
	})
	return uint64(number), err
}
