package monitor

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainproof-org/chainproof/internal/adapters/bytecode"
	"github.com/chainproof-org/chainproof/internal/adapters/ipfs"
	"github.com/chainproof-org/chainproof/internal/adapters/rpc"
	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

var (
	blocksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainproof_monitor_blocks_total",
		Help: "Blocks scanned per chain.",
	}, []string{"chain"})
	contractsDiscovered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainproof_monitor_contracts_total",
		Help: "Contract deployments discovered per chain and kind.",
	}, []string{"chain", "kind"})
	submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainproof_monitor_submissions_total",
		Help: "Verification submissions by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(blocksProcessed, contractsDiscovered, submissionsTotal)
}

// ChainSource is the per-chain RPC surface the monitor scans.
type ChainSource interface {
	ChainID() uint64
	BlockNumber(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, number uint64) (*rpc.Block, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*rpc.Receipt, error)
	TraceCreations(ctx context.Context, txHash common.Hash) ([]rpc.CreatedContract, error)
	GetBytecode(ctx context.Context, address common.Address) ([]byte, error)
}

// MetadataFetcher retrieves metadata documents by IPFS CID.
type MetadataFetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// Monitor scans monitored chains for new contract deployments and submits
// metadata-assembled verifications to the configured sourcify servers.
type Monitor struct {
	log      *slog.Logger
	cfg      *config.RuntimeConfig
	analyzer *bytecode.Analyzer
	fetcher  MetadataFetcher
	http     *http.Client

	sources map[uint64]ChainSource

	wg sync.WaitGroup

	// similarityDelay lets the test shrink the 15s grace period.
	similarityDelay time.Duration
}

// NewMonitor builds one loop per chain with MonitorEnabled set.
func NewMonitor(cfg *config.RuntimeConfig, registry *rpc.Registry, analyzer *bytecode.Analyzer, fetcher *ipfs.Fetcher, log *slog.Logger) *Monitor {
	m := &Monitor{
		log:             log.With("component", "Monitor"),
		cfg:             cfg,
		analyzer:        analyzer,
		fetcher:         fetcher,
		http:            &http.Client{Timeout: 30 * time.Second},
		sources:         map[uint64]ChainSource{},
		similarityDelay: cfg.SimilarityRequestDelay,
	}
	if m.similarityDelay == 0 {
		m.similarityDelay = 15 * time.Second
	}
	for chainID, chain := range cfg.Chains {
		if !chain.MonitorEnabled {
			continue
		}
		provider, err := registry.Provider(chainID)
		if err != nil {
			continue
		}
		m.sources[chainID] = provider
	}
	return m
}

// Run starts one loop per monitored chain and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	for chainID, source := range m.sources {
		chain := m.cfg.Chains[chainID]
		loop := newChainLoop(m, chain, source)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			loop.run(ctx)
		}()
	}
	m.wg.Wait()
}

// chainLoop scans one chain serially, block by block.
type chainLoop struct {
	m      *Monitor
	log    *slog.Logger
	chain  *config.ChainConfig
	source ChainSource

	lastBlockSeen uint64
	interval      time.Duration
}

func newChainLoop(m *Monitor, chain *config.ChainConfig, source ChainSource) *chainLoop {
	interval := m.cfg.Monitor.BlockInterval
	if interval == 0 {
		interval = 10 * time.Second
	}
	return &chainLoop{
		m:             m,
		log:           m.log.With("chain", chain.ChainID),
		chain:         chain,
		source:        source,
		lastBlockSeen: chain.MonitorStartBlock,
		interval:      interval,
	}
}

func (l *chainLoop) run(ctx context.Context) {
	if l.lastBlockSeen == 0 {
		head, err := l.source.BlockNumber(ctx)
		if err != nil {
			l.log.Error("fetch chain head", "error", err)
		} else {
			l.lastBlockSeen = head
		}
	}
	l.log.Info("monitor loop started", "fromBlock", l.lastBlockSeen, "interval", l.interval)

	timer := time.NewTimer(l.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		l.tick(ctx)
		timer.Reset(l.interval)
	}
}

// tick advances at most one block and adapts the polling interval.
func (l *chainLoop) tick(ctx context.Context) {
	head, err := l.source.BlockNumber(ctx)
	if err != nil {
		l.log.Warn("fetch chain head", "error", err)
		l.interval = l.adapt(l.interval, true)
		return
	}
	if head <= l.lastBlockSeen {
		l.interval = l.adapt(l.interval, true)
		return
	}

	next := l.lastBlockSeen + 1
	block, err := l.source.GetBlock(ctx, next)
	if err != nil {
		l.log.Warn("fetch block", "number", next, "error", err)
		l.interval = l.adapt(l.interval, true)
		return
	}
	l.processBlock(ctx, block)
	l.lastBlockSeen = next
	l.interval = l.adapt(l.interval, false)
	blocksProcessed.WithLabelValues(l.chain.Name).Inc()
}

// adapt grows the interval while the chain is quiet and shrinks it while
// blocks keep arriving, clamped to the configured bounds.
func (l *chainLoop) adapt(current time.Duration, quiet bool) time.Duration {
	factor := l.m.cfg.Monitor.BlockIntervalFactor
	if factor <= 1 {
		factor = 1.1
	}
	next := current
	if quiet {
		next = time.Duration(float64(current) * factor)
	} else {
		next = time.Duration(float64(current) / factor)
	}
	if lower := l.m.cfg.Monitor.BlockIntervalLower; lower > 0 && next < lower {
		next = lower
	}
	if upper := l.m.cfg.Monitor.BlockIntervalUpper; upper > 0 && next > upper {
		next = upper
	}
	return next
}

// deployment is one discovered contract creation within a block.
type deployment struct {
	address common.Address
	txHash  common.Hash
	kind    string
}

// processBlock enumerates the block's deployments and verifies each one.
// Receipt and bytecode fetches fan out up to the configured bound; the
// block itself completes before the loop advances.
func (l *chainLoop) processBlock(ctx context.Context, block *rpc.Block) {
	deployments := l.discover(ctx, block)
	if len(deployments) == 0 {
		return
	}
	l.log.Info("deployments discovered", "block", uint64(block.Number), "count", len(deployments))

	fanOut := l.m.cfg.Monitor.FanOut
	if fanOut <= 0 {
		fanOut = 4
	}
	sem := make(chan struct{}, fanOut)
	var wg sync.WaitGroup
	for _, d := range deployments {
		wg.Add(1)
		sem <- struct{}{}
		go func(d deployment) {
			defer wg.Done()
			defer func() { <-sem }()
			l.handleDeployment(ctx, d)
		}(d)
	}
	wg.Wait()
}

// discover finds top-level deployments from receipts and, when enabled,
// factory children from creation traces.
func (l *chainLoop) discover(ctx context.Context, block *rpc.Block) []deployment {
	var out []deployment
	seen := map[common.Address]bool{}

	for _, tx := range block.Transactions {
		if tx.To != nil {
			continue
		}
		receipt, err := l.source.GetTransactionReceipt(ctx, tx.Hash)
		if err != nil || receipt.ContractAddress == nil || receipt.Status != 1 {
			continue
		}
		addr := *receipt.ContractAddress
		seen[addr] = true
		out = append(out, deployment{address: addr, txHash: tx.Hash, kind: "top_level"})
		contractsDiscovered.WithLabelValues(l.chain.Name, "top_level").Inc()
	}

	if !l.m.cfg.MonitorFactories || !l.chain.HasTraceSupport() {
		return out
	}
	for _, tx := range block.Transactions {
		if tx.To == nil {
			// Top-level creations were already collected from receipts;
			// their traces would only repeat the same address.
			continue
		}
		created, err := l.source.TraceCreations(ctx, tx.Hash)
		if err != nil {
			continue
		}
		for _, c := range created {
			if seen[c.Address] {
				continue
			}
			seen[c.Address] = true
			out = append(out, deployment{address: c.Address, txHash: tx.Hash, kind: "factory_child"})
			contractsDiscovered.WithLabelValues(l.chain.Name, "factory_child").Inc()
		}
	}
	return out
}

// handleDeployment assembles a metadata verification for one contract and
// submits it; when assembly is impossible it falls back to the similarity
// trigger.
func (l *chainLoop) handleDeployment(ctx context.Context, d deployment) {
	code, err := l.source.GetBytecode(ctx, d.address)
	if err != nil || len(code) == 0 {
		l.log.Debug("bytecode unavailable", "address", d.address, "error", err)
		return
	}

	metadata, sources, err := l.m.assemble(ctx, code)
	if err != nil {
		l.log.Debug("metadata assembly failed", "address", d.address, "error", err)
		l.m.triggerSimilarityLater(ctx, l.chain.ChainID, d.address)
		return
	}

	if err := l.m.submitVerification(ctx, l.chain.ChainID, d.address, metadata, sources); err != nil {
		l.log.Warn("verification submission failed", "address", d.address, "error", err)
		submissionsTotal.WithLabelValues("failed").Inc()
		return
	}
	submissionsTotal.WithLabelValues("submitted").Inc()
	l.log.Info("verification submitted", "address", d.address, "kind", d.kind, "tx", d.txHash)
}

// assemble extracts the IPFS CID from the runtime auxdata trailer, fetches
// the metadata document and resolves every pinned source.
func (m *Monitor) assemble(ctx context.Context, code []byte) ([]byte, map[string]string, error) {
	region, ok := m.analyzer.TailScan(code)
	if !ok {
		return nil, nil, fmt.Errorf("no cbor auxdata trailer")
	}
	raw, err := decodeRegion(region.Value)
	if err != nil {
		return nil, nil, err
	}
	fields, err := m.analyzer.DecodeAuxdata(raw)
	if err != nil {
		return nil, nil, err
	}
	if len(fields.IPFS) == 0 {
		return nil, nil, fmt.Errorf("auxdata carries no ipfs hash")
	}
	cid := ipfs.CIDFromMultihash(fields.IPFS)

	metadataRaw, err := m.fetcher.Fetch(ctx, cid)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch metadata %s: %w", cid, err)
	}
	var md domain.Metadata
	if err := json.Unmarshal(metadataRaw, &md); err != nil {
		return nil, nil, fmt.Errorf("metadata %s is not valid JSON: %w", cid, err)
	}

	sources := make(map[string]string, len(md.Sources))
	for path, src := range md.Sources {
		if src.Content != "" {
			sources[path] = src.Content
			continue
		}
		srcCID := src.IPFSCID()
		if srcCID == "" {
			return nil, nil, fmt.Errorf("source %s has no content and no ipfs url", path)
		}
		content, err := m.fetcher.Fetch(ctx, srcCID)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch source %s: %w", path, err)
		}
		sources[path] = string(content)
	}
	return metadataRaw, sources, nil
}

func decodeRegion(value string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(value, "0x"))
}

// submitVerification posts the assembled files to each configured sourcify
// server, retrying per the configured request options.
func (m *Monitor) submitVerification(ctx context.Context, chainID uint64, address common.Address, metadata []byte, sources map[string]string) error {
	files := map[string]string{"metadata.json": string(metadata)}
	for path, content := range sources {
		files[path] = content
	}
	body, err := json.Marshal(map[string]any{
		"address": address.Hex(),
		"chain":   strconv.FormatUint(chainID, 10),
		"files":   files,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for _, server := range m.cfg.SourcifyServerURLs {
		if err := m.postWithRetry(ctx, strings.TrimSuffix(server, "/")+"/", body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no sourcify servers configured")
	}
	return lastErr
}

func (m *Monitor) postWithRetry(ctx context.Context, url string, body []byte) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(m.retryDelay()), uint64(m.maxRetries())), ctx)
	return backoff.Retry(func() error {
		return m.post(ctx, url, body)
	}, policy)
}

func (m *Monitor) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	if resp.StatusCode >= 300 {
		return backoff.Permanent(fmt.Errorf("HTTP %d from %s", resp.StatusCode, url))
	}
	return nil
}

func (m *Monitor) retryDelay() time.Duration {
	if d := m.cfg.SourcifyRequestOptions.RetryDelay; d > 0 {
		return d
	}
	return 2 * time.Second
}

func (m *Monitor) maxRetries() int {
	if n := m.cfg.SourcifyRequestOptions.MaxRetries; n > 0 {
		return n
	}
	return 3
}

// triggerSimilarityLater schedules the similarity fallback after the grace
// delay, giving explorers time to index the fresh deployment.
func (m *Monitor) triggerSimilarityLater(ctx context.Context, chainID uint64, address common.Address) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.similarityDelay):
		}
		if err := m.Trigger(ctx, chainID, address); err != nil {
			m.log.Debug("similarity trigger failed", "chainId", chainID, "address", address, "error", err)
		}
	}()
}

// Trigger fires the fire-and-forget similarity verification request against
// the first server that accepts it.
func (m *Monitor) Trigger(ctx context.Context, chainID uint64, address common.Address) error {
	var lastErr error
	for _, server := range m.cfg.SourcifyServerURLs {
		url := fmt.Sprintf("%s/v2/verify/similarity/%d/%s", strings.TrimSuffix(server, "/"), chainID, address.Hex())
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return err
		}
		resp, err := m.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no sourcify servers configured")
	}
	return lastErr
}

// MonitorSet provides the monitor to wire.
var MonitorSet = wire.NewSet(
	NewMonitor,
	wire.Bind(new(usecase.SimilarityTrigger), new(*Monitor)),
)
