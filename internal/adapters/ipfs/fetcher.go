package ipfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/chainproof-org/chainproof/internal/domain/config"
)

// Fetcher retrieves documents from IPFS through configured HTTP gateways,
// trying each gateway in order with per-gateway timeout and retries.
type Fetcher struct {
	log      *slog.Logger
	gateways []string
	timeout  time.Duration
	headers  map[string]string
	client   *retryablehttp.Client
}

// NewFetcher builds a gateway fetcher from runtime configuration.
func NewFetcher(cfg *config.RuntimeConfig, log *slog.Logger) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.IPFS.Retries
	client.Logger = nil

	timeout := cfg.IPFS.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Fetcher{
		log:      log.With("component", "IPFSFetcher"),
		gateways: cfg.IPFS.Gateways,
		timeout:  timeout,
		headers:  cfg.IPFS.Headers,
		client:   client,
	}
}

// Fetch retrieves the document behind a CID, returning the first gateway
// response that succeeds.
func (f *Fetcher) Fetch(ctx context.Context, cid string) ([]byte, error) {
	if len(f.gateways) == 0 {
		return nil, fmt.Errorf("no ipfs gateways configured")
	}

	var lastErr error
	for _, gateway := range f.gateways {
		data, err := f.fetchOne(ctx, gateway, cid)
		if err != nil {
			f.log.Debug("gateway fetch failed", "gateway", gateway, "cid", cid, "error", err)
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("all ipfs gateways failed for %s: %w", cid, lastErr)
}

func (f *Fetcher) fetchOne(ctx context.Context, gateway, cid string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	url := strings.TrimSuffix(gateway, "/") + "/" + cid
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, gateway)
	}
	return io.ReadAll(resp.Body)
}

// base58 alphabet used by CIDv0 (base58btc).
const b58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// CIDFromMultihash renders the raw multihash bytes embedded in a CBOR
// auxdata trailer as a CIDv0 string.
func CIDFromMultihash(multihash []byte) string {
	if len(multihash) == 0 {
		return ""
	}
	// Count leading zero bytes; each maps to a leading '1'.
	zeros := 0
	for _, b := range multihash {
		if b != 0 {
			break
		}
		zeros++
	}

	n := new(big.Int).SetBytes(multihash)
	radix := big.NewInt(58)
	mod := new(big.Int)

	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, radix, mod)
		out = append(out, b58Alphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, '1')
	}
	// Digits were produced least-significant first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
