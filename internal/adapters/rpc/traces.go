package rpc

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
)

// parityTraceEntry is one element of a trace_transaction response.
type parityTraceEntry struct {
	Type   string `json:"type"`
	Action struct {
		Init hexutil.Bytes `json:"init"`
	} `json:"action"`
	Result *struct {
		Address *common.Address `json:"address"`
	} `json:"result"`
}

// gethCallFrame is one node of a debug_traceTransaction callTracer tree.
type gethCallFrame struct {
	Type  string          `json:"type"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
	Calls []gethCallFrame `json:"calls"`
}

// CreatedContract is one CREATE/CREATE2 frame discovered in a trace.
type CreatedContract struct {
	Address  common.Address
	InitCode []byte
}

// GetCreationBytecode extracts the init bytecode that created address within
// the given transaction, using whichever trace mode the serving endpoint
// advertises.
func (p *ChainProvider) GetCreationBytecode(ctx context.Context, txHash common.Hash, address common.Address) ([]byte, error) {
	if !p.chain.HasTraceSupport() {
		// The creation tx of a directly-deployed contract carries the init
		// code as its input; traces are only required for factory children.
		tx, err := p.GetTransaction(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if tx.To == nil && len(tx.Input) > 0 {
			return tx.Input, nil
		}
		return nil, domain.NewError(domain.ErrNoTraceSupport, map[string]any{
			"chainId": p.chain.ChainID,
		})
	}

	created, err := p.TraceCreations(ctx, txHash)
	if err != nil {
		return nil, err
	}
	for _, c := range created {
		if c.Address == address {
			return c.InitCode, nil
		}
	}
	return nil, domain.NewError(domain.ErrNoCreateTrace, map[string]any{
		"chainId": p.chain.ChainID,
		"tx":      txHash.Hex(),
		"address": address.Hex(),
	})
}

// TraceCreations enumerates every CREATE/CREATE2 in a transaction, including
// nested factory children, in trace order.
func (p *ChainProvider) TraceCreations(ctx context.Context, txHash common.Hash) ([]CreatedContract, error) {
	var created []CreatedContract
	err := p.call(ctx, true, func(ctx context.Context, client rpcClient, cfg config.RPCEndpointConfig) error {
		switch cfg.TraceSupport {
		case config.TraceModeParity:
			var entries []parityTraceEntry
			if err := client.CallContext(ctx, &entries, "trace_transaction", txHash); err != nil {
				return err
			}
			created = parityCreations(entries)
			return nil
		case config.TraceModeGeth:
			var root *gethCallFrame
			err := client.CallContext(ctx, &root, "debug_traceTransaction", txHash, map[string]any{"tracer": "callTracer"})
			if err != nil {
				return err
			}
			if root == nil || root.Type == "" {
				return domain.NewError(domain.ErrMalformedTraceResponse, map[string]any{
					"tx": txHash.Hex(),
				})
			}
			created = created[:0]
			collectGethCreations(*root, &created)
			return nil
		default:
			return domain.NewError(domain.ErrNoTraceSupport, map[string]any{
				"chainId": p.chain.ChainID,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func parityCreations(entries []parityTraceEntry) []CreatedContract {
	var out []CreatedContract
	for _, entry := range entries {
		if !strings.EqualFold(entry.Type, "create") {
			continue
		}
		if entry.Result == nil || entry.Result.Address == nil || len(entry.Action.Init) == 0 {
			continue
		}
		out = append(out, CreatedContract{
			Address:  *entry.Result.Address,
			InitCode: entry.Action.Init,
		})
	}
	return out
}

// collectGethCreations walks the call tree depth-first.
func collectGethCreations(frame gethCallFrame, out *[]CreatedContract) {
	t := strings.ToUpper(frame.Type)
	if (t == "CREATE" || t == "CREATE2") && frame.To != nil && len(frame.Input) > 0 {
		*out = append(*out, CreatedContract{
			Address:  *frame.To,
			InitCode: frame.Input,
		})
	}
	for _, child := range frame.Calls {
		collectGethCreations(child, out)
	}
}
