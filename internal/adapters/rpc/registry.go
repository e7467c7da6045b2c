package rpc

import (
	"fmt"
	"log/slog"

	"github.com/google/wire"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
)

// Registry holds one provider per configured chain.
type Registry struct {
	providers map[uint64]*ChainProvider
}

// NewRegistry builds providers for every configured chain.
func NewRegistry(cfg *config.RuntimeConfig, log *slog.Logger) *Registry {
	r := &Registry{providers: make(map[uint64]*ChainProvider, len(cfg.Chains))}
	for chainID, chain := range cfg.Chains {
		r.providers[chainID] = NewChainProvider(chain, log)
	}
	return r
}

// Provider resolves the access layer for a chain.
func (r *Registry) Provider(chainID uint64) (*ChainProvider, error) {
	p, ok := r.providers[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d: %w", chainID, domain.ErrInvalidChainID)
	}
	return p, nil
}

// ChainIDs lists the configured chains.
func (r *Registry) ChainIDs() []uint64 {
	out := make([]uint64, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	return out
}

// RPCSet provides the registry to wire.
var RPCSet = wire.NewSet(NewRegistry)
