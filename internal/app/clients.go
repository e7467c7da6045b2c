package app

import (
	"github.com/google/wire"

	"github.com/chainproof-org/chainproof/internal/adapters/rpc"
	"github.com/chainproof-org/chainproof/internal/adapters/verification"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

// chainClients adapts the RPC registry to the consumer-side interfaces of
// the engine and the use cases.
type chainClients struct {
	registry *rpc.Registry
}

func newChainClients(registry *rpc.Registry) *chainClients {
	return &chainClients{registry: registry}
}

func (c *chainClients) Client(chainID uint64) (verification.ChainClient, error) {
	return c.registry.Provider(chainID)
}

func (c *chainClients) Provider(chainID uint64) (usecase.ChainProvider, error) {
	return c.registry.Provider(chainID)
}

// ClientsSet provides the bridge to wire.
var ClientsSet = wire.NewSet(
	newChainClients,
	wire.Bind(new(verification.ChainClients), new(*chainClients)),
	wire.Bind(new(usecase.ChainProviders), new(*chainClients)),
)
