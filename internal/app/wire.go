//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"github.com/spf13/viper"

	"github.com/chainproof-org/chainproof/internal/adapters/etherscan"
	"github.com/chainproof-org/chainproof/internal/adapters/monitor"
	"github.com/chainproof-org/chainproof/internal/adapters/repository/postgres"
	"github.com/chainproof-org/chainproof/internal/adapters/rpc"
	"github.com/chainproof-org/chainproof/internal/adapters/signatures"
	"github.com/chainproof-org/chainproof/internal/adapters/verification"
	"github.com/chainproof-org/chainproof/internal/adapters/workerpool"
	"github.com/chainproof-org/chainproof/internal/config"
	"github.com/chainproof-org/chainproof/internal/logging"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

// InitApp creates a fully wired App instance.
func InitApp(v *viper.Viper) (*App, func(), error) {
	wire.Build(
		logging.LoggingSet,
		config.Provider,

		postgres.StoreSet,
		rpc.RPCSet,
		ClientsSet,
		verification.EngineSet,
		etherscan.ImporterSet,
		workerpool.PoolSet,
		monitor.MonitorSet,
		signatures.RegistrySet,

		usecase.UsecaseSet,

		NewApp,
	)
	return nil, nil, nil
}
