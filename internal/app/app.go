package app

import (
	"log/slog"

	"github.com/chainproof-org/chainproof/internal/adapters/monitor"
	"github.com/chainproof-org/chainproof/internal/adapters/repository/postgres"
	"github.com/chainproof-org/chainproof/internal/adapters/workerpool"
	"github.com/chainproof-org/chainproof/internal/domain/config"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

// App is the application container holding configuration, long-running
// components and all use cases.
type App struct {
	Config *config.RuntimeConfig
	Log    *slog.Logger

	// Long-running components, started by the serve/monitor commands.
	Store   *postgres.Store
	Pool    *workerpool.Pool
	Monitor *monitor.Monitor

	// Use cases
	VerifyFromJSONInput *usecase.VerifyFromJSONInput
	VerifyFromMetadata  *usecase.VerifyFromMetadata
	VerifyFromExplorer  *usecase.VerifyFromExplorer
	GetJob              *usecase.GetJob
	GetMatch            *usecase.GetMatch
	PaginateMatches     *usecase.PaginateMatches
	MaintainStorage     *usecase.MaintainStorage
	ManageSignatures    *usecase.ManageSignatures
}

// NewApp assembles the application container.
func NewApp(
	cfg *config.RuntimeConfig,
	log *slog.Logger,
	store *postgres.Store,
	pool *workerpool.Pool,
	mon *monitor.Monitor,
	verifyFromJSONInput *usecase.VerifyFromJSONInput,
	verifyFromMetadata *usecase.VerifyFromMetadata,
	verifyFromExplorer *usecase.VerifyFromExplorer,
	getJob *usecase.GetJob,
	getMatch *usecase.GetMatch,
	paginateMatches *usecase.PaginateMatches,
	maintainStorage *usecase.MaintainStorage,
	manageSignatures *usecase.ManageSignatures,
) *App {
	return &App{
		Config:              cfg,
		Log:                 log,
		Store:               store,
		Pool:                pool,
		Monitor:             mon,
		VerifyFromJSONInput: verifyFromJSONInput,
		VerifyFromMetadata:  verifyFromMetadata,
		VerifyFromExplorer:  verifyFromExplorer,
		GetJob:              getJob,
		GetMatch:            getMatch,
		PaginateMatches:     paginateMatches,
		MaintainStorage:     maintainStorage,
		ManageSignatures:    manageSignatures,
	}
}
