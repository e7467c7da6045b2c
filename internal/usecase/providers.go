package usecase

import "github.com/google/wire"

// UsecaseSet provides every use case to wire.
var UsecaseSet = wire.NewSet(
	NewVerifyFromJSONInput,
	NewVerifyFromMetadata,
	NewVerifyFromExplorer,
	NewGetJob,
	NewGetMatch,
	NewPaginateMatches,
	NewMaintainStorage,
	NewManageSignatures,
)
