package verification

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/wire"

	"github.com/chainproof-org/chainproof/internal/adapters/bytecode"
	"github.com/chainproof-org/chainproof/internal/adapters/compiler"
	"github.com/chainproof-org/chainproof/internal/adapters/etherscan"
	"github.com/chainproof-org/chainproof/internal/adapters/ipfs"
	"github.com/chainproof-org/chainproof/internal/adapters/rpc"
	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

// CompilerInvoker is the slice of the compiler adapter the engine invokes.
type CompilerInvoker interface {
	Compile(ctx context.Context, language domain.Language, version string, input *domain.StandardJSONInput, opts compiler.CompileOptions) (*domain.StandardJSONOutput, error)
}

// ChainClient is the per-chain RPC surface the pipeline reads from.
type ChainClient interface {
	ChainID() uint64
	GetBytecode(ctx context.Context, address common.Address) ([]byte, error)
	GetCreationBytecode(ctx context.Context, txHash common.Hash, address common.Address) ([]byte, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*rpc.Transaction, error)
}

// ChainClients resolves the client for a chain id.
type ChainClients interface {
	Client(chainID uint64) (ChainClient, error)
}

// SourceFetcher retrieves a metadata or source document by IPFS CID.
type SourceFetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// CreationTxFinder discovers a contract's creation transaction through an
// address-indexed explorer API.
type CreationTxFinder interface {
	FindCreationTx(ctx context.Context, chainID uint64, address common.Address) (*common.Hash, error)
}

// Engine runs the compile-compare-classify pipeline.
type Engine struct {
	log      *slog.Logger
	invoker  CompilerInvoker
	clients  ChainClients
	analyzer *bytecode.Analyzer
	fetcher  SourceFetcher
	txFinder CreationTxFinder
}

// NewEngine wires the pipeline dependencies.
func NewEngine(invoker CompilerInvoker, clients ChainClients, analyzer *bytecode.Analyzer, fetcher SourceFetcher, txFinder CreationTxFinder, log *slog.Logger) *Engine {
	return &Engine{
		log:      log.With("component", "VerificationEngine"),
		invoker:  invoker,
		clients:  clients,
		analyzer: analyzer,
		fetcher:  fetcher,
		txFinder: txFinder,
	}
}

// VerifyFromJSONInput compiles the given standard JSON input and verifies
// the target contract against the chain.
func (e *Engine) VerifyFromJSONInput(ctx context.Context, req *domain.JSONInputRequest) (*domain.VerificationExport, error) {
	comp, compileTime, err := e.compile(ctx, req, false)
	if err != nil {
		return nil, err
	}
	return e.verify(ctx, req, comp, compileTime)
}

// verify runs steps 2..8 of the pipeline on an already-built compilation.
func (e *Engine) verify(ctx context.Context, req *domain.JSONInputRequest, comp *domain.Compilation, compileTime time.Duration) (*domain.VerificationExport, error) {
	client, err := e.clients.Client(req.ChainID)
	if err != nil {
		return nil, err
	}

	onchainRuntime, err := client.GetBytecode(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	if len(onchainRuntime) == 0 {
		return nil, domain.NewError(domain.ErrContractNotDeployed, map[string]any{
			"chainId": req.ChainID,
			"address": req.Address.Hex(),
		})
	}

	// An ERC-5202 blueprint carries the init code inside a container; the
	// comparable runtime is the recompiled creation code.
	recompiledRuntime := comp.RuntimeBytecode
	runtimeArtifacts := comp.RuntimeArtifacts
	if bytecode.IsBlueprint(onchainRuntime) {
		if preamble, err := bytecode.ParseBlueprintPreamble(onchainRuntime); err == nil {
			onchainRuntime = preamble.InitCode
			recompiledRuntime = comp.CreationBytecode
			runtimeArtifacts = comp.CreationArtifacts
		}
	}

	runtime := e.matchRuntime(onchainRuntime, recompiledRuntime, runtimeArtifacts)

	var (
		creation        sideResult
		onchainCreation []byte
		deployment      domain.DeploymentInfo
	)
	creationTxHash := req.CreationTxHash
	if creationTxHash == nil && e.txFinder != nil {
		if hash, err := e.txFinder.FindCreationTx(ctx, req.ChainID, req.Address); err == nil {
			creationTxHash = hash
		}
	}
	if creationTxHash != nil {
		deployment.TransactionHash = creationTxHash
		onchainCreation, err = client.GetCreationBytecode(ctx, *creationTxHash, req.Address)
		if err != nil {
			// Runtime-only verification still stands; creation stays unmatched.
			e.log.Debug("creation bytecode unavailable", "error", err, "address", req.Address)
		} else {
			creation = e.matchCreation(onchainCreation, comp.CreationBytecode, comp.CreationArtifacts)
		}
		e.fillDeploymentInfo(ctx, client, *creationTxHash, &deployment)
	}

	if !runtime.Match.IsMatch() && !creation.Match.IsMatch() {
		// Partial artifacts ride on the error so failed jobs stay debuggable.
		data := map[string]any{
			"chainId":                req.ChainID,
			"address":                req.Address.Hex(),
			"onchainRuntimeCode":     hexutil.Encode(onchainRuntime),
			"recompiledRuntimeCode":  hexutil.Encode(recompiledRuntime),
			"recompiledCreationCode": hexutil.Encode(comp.CreationBytecode),
		}
		if onchainCreation != nil {
			data["onchainCreationCode"] = hexutil.Encode(onchainCreation)
		}
		if creationTxHash != nil {
			data["creationTransactionHash"] = creationTxHash.Hex()
		}
		return nil, domain.NewError(domain.ErrBytecodeMismatch, data)
	}

	libraryMap := runtime.LibraryMap
	for k, v := range creation.LibraryMap {
		libraryMap[k] = v
	}

	sources := make(map[string]string, len(comp.JSONInput.Sources))
	for path, src := range comp.JSONInput.Sources {
		sources[path] = src.Content
	}

	export := &domain.VerificationExport{
		Address: req.Address,
		ChainID: req.ChainID,
		Status: domain.VerificationStatus{
			RuntimeMatch:  runtime.Match,
			CreationMatch: creation.Match,
		},
		OnchainRuntimeBytecode:     onchainRuntime,
		OnchainCreationBytecode:    onchainCreation,
		RecompiledRuntimeBytecode:  recompiledRuntime,
		RecompiledCreationBytecode: comp.CreationBytecode,
		RuntimeTransformations:     runtime.Transformations,
		CreationTransformations:    creation.Transformations,
		RuntimeValues:              runtime.Values,
		CreationValues:             creation.Values,
		RuntimeMetadataMatch:       runtime.Match.IsMatch() && runtime.MetadataMatch,
		CreationMetadataMatch:      creation.Match.IsMatch() && creation.MetadataMatch,
		LibraryMap:                 libraryMap,
		Deployment:                 deployment,
		Compiler:                   comp.Language.Compiler(),
		Language:                   comp.Language,
		CompilerVersion:            comp.CompilerVersion,
		Target:                     comp.Target,
		CompilerSettings:           comp.JSONInput.Settings,
		Sources:                    sources,
		CompilationArtifacts:       comp.CompilationArtifacts,
		CreationArtifacts:          comp.CreationArtifacts,
		RuntimeArtifacts:           runtimeArtifacts,
		CompilationTime:            compileTime,
		VerifiedAt:                 time.Now().UTC(),
	}
	return export, nil
}

// fillDeploymentInfo enriches the export with what the creation transaction
// reveals. Best-effort: a missing transaction never fails the verification.
func (e *Engine) fillDeploymentInfo(ctx context.Context, client ChainClient, txHash common.Hash, info *domain.DeploymentInfo) {
	tx, err := client.GetTransaction(ctx, txHash)
	if err != nil {
		return
	}
	deployer := tx.From
	info.Deployer = &deployer
	if tx.BlockNumber != nil {
		n := tx.BlockNumber.ToInt().Uint64()
		info.BlockNumber = &n
	}
	if tx.TransactionIndex != nil {
		idx := uint64(*tx.TransactionIndex)
		info.TransactionIndex = &idx
	}
}

// EngineSet provides the engine to wire.
var EngineSet = wire.NewSet(
	bytecode.NewAnalyzer,
	compiler.NewInvoker,
	ipfs.NewFetcher,
	NewEngine,
	wire.Bind(new(CompilerInvoker), new(*compiler.Invoker)),
	wire.Bind(new(SourceFetcher), new(*ipfs.Fetcher)),
	wire.Bind(new(CreationTxFinder), new(*etherscan.Importer)),
	wire.Bind(new(usecase.VerificationEngine), new(*Engine)),
)
