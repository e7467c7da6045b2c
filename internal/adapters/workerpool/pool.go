package workerpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chainproof-org/chainproof/internal/domain"
	"github.com/chainproof-org/chainproof/internal/domain/config"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

var (
	jobsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainproof_verification_jobs_started_total",
		Help: "Verification jobs accepted into the pool by kind.",
	}, []string{"kind"})
	jobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainproof_verification_jobs_finished_total",
		Help: "Terminal verification jobs by kind and outcome.",
	}, []string{"kind", "outcome"})
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chainproof_verification_queue_depth",
		Help: "Jobs waiting for a worker.",
	})
	jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainproof_verification_job_seconds",
		Help:    "Wall-clock duration of a verification job.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(jobsStarted, jobsFinished, queueDepth, jobDuration)
}

// task is one queued verification with its pre-inserted job row id.
type task struct {
	jobID string
	kind  string
	run   func(ctx context.Context) (*domain.VerificationExport, error)
}

// Pool runs verifications on a bounded set of workers. Every submission
// inserts a job row before any compiler work starts, so a crash leaves a
// visible pending job rather than a silent loss.
type Pool struct {
	log      *slog.Logger
	engine   usecase.VerificationEngine
	importer usecase.ExplorerImporter
	store    usecase.VerificationStore
	jobs     usecase.JobStore

	queue    chan task
	workers  int
	hardware string
	apiKey   string

	wg     sync.WaitGroup
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool sizes the pool from configuration. Workers defaults to the CPU
// count when unset.
func NewPool(cfg *config.RuntimeConfig, engine usecase.VerificationEngine, importer usecase.ExplorerImporter, store usecase.VerificationStore, jobs usecase.JobStore, log *slog.Logger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	hostname, _ := os.Hostname()
	return &Pool{
		log:      log.With("component", "WorkerPool"),
		engine:   engine,
		importer: importer,
		store:    store,
		jobs:     jobs,
		queue:    make(chan task, workers*4),
		workers:  workers,
		hardware: hostname,
		apiKey:   cfg.EtherscanAPIKey,
	}
}

// Start launches the workers. Idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx)
		}
		p.log.Info("worker pool started", "workers", p.workers)
	})
}

// Stop drains in-flight jobs and waits for the workers to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
		if p.cancel != nil {
			p.cancel()
		}
		p.log.Info("worker pool stopped")
	})
}

// SubmitJSONInput enqueues a standard-JSON verification and returns the job id.
func (p *Pool) SubmitJSONInput(ctx context.Context, req *domain.JSONInputRequest) (string, error) {
	return p.submit(ctx, "json_input", req.ChainID, req.Address, func(ctx context.Context) (*domain.VerificationExport, error) {
		return p.engine.VerifyFromJSONInput(ctx, req)
	})
}

// SubmitMetadata enqueues a metadata-driven verification and returns the job id.
func (p *Pool) SubmitMetadata(ctx context.Context, req *domain.MetadataRequest) (string, error) {
	return p.submit(ctx, "metadata", req.ChainID, req.Address, func(ctx context.Context) (*domain.VerificationExport, error) {
		return p.engine.VerifyFromMetadata(ctx, req)
	})
}

// SubmitExplorer enqueues an explorer-seeded verification and returns the
// job id. The import itself runs on the worker, not the caller.
func (p *Pool) SubmitExplorer(ctx context.Context, req *domain.ExplorerRequest) (string, error) {
	return p.submit(ctx, "explorer", req.ChainID, req.Address, func(ctx context.Context) (*domain.VerificationExport, error) {
		apiKey := req.APIKey
		if apiKey == "" {
			apiKey = p.apiKey
		}
		imported, err := p.importer.Fetch(ctx, req.ChainID, req.Address.Hex(), apiKey)
		if err != nil {
			return nil, err
		}
		return p.engine.VerifyFromJSONInput(ctx, &domain.JSONInputRequest{
			ChainID:         req.ChainID,
			Address:         req.Address,
			Language:        imported.Language,
			CompilerVersion: imported.CompilerVersion,
			Input:           imported.JSONInput,
			Target: domain.CompilationTarget{
				Path: imported.ContractPath,
				Name: imported.ContractName,
			},
		})
	})
}

func (p *Pool) submit(ctx context.Context, kind string, chainID uint64, address common.Address, run func(ctx context.Context) (*domain.VerificationExport, error)) (string, error) {
	job := &domain.VerificationJob{
		ID:                   uuid.NewString(),
		StartedAt:            time.Now().UTC(),
		ChainID:              chainID,
		ContractAddress:      address,
		VerificationEndpoint: "/verify/" + kind,
		Hardware:             p.hardware,
	}
	if err := p.jobs.InsertJob(ctx, job); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}

	select {
	case p.queue <- task{jobID: job.ID, kind: kind, run: run}:
		jobsStarted.WithLabelValues(kind).Inc()
		queueDepth.Inc()
		return job.ID, nil
	case <-ctx.Done():
		p.failJob(job.ID, kind, domain.WrapError(domain.ErrInternal, ctx.Err(), nil))
		return "", ctx.Err()
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for t := range p.queue {
		queueDepth.Dec()
		p.runTask(ctx, t)
	}
}

func (p *Pool) runTask(ctx context.Context, t task) {
	start := time.Now()
	defer func() {
		jobDuration.Observe(time.Since(start).Seconds())
	}()

	export, err := t.run(ctx)
	if err != nil {
		p.failJob(t.jobID, t.kind, err)
		return
	}

	stored, err := p.store.StoreVerification(ctx, export)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			p.failJob(t.jobID, t.kind, domain.WrapError(domain.ErrInternal, err, map[string]any{
				"reason": "an equal or better match already exists",
			}))
			return
		}
		p.failJob(t.jobID, t.kind, err)
		return
	}

	if err := p.jobs.CompleteJob(ctx, t.jobID, stored.VerifiedContractID, export.CompilationTime); err != nil {
		p.log.Error("complete job", "jobId", t.jobID, "error", err)
		return
	}
	p.storeEphemeral(ctx, t.jobID, export)
	jobsFinished.WithLabelValues(t.kind, "succeeded").Inc()
	p.log.Info("verification succeeded",
		"jobId", t.jobID,
		"chainId", export.ChainID,
		"address", export.Address,
		"runtimeMatch", export.Status.RuntimeMatch,
		"creationMatch", export.Status.CreationMatch,
	)
}

// failJob records the terminal failure. Every failure carries a stable code
// plus a unique id so a support request can be traced to one log line.
func (p *Pool) failJob(jobID, kind string, err error) {
	jobErr := jobErrorFrom(err)
	// The submit context may already be gone; the update must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if dbErr := p.jobs.FailJob(ctx, jobID, jobErr); dbErr != nil {
		p.log.Error("fail job", "jobId", jobID, "error", dbErr)
	}
	jobsFinished.WithLabelValues(kind, "failed").Inc()
	p.log.Warn("verification failed",
		"jobId", jobID,
		"errorCode", jobErr.Code,
		"errorId", jobErr.ID,
		"error", err,
	)
}

func (p *Pool) storeEphemeral(ctx context.Context, jobID string, export *domain.VerificationExport) {
	eph := &domain.VerificationJobEphemeral{
		ID:                      jobID,
		RecompiledCreationCode:  export.RecompiledCreationBytecode,
		RecompiledRuntimeCode:   export.RecompiledRuntimeBytecode,
		OnchainCreationCode:     export.OnchainCreationBytecode,
		OnchainRuntimeCode:      export.OnchainRuntimeBytecode,
		CreationTransactionHash: export.Deployment.TransactionHash,
	}
	if err := p.jobs.StoreEphemeral(ctx, eph); err != nil {
		p.log.Error("store ephemeral payload", "jobId", jobID, "error", err)
	}
}

// jobErrorFrom maps any pipeline error onto the persisted JobError shape.
func jobErrorFrom(err error) *domain.JobError {
	var verr *domain.VerificationError
	if errors.As(err, &verr) {
		data, _ := json.Marshal(verr.Data)
		return &domain.JobError{
			Code: verr.Code,
			ID:   verr.ID,
			Data: data,
		}
	}
	data, _ := json.Marshal(map[string]any{"message": err.Error()})
	return &domain.JobError{
		Code: domain.ErrInternal,
		ID:   uuid.NewString(),
		Data: data,
	}
}

// PoolSet provides the pool to wire.
var PoolSet = wire.NewSet(
	NewPool,
	wire.Bind(new(usecase.WorkerPool), new(*Pool)),
)
