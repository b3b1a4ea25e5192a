// Package app assembles the CORE's subsystems into one explicit
// dependency bundle constructed once at process startup, per spec §9's
// redesign note: "replace [the source's process-wide mutable registry]
// with an explicit dependency bundle constructed once at startup and
// threaded through constructors." Nothing here is a singleton; every
// field is built by NewBundle and handed to its callers (cmd/orchestratord,
// internal/httpapi) explicitly.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumforge/aiorch/internal/access"
	"github.com/quorumforge/aiorch/internal/adapters/docker"
	"github.com/quorumforge/aiorch/internal/adapters/git"
	"github.com/quorumforge/aiorch/internal/aiupdate"
	"github.com/quorumforge/aiorch/internal/blackboard"
	"github.com/quorumforge/aiorch/internal/build"
	"github.com/quorumforge/aiorch/internal/calt"
	"github.com/quorumforge/aiorch/internal/config"
	"github.com/quorumforge/aiorch/internal/core"
	"github.com/quorumforge/aiorch/internal/diagnostics"
	"github.com/quorumforge/aiorch/internal/gitsync"
	"github.com/quorumforge/aiorch/internal/llm"
	"github.com/quorumforge/aiorch/internal/logging"
	"github.com/quorumforge/aiorch/internal/registry"
	"github.com/quorumforge/aiorch/internal/sandbox"
	"github.com/quorumforge/aiorch/internal/storage"
	"github.com/quorumforge/aiorch/internal/swarm"
	"github.com/quorumforge/aiorch/internal/workflow"
)

// Bundle holds every constructed subsystem of the orchestration core.
// cmd/orchestratord and internal/httpapi both depend on this struct, never
// on package-level globals.
type Bundle struct {
	Config config.Config
	Logger *logging.Logger

	DB       *storage.DB
	Access   *access.Resolver
	Registry *registry.Registry
	Workflow *workflow.Engine
	Sandbox  *sandbox.Manager
	GitSync  *gitsync.Service
	AIUpdate *aiupdate.Service
	Build    *build.Service
	LLM      *llm.Pool
	Swarm    *swarm.Dispatcher
	Board    *blackboard.Blackboard
	Bus      *blackboard.Bus
	Cost     *calt.Ledger

	Monitor    *diagnostics.ResourceMonitor
	CrashDumps *diagnostics.CrashDumpWriter

	cancel context.CancelFunc
}

// registryLookup adapts the Project Registry into access.UserTenantLookup:
// the core has no owned User/Tenant table (spec §1 treats those as
// external collaborators), so a target user's tenant is derived from any
// project it owns, matching Project.TenantID's "always derived from
// owner" invariant (spec §3).
type registryLookup struct {
	projects *storage.ProjectRepo
}

func (l registryLookup) TenantOf(ctx context.Context, userID string) (string, error) {
	items, _, _, _, err := l.projects.List(ctx, storage.ProjectFilter{
		VisibleUserIDs: []string{userID},
		Page:           1,
		PageSize:       1,
	})
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", core.ErrNotFound("user", userID)
	}
	return items[0].TenantID, nil
}

// NewBundle constructs every subsystem from cfg. Callers must call
// bundle.Run(ctx) once to start the background workers (workflow
// scheduler, resource monitor) and bundle.Close() on shutdown.
func NewBundle(cfg config.Config) (*Bundle, error) {
	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	dbPath := cfg.Storage.Root + "/orchestrator.db"
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	projectRepo := storage.NewProjectRepo(db)
	workflowRepo := storage.NewWorkflowRepo(db)
	costRepo := storage.NewCostRepo(db)

	accessResolver := access.New(registryLookup{projects: projectRepo})
	reg := registry.New(projectRepo, accessResolver, cfg.Storage.Root+"/.snapshot.yaml")
	ledger := calt.New(costRepo)
	board := blackboard.New()
	bus := blackboard.NewBus()

	catalog := buildCatalog(cfg.LLM)
	tier := core.ModelTier(cfg.LLM.Tier)
	if tier == "" {
		tier = core.TierBalanced
	}

	backend := llm.NewHTTPBackend(cfg.LLM.BaseURL)
	pool := llm.New(backend, catalog, llm.Config{
		Tier:        tier,
		BatchWindow: time.Duration(cfg.LLM.BatchWindowMs) * time.Millisecond,
		MaxBatch:    cfg.LLM.MaxBatch,
	}, ledger, logger)

	dispatcher := swarm.New(pool, catalog, tier, board, logger, 8)

	gitFactory := git.NewClientFactory()
	gitSvc := gitsync.New(gitFactory, logger)

	aiSvc := aiupdate.New(dispatcher, logger)
	buildSvc := build.New(logger)

	monitor := diagnostics.NewResourceMonitor(30*time.Second, 80, 20000, 0, 120, logger.Logger)
	crashDumps := diagnostics.NewCrashDumpWriter(cfg.Storage.Root+"/.crashdumps", 10, true, false, logger.Logger, monitor)
	safeExec := diagnostics.NewSafeExecutor(monitor, crashDumps, logger.Logger, true, 10, cfg.Sandbox.MinFreeMemoryMB)

	var runtime core.ContainerRuntime
	if cfg.Sandbox.DockerSocket != "" {
		runtime = docker.New(cfg.Sandbox.DockerSocket)
	}
	sbx := sandbox.New(runtime, sandbox.Config{
		StorageRoot:     cfg.Storage.Root,
		GraceMs:         time.Duration(cfg.Sandbox.GraceMs) * time.Millisecond,
		MinFreeMemoryMB: cfg.Sandbox.MinFreeMemoryMB,
		InternalPort:    cfg.Sandbox.InternalPort,
	}, logger).WithSafeExecutor(safeExec)

	engine := workflow.New(workflowRepo, projectRepo, accessResolver,
		buildExecutors(reg, gitSvc, aiSvc, buildSvc, sbx, logger),
		logger, workflow.Config{MaxConcurrency: cfg.Workflow.MaxConcurrency})

	return &Bundle{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Access:     accessResolver,
		Registry:   reg,
		Workflow:   engine,
		Sandbox:    sbx,
		GitSync:    gitSvc,
		AIUpdate:   aiSvc,
		Build:      buildSvc,
		LLM:        pool,
		Swarm:      dispatcher,
		Board:      board,
		Bus:        bus,
		Cost:       ledger,
		Monitor:    monitor,
		CrashDumps: crashDumps,
	}, nil
}

// buildCatalog derives a single-tier, single-model Catalog from LLMConfig.
// Deployments needing a richer multi-tier catalog supply one directly
// rather than through config (spec §6 only names PRIMARY_MODEL/TIER as
// environment-configurable).
func buildCatalog(cfg config.LLMConfig) llm.Catalog {
	model := cfg.PrimaryModel
	if model == "" {
		model = "default"
	}
	tier := core.ModelTier(cfg.Tier)
	if tier == "" {
		tier = core.TierBalanced
	}
	return llm.Catalog{
		tier: {
			{
				ID:           model,
				Tier:         tier,
				Family:       model,
				Capabilities: []core.Capability{core.CapCode, core.CapChat, core.CapReasoning},
				ContextLen:   32768,
				Loaded:       true,
			},
		},
	}
}

// Run starts the background workers: the workflow scheduler and the
// resource monitor. It returns immediately; workers stop when the
// context passed to Run is cancelled or Close is called.
func (b *Bundle) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.Workflow.Run(runCtx)
	b.Monitor.Start(runCtx)
}

// Close stops background workers and releases the storage layer.
func (b *Bundle) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.Monitor.Stop()
	return b.DB.Close()
}
