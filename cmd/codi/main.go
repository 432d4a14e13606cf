// Package main is the unified entry point: one binary running the
// orchestration core, the reference workers and the WebSocket gateway
// with shared infrastructure. With Redis configured the same binary
// also serves as a worker process in a multi-process deployment.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codi-dev/codi/internal/agent"
	"github.com/codi-dev/codi/internal/agent/workers"
	"github.com/codi-dev/codi/internal/artifact"
	"github.com/codi-dev/codi/internal/broadcast"
	"github.com/codi-dev/codi/internal/common/config"
	"github.com/codi-dev/codi/internal/common/logger"
	"github.com/codi-dev/codi/internal/common/tracing"
	"github.com/codi-dev/codi/internal/events"
	"github.com/codi-dev/codi/internal/events/bus"
	gatewayws "github.com/codi-dev/codi/internal/gateway/websocket"
	"github.com/codi-dev/codi/internal/orchestrator"
	"github.com/codi-dev/codi/internal/persistence"
	"github.com/codi-dev/codi/internal/ports"
	"github.com/codi-dev/codi/internal/session"
	"github.com/codi-dev/codi/internal/signal"
	"github.com/codi-dev/codi/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting codi core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	eventBus, closeBus, err := events.Provide(ctx, cfg, log)
	if err != nil {
		log.Fatal("event bus init failed", zap.Error(err))
	}
	defer closeBus()

	store, err := persistence.Provide(ctx, &cfg.Database, log)
	if err != nil {
		log.Fatal("persistence init failed", zap.Error(err))
	}
	defer store.Close()

	// Core state. Artifact writes flow through the operation recorder
	// so build/file/git/preview outcomes land in the audit log.
	stores := artifact.NewManager(cfg.Artifacts.Dir, persistence.NewOperationRecorder(store, log), log)
	engine := signal.NewEngine(log)
	registry := agent.NewRegistry(engine, log)
	publisher := broadcast.NewPublisher(eventBus, "codi-core", log)

	sessions := session.NewManager(session.Config{
		TTL:        cfg.Sessions.TTL(),
		MessageCap: cfg.Sessions.MessageCap,
		PruneEvery: time.Duration(cfg.Sessions.PruneEvery) * time.Minute,
	}, log)
	sessions.Start()
	defer sessions.Stop()

	// Handler crashes become error artifacts on the offending agent's
	// behalf.
	engine.SetCrashReporter(func(agentName string, event *signal.Event, crashErr error) {
		s := stores.Get(event.ProjectID)
		if s == nil {
			return
		}
		a, newErr := artifact.New(artifact.TypeError, agentName, crashErr.Error(), map[string]interface{}{
			artifact.MetaErrorType:   "handler_crash",
			artifact.MetaRecoverable: true,
		})
		if newErr != nil {
			return
		}
		if _, persistErr := s.Persist(context.Background(), a); persistErr != nil {
			log.Warn("crash artifact persist failed", zap.Error(persistErr))
		}
	})

	tasks := task.NewManager(task.Config{
		Timeout:        cfg.Tasks.Timeout(),
		ResultMaxChars: cfg.Tasks.ResultMaxChars,
	}, task.RunnerFunc(func(runCtx context.Context, t *task.BackgroundTask) (string, error) {
		return runBackgroundAgent(runCtx, registry, stores, t)
	}), sessions, store, publisher, log)

	executor := orchestrator.NewExecutor(orchestrator.Config{
		MaxIterations: cfg.Orchestrator.MaxIterations,
		Timeout:       cfg.Orchestrator.Timeout(),
		PollInterval:  cfg.Orchestrator.PollInterval(),
	}, stores, engine, registry, sessions, store, publisher, log)

	listener := orchestrator.NewAgentSignalListener(eventBus, stores, engine, log)
	defer listener.Close()

	registerWorkers(registry, stores, engine, publisher, log)

	// Gateway side: local fan-out plus the bridge from the bus.
	connRegistry := broadcast.NewRegistry(log)
	bridge := broadcast.NewGateway(eventBus, connRegistry, log)
	if err := bridge.Start(); err != nil {
		log.Fatal("broadcast bridge start failed", zap.Error(err))
	}
	defer bridge.Stop()

	// Turn requests arrive over the bus, from the gateway endpoint in
	// this process or another.
	turnSub, err := eventBus.Subscribe(events.TurnRequestChannel, func(turnCtx context.Context, event *bus.Event) error {
		in := orchestrator.TurnInput{
			ProjectID:     stringField(event.Data, "project_id"),
			UserID:        stringField(event.Data, "user_id"),
			TaskID:        stringField(event.Data, "task_id"),
			UserMessage:   stringField(event.Data, "user_message"),
			ProjectFolder: stringField(event.Data, "project_folder"),
		}
		if err := listener.Attach(in.ProjectID); err != nil {
			log.Warn("agent signal attach failed", zap.Error(err))
		}
		if _, err := executor.RunTurn(turnCtx, in); err != nil {
			log.Error("turn failed",
				zap.String("project_id", in.ProjectID), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		log.Fatal("turn request subscribe failed", zap.Error(err))
	}
	defer turnSub.Unsubscribe()

	// HTTP/WebSocket server.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"bus":    eventBus.IsConnected(),
		})
	})
	wsHandler := gatewayws.NewHandler(connRegistry, publisher, eventBus, log)
	wsHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		quit := make(chan os.Signal, 1)
		ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("shutdown signal received")
		case <-groupCtx.Done():
		}

		cancelled := tasks.CancelAll()
		if cancelled > 0 {
			log.Info("cancelled running tasks", zap.Int("count", cancelled))
		}
		tasks.Wait()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("codi core stopped")
}

// registerWorkers wires the reference worker set. Each role registers
// once; events are routed to project-scoped instances on demand. Tool
// ports beyond the filesystem come from the deployment and are nil
// here, which the workers treat as unavailable.
func registerWorkers(registry *agent.Registry, stores *artifact.Manager, engine *signal.Engine, publisher *broadcast.Publisher, log *logger.Logger) {
	modelID := os.Getenv("CODI_MODEL_ID")
	projectsRoot := os.Getenv("CODI_PROJECTS_DIR")

	deps := func(projectID, name string) workers.Deps {
		s := stores.GetOrCreate(projectID, projectDir(projectsRoot, projectID))
		tools := ports.Toolset{}
		if dir := projectDir(projectsRoot, projectID); dir != "" {
			tools.FS = ports.WithFilesystemTracing(ports.NewLocalFilesystem(dir), name)
		}
		return workers.Deps{
			ProjectID: projectID,
			Writer:    agent.NewArtifactWriter(name, s),
			Emitter:   agent.NewSignalEmitter(name, projectID, engine),
			Tools:     tools,
			Notify:    publisher,
			Logger:    log,
		}
	}

	routers := []*projectRouter{
		newProjectRouter(func(pid string) agent.Worker { return workers.NewScaffolder(deps(pid, "scaffolder"), modelID) }),
		newProjectRouter(func(pid string) agent.Worker { return workers.NewBuilder(deps(pid, "builder")) }),
		newProjectRouter(func(pid string) agent.Worker { return workers.NewPreviewer(deps(pid, "previewer")) }),
		newProjectRouter(func(pid string) agent.Worker { return workers.NewPlanner(deps(pid, "planner"), modelID) }),
		newProjectRouter(func(pid string) agent.Worker { return workers.NewReviewer(deps(pid, "reviewer"), modelID) }),
		newProjectRouter(func(pid string) agent.Worker { return workers.NewGitOps(deps(pid, "gitops")) }),
		newProjectRouter(func(pid string) agent.Worker { return workers.NewSage(deps(pid, "sage"), modelID) }),
	}
	for _, r := range routers {
		if err := registry.Register(r); err != nil {
			log.Fatal("worker registration failed",
				zap.String("agent", r.Name()), zap.Error(err))
		}
	}
}

// projectDir maps a project id onto the local projects root, when one
// is configured.
func projectDir(root, projectID string) string {
	if root == "" || projectID == "" {
		return ""
	}
	return filepath.Join(root, projectID)
}

func stringField(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}
