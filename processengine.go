// Package processengine wires the engine's collaborators (event bus,
// instance log, timer scheduler, expression evaluator, external task store)
// into a ready-to-use workflow engine. Import the subpackages directly when
// you need finer control over the assembly:
//
//	import "github.com/plusxp/process-engine-core/engine"
//	import "github.com/plusxp/process-engine-core/model"
//	import "github.com/plusxp/process-engine-core/persistence"
package processengine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/plusxp/process-engine-core/bus"
	"github.com/plusxp/process-engine-core/core"
	"github.com/plusxp/process-engine-core/engine"
	"github.com/plusxp/process-engine-core/expression"
	"github.com/plusxp/process-engine-core/exttask"
	"github.com/plusxp/process-engine-core/invocation"
	"github.com/plusxp/process-engine-core/model"
	"github.com/plusxp/process-engine-core/persistence"
	"github.com/plusxp/process-engine-core/timer"
)

// Config configures an engine assembly. The zero value yields a fully
// in-memory engine.
type Config struct {
	// StorePath is the SQLite database file backing the instance log and the
	// external task store. Empty keeps both in memory; such an engine cannot
	// resume instances across restarts.
	StorePath string

	// RetentionAge prunes completed flow node instances older than this from
	// the SQLite log. Zero disables pruning. Ignored for in-memory engines.
	RetentionAge time.Duration

	// Identity supplies the identity attached to started process instances.
	// Nil uses an anonymous static identity.
	Identity core.IdentityProvider

	Logger *slog.Logger
}

// Engine is a fully assembled process engine.
type Engine struct {
	Bus           bus.EventBus
	Models        *model.Repository
	Registry      *invocation.Registry
	Evaluator     expression.Evaluator
	Persistence   *persistence.Facade
	ExternalTasks *exttask.Service
	Timer         *timer.Facade
	Execute       *engine.ExecuteProcessService
	Resume        *engine.ResumeProcessService

	closers []func() error
}

// New assembles an engine from the config.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eventBus := bus.NewMemBus(bus.MemBusConfig{})
	evaluator := expression.NewExprEvaluator()
	scheduler := timer.NewCronScheduler()

	e := &Engine{
		Bus:       eventBus,
		Models:    model.NewRepository(),
		Registry:  invocation.NewRegistry(),
		Evaluator: evaluator,
		Timer:     timer.NewFacade(scheduler, evaluator, logger),
	}
	e.closers = append(e.closers, scheduler.Close, eventBus.Close)

	var instanceLog persistence.InstanceLog
	var taskStore exttask.Store
	if cfg.StorePath != "" {
		sqliteLog, err := persistence.NewSQLiteLog(persistence.SQLiteLogConfig{
			DSN:          cfg.StorePath,
			RetentionAge: cfg.RetentionAge,
		})
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.closers = append(e.closers, sqliteLog.Close)

		sqliteTasks, err := exttask.NewSQLiteStore(cfg.StorePath)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.closers = append(e.closers, sqliteTasks.Close)

		instanceLog = sqliteLog
		taskStore = sqliteTasks
	} else {
		instanceLog = persistence.NewMemLog()
		taskStore = exttask.NewMemStore()
	}

	e.Persistence = persistence.NewFacade(instanceLog, eventBus, logger)
	e.ExternalTasks = exttask.NewService(taskStore, eventBus, logger)

	deps := engine.Deps{
		Persistence:   e.Persistence,
		Bus:           eventBus,
		Timer:         e.Timer,
		Evaluator:     evaluator,
		Registry:      e.Registry,
		ExternalTasks: e.ExternalTasks,
		Logger:        logger,
	}
	e.Execute = engine.NewExecuteProcessService(deps, e.Models, cfg.Identity)
	e.Resume = engine.NewResumeProcessService(deps, e.Models)

	return e, nil
}

// Deploy validates and stores a process definition.
func (e *Engine) Deploy(process *model.Process) error {
	return e.Models.Deploy(process)
}

// Start launches a process instance in the background.
func (e *Engine) Start(ctx context.Context, req engine.StartRequest) (*engine.StartResult, error) {
	return e.Execute.Start(ctx, req)
}

// StartAndAwaitEndEvent runs a process instance to completion.
func (e *Engine) StartAndAwaitEndEvent(ctx context.Context, req engine.StartRequest) (*engine.EndResult, error) {
	return e.Execute.StartAndAwaitEndEvent(ctx, req)
}

// ResumeInterrupted resumes every process instance left in a running or
// suspended state by a previous engine.
func (e *Engine) ResumeInterrupted(ctx context.Context) ([]*engine.EndResult, error) {
	return e.Resume.FindAndResumeInterruptedInstances(ctx)
}

// Close releases the scheduler, stores and bus in reverse assembly order.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
