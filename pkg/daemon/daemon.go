// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package daemon assembles the pipeline: configuration, logging, the shared
// store, the template registry, the operating core and the worker fleet.
// Components start in dependency order and stop in reverse.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/AMD-AGI/Backlot/pkg/breaker"
	"github.com/AMD-AGI/Backlot/pkg/config"
	"github.com/AMD-AGI/Backlot/pkg/errors"
	"github.com/AMD-AGI/Backlot/pkg/faults"
	"github.com/AMD-AGI/Backlot/pkg/healing"
	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/metrics"
	"github.com/AMD-AGI/Backlot/pkg/model"
	"github.com/AMD-AGI/Backlot/pkg/orchestrator"
	"github.com/AMD-AGI/Backlot/pkg/progress"
	"github.com/AMD-AGI/Backlot/pkg/queue"
	"github.com/AMD-AGI/Backlot/pkg/resource"
	"github.com/AMD-AGI/Backlot/pkg/store"
	"github.com/AMD-AGI/Backlot/pkg/template"
	"github.com/AMD-AGI/Backlot/pkg/worker"
)

// stopGrace bounds how long shutdown waits for running tasks.
const stopGrace = 30 * time.Second

// Daemon owns the long-lived components and their start/stop order.
type Daemon struct {
	opts *Options

	st       store.Store
	registry *template.Registry
	watcher  *template.Watcher
	queue    *queue.Queue
	orch     *orchestrator.Orchestrator
	pool     *worker.Manager
	healer   *healing.Healer
	metrics  *metrics.Server

	isInited bool
}

// NewDaemon loads configuration and builds every component. Nothing runs
// until Start.
func NewDaemon() (*Daemon, error) {
	d := &Daemon{opts: &Options{}}
	var err error
	if err = d.opts.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to parse options")
	}
	if d.opts.ConfigPath != "" {
		if err = config.LoadConfig(d.opts.ConfigPath); err != nil {
			return nil, errors.Wrap(err, "failed to load config")
		}
	}
	if err = log.InitGlobalLogger(logConfig()); err != nil {
		return nil, errors.Wrap(err, "failed to init logger")
	}
	if d.st, err = newStore(); err != nil {
		return nil, errors.Wrap(err, "failed to init store")
	}
	if err = d.build(); err != nil {
		_ = d.st.Close()
		return nil, err
	}
	d.isInited = true
	return d, nil
}

// build wires the pipeline around the store created by NewDaemon.
func (d *Daemon) build() error {
	d.registry = template.NewRegistry(template.NewValidator(config.GetTemplateCacheTTL()))
	dirs := config.GetTemplateDirs()
	if len(dirs) > 0 {
		if err := d.registry.LoadDirs(dirs); err != nil {
			return errors.Wrap(err, "failed to load templates")
		}
		if config.IsTemplateWatchEnabled() {
			d.watcher = template.NewWatcher(d.registry, dirs)
		}
	}
	if d.registry.Count() == 0 {
		log.Warn("no templates loaded, submissions will fail until templates arrive")
	}

	d.queue = queue.New(d.st)
	ledger := resource.NewLedger(ledgerTotals(context.Background()))
	tracker := progress.NewTracker(d.st, progress.NewEstimator())
	breakers := breaker.NewManager(
		config.GetBreakerFailureThreshold(),
		config.GetBreakerSuccessThreshold(),
		config.GetBreakerRecoveryTimeout(),
	)

	alerter := orchestrator.LogAlerter{}
	history := faults.NewHistoryBook()
	analytics := faults.NewAnalytics(config.GetAnalyticsWindowSize(), alerter)
	analytics.UpdateThresholds(faults.Thresholds{CriticalErrors: config.GetAnalyticsCriticalErrors()})
	recovery := faults.NewRecoveryManager(recoveryConfig(), d.queue, history, analytics,
		orchestrator.LogNotifier{}, alerter)

	compensator := faults.NewCompensator()
	compensator.Register(faults.OpFileUpload, faults.FileCleanupHandler())
	compensator.Register(faults.OpOutputGeneration, faults.OutputCleanupHandler())
	compensator.Register(faults.OpTaskSubmission, faults.TaskCancelHandler(d.queue.Remove))
	compensator.Register(faults.OpQueueOperation, faults.QueueRemoveHandler(d.queue.Remove))
	compensator.Register(faults.OpDatabaseWrite, faults.StoreRollbackHandler(d.st.Delete))

	workspaceDir := config.GetWorkspaceDir()
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create workspace dir")
	}

	d.orch = orchestrator.New(orchestrator.Deps{
		Registry:    d.registry,
		Presets:     template.NewPresetManager(),
		Queue:       d.queue,
		Ledger:      ledger,
		Tracker:     tracker,
		Previewer:   progress.NewPreviewer(tracker, nil),
		Breakers:    breakers,
		Classifier:  faults.NewClassifier(),
		Analytics:   analytics,
		Recovery:    recovery,
		Compensator: compensator,
		History:     history,
		OpLog:       faults.NewOperationLog(),
		Executor:    newExecutor(),
		Takes:       orchestrator.NewMemoryTakes(),
		Workspace:   orchestrator.NewMemoryWorkspace(workspaceDir),
	})
	d.pool = worker.NewManager(worker.ConfigFromGlobal(), ledger, d.queue,
		worker.NewDirectory(d.st), d.orch)
	d.orch.AttachPool(d.pool)

	d.healer = healing.NewHealer(healing.Deps{
		Pool:     d.pool,
		Queue:    d.queue,
		Tracker:  tracker,
		Registry: d.registry,
		Store:    d.st,
		Alerter:  alerter,
		Vitals:   healing.SystemVitals(workspaceDir),
	}, config.GetHealingInterval())
	d.orch.AttachHealer(d.healer)

	if config.IsMetricsEnabled() {
		d.metrics = metrics.NewServer(config.GetMetricsListenAddress())
	}
	return nil
}

// Start runs the pipeline until SIGINT or SIGTERM arrives.
func (d *Daemon) Start() {
	if !d.isInited {
		log.Error("please initialize the daemon first")
		return
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer d.Stop()

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			log.WithError(err).Error("failed to start template watcher")
			return
		}
	}
	d.orch.Start()
	if err := d.pool.Start(context.Background()); err != nil {
		log.WithError(err).Error("failed to start worker pool")
		return
	}
	d.healer.Start()
	if d.metrics != nil {
		d.metrics.Start()
	}

	log.Info("daemon started")
	<-ctx.Done()
	log.Info("shutdown signal received")
}

// Stop tears the pipeline down in reverse start order. Safe to call on a
// partially started daemon.
func (d *Daemon) Stop() {
	if d.metrics != nil {
		d.metrics.Stop()
	}
	if d.healer != nil {
		d.healer.Stop()
	}
	if d.pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
		d.pool.Stop(ctx)
		cancel()
	}
	if d.orch != nil {
		d.orch.Stop()
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.st != nil {
		if err := d.st.Close(); err != nil {
			log.WithError(err).Warn("failed to close store")
		}
	}
	log.Info("daemon stopped")
}

// logConfig maps the global configuration onto the logger settings.
func logConfig() *log.Config {
	return &log.Config{
		Level:      config.GetLogLevel(),
		Format:     config.GetLogFormat(),
		FilePath:   config.GetLogFilePath(),
		MaxSizeMB:  config.GetLogMaxSizeMB(),
		MaxBackups: config.GetLogMaxBackups(),
		MaxAgeDays: config.GetLogMaxAgeDays(),
		Compress:   config.IsLogCompressEnabled(),
	}
}

// newStore builds the shared state store named by the configuration.
func newStore() (store.Store, error) {
	switch driver := config.GetStoreDriver(); driver {
	case "redis":
		return store.NewRedisStore(store.Config{
			Address:          config.GetStoreAddress(),
			Password:         config.GetStorePassword(),
			DB:               config.GetStoreDB(),
			PoolSize:         config.GetStorePoolSize(),
			ConnectTimeout:   config.GetStoreConnectTimeout(),
			OperationTimeout: config.GetStoreOperationTimeout(),
		})
	case "memory", "":
		return store.NewMemoryStore(), nil
	default:
		return nil, errors.Newf("unknown store driver %q", driver)
	}
}

// newExecutor picks the engine client: remote when an endpoint is
// configured, otherwise the in-process simulator.
func newExecutor() worker.Executor {
	if endpoint := config.GetWorkerEndpoint(); endpoint != "" {
		log.Infof("using remote worker engine at %s", endpoint)
		return worker.NewRemoteExecutor(endpoint, config.GetWorkerExecuteTimeout())
	}
	log.Info("no worker endpoint configured, using local executor")
	return worker.NewLocalExecutor()
}

// recoveryConfig maps the global configuration onto the retry policy.
// The requeue guard keeps its defaults.
func recoveryConfig() faults.RecoveryConfig {
	cfg := faults.DefaultRecoveryConfig()
	cfg.BaseDelay = config.GetRecoveryBaseDelay()
	cfg.MaxDelay = config.GetRecoveryMaxDelay()
	cfg.Jitter = config.GetRecoveryJitter()
	cfg.WaitTime = config.GetRecoveryWaitTime()
	return cfg
}

// ledgerTotals reads the schedulable capacity, discovering host CPU and
// memory when the configuration leaves them at zero. VRAM and GPU count
// cannot be probed portably and stay at their configured values.
func ledgerTotals(ctx context.Context) model.Resources {
	total := model.Resources{
		CPUCores: config.GetLedgerCPUCores(),
		MemoryGB: config.GetLedgerMemoryGB(),
		VRAMGB:   config.GetLedgerVRAMGB(),
		GPUCount: config.GetLedgerGPUCount(),
	}
	if total.CPUCores <= 0 {
		if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
			total.CPUCores = float64(n)
		} else {
			total.CPUCores = 4
		}
	}
	if total.MemoryGB <= 0 {
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
			total.MemoryGB = float64(vm.Total) / (1 << 30)
		} else {
			total.MemoryGB = 8
		}
	}
	log.WithFields(log.Fields{
		"cpu_cores": total.CPUCores,
		"memory_gb": total.MemoryGB,
		"vram_gb":   total.VRAMGB,
		"gpu_count": total.GPUCount,
	}).Info("ledger capacity")
	return total
}
