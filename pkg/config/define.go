// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package config

const (
	// log
	logPrefix     = "log."
	logLevel      = logPrefix + "level"
	logFormat     = logPrefix + "format"
	logFilePath   = logPrefix + "file_path"
	logMaxSizeMB  = logPrefix + "max_size_mb"
	logMaxBackups = logPrefix + "max_backups"
	logMaxAgeDays = logPrefix + "max_age_days"
	logCompress   = logPrefix + "compress"

	// store
	storePrefix                 = "store."
	storeDriver                 = storePrefix + "driver"
	storeAddress                = storePrefix + "address"
	storePassword               = storePrefix + "password"
	storeDB                     = storePrefix + "db"
	storePoolSize               = storePrefix + "pool_size"
	storeConnectTimeoutSecond   = storePrefix + "connect_timeout_second"
	storeOperationTimeoutSecond = storePrefix + "operation_timeout_second"

	// metrics
	metricsPrefix        = "metrics."
	metricsEnable        = metricsPrefix + "enable"
	metricsListenAddress = metricsPrefix + "listen_address"

	// templates
	templatePrefix         = "templates."
	templateDirs           = templatePrefix + "dirs"
	templateWatch          = templatePrefix + "watch"
	templateCacheTTLSecond = templatePrefix + "cache_ttl_second"

	// ledger
	ledgerPrefix   = "ledger."
	ledgerCPUCores = ledgerPrefix + "cpu_cores"
	ledgerMemoryGB = ledgerPrefix + "memory_gb"
	ledgerVRAMGB   = ledgerPrefix + "vram_gb"
	ledgerGPUCount = ledgerPrefix + "gpu_count"

	// pool
	poolPrefix                    = "pool."
	poolMinWorkers                = poolPrefix + "min_workers"
	poolMaxWorkers                = poolPrefix + "max_workers"
	poolScaleUpThreshold          = poolPrefix + "scale_up_threshold"
	poolScaleDownThreshold        = poolPrefix + "scale_down_threshold"
	poolIdleTimeoutSecond         = poolPrefix + "idle_timeout_second"
	poolHealthCheckIntervalSecond = poolPrefix + "health_check_interval_second"
	poolScalingIntervalSecond     = poolPrefix + "scaling_interval_second"

	// worker
	workerPrefix               = "worker."
	workerEndpoint             = workerPrefix + "endpoint"
	workerExecuteTimeoutSecond = workerPrefix + "execute_timeout_second"

	// task
	taskPrefix               = "task."
	taskDefaultTimeoutSecond = taskPrefix + "default_timeout_second"
	taskDefaultMaxRetries    = taskPrefix + "default_max_retries"

	// breaker
	breakerPrefix                = "breaker."
	breakerFailureThreshold      = breakerPrefix + "failure_threshold"
	breakerSuccessThreshold      = breakerPrefix + "success_threshold"
	breakerRecoveryTimeoutSecond = breakerPrefix + "recovery_timeout_second"

	// recovery
	recoveryPrefix         = "recovery."
	recoveryBaseDelaySecond = recoveryPrefix + "base_delay_second"
	recoveryMaxDelaySecond  = recoveryPrefix + "max_delay_second"
	recoveryJitter          = recoveryPrefix + "jitter"
	recoveryWaitTimeSecond  = recoveryPrefix + "wait_time_second"

	// healing
	healingPrefix         = "healing."
	healingEnable         = healingPrefix + "enable"
	healingIntervalSecond = healingPrefix + "interval_second"

	// workspace
	workspacePrefix = "workspace."
	workspaceDir    = workspacePrefix + "dir"

	// analytics
	analyticsPrefix         = "analytics."
	analyticsWindowSize     = analyticsPrefix + "window_size"
	analyticsCriticalErrors = analyticsPrefix + "critical_errors"
)
