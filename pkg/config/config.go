// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SetValue sets a configuration value for the specified key.
func SetValue(key string, value interface{}) {
	viper.Set(key, value)
}

// LoadConfig loads configuration from the specified file path.
func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getFloat(key string, defaultValue float64) float64 {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetFloat64(key)
}

func getStrings(key string) []string {
	val := viper.GetString(key)
	return removeBlank(strings.Split(val, ","))
}

func removeBlank(slice []string) []string {
	var result []string
	for _, val := range slice {
		if trim := strings.TrimSpace(val); trim != "" {
			result = append(result, trim)
		}
	}
	return result
}

func getSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getInt(key, defaultValue)) * time.Second
}

// GetLogLevel returns the global log level.
func GetLogLevel() string {
	return getString(logLevel, "info")
}

// GetLogFormat returns the log output format ("text" or "json").
func GetLogFormat() string {
	return getString(logFormat, "text")
}

// GetLogFilePath returns the log file path. Empty means stdout.
func GetLogFilePath() string {
	return getString(logFilePath, "")
}

// GetLogMaxSizeMB returns the maximum size of a log file in megabytes.
func GetLogMaxSizeMB() int {
	return getInt(logMaxSizeMB, 100)
}

// GetLogMaxBackups returns how many rotated log files are kept.
func GetLogMaxBackups() int {
	return getInt(logMaxBackups, 5)
}

// GetLogMaxAgeDays returns how many days rotated log files are kept.
func GetLogMaxAgeDays() int {
	return getInt(logMaxAgeDays, 7)
}

// IsLogCompressEnabled returns whether rotated log files are compressed.
func IsLogCompressEnabled() bool {
	return getBool(logCompress, false)
}

// GetStoreDriver returns the shared state store driver, "memory" or "redis".
func GetStoreDriver() string {
	return getString(storeDriver, "memory")
}

// GetStoreAddress returns the shared state store address.
func GetStoreAddress() string {
	return getString(storeAddress, "127.0.0.1:6379")
}

// GetStorePassword returns the shared state store password.
func GetStorePassword() string {
	return getString(storePassword, "")
}

// GetStoreDB returns the store database index.
func GetStoreDB() int {
	return getInt(storeDB, 0)
}

// GetStorePoolSize returns the store client connection pool size.
func GetStorePoolSize() int {
	return getInt(storePoolSize, 10)
}

// GetStoreConnectTimeout returns the store connect timeout.
func GetStoreConnectTimeout() time.Duration {
	return getSeconds(storeConnectTimeoutSecond, 5)
}

// GetStoreOperationTimeout returns the per-operation store timeout.
func GetStoreOperationTimeout() time.Duration {
	return getSeconds(storeOperationTimeoutSecond, 3)
}

// IsMetricsEnabled returns whether the metrics listener is enabled.
func IsMetricsEnabled() bool {
	return getBool(metricsEnable, false)
}

// GetMetricsListenAddress returns the metrics listen address.
func GetMetricsListenAddress() string {
	return getString(metricsListenAddress, ":9090")
}

// GetTemplateDirs returns the directories scanned for template files.
func GetTemplateDirs() []string {
	return getStrings(templateDirs)
}

// IsTemplateWatchEnabled returns whether template directories are watched
// for changes.
func IsTemplateWatchEnabled() bool {
	return getBool(templateWatch, true)
}

// GetTemplateCacheTTL returns the validation memoization TTL.
func GetTemplateCacheTTL() time.Duration {
	return getSeconds(templateCacheTTLSecond, 600)
}

// GetLedgerCPUCores returns total schedulable CPU cores. Zero means discover.
func GetLedgerCPUCores() float64 {
	return getFloat(ledgerCPUCores, 0)
}

// GetLedgerMemoryGB returns total schedulable memory in GB. Zero means discover.
func GetLedgerMemoryGB() float64 {
	return getFloat(ledgerMemoryGB, 0)
}

// GetLedgerVRAMGB returns total schedulable GPU memory in GB.
func GetLedgerVRAMGB() float64 {
	return getFloat(ledgerVRAMGB, 0)
}

// GetLedgerGPUCount returns total schedulable GPU count.
func GetLedgerGPUCount() int {
	return getInt(ledgerGPUCount, 0)
}

// GetPoolMinWorkers returns the minimum worker population.
func GetPoolMinWorkers() int {
	return getInt(poolMinWorkers, 1)
}

// GetPoolMaxWorkers returns the maximum worker population.
func GetPoolMaxWorkers() int {
	return getInt(poolMaxWorkers, 10)
}

// GetPoolScaleUpThreshold returns the queue-depth-per-active-worker ratio
// above which the pool scales up.
func GetPoolScaleUpThreshold() float64 {
	return getFloat(poolScaleUpThreshold, 3)
}

// GetPoolScaleDownThreshold returns the queue depth at or below which idle
// workers become eligible for termination.
func GetPoolScaleDownThreshold() float64 {
	return getFloat(poolScaleDownThreshold, 1)
}

// GetPoolIdleTimeout returns how long a worker may stay idle before the
// scaling loop terminates it.
func GetPoolIdleTimeout() time.Duration {
	return getSeconds(poolIdleTimeoutSecond, 300)
}

// GetPoolHealthCheckInterval returns the health loop interval.
func GetPoolHealthCheckInterval() time.Duration {
	return getSeconds(poolHealthCheckIntervalSecond, 30)
}

// GetPoolScalingInterval returns the scaling loop interval.
func GetPoolScalingInterval() time.Duration {
	return getSeconds(poolScalingIntervalSecond, 10)
}

// GetWorkerEndpoint returns the base URL of the remote worker runtime.
func GetWorkerEndpoint() string {
	return getString(workerEndpoint, "")
}

// GetWorkerExecuteTimeout returns the per-call worker RPC timeout.
func GetWorkerExecuteTimeout() time.Duration {
	return getSeconds(workerExecuteTimeoutSecond, 600)
}

// GetTaskDefaultTimeout returns the default per-task timeout.
func GetTaskDefaultTimeout() time.Duration {
	return getSeconds(taskDefaultTimeoutSecond, 600)
}

// GetTaskDefaultMaxRetries returns the default retry budget for a task.
func GetTaskDefaultMaxRetries() int {
	return getInt(taskDefaultMaxRetries, 3)
}

// GetBreakerFailureThreshold returns the consecutive failures that open a breaker.
func GetBreakerFailureThreshold() int {
	return getInt(breakerFailureThreshold, 5)
}

// GetBreakerSuccessThreshold returns the half-open successes that close a breaker.
func GetBreakerSuccessThreshold() int {
	return getInt(breakerSuccessThreshold, 2)
}

// GetBreakerRecoveryTimeout returns how long an open breaker rejects calls
// before probing.
func GetBreakerRecoveryTimeout() time.Duration {
	return getSeconds(breakerRecoveryTimeoutSecond, 30)
}

// GetRecoveryBaseDelay returns the first retry delay.
func GetRecoveryBaseDelay() time.Duration {
	return getSeconds(recoveryBaseDelaySecond, 1)
}

// GetRecoveryMaxDelay returns the retry delay cap.
func GetRecoveryMaxDelay() time.Duration {
	return getSeconds(recoveryMaxDelaySecond, 60)
}

// GetRecoveryJitter returns the retry delay jitter fraction.
func GetRecoveryJitter() float64 {
	return getFloat(recoveryJitter, 0.1)
}

// GetRecoveryWaitTime returns how long a resource-starved task parks before
// re-admission.
func GetRecoveryWaitTime() time.Duration {
	return getSeconds(recoveryWaitTimeSecond, 300)
}

// IsHealingEnabled returns whether the self-healing loop runs.
func IsHealingEnabled() bool {
	return getBool(healingEnable, true)
}

// GetHealingInterval returns the diagnostics cadence.
func GetHealingInterval() time.Duration {
	return getSeconds(healingIntervalSecond, 60)
}

// GetWorkspaceDir returns the root directory for project workspaces.
func GetWorkspaceDir() string {
	return getString(workspaceDir, "workspace")
}

// GetAnalyticsWindowSize returns the rolling error window capacity.
func GetAnalyticsWindowSize() int {
	return getInt(analyticsWindowSize, 1000)
}

// GetAnalyticsCriticalErrors returns how many recent critical events trigger
// an immediate alert.
func GetAnalyticsCriticalErrors() int {
	return getInt(analyticsCriticalErrors, 3)
}
