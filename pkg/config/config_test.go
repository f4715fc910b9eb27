// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gotest.tools/assert"
)

func TestDefaults(t *testing.T) {
	viper.Reset()

	assert.Equal(t, GetPoolMinWorkers(), 1)
	assert.Equal(t, GetPoolMaxWorkers(), 10)
	assert.Equal(t, GetPoolScalingInterval(), 10*time.Second)
	assert.Equal(t, GetBreakerFailureThreshold(), 5)
	assert.Equal(t, GetBreakerSuccessThreshold(), 2)
	assert.Equal(t, GetBreakerRecoveryTimeout(), 30*time.Second)
	assert.Equal(t, GetRecoveryBaseDelay(), time.Second)
	assert.Equal(t, GetRecoveryMaxDelay(), 60*time.Second)
	assert.Equal(t, GetRecoveryJitter(), 0.1)
	assert.Equal(t, GetRecoveryWaitTime(), 300*time.Second)
	assert.Equal(t, GetTaskDefaultTimeout(), 600*time.Second)
	assert.Equal(t, GetTaskDefaultMaxRetries(), 3)
	assert.Equal(t, GetAnalyticsWindowSize(), 1000)
	assert.Equal(t, GetAnalyticsCriticalErrors(), 3)
	assert.Equal(t, GetStoreAddress(), "127.0.0.1:6379")
}

func TestLoadConfig(t *testing.T) {
	viper.Reset()
	content := `
log:
  level: debug
store:
  address: "redis.internal:6379"
  db: 2
pool:
  min_workers: 2
  max_workers: 8
  scale_up_threshold: 4
templates:
  dirs: "/etc/backlot/templates, /var/lib/backlot/templates"
  watch: false
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(content), 0o644)
	assert.NilError(t, err)

	err = LoadConfig(path)
	assert.NilError(t, err)

	assert.Equal(t, GetLogLevel(), "debug")
	assert.Equal(t, GetStoreAddress(), "redis.internal:6379")
	assert.Equal(t, GetStoreDB(), 2)
	assert.Equal(t, GetPoolMinWorkers(), 2)
	assert.Equal(t, GetPoolMaxWorkers(), 8)
	assert.Equal(t, GetPoolScaleUpThreshold(), 4.0)
	assert.Equal(t, IsTemplateWatchEnabled(), false)
	assert.DeepEqual(t, GetTemplateDirs(), []string{"/etc/backlot/templates", "/var/lib/backlot/templates"})
}

func TestSetValueOverrides(t *testing.T) {
	viper.Reset()
	SetValue("breaker.failure_threshold", 3)
	assert.Equal(t, GetBreakerFailureThreshold(), 3)
}
