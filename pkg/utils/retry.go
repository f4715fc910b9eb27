// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package utils

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry executes an operation with exponential backoff until it succeeds or
// maxElapsedTime is reached. maxInterval caps the interval between attempts.
func Retry(op backoff.Operation, maxElapsedTime, maxInterval time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsedTime
	b.MaxInterval = maxInterval
	if err := backoff.Retry(op, b); err != nil {
		return err
	}
	return nil
}

// FixedRetry executes an operation up to count times with a fixed interval
// between attempts, returning nil on the first success.
func FixedRetry(op backoff.Operation, count int, interval time.Duration) error {
	var err error
	for i := 0; i < count; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i < count-1 {
			time.Sleep(interval)
		}
	}
	return err
}
