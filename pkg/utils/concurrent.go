// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package utils

import (
	"sync"
)

// Exec executes fn concurrently count times. It returns the number of
// successful executions and the first error encountered, if any.
func Exec(count int, fn func() error) (int, error) {
	if count == 0 || fn == nil {
		return 0, nil
	}
	var wg sync.WaitGroup
	wg.Add(count)
	errCh := make(chan error, count)
	defer close(errCh)

	for i := 0; i < count; i++ {
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	successes := count - len(errCh)
	if len(errCh) > 0 {
		err := <-errCh
		return successes, err
	}
	return successes, nil
}

// ForEach executes fn concurrently once per item, returning the first error.
func ForEach[T any](items []T, fn func(item T) error) error {
	if len(items) == 0 || fn == nil {
		return nil
	}
	var wg sync.WaitGroup
	wg.Add(len(items))
	errCh := make(chan error, len(items))
	defer close(errCh)

	for _, item := range items {
		go func(it T) {
			defer wg.Done()
			if err := fn(it); err != nil {
				errCh <- err
			}
		}(item)
	}
	wg.Wait()
	if len(errCh) > 0 {
		return <-errCh
	}
	return nil
}
