// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
	"github.com/aleutianai/reqpipeline/internal/storage"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	db, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := New(db, cfg)
	require.NoError(t, err)
	t.Cleanup(q.Stop)
	return q
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestAddTaskIsIdempotentWhileNonTerminal(t *testing.T) {
	q := newTestQueue(t, Config{Concurrency: 1})

	id1, err := q.AddTask("task-1", model.PriorityMedium)
	require.NoError(t, err)
	id2, err := q.AddTask("task-1", model.PriorityCritical)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	stats := q.GetQueueStats()
	require.Equal(t, 1, stats.Waiting)
	require.Equal(t, 1, stats.Total)
}

func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue(t, Config{Concurrency: 1})

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})

	_, err := q.AddTask("low-task", model.PriorityLow)
	require.NoError(t, err)
	_, err = q.AddTask("critical-task", model.PriorityCritical)
	require.NoError(t, err)
	_, err = q.AddTask("medium-task", model.PriorityMedium)
	require.NoError(t, err)

	q.RegisterProcessor(func(ctx context.Context, taskID string) error {
		<-release
		mu.Lock()
		order = append(order, taskID)
		mu.Unlock()
		return nil
	})

	// Release jobs one at a time so single-worker ordering is deterministic.
	for i := 0; i < 3; i++ {
		release <- struct{}{}
		waitFor(t, time.Second, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(order) == i+1
		})
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"critical-task", "medium-task", "low-task"}, order)
}

func TestFailedJobRetriesThenFails(t *testing.T) {
	q := newTestQueue(t, Config{
		Concurrency: 1,
		Retry:       RetryPolicy{MaxAttempts: 2, BaseBackoff: 10 * time.Millisecond},
	})

	var attempts int32
	_, err := q.AddTask("flaky-task", model.PriorityMedium)
	require.NoError(t, err)

	q.RegisterProcessor(func(ctx context.Context, taskID string) error {
		atomic.AddInt32(&attempts, 1)
		return pipelineerr.NewRetryable("test", errors.New("boom"))
	})

	waitFor(t, 2*time.Second, func() bool {
		return q.GetJobStatus("flaky-task") == StateFailed
	})
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestNonRetryableFailureSkipsRetry(t *testing.T) {
	q := newTestQueue(t, Config{
		Concurrency: 1,
		Retry:       RetryPolicy{MaxAttempts: 3, BaseBackoff: 10 * time.Millisecond},
	})

	var attempts int32
	_, err := q.AddTask("bad-response-task", model.PriorityMedium)
	require.NoError(t, err)

	q.RegisterProcessor(func(ctx context.Context, taskID string) error {
		atomic.AddInt32(&attempts, 1)
		return pipelineerr.NewParseError("test", errors.New("malformed response"))
	})

	waitFor(t, time.Second, func() bool {
		return q.GetJobStatus("bad-response-task") == StateFailed
	})
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestJobSucceedsAfterTransientFailure(t *testing.T) {
	q := newTestQueue(t, Config{
		Concurrency: 1,
		Retry:       RetryPolicy{MaxAttempts: 3, BaseBackoff: 10 * time.Millisecond},
	})

	var attempts int32
	_, err := q.AddTask("recovering-task", model.PriorityHigh)
	require.NoError(t, err)

	q.RegisterProcessor(func(ctx context.Context, taskID string) error {
		if atomic.AddInt32(&attempts, 1) < 2 {
			return pipelineerr.NewRetryable("test", errors.New("transient"))
		}
		return nil
	})

	waitFor(t, 2*time.Second, func() bool {
		return q.GetJobStatus("recovering-task") == StateCompleted
	})
}

func TestGetJobStatusUnknown(t *testing.T) {
	q := newTestQueue(t, Config{Concurrency: 1})
	require.Equal(t, StateNotFound, q.GetJobStatus("does-not-exist"))
}

func TestCleanQueueRemovesOldTerminalJobs(t *testing.T) {
	q := newTestQueue(t, Config{Concurrency: 1})
	_, err := q.AddTask("done-task", model.PriorityMedium)
	require.NoError(t, err)
	q.RegisterProcessor(func(ctx context.Context, taskID string) error { return nil })

	waitFor(t, time.Second, func() bool { return q.GetJobStatus("done-task") == StateCompleted })

	removed, err := q.CleanQueue(0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, StateNotFound, q.GetJobStatus("done-task"))
}
