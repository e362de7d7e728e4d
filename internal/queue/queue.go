// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queue implements the Priority Queue: a
// badger-backed, priority-ordered job list processed by a fixed pool of
// workers, with exponential-backoff retry and stalled-job recovery.
package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
)

// State is the lifecycle state of a queued job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateNotFound  State = "not-found"
)

func terminal(s State) bool { return s == StateCompleted || s == StateFailed }

// Job is the persisted record for one queued unit of work. The job ID is
// always the Task ID it wraps: at most one live job exists per task.
type Job struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"taskId"`
	Priority   int       `json:"priority"`
	Attempt    int       `json:"attempt"`
	LastError  string    `json:"lastError,omitempty"`
	State      State     `json:"state"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Heartbeat  time.Time `json:"heartbeat,omitempty"`

	seq int64 // in-memory tie-break for FIFO-within-priority, not persisted
}

// RetryPolicy controls how many times a failed or stalled job is retried
// and how the backoff between attempts grows (3 attempts,
// exponential backoff starting at 5s).
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 5 * time.Second}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Stats summarizes queue depth by state.
type Stats struct {
	Waiting   int       `json:"waiting"`
	Active    int       `json:"active"`
	Delayed   int       `json:"delayed"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// Processor performs the work associated with one job's task. Returning
// a non-nil error triggers the retry policy.
type Processor func(ctx context.Context, taskID string) error

const jobKeyPrefix = "job:"

func jobKey(id string) []byte { return []byte(jobKeyPrefix + id) }

// Queue is a persistent, priority-ordered, bounded-concurrency job runner.
// A single Queue instance corresponds to one named queue: RegisterProcessor
// starts exactly Concurrency worker goroutines that share the ready heap,
// so at most Concurrency jobs run at once regardless of how many are
// waiting or delayed.
type Queue struct {
	db          *badger.DB
	logger      *slog.Logger
	concurrency int
	retry       RetryPolicy
	stallAfter  time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	ready   readyHeap
	jobs    map[string]*Job
	seq     int64
	stopped bool
	stopCh  chan struct{}
	timers  map[string]*time.Timer
	proc    Processor
	started bool
}

// Config configures a new Queue.
type Config struct {
	Concurrency int
	Retry       RetryPolicy
	// StallAfter is how long an active job may go without a heartbeat
	// update before the sweep goroutine treats it as stalled and retries
	// it.
	StallAfter time.Duration
	Logger     *slog.Logger
}

// New constructs a Queue backed by db, recovering any jobs left over from
// a previous process: jobs still "active" or "delayed" at open time are
// requeued as waiting, since no worker can be running from a prior process.
func New(db *badger.DB, cfg Config) (*Queue, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := &Queue{
		db:          db,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		retry:       cfg.Retry,
		stallAfter:  cfg.StallAfter,
		jobs:        make(map[string]*Job),
		stopCh:      make(chan struct{}),
		timers:      make(map[string]*time.Timer),
	}
	q.cond = sync.NewCond(&q.mu)

	if err := q.loadFromDisk(); err != nil {
		return nil, err
	}
	go q.stallSweepLoop()
	return q, nil
}

func (q *Queue) loadFromDisk() error {
	return q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(jobKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var j Job
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &j) }); err != nil {
				return err
			}
			q.seq++
			j.seq = q.seq
			// A process restart means no worker is actually running any
			// job that looked active or delayed under the old process;
			// recover both back onto the ready heap.
			if j.State == StateActive || j.State == StateDelayed {
				j.State = StateWaiting
			}
			jp := j
			q.jobs[jp.ID] = &jp
			if jp.State == StateWaiting {
				q.ready = append(q.ready, &jp)
			}
		}
		heap.Init(&q.ready)
		return nil
	})
}

func (q *Queue) persist(j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(j.ID), data)
	})
}

// AddTask enqueues taskID at the given priority. Idempotent: if a
// non-terminal job already exists for taskID, its ID is returned unchanged
// rather than creating a duplicate.
func (q *Queue) AddTask(taskID string, priority model.Priority) (string, error) {
	q.mu.Lock()
	if existing, ok := q.jobs[taskID]; ok && !terminal(existing.State) {
		q.mu.Unlock()
		return existing.ID, nil
	}
	q.seq++
	now := time.Now().UTC()
	j := &Job{
		ID:         taskID,
		TaskID:     taskID,
		Priority:   priority.Weight(),
		State:      StateWaiting,
		EnqueuedAt: now,
		UpdatedAt:  now,
		seq:        q.seq,
	}
	q.jobs[taskID] = j
	heap.Push(&q.ready, j)
	q.mu.Unlock()

	if err := q.persist(j); err != nil {
		return "", err
	}
	q.cond.Signal()
	return j.ID, nil
}

// RegisterProcessor binds fn as the work function and starts the worker
// pool. Calling it more than once is a no-op after the first call.
func (q *Queue) RegisterProcessor(fn Processor) {
	q.mu.Lock()
	q.proc = fn
	alreadyStarted := q.started
	q.started = true
	n := q.concurrency
	q.mu.Unlock()

	if alreadyStarted {
		return
	}
	for i := 0; i < n; i++ {
		go q.worker()
	}
}

func (q *Queue) worker() {
	for {
		q.mu.Lock()
		for len(q.ready) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		j := heap.Pop(&q.ready).(*Job)
		fn := q.proc
		q.mu.Unlock()

		q.run(j, fn)
	}
}

func (q *Queue) run(j *Job, fn Processor) {
	q.mu.Lock()
	j.State = StateActive
	j.Attempt++
	j.Heartbeat = time.Now().UTC()
	j.UpdatedAt = j.Heartbeat
	q.mu.Unlock()
	_ = q.persist(j)

	hbStop := make(chan struct{})
	go q.heartbeatLoop(j, hbStop)

	ctx := context.Background()
	err := fn(ctx, j.TaskID)
	close(hbStop)

	if err == nil {
		q.mu.Lock()
		j.State = StateCompleted
		j.LastError = ""
		j.UpdatedAt = time.Now().UTC()
		q.mu.Unlock()
		_ = q.persist(j)
		return
	}
	q.failOrRetry(j, err)
}

func (q *Queue) heartbeatLoop(j *Job, stop chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			q.mu.Lock()
			j.Heartbeat = time.Now().UTC()
			q.mu.Unlock()
			_ = q.persist(j)
		}
	}
}

// failOrRetry applies the retry policy to a job that errored or stalled.
// A cause tagged non-retryable by pipelineerr (a malformed-response parse
// error, for instance) goes straight to StateFailed: retrying would only
// reproduce the same failure, so there is no reason to burn the full
// backoff chain first.
func (q *Queue) failOrRetry(j *Job, cause error) {
	q.mu.Lock()
	j.LastError = cause.Error()
	if pipelineerr.IsRetryable(cause) && j.Attempt < q.retry.MaxAttempts {
		j.State = StateDelayed
		j.UpdatedAt = time.Now().UTC()
		backoff := q.retry.backoff(j.Attempt)
		q.mu.Unlock()
		_ = q.persist(j)

		timer := time.AfterFunc(backoff, func() { q.requeueDelayed(j.ID) })
		q.mu.Lock()
		q.timers[j.ID] = timer
		q.mu.Unlock()
		q.logger.Warn("job failed, scheduled retry", "task_id", j.TaskID, "attempt", j.Attempt, "backoff", backoff, "error", cause)
		return
	}
	j.State = StateFailed
	j.UpdatedAt = time.Now().UTC()
	q.mu.Unlock()
	_ = q.persist(j)
	q.logger.Error("job exhausted retries", "task_id", j.TaskID, "attempts", j.Attempt, "error", cause)
}

func (q *Queue) requeueDelayed(jobID string) {
	q.mu.Lock()
	j, ok := q.jobs[jobID]
	if !ok || j.State != StateDelayed {
		q.mu.Unlock()
		return
	}
	j.State = StateWaiting
	j.UpdatedAt = time.Now().UTC()
	heap.Push(&q.ready, j)
	delete(q.timers, jobID)
	q.mu.Unlock()
	_ = q.persist(j)
	q.cond.Signal()
}

// stallSweepLoop periodically scans active jobs for a heartbeat older than
// StallAfter and routes them through the same retry policy as an errored
// job, mirroring a heartbeat-monitor polling loop rather than a push-based
// cancellation signal.
func (q *Queue) stallSweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sweepStalled()
		}
	}
}

func (q *Queue) sweepStalled() {
	cutoff := time.Now().UTC().Add(-q.stallAfter)
	var stalled []*Job
	q.mu.Lock()
	for _, j := range q.jobs {
		if j.State == StateActive && j.Heartbeat.Before(cutoff) {
			stalled = append(stalled, j)
		}
	}
	q.mu.Unlock()
	for _, j := range stalled {
		q.failOrRetry(j, pipelineerr.NewRetryable("queue", errors.New("job stalled: heartbeat lost")))
	}
}

// GetJobStatus returns the current state of jobID, or StateNotFound.
func (q *Queue) GetJobStatus(jobID string) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return StateNotFound
	}
	return j.State
}

// GetQueueStats returns current counts by state.
func (q *Queue) GetQueueStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	for _, j := range q.jobs {
		switch j.State {
		case StateWaiting:
			s.Waiting++
		case StateActive:
			s.Active++
		case StateDelayed:
			s.Delayed++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	s.Total = s.Waiting + s.Active + s.Delayed + s.Completed + s.Failed
	s.Timestamp = time.Now().UTC()
	return s
}

// CleanQueue removes completed and failed jobs last updated more than
// grace ago, returning the number removed.
func (q *Queue) CleanQueue(grace time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-grace)
	var toDelete []string
	q.mu.Lock()
	for id, j := range q.jobs {
		if terminal(j.State) && j.UpdatedAt.Before(cutoff) {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		delete(q.jobs, id)
	}
	q.mu.Unlock()

	if len(toDelete) == 0 {
		return 0, nil
	}
	err := q.db.Update(func(txn *badger.Txn) error {
		for _, id := range toDelete {
			if err := txn.Delete(jobKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clean queue: %w", err)
	}
	return len(toDelete), nil
}

// Stop halts the worker pool and the stall-sweep loop. In-flight jobs run
// to completion; nothing new is dequeued afterward.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for _, t := range q.timers {
		t.Stop()
	}
	q.mu.Unlock()
	close(q.stopCh)
	q.cond.Broadcast()
}

// snapshotJobs returns a stable, sorted-by-seq copy of all known jobs.
// Exposed for tests that need to assert on ordering.
func (q *Queue) snapshotJobs() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
