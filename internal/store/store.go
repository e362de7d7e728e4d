// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store implements the Task Store: the durable
// source of truth for every Task and its Quality Metric rows, backed by
// the embedded BadgerDB instance opened by internal/storage.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
)

const (
	taskPrefix   = "task:"
	metricPrefix = "metric:"
)

// Store is the durable Task Store. All methods are safe for concurrent
// use; BadgerDB serializes writes per key at the transaction level.
type Store struct {
	db *badger.DB
}

// New wraps an already-opened BadgerDB handle.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

func taskKey(id string) []byte { return []byte(taskPrefix + id) }
func metricKey(taskID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", metricPrefix, taskID, seq))
}
func metricPrefixFor(taskID string) []byte { return []byte(metricPrefix + taskID + ":") }

// CreateTask inserts a new pending Task row. The caller is responsible
// for enqueueing the job after CreateTask returns successfully;
// orchestrator.Submit performs both steps and marks the task failed if
// enqueueing does not succeed.
func (s *Store) CreateTask(t *model.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.Status = model.StatusPending
	t.Progress = 0
	t.CreatedAt = now
	t.UpdatedAt = now

	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(t)
		if err != nil {
			return pipelineerr.New(pipelineerr.Unknown, "task_store", err)
		}
		return txn.Set(taskKey(t.ID), data)
	})
}

// GetTask returns the current row for taskID, or a not-found error.
func (s *Store) GetTask(taskID string) (*model.Task, error) {
	var t model.Task
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(taskID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return pipelineerr.New(pipelineerr.NotFound, "task_store", fmt.Errorf("task %s not found", taskID))
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &t)
		})
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatus performs a single-row write: status transitions are
// validated against model.Status.CanTransition, progress and details
// replace prior values, and updated-at is refreshed.
// allowRequeue permits the one exception to monotonic advancement: an
// explicit re-queue moving a terminal task back to in_progress.
func (s *Store) UpdateStatus(taskID string, next model.Status, progress float64, details model.Details, allowRequeue bool) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(taskID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return pipelineerr.New(pipelineerr.NotFound, "task_store", fmt.Errorf("task %s not found", taskID))
			}
			return err
		}
		var t model.Task
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &t) }); err != nil {
			return err
		}

		if !t.Status.CanTransition(next, allowRequeue) {
			return pipelineerr.New(pipelineerr.Conflict, "task_store", fmt.Errorf("illegal transition %s -> %s", t.Status, next))
		}

		t.Status = next
		t.Progress = progress
		t.Details = details
		t.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return txn.Set(taskKey(taskID), data)
	})
}

// UpsertMetrics creates a Quality Metric row if none exists for taskID,
// otherwise overwrites the most recent row's scores/payload/feedback.
// Rows are otherwise append-only across distinct check
// attempts, so an explicit forceNewRow flag lets the caller (the
// orchestrator's quality stage) start a fresh attempt rather than
// overwrite the last one.
func (s *Store) UpsertMetrics(taskID string, m model.QualityMetric, forceNewRow bool) error {
	m.TaskID = taskID
	m.CreatedAt = time.Now().UTC()

	return s.db.Update(func(txn *badger.Txn) error {
		seq, existingKey, err := s.latestMetricSeq(txn, taskID)
		if err != nil {
			return err
		}
		key := existingKey
		if forceNewRow || existingKey == nil {
			key = metricKey(taskID, seq+1)
		}
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func (s *Store) latestMetricSeq(txn *badger.Txn, taskID string) (int, []byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := metricPrefixFor(taskID)
	seq := 0
	var lastKey []byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		k := it.Item().KeyCopy(nil)
		seq++
		lastKey = k
	}
	return seq, lastKey, nil
}

// GetMetricsByTask returns every Quality Metric row recorded for taskID,
// oldest first.
func (s *Store) GetMetricsByTask(taskID string) ([]model.QualityMetric, error) {
	var out []model.QualityMetric
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := metricPrefixFor(taskID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m model.QualityMetric
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &m) }); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// ListTasks returns every task matching filter, sorted by CreatedAt
// ascending.
func (s *Store) ListTasks(filter model.ListFilter) ([]model.Task, error) {
	var out []model.Task
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(taskPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var t model.Task
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &t) }); err != nil {
				return err
			}
			if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
				continue
			}
			if filter.Status != "" && t.Status != filter.Status {
				continue
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
