// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/pipelineerr"
	"github.com/aleutianai/reqpipeline/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestCreateTaskAssignsIDAndPendingStatus(t *testing.T) {
	s := newTestStore(t)
	task := &model.Task{ProjectID: "proj-1", RepositoryURL: "https://example.com/repo.git", Branch: "main"}

	require.NoError(t, s.CreateTask(task))
	require.NotEmpty(t, task.ID)
	require.Equal(t, model.StatusPending, task.Status)
	require.Zero(t, task.Progress)

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, task.ID, got.ID)
	require.Equal(t, "proj-1", got.ProjectID)
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask("does-not-exist")
	require.Equal(t, pipelineerr.NotFound, pipelineerr.CategoryOf(err))
}

func TestUpdateStatusRejectsIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	task := &model.Task{ProjectID: "proj-1"}
	require.NoError(t, s.CreateTask(task))

	err := s.UpdateStatus(task.ID, model.StatusCompleted, 1, model.Details{}, false)
	require.Equal(t, pipelineerr.Conflict, pipelineerr.CategoryOf(err))
}

func TestUpdateStatusAdvancesThroughStages(t *testing.T) {
	s := newTestStore(t)
	task := &model.Task{ProjectID: "proj-1"}
	require.NoError(t, s.CreateTask(task))

	require.NoError(t, s.UpdateStatus(task.ID, model.StatusInProgress, 0.1, model.Details{Stage: "analyzing"}, true))
	require.NoError(t, s.UpdateStatus(task.ID, model.StatusCompleted, 1, model.Details{Stage: "completed"}, true))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)
	require.Equal(t, "completed", got.Details.Stage)
}

func TestUpdateStatusAllowsRequeueFromTerminal(t *testing.T) {
	s := newTestStore(t)
	task := &model.Task{ProjectID: "proj-1"}
	require.NoError(t, s.CreateTask(task))
	require.NoError(t, s.UpdateStatus(task.ID, model.StatusFailed, 0, model.Details{Stage: "generation"}, false))

	err := s.UpdateStatus(task.ID, model.StatusInProgress, 0, model.Details{Stage: "analyzing"}, false)
	require.Equal(t, pipelineerr.Conflict, pipelineerr.CategoryOf(err))

	require.NoError(t, s.UpdateStatus(task.ID, model.StatusInProgress, 0, model.Details{Stage: "analyzing"}, true))
}

func TestUpsertMetricsForceNewRowAppends(t *testing.T) {
	s := newTestStore(t)
	task := &model.Task{ProjectID: "proj-1"}
	require.NoError(t, s.CreateTask(task))

	require.NoError(t, s.UpsertMetrics(task.ID, model.QualityMetric{CodeQualityScore: 70}, false))
	require.NoError(t, s.UpsertMetrics(task.ID, model.QualityMetric{CodeQualityScore: 90}, true))

	rows, err := s.GetMetricsByTask(task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 70.0, rows[0].CodeQualityScore)
	require.Equal(t, 90.0, rows[1].CodeQualityScore)
}

func TestUpsertMetricsWithoutForceOverwritesLatest(t *testing.T) {
	s := newTestStore(t)
	task := &model.Task{ProjectID: "proj-1"}
	require.NoError(t, s.CreateTask(task))

	require.NoError(t, s.UpsertMetrics(task.ID, model.QualityMetric{CodeQualityScore: 70}, true))
	require.NoError(t, s.UpsertMetrics(task.ID, model.QualityMetric{CodeQualityScore: 95}, false))

	rows, err := s.GetMetricsByTask(task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 95.0, rows[0].CodeQualityScore)
}

func TestListTasksFiltersByProjectAndStatus(t *testing.T) {
	s := newTestStore(t)
	a := &model.Task{ProjectID: "proj-a"}
	b := &model.Task{ProjectID: "proj-a"}
	c := &model.Task{ProjectID: "proj-b"}
	require.NoError(t, s.CreateTask(a))
	require.NoError(t, s.CreateTask(b))
	require.NoError(t, s.CreateTask(c))
	require.NoError(t, s.UpdateStatus(a.ID, model.StatusInProgress, 0.1, model.Details{}, true))

	all, err := s.ListTasks(model.ListFilter{ProjectID: "proj-a"})
	require.NoError(t, err)
	require.Len(t, all, 2)

	pending, err := s.ListTasks(model.ListFilter{ProjectID: "proj-a", Status: model.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, b.ID, pending[0].ID)
}
