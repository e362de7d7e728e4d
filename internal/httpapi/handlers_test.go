// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/aleutianai/reqpipeline/internal/analyzer"
	"github.com/aleutianai/reqpipeline/internal/committer"
	"github.com/aleutianai/reqpipeline/internal/config"
	"github.com/aleutianai/reqpipeline/internal/generator"
	"github.com/aleutianai/reqpipeline/internal/orchestrator"
	"github.com/aleutianai/reqpipeline/internal/provider"
	"github.com/aleutianai/reqpipeline/internal/quality"
	"github.com/aleutianai/reqpipeline/internal/queue"
	"github.com/aleutianai/reqpipeline/internal/storage"
	"github.com/aleutianai/reqpipeline/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRegistry struct{ text string }

func (s *stubRegistry) CallWithFallback(ctx context.Context, prompt, system string, opts provider.CallOptions) (provider.Result, error) {
	return provider.Result{Text: s.text, Provider: "fake-provider"}, nil
}

func newTestServer(t *testing.T) (*Server, *queue.Queue) {
	t.Helper()
	db, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	q, err := queue.New(db, queue.Config{Concurrency: 1})
	require.NoError(t, err)
	t.Cleanup(q.Stop)

	a := analyzer.New(&stubRegistry{text: `{"title":"T","functionality":"f","components":[],"inputsOutputs":"","dependencies":"","fileStructure":[],"implementationStrategy":""}`})
	g := generator.New(&stubRegistry{text: `{"a.go": "package a"}`})
	qc := quality.New(&stubRegistry{text: `{"totalScore": 95, "scores": {}, "feedback": "ok"}`})
	c := committer.New(config.GitConfig{Username: "bot", Email: "bot@example.com"})

	o := orchestrator.New(st, q, a, g, qc, c, orchestrator.Config{}, nil)
	return NewServer(o, st, q, nil, ""), q
}

type stubProbe struct {
	ok  bool
	err error
}

func (p *stubProbe) Probe(ctx context.Context, providerID string) (bool, error) {
	return p.ok, p.err
}

func TestCreateTaskReturnsAccepted(t *testing.T) {
	s, _ := newTestServer(t)
	router := gin.New()
	router.POST("/v1/requirement-tasks", s.CreateTask)

	body := `{"repositoryUrl":"https://example.com/repo.git","branch":"main","requirementText":"do a thing","language":"go"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/requirement-tasks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["id"])
}

func TestCreateTaskRejectsMissingFields(t *testing.T) {
	s, _ := newTestServer(t)
	router := gin.New()
	router.POST("/v1/requirement-tasks", s.CreateTask)

	req := httptest.NewRequest(http.MethodPost, "/v1/requirement-tasks", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTaskRejectsUnknownPriority(t *testing.T) {
	s, _ := newTestServer(t)
	router := gin.New()
	router.POST("/v1/requirement-tasks", s.CreateTask)

	body := `{"repositoryUrl":"https://example.com/repo.git","branch":"main","requirementText":"x","language":"go","priority":"urgentish"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/requirement-tasks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	router := gin.New()
	router.GET("/v1/requirement-tasks/:taskId", s.GetTask)

	req := httptest.NewRequest(http.MethodGet, "/v1/requirement-tasks/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueStatsReturnsCounts(t *testing.T) {
	s, _ := newTestServer(t)
	router := gin.New()
	router.GET("/v1/requirement-tasks/queue/stats", s.QueueStats)

	req := httptest.NewRequest(http.MethodGet, "/v1/requirement-tasks/queue/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var stats queue.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
}

func TestHealthCheckReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestReadyWithoutRegistryIsAlwaysReady(t *testing.T) {
	s, _ := newTestServer(t)
	router := gin.New()
	router.GET("/ready", s.Ready)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestReadyReportsUnavailableOnFailedProbe(t *testing.T) {
	s, _ := newTestServer(t)
	s.registry = &stubProbe{err: errors.New("provider down")}
	s.defaultProvider = "openai"
	router := gin.New()
	router.GET("/ready", s.Ready)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyReportsOKOnSuccessfulProbe(t *testing.T) {
	s, _ := newTestServer(t)
	s.registry = &stubProbe{ok: true}
	s.defaultProvider = "openai"
	router := gin.New()
	router.GET("/ready", s.Ready)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
