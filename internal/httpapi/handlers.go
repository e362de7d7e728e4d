// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi exposes the requirement processing pipeline over HTTP:
// task submission, status polling, listing, and queue
// administration. Authentication and request validation beyond basic
// shape checks are left as an injectable gin middleware slot.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/orchestrator"
	"github.com/aleutianai/reqpipeline/internal/queue"
)

// TaskLister is the subset of store.Store needed for read endpoints.
// Defined here, not imported from store, to keep this package's
// dependency surface to what the handlers actually call.
type TaskLister interface {
	GetTask(taskID string) (*model.Task, error)
	ListTasks(filter model.ListFilter) ([]model.Task, error)
}

// ProviderProbe is the subset of provider.Registry needed for the
// optional readiness check. Defined here rather than imported to keep
// this package's dependency surface to the one method it calls.
type ProviderProbe interface {
	Probe(ctx context.Context, providerID string) (bool, error)
}

// Server holds the dependencies every handler closes over.
type Server struct {
	orchestrator    *orchestrator.Orchestrator
	store           TaskLister
	q               *queue.Queue
	registry        ProviderProbe
	defaultProvider string
}

// NewServer constructs the handler set. q is the concrete *queue.Queue
// rather than an interface because CleanQueue takes a time.Duration and
// this package has no reason to abstract that away from the one real
// implementation. registry and defaultProvider back the optional /ready
// probe; pass a nil registry to skip it and report ready unconditionally.
func NewServer(o *orchestrator.Orchestrator, store TaskLister, q *queue.Queue, registry ProviderProbe, defaultProvider string) *Server {
	return &Server{orchestrator: o, store: store, q: q, registry: registry, defaultProvider: defaultProvider}
}

// createTaskRequest is the wire shape of POST /requirement-tasks.
type createTaskRequest struct {
	ProjectID           string   `json:"projectId"`
	RepositoryURL       string   `json:"repositoryUrl" binding:"required"`
	Branch              string   `json:"branch" binding:"required"`
	RequirementText     string   `json:"requirementText" binding:"required"`
	Priority            string   `json:"priority"`
	Language            string   `json:"language" binding:"required"`
	OutputPath          string   `json:"outputPath"`
	TemplateID          string   `json:"templateId"`
	ComparisonProviders []string `json:"comparisonProviders"`
}

// CreateTask handles POST /requirement-tasks.
func (s *Server) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority := model.Priority(req.Priority)
	switch priority {
	case model.PriorityLow, model.PriorityMedium, model.PriorityHigh, model.PriorityCritical:
	case "":
		priority = model.PriorityMedium
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority: " + req.Priority})
		return
	}

	task := &model.Task{
		ProjectID:           req.ProjectID,
		RepositoryURL:       req.RepositoryURL,
		Branch:              req.Branch,
		RequirementText:     req.RequirementText,
		Priority:            priority,
		Language:            model.Language(req.Language),
		OutputPath:          req.OutputPath,
		TemplateID:          req.TemplateID,
		ComparisonProviders: req.ComparisonProviders,
	}

	taskID, err := s.orchestrator.Submit(task)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": taskID, "status": model.StatusPending})
}

// GetTask handles GET /requirement-tasks/:taskId.
func (s *Server) GetTask(c *gin.Context) {
	taskID := c.Param("taskId")
	task, err := s.store.GetTask(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListTasks handles GET /requirement-tasks.
func (s *Server) ListTasks(c *gin.Context) {
	filter := model.ListFilter{
		ProjectID: c.Query("projectId"),
		Status:    model.Status(c.Query("status")),
	}
	tasks, err := s.store.ListTasks(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// QueueStats handles GET /requirement-tasks/queue/stats.
func (s *Server) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.q.GetQueueStats())
}

// cleanQueueRequest is the wire shape of POST /requirement-tasks/queue/clean.
type cleanQueueRequest struct {
	GraceSeconds int `json:"graceSeconds"`
}

// CleanQueue handles POST /requirement-tasks/queue/clean.
func (s *Server) CleanQueue(c *gin.Context) {
	var req cleanQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.GraceSeconds <= 0 {
		req.GraceSeconds = 3600
	}
	removed, err := s.q.CleanQueue(time.Duration(req.GraceSeconds) * time.Second)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// HealthCheck reports liveness for load balancer and orchestrator probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /ready: when a provider registry was wired in, it
// sends a canary prompt to the default LLM provider and reports not
// ready on error or a non-affirmative response. With no registry wired,
// it reports ready unconditionally, since the check is optional.
func (s *Server) Ready(c *gin.Context) {
	if s.registry == nil || s.defaultProvider == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}
	ok, err := s.registry.Probe(c.Request.Context(), s.defaultProvider)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
