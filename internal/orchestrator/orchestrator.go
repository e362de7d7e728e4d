// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator composes the Queue, Task Store, Analyzer, Generator,
// Quality Checker, and Committer into a single pending -> in_progress ->
// {completed, failed} task state machine. There is no separate
// Orchestrator component in the data model; this package is the
// queue-callback glue that projects each stage's outcome into the Task
// Store.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aleutianai/reqpipeline/internal/analyzer"
	"github.com/aleutianai/reqpipeline/internal/committer"
	"github.com/aleutianai/reqpipeline/internal/generator"
	"github.com/aleutianai/reqpipeline/internal/model"
	"github.com/aleutianai/reqpipeline/internal/quality"
	"github.com/aleutianai/reqpipeline/internal/queue"
)

// Progress markers for each named stage.
const (
	progressPending        = 0.0
	progressAnalyzing      = 0.1
	progressAnalyzed       = 0.3
	progressGenerated      = 0.5
	progressQualityChecked = 0.7
	progressCommitting     = 0.8
	progressCompleted      = 1.0
)

// Config controls policy decisions not fixed by the state machine itself.
type Config struct {
	// QualityGateEnabled, when true, blocks the commit stage on a failed
	// quality gate (default policy is commit regardless).
	QualityGateEnabled bool
}

type Orchestrator struct {
	store     TaskStoreMinimal
	queue     QueueMinimal
	analyzer  *analyzer.Analyzer
	generator *generator.Generator
	checker   *quality.Checker
	committer *committer.Committer
	cfg       Config
	logger    *slog.Logger
}

// TaskStoreMinimal and QueueMinimal are the narrow views of store.Store and
// queue.Queue that the orchestrator calls; tests substitute in-memory fakes
// for them.
type TaskStoreMinimal interface {
	CreateTask(t *model.Task) error
	GetTask(taskID string) (*model.Task, error)
	UpdateStatus(taskID string, next model.Status, progress float64, details model.Details, allowRequeue bool) error
	UpsertMetrics(taskID string, m model.QualityMetric, forceNewRow bool) error
}

type QueueMinimal interface {
	AddTask(taskID string, priority model.Priority) (string, error)
	RegisterProcessor(fn queue.Processor)
}

// New wires the pipeline stages together. RegisterProcessor is called on
// queue immediately so submitted tasks begin flowing as soon as workers
// are available.
func New(store TaskStoreMinimal, q QueueMinimal, a *analyzer.Analyzer, g *generator.Generator, checker *quality.Checker, c *committer.Committer, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{store: store, queue: q, analyzer: a, generator: g, checker: checker, committer: c, cfg: cfg, logger: logger}
	q.RegisterProcessor(o.process)
	return o
}

// Submit creates the task row and enqueues its job. These two steps are
// meant to be transactional; BadgerDB has no cross-store two-phase
// commit with the queue's own storage, so Submit instead runs a
// compensating action: if enqueueing fails after the row was created,
// the task is immediately marked failed rather than left silently stuck
// in "pending" with no corresponding job (see DESIGN.md).
func (o *Orchestrator) Submit(t *model.Task) (string, error) {
	if err := o.store.CreateTask(t); err != nil {
		return "", fmt.Errorf("orchestrator: create task: %w", err)
	}
	if _, err := o.queue.AddTask(t.ID, t.Priority); err != nil {
		_ = o.store.UpdateStatus(t.ID, model.StatusFailed, progressPending, model.Details{
			Stage:   "enqueue",
			Message: "failed to enqueue task",
			Error:   err.Error(),
		}, false)
		return "", fmt.Errorf("orchestrator: enqueue task: %w", err)
	}
	return t.ID, nil
}

// process is the queue's registered callback. It runs all four stages
// for one task to completion, in order, inside the calling worker:
// intra-task linearity comes from ordinary in-worker function calls
// rather than an event emitter.
func (o *Orchestrator) process(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("orchestrator: load task %s: %w", taskID, err)
	}

	if err := o.store.UpdateStatus(taskID, model.StatusInProgress, progressAnalyzing, model.Details{
		Stage:   "analyzing",
		Message: "analyzing requirement",
	}, true); err != nil {
		return fmt.Errorf("orchestrator: mark analyzing: %w", err)
	}

	analysis, analysisModel, err := o.analyzer.Analyze(ctx, task.RequirementText, task.Language, task.TemplateContent, analyzer.Options{})
	if err != nil {
		return o.failStage(taskID, "analysis", err)
	}
	if err := o.store.UpdateStatus(taskID, model.StatusInProgress, progressAnalyzed, model.Details{
		Stage:         "analyzed",
		Message:       "analysis complete",
		Analysis:      &analysis,
		AnalysisModel: analysisModel,
	}, true); err != nil {
		return fmt.Errorf("orchestrator: record analysis: %w", err)
	}

	artifact, generatorModel, comparisonArtifacts, err := o.generate(ctx, task, analysis)
	if err != nil {
		return o.failStage(taskID, "generation", err)
	}
	if err := o.store.UpdateStatus(taskID, model.StatusInProgress, progressGenerated, model.Details{
		Stage:          "generated",
		Message:        "code generated",
		Analysis:       &analysis,
		AnalysisModel:  analysisModel,
		GeneratorModel: generatorModel,
	}, true); err != nil {
		return fmt.Errorf("orchestrator: record generation: %w", err)
	}

	verdict, metric, err := o.checker.Check(ctx, analysis, artifact, task.Language)
	if err != nil {
		return o.failStage(taskID, "quality_check", err)
	}
	if err := o.store.UpsertMetrics(taskID, metric, true); err != nil {
		return fmt.Errorf("orchestrator: persist quality metric: %w", err)
	}
	scores := &model.QualityScores{
		CodeQuality:         verdict.CodeQuality,
		RequirementCoverage: verdict.Coverage,
		SyntaxValidity:      verdict.SyntaxValid,
		Aggregate:           model.Aggregate(verdict.CodeQuality, verdict.Coverage, verdict.SyntaxValid),
	}
	passed := verdict.Passed
	if err := o.store.UpdateStatus(taskID, model.StatusInProgress, progressQualityChecked, model.Details{
		Stage:          "quality-checked",
		Message:        "quality check complete",
		Analysis:       &analysis,
		AnalysisModel:  analysisModel,
		GeneratorModel: generatorModel,
		QualityPassed:  &passed,
		QualityScores:  scores,
	}, true); err != nil {
		return fmt.Errorf("orchestrator: record quality check: %w", err)
	}

	if o.cfg.QualityGateEnabled && !verdict.Passed {
		_ = o.store.UpdateStatus(taskID, model.StatusFailed, 0, model.Details{
			Stage:         "quality_check",
			Message:       "quality gate failed",
			Error:         "Low code quality score",
			Analysis:      &analysis,
			AnalysisModel: analysisModel,
			QualityPassed: &passed,
			QualityScores: scores,
		}, false)
		// Gate rejection is a terminal business outcome, not a transport
		// failure: the job itself succeeded, so it must not be retried.
		return nil
	}

	if err := o.store.UpdateStatus(taskID, model.StatusInProgress, progressCommitting, model.Details{
		Stage:          "committing",
		Message:        "pushing commit",
		Analysis:       &analysis,
		AnalysisModel:  analysisModel,
		GeneratorModel: generatorModel,
		QualityPassed:  &passed,
		QualityScores:  scores,
	}, true); err != nil {
		return fmt.Errorf("orchestrator: mark committing: %w", err)
	}

	outputPath := task.OutputPath
	if outputPath == "" {
		outputPath = generator.DefaultOutputPath(analysis.FileStructure, task.Language)
	}

	result, err := o.committer.Commit(ctx, task.RepositoryURL, task.Branch, outputPath, artifact, analysis.Title, task.RequirementText)
	if err != nil {
		return o.failStage(taskID, "code_commit", err)
	}

	comparisons := o.pushComparisonBranches(ctx, task, outputPath, comparisonArtifacts, analysis)

	return o.store.UpdateStatus(taskID, model.StatusCompleted, progressCompleted, model.Details{
		Stage:              "completed",
		Message:            "commit pushed",
		Analysis:           &analysis,
		AnalysisModel:      analysisModel,
		GeneratorModel:     generatorModel,
		CommitHash:         result.CommitHash,
		FilesChanged:       result.FilesChanged,
		QualityPassed:      &passed,
		QualityScores:      scores,
		ComparisonBranches: comparisons,
	}, true)
}

// generate dispatches single-provider or multi-model comparison generation
// depending on whether the task requested comparison providers.
func (o *Orchestrator) generate(ctx context.Context, task *model.Task, analysis model.Analysis) (model.Artifact, string, []generator.Result, error) {
	if len(task.ComparisonProviders) == 0 {
		res, err := o.generator.Generate(ctx, analysis, task.Language, generator.Options{})
		if err != nil {
			return nil, "", nil, err
		}
		return res.Artifact, res.Provider, nil, nil
	}
	cmp, err := o.generator.GenerateComparison(ctx, analysis, task.Language, task.ComparisonProviders)
	if err != nil {
		return nil, "", nil, err
	}
	return cmp.Best.Artifact, cmp.Best.Provider, cmp.Others, nil
}

// pushComparisonBranches commits every non-selected multi-model artifact
// to its own comparison branch. Failures are logged, not propagated: a
// comparison push is best-effort alongside the primary commit.
func (o *Orchestrator) pushComparisonBranches(ctx context.Context, task *model.Task, outputPath string, others []generator.Result, analysis model.Analysis) []model.ComparisonInfo {
	var out []model.ComparisonInfo
	for _, other := range others {
		branch := generator.ComparisonBranch(task.Branch, other.Provider)
		result, err := o.committer.Commit(ctx, task.RepositoryURL, branch, outputPath, other.Artifact, analysis.Title, task.RequirementText)
		if err != nil {
			o.logger.Warn("comparison branch push failed", "provider", other.Provider, "branch", branch, "error", err)
			continue
		}
		out = append(out, model.ComparisonInfo{
			Provider:   other.Provider,
			Branch:     branch,
			CommitHash: result.CommitHash,
			FileCount:  other.Artifact.FileCount(),
		})
	}
	return out
}

func (o *Orchestrator) failStage(taskID, stage string, cause error) error {
	_ = o.store.UpdateStatus(taskID, model.StatusFailed, 0, model.Details{
		Stage:   stage,
		Message: fmt.Sprintf("%s failed", stage),
		Error:   cause.Error(),
	}, false)
	return fmt.Errorf("orchestrator: %s: %w", stage, cause)
}
