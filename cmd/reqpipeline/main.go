// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aleutianai/reqpipeline/internal/analyzer"
	"github.com/aleutianai/reqpipeline/internal/committer"
	"github.com/aleutianai/reqpipeline/internal/config"
	"github.com/aleutianai/reqpipeline/internal/generator"
	"github.com/aleutianai/reqpipeline/internal/httpapi"
	"github.com/aleutianai/reqpipeline/internal/observability"
	"github.com/aleutianai/reqpipeline/internal/orchestrator"
	"github.com/aleutianai/reqpipeline/internal/provider"
	"github.com/aleutianai/reqpipeline/internal/quality"
	"github.com/aleutianai/reqpipeline/internal/queue"
	"github.com/aleutianai/reqpipeline/internal/storage"
	"github.com/aleutianai/reqpipeline/internal/store"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "reqpipeline-otel-collector:4317"
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("reqpipeline")))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		cleanup, err := initTracer()
		if err != nil {
			slog.Warn("failed to set up OTLP tracer, continuing without tracing", "error", err)
		} else {
			defer cleanup(context.Background())
		}
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, running without distributed tracing")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		log.Fatalf("failed to create data directory %s: %v", cfg.DataDir, err)
	}
	db, err := storage.Open(storage.Config{Path: cfg.DataDir, SyncWrites: true})
	if err != nil {
		log.Fatalf("failed to open BadgerDB at %s: %v", cfg.DataDir, err)
	}
	defer db.Close()

	gc, err := storage.NewGCRunner(db, 5*time.Minute, 0.5, logger)
	if err != nil {
		log.Fatalf("failed to start BadgerDB GC runner: %v", err)
	}
	gc.Start()
	defer gc.Stop()

	registry, err := provider.NewRegistry(cfg)
	if err != nil {
		log.Fatalf("failed to build LLM provider registry: %v", err)
	}
	enabled := registry.ListAvailable()
	if len(enabled) == 0 {
		slog.Warn("no LLM providers are enabled; analysis and generation will fail until credentials are configured")
	} else {
		slog.Info("LLM provider registry ready", "providers", enabled, "default", cfg.DefaultProvider)
	}

	taskStore := store.New(db)

	q, err := queue.New(db, queue.Config{
		Concurrency: cfg.MaxConcurrentTasks,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("failed to start priority queue: %v", err)
	}
	defer q.Stop()

	a := analyzer.New(registry)
	g := generator.New(registry)
	qc := quality.New(registry)
	c := committer.New(cfg.Git)

	orch := orchestrator.New(taskStore, q, a, g, qc, c, orchestrator.Config{QualityGateEnabled: cfg.QualityGateEnabled}, logger)

	metrics := observability.InitMetrics()
	stopMetrics := pollQueueDepth(q, metrics, 15*time.Second)
	defer close(stopMetrics)

	router := gin.Default()
	router.Use(otelgin.Middleware("reqpipeline"))

	server := httpapi.NewServer(orch, taskStore, q, registry, cfg.DefaultProvider)
	httpapi.SetupRoutes(router, server, noopAuth)

	port := os.Getenv("REQPIPELINE_PORT")
	if port == "" {
		port = "8080"
	}
	slog.Info("starting reqpipeline server", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// noopAuth is the open-source default authentication middleware: it
// authenticates every request as a local caller. A deployment that
// needs real auth swaps this for a bearer-token validator at the
// httpapi.SetupRoutes call site.
func noopAuth(c *gin.Context) {
	c.Next()
}

// pollQueueDepth periodically snapshots the queue into the QueueDepth
// gauge; the queue has no push notification for stat changes.
func pollQueueDepth(q *queue.Queue, metrics *observability.PipelineMetrics, interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.ObserveQueueStats(q.GetQueueStats())
			case <-stop:
				return
			}
		}
	}()
	return stop
}
