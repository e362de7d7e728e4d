// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage opens the embedded BadgerDB instance shared by the Task
// Store and the Priority Queue's job records. Both keep their durability
// in the same database under distinct key prefixes ("task:", "job:",
// "metric:") so a single process owns a single set of on-disk files.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Used by the
	// store, queue and httpapi tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability. Default: true
	// for production, false for testing.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. If nil, BadgerDB's
	// internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is a value log garbage collection interval for callers to
	// pass to NewGCRunner. Open does not read it or GCDiscardRatio; no
	// periodic sweep runs unless a GCRunner is started.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC
	// reclaims a value log segment.
	GCDiscardRatio float64
}

// DefaultConfig returns sensible defaults for production use: synchronous
// writes and a five-minute GC sweep at a 50% discard ratio.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests: in-memory, unsynced,
// GC disabled.
func InMemoryConfig() Config {
	return Config{InMemory: true, SyncWrites: false}
}

type badgerLogger struct{ logger *slog.Logger }

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Error(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warn(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Info(fmt.Sprintf(format, args...)) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debug(fmt.Sprintf(format, args...)) }

// Open creates and opens a BadgerDB instance with the given configuration.
// Callers must call Close() on the returned DB when done.
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// GCRunner periodically triggers BadgerDB value log garbage collection.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

// NewGCRunner creates a runner that periodically triggers value log GC.
// Call Start to begin and Stop to halt it.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCRunner{db: db, interval: interval, ratio: ratio, stopCh: make(chan struct{}), doneCh: make(chan struct{}), logger: logger}, nil
}

// Start runs the GC sweep loop until Stop is called.
func (r *GCRunner) Start() {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
			again:
				err := r.db.RunValueLogGC(r.ratio)
				if err == nil {
					goto again
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					r.logger.Warn("badger value log gc failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the GC loop and waits for it to exit.
func (r *GCRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}
