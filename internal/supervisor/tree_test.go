// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// blockingService runs until its context is canceled.
type blockingService struct {
	started atomic.Int32
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return "blocking" }

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want 5", cfg.FailureThreshold)
	}
	if cfg.FailureBackoff != 15*time.Second {
		t.Errorf("FailureBackoff = %v, want 15s", cfg.FailureBackoff)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestTreeRunsServicesInBothLayers(t *testing.T) {
	tree := NewTree(testLogger(), DefaultTreeConfig())

	storageSvc := &blockingService{}
	apiSvc := &blockingService{}
	tree.AddStorageService(storageSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for storageSvc.started.Load() == 0 || apiSvc.started.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("services did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("tree stopped with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestTreeZeroConfigGetsDefaults(t *testing.T) {
	tree := NewTree(testLogger(), TreeConfig{})
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want default 5", tree.config.FailureThreshold)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want default 10s", tree.config.ShutdownTimeout)
	}
}

// crashingService fails a fixed number of times, then blocks.
type crashingService struct {
	remaining atomic.Int32
	runs      atomic.Int32
}

func (s *crashingService) Serve(ctx context.Context) error {
	s.runs.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *crashingService) String() string { return "crashing" }

func TestTreeRestartsFailedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(testLogger(), cfg)

	svc := &crashingService{}
	svc.remaining.Store(2)
	tree.AddAPIService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for svc.runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("service restarted %d times, want >= 3 runs", svc.runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-errCh
}
