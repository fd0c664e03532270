// Package sync periodically exports every stored workbook as JSONL to
// external destinations such as S3 or a git repository.
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/paramgraph/internal/store"
)

// Destination receives complete JSONL exports.
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Write replaces the destination's copy of the export with data.
	Write(ctx context.Context, data []byte) error
}

// target pairs a destination with the digest of the last export it
// accepted, so a destination that failed is retried without rewriting the
// ones that are already current.
type target struct {
	dest Destination
	hash [32]byte
}

// Scheduler exports on a fixed interval and whenever Trigger is called.
type Scheduler struct {
	store    store.Store
	targets  []*target
	interval time.Duration
	logger   *slog.Logger

	trigger chan struct{}
	cancel  context.CancelFunc
	done    sync.WaitGroup

	mu       sync.Mutex // guards targets[*].hash and lastSync
	lastSync time.Time
}

func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	targets := make([]*target, len(destinations))
	for i, d := range destinations {
		targets[i] = &target{dest: d}
	}
	return &Scheduler{
		store:    s,
		targets:  targets,
		interval: interval,
		logger:   logger.With("component", "sync"),
		trigger:  make(chan struct{}, 1),
	}
}

// Start syncs once immediately and then in the background until ctx is
// done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		s.loop(ctx)
	}()
}

// Stop waits for an in-flight sync to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.done.Wait()
}

// Trigger requests a sync without waiting for the next tick. Pending
// triggers coalesce.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// LastSync is when every destination last held the current export.
func (s *Scheduler) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
	}
}

// SyncOnce exports the store and writes it to every destination whose copy
// differs, concurrently. The header timestamp does not count as a change.
func (s *Scheduler) SyncOnce(ctx context.Context) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	data := buf.Bytes()
	hash := contentHash(data)

	s.mu.Lock()
	var stale []*target
	for _, t := range s.targets {
		if t.hash != hash {
			stale = append(stale, t)
		}
	}
	s.mu.Unlock()
	if len(stale) == 0 {
		s.logger.Debug("export unchanged")
		return nil
	}

	errs := make([]error, len(stale))
	var wg sync.WaitGroup
	for i, t := range stale {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.dest.Write(ctx, data); err != nil {
				errs[i] = fmt.Errorf("%s: %w", t.dest.Name(), err)
				return
			}
			s.mu.Lock()
			t.hash = hash
			s.mu.Unlock()
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()
	s.logger.Info("export written", "destinations", len(stale), "bytes", len(data))
	return nil
}
