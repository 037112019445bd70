// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler drives background session compaction on a cron
// cadence: each tick sweeps recently active sessions and runs the moment
// builder for each one. Postgres advisory locks inside the builder keep
// multiple scheduler replicas from compacting the same session at once.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/moment"
	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/types"
)

// Defaults for the sweep cadence and activity window.
const (
	DefaultCron           = "@every 1m"
	DefaultActivityWindow = 24 * time.Hour
	DefaultRunTimeout     = 5 * time.Minute
)

// CompactionRunner runs one compaction pass for a session.
// *moment.Builder implements it.
type CompactionRunner interface {
	Run(ctx context.Context, rc types.RequestContext, sessionID string) moment.Result
}

// SessionSource lists sessions eligible for compaction.
// *storage.Adapter implements it via FetchMany.
type SessionSource interface {
	FetchMany(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// ActiveSession identifies one session due for a compaction pass.
type ActiveSession struct {
	SessionID string
	TenantID  string
	UserID    string
}

// Stats is a snapshot of scheduler activity since Start.
type Stats struct {
	Sweeps         int64
	Runs           int64
	MomentsCreated int64
	Skipped        int64
	Failures       int64
}

// Config contains scheduler configuration.
type Config struct {
	Store   SessionSource
	Builder CompactionRunner

	// Cron is the sweep schedule in standard 5-field or descriptor form.
	Cron string

	// ActivityWindow bounds the sweep to sessions with messages newer
	// than now minus the window.
	ActivityWindow time.Duration

	// RunTimeout caps a single session's compaction pass.
	RunTimeout time.Duration

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Scheduler manages cron-based session compaction.
type Scheduler struct {
	mu       sync.Mutex
	inFlight map[string]bool // session id -> running locally
	stats    Stats

	store   SessionSource
	builder CompactionRunner

	cronExpr   string
	window     time.Duration
	runTimeout time.Duration

	cronEngine *cron.Cron
	stopCh     chan struct{}
	wg         sync.WaitGroup

	tracer observability.Tracer
	logger *zap.Logger
}

// NewScheduler creates a compaction scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if _, err := cron.ParseStandard(cfg.Cron); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = DefaultActivityWindow
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		inFlight:   make(map[string]bool),
		store:      cfg.Store,
		builder:    cfg.Builder,
		cronExpr:   cfg.Cron,
		window:     cfg.ActivityWindow,
		runTimeout: cfg.RunTimeout,
		cronEngine: cron.New(),
		stopCh:     make(chan struct{}),
		tracer:     cfg.Tracer,
		logger:     cfg.Logger,
	}, nil
}

// Start begins the sweep schedule.
func (s *Scheduler) Start() error {
	_, err := s.cronEngine.AddFunc(s.cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("compaction sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.cronEngine.Start()
	s.logger.Info("compaction scheduler started", zap.String("cron", s.cronExpr))
	return nil
}

// Stop shuts the scheduler down, waiting for in-flight compactions until
// the context expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.stopCh)
	cronCtx := s.cronEngine.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timeout, compactions may still be running")
		return ctx.Err()
	}

	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("compaction scheduler stopped")
	return nil
}

// Sweep runs one compaction pass over all recently active sessions.
func (s *Scheduler) Sweep(ctx context.Context) error {
	ctx, span := s.tracer.StartSpan(ctx, "scheduler.sweep")
	defer s.tracer.EndSpan(span)

	sessions, err := s.ActiveSessions(ctx)
	if err != nil {
		s.tracer.RecordError(span, err)
		return err
	}
	span.SetAttribute("sessions", len(sessions))

	s.mu.Lock()
	s.stats.Sweeps++
	s.mu.Unlock()

	for _, sess := range sessions {
		select {
		case <-s.stopCh:
			return nil
		default:
		}
		s.compactOne(ctx, sess)
	}
	return nil
}

// ActiveSessions lists sessions with messages inside the activity window.
func (s *Scheduler) ActiveSessions(ctx context.Context) ([]ActiveSession, error) {
	since := time.Now().UTC().Add(-s.window)
	rows, err := s.store.FetchMany(ctx,
		`SELECT session_id, tenant_id, user_id
		   FROM messages
		  WHERE session_id <> '' AND deleted_at IS NULL AND created_at > $1
		  GROUP BY session_id, tenant_id, user_id
		  ORDER BY MAX(created_at) DESC`,
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	out := make([]ActiveSession, 0, len(rows))
	for _, row := range rows {
		sess := ActiveSession{
			SessionID: stringVal(row["session_id"]),
			TenantID:  stringVal(row["tenant_id"]),
			UserID:    stringVal(row["user_id"]),
		}
		if sess.SessionID != "" {
			out = append(out, sess)
		}
	}
	return out, nil
}

// TriggerNow runs compaction for a single session immediately, outside
// the cron cadence.
func (s *Scheduler) TriggerNow(ctx context.Context, rc types.RequestContext, sessionID string) moment.Result {
	return s.runBuilder(ctx, rc, sessionID)
}

// compactOne runs the builder for one session unless a local run is
// already in flight for it.
func (s *Scheduler) compactOne(ctx context.Context, sess ActiveSession) {
	s.mu.Lock()
	if s.inFlight[sess.SessionID] {
		s.mu.Unlock()
		return
	}
	s.inFlight[sess.SessionID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, sess.SessionID)
			s.mu.Unlock()
		}()

		runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()

		rc := types.RequestContext{TenantID: sess.TenantID, UserID: sess.UserID, SessionID: sess.SessionID}
		s.runBuilder(runCtx, rc, sess.SessionID)
	}()
}

func (s *Scheduler) runBuilder(ctx context.Context, rc types.RequestContext, sessionID string) moment.Result {
	res := s.builder.Run(ctx, rc, sessionID)

	s.mu.Lock()
	s.stats.Runs++
	s.stats.MomentsCreated += int64(res.MomentsCreated)
	if res.Skipped {
		s.stats.Skipped++
	}
	if res.Err != nil {
		s.stats.Failures++
	}
	s.mu.Unlock()

	if res.Err != nil {
		s.logger.Error("compaction failed",
			zap.String("session_id", sessionID), zap.Error(res.Err))
	} else if res.MomentsCreated > 0 {
		s.logger.Info("compaction produced moments",
			zap.String("session_id", sessionID), zap.Int("moments", res.MomentsCreated))
	}
	return res
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Wait blocks until all in-flight compactions finish. Tests use it.
func (s *Scheduler) Wait() { s.wg.Wait() }

func stringVal(v interface{}) string {
	s, _ := v.(string)
	return s
}
