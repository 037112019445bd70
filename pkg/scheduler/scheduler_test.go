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
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/rem/pkg/moment"
	"github.com/teradata-labs/rem/pkg/types"
)

type fakeSource struct {
	rows []map[string]interface{}
	err  error
}

func (f *fakeSource) FetchMany(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	return f.rows, f.err
}

type fakeRunner struct {
	mu      sync.Mutex
	runs    []string
	results map[string]moment.Result
}

func (f *fakeRunner) Run(ctx context.Context, rc types.RequestContext, sessionID string) moment.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, sessionID)
	if res, ok := f.results[sessionID]; ok {
		return res
	}
	return moment.Result{Success: true}
}

func (f *fakeRunner) sessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...)
}

func TestSweepRunsEachActiveSession(t *testing.T) {
	source := &fakeSource{rows: []map[string]interface{}{
		{"session_id": "s-1", "tenant_id": "acme", "user_id": "u-1"},
		{"session_id": "s-2", "tenant_id": "acme", "user_id": "u-2"},
	}}
	runner := &fakeRunner{results: map[string]moment.Result{
		"s-1": {Success: true, MomentsCreated: 2},
		"s-2": {Success: true, Skipped: true},
	}}

	s, err := NewScheduler(Config{Store: source, Builder: runner})
	require.NoError(t, err)

	require.NoError(t, s.Sweep(context.Background()))
	s.Wait()

	assert.ElementsMatch(t, []string{"s-1", "s-2"}, runner.sessions())
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Sweeps)
	assert.Equal(t, int64(2), stats.Runs)
	assert.Equal(t, int64(2), stats.MomentsCreated)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Zero(t, stats.Failures)
}

func TestSweepCountsFailures(t *testing.T) {
	source := &fakeSource{rows: []map[string]interface{}{
		{"session_id": "s-1", "tenant_id": "acme", "user_id": "u-1"},
	}}
	runner := &fakeRunner{results: map[string]moment.Result{
		"s-1": {Err: fmt.Errorf("extraction failed")},
	}}

	s, err := NewScheduler(Config{Store: source, Builder: runner})
	require.NoError(t, err)
	require.NoError(t, s.Sweep(context.Background()))
	s.Wait()

	assert.Equal(t, int64(1), s.Stats().Failures)
}

func TestActiveSessionsSkipsBlankIDs(t *testing.T) {
	source := &fakeSource{rows: []map[string]interface{}{
		{"session_id": "s-1", "tenant_id": "acme", "user_id": "u-1"},
		{"session_id": "", "tenant_id": "acme", "user_id": "u-2"},
	}}
	s, err := NewScheduler(Config{Store: source, Builder: &fakeRunner{}})
	require.NoError(t, err)

	sessions, err := s.ActiveSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s-1", sessions[0].SessionID)
	assert.Equal(t, "u-1", sessions[0].UserID)
}

func TestTriggerNowBypassesCron(t *testing.T) {
	runner := &fakeRunner{results: map[string]moment.Result{
		"s-9": {Success: true, MomentsCreated: 1},
	}}
	s, err := NewScheduler(Config{Store: &fakeSource{}, Builder: runner})
	require.NoError(t, err)

	res := s.TriggerNow(context.Background(), types.RequestContext{TenantID: "acme"}, "s-9")
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.MomentsCreated)
	assert.Equal(t, []string{"s-9"}, runner.sessions())
}

func TestNewSchedulerRejectsBadCron(t *testing.T) {
	_, err := NewScheduler(Config{Store: &fakeSource{}, Builder: &fakeRunner{}, Cron: "not a cron"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestStartStop(t *testing.T) {
	s, err := NewScheduler(Config{Store: &fakeSource{}, Builder: &fakeRunner{}, Cron: "@every 1h"})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop(context.Background()))
}
