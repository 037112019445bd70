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

// Package moment compresses session message streams into durable moments:
// the lag-based selection, the extraction pipeline, and the partition
// marker that replaces compressed history on reload.
package moment

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/agent"
	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/rem"
	"github.com/teradata-labs/rem/pkg/session"
	"github.com/teradata-labs/rem/pkg/types"
)

// Defaults for the lag mechanism.
const (
	DefaultLagMessages   = 5
	DefaultLagPercentage = 0.1
	DefaultMinimumBatch  = 5

	// DefaultChainDepth is how many prior moment keys each new moment
	// links back to.
	DefaultChainDepth = 3

	// DefaultRecencyBag is the "last-N moments" count carried on every
	// partition marker for global recency.
	DefaultRecencyBag = 10
)

// stateURIPrefix keys the per-session compaction state resource.
const stateURIPrefix = "rem:session-state:"

// Extractor turns a transcript into moment candidates. *agent.Extractor
// implements it.
type Extractor interface {
	Extract(ctx context.Context, transcript string, previousKeys []string, userSummary string) (*agent.Extraction, error)
}

// EntityStore is the storage surface the builder needs. *storage.Adapter
// implements it.
type EntityStore interface {
	Upsert(ctx context.Context, rc types.RequestContext, entities ...rem.Entity) ([]string, error)
	FetchOne(ctx context.Context, sql string, args ...interface{}) (map[string]interface{}, error)
	FetchMany(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
	Execute(ctx context.Context, sql string, args ...interface{}) (int64, error)
}

// Locker coalesces concurrent builder runs per session.
// (*storage.Adapter).TryAdvisoryLock implements it.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, lockID int64, fn func() error) (bool, error)
}

// Result is the structured outcome of one builder run.
type Result struct {
	Success           bool
	Skipped           bool // another run held the session lock
	MomentsCreated    int
	PartitionInserted bool
	Err               error
}

// Config wires a moment builder.
type Config struct {
	Store     EntityStore
	Locker    Locker
	Extractor Extractor

	LagMessages   int
	LagPercentage float64
	MinimumBatch  int
	ChainDepth    int
	RecencyBag    int

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Builder incrementally compresses a session's messages into moments.
type Builder struct {
	store     EntityStore
	locker    Locker
	extractor Extractor

	lagMessages   int
	lagPercentage float64
	minimumBatch  int
	chainDepth    int
	recencyBag    int

	tracer observability.Tracer
	logger *zap.Logger
}

// NewBuilder creates a moment builder.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if cfg.LagMessages <= 0 {
		cfg.LagMessages = DefaultLagMessages
	}
	if cfg.LagPercentage <= 0 {
		cfg.LagPercentage = DefaultLagPercentage
	}
	if cfg.MinimumBatch <= 0 {
		cfg.MinimumBatch = DefaultMinimumBatch
	}
	if cfg.ChainDepth <= 0 {
		cfg.ChainDepth = DefaultChainDepth
	}
	if cfg.RecencyBag <= 0 {
		cfg.RecencyBag = DefaultRecencyBag
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Builder{
		store:         cfg.Store,
		locker:        cfg.Locker,
		extractor:     cfg.Extractor,
		lagMessages:   cfg.LagMessages,
		lagPercentage: cfg.LagPercentage,
		minimumBatch:  cfg.MinimumBatch,
		chainDepth:    cfg.ChainDepth,
		recencyBag:    cfg.RecencyBag,
		tracer:        cfg.Tracer,
		logger:        cfg.Logger,
	}, nil
}

// SessionLockID derives the advisory lock id for a session.
func SessionLockID(sessionID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("rem:moment:" + sessionID))
	return int64(h.Sum64())
}

// Run compresses the session's unprocessed messages. At most one run per
// session proceeds at a time; a concurrent trigger returns Skipped.
func (b *Builder) Run(ctx context.Context, rc types.RequestContext, sessionID string) Result {
	ctx, span := b.tracer.StartSpan(ctx, "moment.run")
	defer b.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	if sessionID == "" {
		return Result{Err: fmt.Errorf("session id is required")}
	}
	rc = rc.Normalized()

	var result Result
	runOnce := func() error {
		result = b.runLocked(ctx, rc, sessionID)
		return result.Err
	}

	if b.locker == nil {
		_ = runOnce()
	} else {
		acquired, err := b.locker.TryAdvisoryLock(ctx, SessionLockID(sessionID), runOnce)
		if err != nil && result.Err == nil {
			result.Err = err
		}
		if !acquired && result.Err == nil {
			b.logger.Debug("compaction already running", zap.String("session_id", sessionID))
			return Result{Success: true, Skipped: true}
		}
	}

	if result.Err != nil {
		b.tracer.RecordError(span, result.Err)
	}
	span.SetAttribute("moments_created", result.MomentsCreated)
	return result
}

func (b *Builder) runLocked(ctx context.Context, rc types.RequestContext, sessionID string) Result {
	lastProcessed, err := b.loadLastProcessed(ctx, rc, sessionID)
	if err != nil {
		return Result{Err: err}
	}

	messages, err := b.loadUnprocessed(ctx, rc, sessionID, lastProcessed)
	if err != nil {
		return Result{Err: err}
	}

	n := len(messages)
	lag := b.lagMessages
	if pct := int(float64(n) * b.lagPercentage); pct > lag {
		lag = pct
	}
	if n < lag+b.minimumBatch {
		b.logger.Debug("not enough unprocessed messages",
			zap.String("session_id", sessionID), zap.Int("unprocessed", n), zap.Int("lag", lag))
		return Result{Success: true}
	}

	selected := messages[:n-lag]
	transcript := FormatTranscript(selected)

	previousKeys, err := b.recentMomentKeys(ctx, rc, b.chainDepth)
	if err != nil {
		return Result{Err: err}
	}
	userSummary := b.loadUserSummary(ctx, rc)

	extraction, err := b.extractor.Extract(ctx, transcript, previousKeys, userSummary)
	if err != nil {
		return Result{Err: fmt.Errorf("moment extraction failed: %w", err)}
	}

	first, last := selected[0], selected[len(selected)-1]
	written, err := b.persistMoments(ctx, rc, sessionID, extraction.Moments, previousKeys, first, last)
	if err != nil {
		return Result{MomentsCreated: len(written), Err: err}
	}

	inserted, err := b.writePartitionMarker(ctx, rc, sessionID, written, last)
	if err != nil {
		return Result{MomentsCreated: len(written), Err: err}
	}

	if err := b.saveLastProcessed(ctx, rc, sessionID, last.Index); err != nil {
		return Result{MomentsCreated: len(written), PartitionInserted: inserted, Err: err}
	}

	if extraction.UserSummaryDelta != "" {
		if err := b.applyUserSummaryDelta(ctx, rc, extraction.UserSummaryDelta); err != nil {
			return Result{MomentsCreated: len(written), PartitionInserted: inserted, Err: err}
		}
	}

	b.logger.Info("session compacted",
		zap.String("session_id", sessionID),
		zap.Int("compressed", len(selected)),
		zap.Int("moments", len(written)))
	return Result{Success: true, MomentsCreated: len(written), PartitionInserted: inserted}
}

// SourceMessage is one message row as the builder consumes it.
type SourceMessage struct {
	Index     int
	Role      string
	Content   string
	CreatedAt time.Time
	ToolCalls []string // rendered "name(args)" strings
}

func (b *Builder) loadUnprocessed(ctx context.Context, rc types.RequestContext, sessionID string, lastProcessed int) ([]SourceMessage, error) {
	rows, err := b.store.FetchMany(ctx,
		`SELECT content, message_type, created_at, metadata,
		        (metadata->>'`+session.IndexKey+`')::bigint AS msg_index
		   FROM messages
		  WHERE tenant_id = $1 AND session_id = $2 AND deleted_at IS NULL
		    AND (metadata->>'`+session.IndexKey+`')::bigint > $3
		  ORDER BY (metadata->>'`+session.IndexKey+`')::bigint ASC`,
		rc.TenantID, sessionID, lastProcessed)
	if err != nil {
		return nil, fmt.Errorf("failed to load unprocessed messages: %w", err)
	}

	out := make([]SourceMessage, 0, len(rows))
	for _, row := range rows {
		m := SourceMessage{
			Index:   int(asInt(row["msg_index"])),
			Role:    asString(row["message_type"]),
			Content: asString(row["content"]),
		}
		if ts, ok := row["created_at"].(time.Time); ok {
			m.CreatedAt = ts
		}
		if meta, ok := row["metadata"].(map[string]interface{}); ok {
			m.ToolCalls = renderToolCalls(meta[session.ToolCallsKey])
		}
		out = append(out, m)
	}
	return out, nil
}

// FormatTranscript renders messages for the extraction agent, keeping
// tool invocations visible.
func FormatTranscript(messages []SourceMessage) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
		for _, call := range m.ToolCalls {
			fmt.Fprintf(&b, "  (tool call: %s)\n", call)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderToolCalls(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name := asString(m["name"])
		args, _ := json.Marshal(m["input"])
		out = append(out, fmt.Sprintf("%s %s", name, args))
	}
	return out
}

// persistMoments writes the candidates with backward chaining: each
// moment links to the most recent prior keys, including moments written
// earlier in the same batch. Every moment spans the compressed batch,
// first message to last.
func (b *Builder) persistMoments(ctx context.Context, rc types.RequestContext, sessionID string, candidates []agent.MomentCandidate, previousKeys []string, first, last SourceMessage) ([]string, error) {
	chain := append([]string(nil), previousKeys...)
	var written []string

	for _, c := range candidates {
		start, end := first.CreatedAt, last.CreatedAt
		m := &rem.Moment{
			Name:               c.Name,
			Summary:            c.Summary,
			TopicTags:          c.TopicTags,
			EmotionTags:        c.EmotionTags,
			PresentPersons:     c.PresentPersons,
			PreviousMomentKeys: tailN(chain, b.chainDepth),
			SourceSessionID:    sessionID,
			StartsTS:           &start,
			EndsTS:             &end,
		}
		if _, err := b.store.Upsert(ctx, rc, m); err != nil {
			return written, fmt.Errorf("failed to persist moment %q: %w", c.Name, err)
		}
		written = append(written, c.Name)
		chain = append(chain, c.Name)
	}
	return written, nil
}

// writePartitionMarker inserts the compaction boundary at the backdated
// timestamp of the last compressed message. The marker id is derived from
// session + timestamp, so re-running the step cannot duplicate it.
func (b *Builder) writePartitionMarker(ctx context.Context, rc types.RequestContext, sessionID string, written []string, last SourceMessage) (bool, error) {
	recent, err := b.recentMomentKeys(ctx, rc, b.recencyBag)
	if err != nil {
		return false, err
	}
	recap, err := b.recap(ctx, rc, b.chainDepth)
	if err != nil {
		return false, err
	}

	var content strings.Builder
	fmt.Fprintf(&content, "Conversation history up to this point was compressed into moments: %s.\n",
		strings.Join(written, ", "))
	if len(recent) > 0 {
		fmt.Fprintf(&content, "Recent moments overall: %s.\n", strings.Join(recent, ", "))
	}
	if recap != "" {
		fmt.Fprintf(&content, "Recap: %s", recap)
	}

	marker := &rem.Message{
		SessionID:   sessionID,
		Content:     strings.TrimRight(content.String(), "\n"),
		MessageType: "tool",
	}
	marker.ID = fmt.Sprintf("session-%s-partition-%d", sessionID, last.CreatedAt.Unix())
	marker.CreatedAt = last.CreatedAt
	marker.UpdatedAt = last.CreatedAt
	marker.Metadata = map[string]interface{}{
		rem.PartitionMarkerFlag: true,
		"moment_keys":           written,
	}

	if _, err := b.store.Upsert(ctx, rc, marker); err != nil {
		return false, fmt.Errorf("failed to write partition marker: %w", err)
	}
	return true, nil
}

func (b *Builder) recentMomentKeys(ctx context.Context, rc types.RequestContext, limit int) ([]string, error) {
	rows, err := b.store.FetchMany(ctx,
		`SELECT name FROM moments
		  WHERE tenant_id = $1 AND deleted_at IS NULL
		  ORDER BY created_at DESC LIMIT $2`,
		rc.TenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent moments: %w", err)
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if name := asString(row["name"]); name != "" {
			keys = append(keys, name)
		}
	}
	return keys, nil
}

// recap concatenates the newest few moment summaries into a short
// narrative for the marker.
func (b *Builder) recap(ctx context.Context, rc types.RequestContext, limit int) (string, error) {
	rows, err := b.store.FetchMany(ctx,
		`SELECT summary FROM moments
		  WHERE tenant_id = $1 AND deleted_at IS NULL
		  ORDER BY created_at DESC LIMIT $2`,
		rc.TenantID, limit)
	if err != nil {
		return "", fmt.Errorf("failed to load moment summaries: %w", err)
	}
	var parts []string
	for _, row := range rows {
		if s := asString(row["summary"]); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}

func (b *Builder) loadLastProcessed(ctx context.Context, rc types.RequestContext, sessionID string) (int, error) {
	row, err := b.store.FetchOne(ctx,
		`SELECT metadata FROM resources
		  WHERE tenant_id = $1 AND uri = $2 AND ordinal = 0 AND deleted_at IS NULL`,
		rc.TenantID, stateURIPrefix+sessionID)
	if err != nil {
		if rem.IsNotFound(err) {
			return -1, nil
		}
		return 0, fmt.Errorf("failed to load compaction state: %w", err)
	}
	meta, _ := row["metadata"].(map[string]interface{})
	if meta == nil {
		return -1, nil
	}
	return int(asInt(meta["last_processed_index"])), nil
}

func (b *Builder) saveLastProcessed(ctx context.Context, rc types.RequestContext, sessionID string, index int) error {
	state := &rem.Resource{
		URI:      stateURIPrefix + sessionID,
		Name:     "compaction state for session " + sessionID,
		Category: "session_state",
	}
	state.Metadata = map[string]interface{}{"last_processed_index": index}
	if _, err := b.store.Upsert(ctx, rc, state); err != nil {
		return fmt.Errorf("failed to save compaction state: %w", err)
	}
	return nil
}

func (b *Builder) loadUserSummary(ctx context.Context, rc types.RequestContext) string {
	if rc.UserID == "" {
		return ""
	}
	row, err := b.store.FetchOne(ctx,
		`SELECT summary FROM users
		  WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`,
		rc.TenantID, rc.UserID)
	if err != nil {
		return ""
	}
	return asString(row["summary"])
}

// applyUserSummaryDelta appends new durable facts to the user's summary.
func (b *Builder) applyUserSummaryDelta(ctx context.Context, rc types.RequestContext, delta string) error {
	if rc.UserID == "" {
		return nil
	}
	_, err := b.store.Execute(ctx,
		`UPDATE users
		    SET summary = CASE WHEN summary = '' OR summary IS NULL THEN $1
		                       ELSE summary || E'\n' || $1 END,
		        updated_at = NOW()
		  WHERE tenant_id = $2 AND id = $3 AND deleted_at IS NULL`,
		delta, rc.TenantID, rc.UserID)
	if err != nil {
		return fmt.Errorf("failed to apply user summary delta: %w", err)
	}
	return nil
}

func tailN(s []string, n int) []string {
	if len(s) <= n {
		return append([]string(nil), s...)
	}
	return append([]string(nil), s[len(s)-n:]...)
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
