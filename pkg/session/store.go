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
package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/rem"
	"github.com/teradata-labs/rem/pkg/types"
)

// Metadata keys carried on persisted message rows.
const (
	// IndexKey is the message's position within its session.
	IndexKey = "rem_msg_index"

	// SeqKey is the logical tiebreaker when wall clocks collide.
	SeqKey = "rem_seq"

	// CompressKey flags assistant turns for compressed retrieval.
	CompressKey = "rem_compress"

	// ToolCallsKey preserves assistant tool invocations across reloads.
	ToolCallsKey = "tool_calls"

	// ToolUseIDKey preserves the tool-result correlation id.
	ToolUseIDKey = "tool_use_id"
)

// DefaultCompressTokenThreshold flags assistant turns above this many
// tokens for read-time compression.
const DefaultCompressTokenThreshold = 400

// Default head/tail sizes, in characters, of a compressed turn.
const (
	DefaultHeadChars = 200
	DefaultTailChars = 200
)

// MessageKey is the deterministic id (and so natural key) of a session
// message, resolvable via LOOKUP.
func MessageKey(sessionID string, index int) string {
	return fmt.Sprintf("session-%s-msg-%d", sessionID, index)
}

// EntityStore is the storage surface the session store needs.
// *storage.Adapter implements it.
type EntityStore interface {
	Upsert(ctx context.Context, rc types.RequestContext, entities ...rem.Entity) ([]string, error)
	FetchOne(ctx context.Context, sql string, args ...interface{}) (map[string]interface{}, error)
	FetchMany(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// StoreConfig configures a session store.
type StoreConfig struct {
	Store EntityStore

	// CompressTokenThreshold flags assistant turns above this token count.
	CompressTokenThreshold int

	HeadChars int
	TailChars int

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Store reads and writes session turns. Compression is opt-in at read
// time; no content is discarded on write.
type Store struct {
	store     EntityStore
	threshold int
	headChars int
	tailChars int
	counter   *TokenCounter
	tracer    observability.Tracer
	logger    *zap.Logger
}

// NewStore creates a session store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.CompressTokenThreshold <= 0 {
		cfg.CompressTokenThreshold = DefaultCompressTokenThreshold
	}
	if cfg.HeadChars <= 0 {
		cfg.HeadChars = DefaultHeadChars
	}
	if cfg.TailChars <= 0 {
		cfg.TailChars = DefaultTailChars
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Store{
		store:     cfg.Store,
		threshold: cfg.CompressTokenThreshold,
		headChars: cfg.HeadChars,
		tailChars: cfg.TailChars,
		counter:   Tokens(),
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
	}, nil
}

// Append persists a batch of new turns in order. Message ids are
// deterministic ("session-<id>-msg-<index>") so every turn is LOOKUP
// addressable and re-appending a batch is idempotent. Timestamps are
// monotonic within the session: a wall-clock tie or regression reuses the
// previous timestamp and bumps a logical counter in metadata.
func (s *Store) Append(ctx context.Context, rc types.RequestContext, sessionID string, turns []types.Message) ([]string, error) {
	ctx, span := s.tracer.StartSpan(ctx, "session.append")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)
	span.SetAttribute("turns", len(turns))

	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if len(turns) == 0 {
		return nil, nil
	}
	rc = rc.Normalized()

	nextIndex, lastTS, lastSeq, err := s.tail(ctx, rc, sessionID)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}

	entities := make([]rem.Entity, 0, len(turns))
	keys := make([]string, 0, len(turns))
	for i, turn := range turns {
		index := nextIndex + i
		key := MessageKey(sessionID, index)

		ts := turn.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		seq := 0
		if !ts.After(lastTS) {
			ts = lastTS
			seq = lastSeq + 1
		}
		lastTS, lastSeq = ts, seq

		meta := map[string]interface{}{IndexKey: index}
		for k, v := range turn.Metadata {
			meta[k] = v
		}
		if seq > 0 {
			meta[SeqKey] = seq
		}
		if len(turn.ToolCalls) > 0 {
			meta[ToolCallsKey] = encodeToolCalls(turn.ToolCalls)
		}
		if turn.ToolUseID != "" {
			meta[ToolUseIDKey] = turn.ToolUseID
		}
		if turn.Role == "assistant" && s.counter.Count(turn.Content) > s.threshold {
			meta[CompressKey] = true
		}

		msg := &rem.Message{
			SessionID:   sessionID,
			Content:     turn.Content,
			MessageType: turn.Role,
		}
		msg.ID = key
		msg.CreatedAt = ts
		msg.UpdatedAt = ts
		msg.Metadata = meta

		entities = append(entities, msg)
		keys = append(keys, key)
	}

	if _, err := s.store.Upsert(ctx, rc, entities...); err != nil {
		s.tracer.RecordError(span, err)
		return nil, fmt.Errorf("failed to persist session turns: %w", err)
	}
	return keys, nil
}

// tail returns the next message index and the newest (timestamp, seq)
// pair for the session.
func (s *Store) tail(ctx context.Context, rc types.RequestContext, sessionID string) (int, time.Time, int, error) {
	row, err := s.store.FetchOne(ctx,
		`SELECT COALESCE(MAX((metadata->>'`+IndexKey+`')::bigint), -1) AS max_index,
		        MAX(created_at) AS last_ts
		   FROM messages
		  WHERE tenant_id = $1 AND session_id = $2 AND deleted_at IS NULL`,
		rc.TenantID, sessionID)
	if err != nil {
		return 0, time.Time{}, 0, fmt.Errorf("failed to read session tail: %w", err)
	}

	nextIndex := int(intValue(row["max_index"])) + 1
	lastTS, _ := row["last_ts"].(time.Time)
	lastSeq := 0
	if nextIndex > 0 {
		seqRow, err := s.store.FetchOne(ctx,
			`SELECT COALESCE((metadata->>'`+SeqKey+`')::bigint, 0) AS seq
			   FROM messages
			  WHERE tenant_id = $1 AND session_id = $2 AND deleted_at IS NULL
			  ORDER BY created_at DESC, COALESCE((metadata->>'`+SeqKey+`')::bigint, 0) DESC
			  LIMIT 1`,
			rc.TenantID, sessionID)
		if err == nil {
			lastSeq = int(intValue(seqRow["seq"]))
		}
	}
	return nextIndex, lastTS, lastSeq, nil
}

// LoadOptions control the read path.
type LoadOptions struct {
	// Compress substitutes head+tail plus a LOOKUP hint for flagged
	// assistant turns. System and user turns are never compressed.
	Compress bool
}

// Load returns the session's messages in order. Partition markers come
// back as ordinary tool messages; their content carries the compaction
// summary.
func (s *Store) Load(ctx context.Context, rc types.RequestContext, sessionID string, opts LoadOptions) ([]types.Message, error) {
	ctx, span := s.tracer.StartSpan(ctx, "session.load")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID)

	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	rc = rc.Normalized()

	rows, err := s.store.FetchMany(ctx,
		`SELECT id, content, message_type, created_at, metadata
		   FROM messages
		  WHERE tenant_id = $1 AND session_id = $2 AND deleted_at IS NULL
		  ORDER BY created_at ASC, COALESCE((metadata->>'`+SeqKey+`')::bigint, 0) ASC`,
		rc.TenantID, sessionID)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	messages := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		msg := s.decodeRow(sessionID, row, opts)
		messages = append(messages, msg)
	}
	span.SetAttribute("messages", len(messages))
	return messages, nil
}

func (s *Store) decodeRow(sessionID string, row map[string]interface{}, opts LoadOptions) types.Message {
	msg := types.Message{
		ID:      stringValue(row["id"]),
		Role:    stringValue(row["message_type"]),
		Content: stringValue(row["content"]),
	}
	if ts, ok := row["created_at"].(time.Time); ok {
		msg.Timestamp = ts
	}
	meta, _ := row["metadata"].(map[string]interface{})
	msg.Metadata = meta

	if meta != nil {
		if id, ok := meta[ToolUseIDKey].(string); ok {
			msg.ToolUseID = id
		}
		msg.ToolCalls = decodeToolCalls(meta[ToolCallsKey])
	}

	if opts.Compress && msg.Role == "assistant" && boolValue(meta, CompressKey) {
		index := int(intValue(metaValue(meta, IndexKey)))
		msg.Content = s.compress(msg.Content, sessionID, index)
	}
	return msg
}

// compress replaces the middle of a long turn with a LOOKUP hint the
// agent can use to recover the full text. Slicing is rune-based so a
// multi-byte character at either boundary is never split.
func (s *Store) compress(content, sessionID string, index int) string {
	runes := []rune(content)
	if len(runes) <= s.headChars+s.tailChars {
		return content
	}
	head := string(runes[:s.headChars])
	tail := string(runes[len(runes)-s.tailChars:])
	return fmt.Sprintf("%s\n[...]\n%s\n[REM LOOKUP %s]", head, tail, MessageKey(sessionID, index))
}

func encodeToolCalls(calls []types.ToolCall) []interface{} {
	out := make([]interface{}, len(calls))
	for i, c := range calls {
		out[i] = map[string]interface{}{
			"id": c.ID, "name": c.Name, "input": c.Input,
		}
	}
	return out
}

func decodeToolCalls(v interface{}) []types.ToolCall {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []types.ToolCall
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		call := types.ToolCall{
			ID:   stringValue(m["id"]),
			Name: stringValue(m["name"]),
		}
		call.Input, _ = m["input"].(map[string]interface{})
		out = append(out, call)
	}
	return out
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func boolValue(meta map[string]interface{}, key string) bool {
	if meta == nil {
		return false
	}
	b, _ := meta[key].(bool)
	return b
}

func metaValue(meta map[string]interface{}, key string) interface{} {
	if meta == nil {
		return nil
	}
	return meta[key]
}

func intValue(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}
