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
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/rem/pkg/rem"
	"github.com/teradata-labs/rem/pkg/types"
)

type fakeStore struct {
	upserted []rem.Entity
	upsertRC types.RequestContext
	oneRows  []map[string]interface{}
	manyRows []map[string]interface{}
	manySQL  string
	oneErr   error
}

func (f *fakeStore) Upsert(ctx context.Context, rc types.RequestContext, entities ...rem.Entity) ([]string, error) {
	f.upsertRC = rc
	f.upserted = append(f.upserted, entities...)
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.Env().ID
	}
	return ids, nil
}

func (f *fakeStore) FetchOne(ctx context.Context, sql string, args ...interface{}) (map[string]interface{}, error) {
	if f.oneErr != nil {
		return nil, f.oneErr
	}
	if len(f.oneRows) == 0 {
		return nil, rem.NewNotFoundError("", "no rows matched")
	}
	row := f.oneRows[0]
	f.oneRows = f.oneRows[1:]
	return row, nil
}

func (f *fakeStore) FetchMany(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	f.manySQL = sql
	return f.manyRows, nil
}

func rc() types.RequestContext {
	return types.RequestContext{UserID: "u-1", TenantID: "acme", SessionID: "sess-1"}
}

func emptyTail() map[string]interface{} {
	return map[string]interface{}{"max_index": int64(-1), "last_ts": nil}
}

func TestAppendAssignsKeysAndIndexes(t *testing.T) {
	store := &fakeStore{oneRows: []map[string]interface{}{emptyTail()}}
	s, err := NewStore(StoreConfig{Store: store})
	require.NoError(t, err)

	keys, err := s.Append(context.Background(), rc(), "sess-1", []types.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"session-sess-1-msg-0", "session-sess-1-msg-1"}, keys)

	require.Len(t, store.upserted, 2)
	first := store.upserted[0].(*rem.Message)
	assert.Equal(t, "session-sess-1-msg-0", first.ID)
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, "user", first.MessageType)
	assert.Equal(t, 0, first.Metadata[IndexKey])

	second := store.upserted[1].(*rem.Message)
	assert.Equal(t, 1, second.Metadata[IndexKey])
	assert.Equal(t, "acme", store.upsertRC.TenantID)
}

func TestAppendContinuesIndexing(t *testing.T) {
	last := time.Now().UTC().Add(-time.Minute)
	store := &fakeStore{oneRows: []map[string]interface{}{
		{"max_index": int64(4), "last_ts": last},
		{"seq": int64(0)},
	}}
	s, err := NewStore(StoreConfig{Store: store})
	require.NoError(t, err)

	keys, err := s.Append(context.Background(), rc(), "sess-1", []types.Message{
		{Role: "user", Content: "next"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"session-sess-1-msg-5"}, keys)
}

func TestAppendMonotonicTimestamps(t *testing.T) {
	// The stored tail is in the future relative to the new turns, as after
	// clock skew. New rows must not sort before it.
	future := time.Now().UTC().Add(time.Hour)
	store := &fakeStore{oneRows: []map[string]interface{}{
		{"max_index": int64(0), "last_ts": future},
		{"seq": int64(2)},
	}}
	s, err := NewStore(StoreConfig{Store: store})
	require.NoError(t, err)

	_, err = s.Append(context.Background(), rc(), "sess-1", []types.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	})
	require.NoError(t, err)

	first := store.upserted[0].(*rem.Message)
	second := store.upserted[1].(*rem.Message)
	assert.Equal(t, future, first.CreatedAt, "tie reuses the newest timestamp")
	assert.Equal(t, 3, first.Metadata[SeqKey], "logical counter continues past the stored tail")
	assert.Equal(t, future, second.CreatedAt)
	assert.Equal(t, 4, second.Metadata[SeqKey])
}

func TestAppendFlagsLongAssistantTurns(t *testing.T) {
	store := &fakeStore{oneRows: []map[string]interface{}{emptyTail()}}
	s, err := NewStore(StoreConfig{Store: store, CompressTokenThreshold: 10})
	require.NoError(t, err)

	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 20)
	_, err = s.Append(context.Background(), rc(), "sess-1", []types.Message{
		{Role: "user", Content: long},
		{Role: "assistant", Content: long},
		{Role: "assistant", Content: "short"},
	})
	require.NoError(t, err)

	userTurn := store.upserted[0].(*rem.Message)
	longAssistant := store.upserted[1].(*rem.Message)
	shortAssistant := store.upserted[2].(*rem.Message)

	_, flagged := userTurn.Metadata[CompressKey]
	assert.False(t, flagged, "user turns are never flagged")
	assert.Equal(t, true, longAssistant.Metadata[CompressKey])
	_, flagged = shortAssistant.Metadata[CompressKey]
	assert.False(t, flagged)
}

func TestCompressKeepsRuneBoundaries(t *testing.T) {
	store := &fakeStore{}
	s, err := NewStore(StoreConfig{Store: store, HeadChars: 5, TailChars: 5})
	require.NoError(t, err)

	// Multi-byte runes on both slice boundaries must survive intact.
	content := strings.Repeat("héllö ", 10)
	out := s.compress(content, "sess-1", 3)

	assert.True(t, utf8.ValidString(out), "compressed content stays valid UTF-8")
	assert.True(t, strings.HasPrefix(out, "héllö"))
	assert.Contains(t, out, "[REM LOOKUP session-sess-1-msg-3]")

	short := "héllö"
	assert.Equal(t, short, s.compress(short, "sess-1", 3),
		"content within the head+tail window passes through")
}

func TestAppendPreservesToolCalls(t *testing.T) {
	store := &fakeStore{oneRows: []map[string]interface{}{emptyTail()}}
	s, err := NewStore(StoreConfig{Store: store})
	require.NoError(t, err)

	_, err = s.Append(context.Background(), rc(), "sess-1", []types.Message{
		{Role: "assistant", ToolCalls: []types.ToolCall{
			{ID: "tu-1", Name: "rem_query", Input: map[string]interface{}{"query": "LOOKUP a"}},
		}},
		{Role: "tool", ToolUseID: "tu-1", Content: "found"},
	})
	require.NoError(t, err)

	assistant := store.upserted[0].(*rem.Message)
	calls, ok := assistant.Metadata[ToolCallsKey].([]interface{})
	require.True(t, ok)
	require.Len(t, calls, 1)

	toolMsg := store.upserted[1].(*rem.Message)
	assert.Equal(t, "tu-1", toolMsg.Metadata[ToolUseIDKey])
}

func TestLoadCompressesFlaggedTurns(t *testing.T) {
	long := strings.Repeat("x", 1000)
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{manyRows: []map[string]interface{}{
		{
			"id": "session-sess-1-msg-0", "message_type": "user",
			"content": long, "created_at": base,
			"metadata": map[string]interface{}{IndexKey: float64(0)},
		},
		{
			"id": "session-sess-1-msg-1", "message_type": "assistant",
			"content": long, "created_at": base.Add(time.Second),
			"metadata": map[string]interface{}{IndexKey: float64(1), CompressKey: true},
		},
	}}
	s, err := NewStore(StoreConfig{Store: store, HeadChars: 100, TailChars: 50})
	require.NoError(t, err)

	msgs, err := s.Load(context.Background(), rc(), "sess-1", LoadOptions{Compress: true})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, long, msgs[0].Content, "user turns come back whole")
	assert.Contains(t, msgs[1].Content, "[REM LOOKUP session-sess-1-msg-1]")
	assert.Less(t, len(msgs[1].Content), len(long))

	// Without the option the full content comes back.
	msgs, err = s.Load(context.Background(), rc(), "sess-1", LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, long, msgs[1].Content)
}

func TestLoadReturnsMarkersAsToolMessages(t *testing.T) {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{manyRows: []map[string]interface{}{
		{
			"id": "session-sess-1-partition-1756029600", "message_type": "tool",
			"content": "Compressed 25 messages into moments: 2026-08-24-q3-launch",
			"created_at": base,
			"metadata": map[string]interface{}{rem.PartitionMarkerFlag: true},
		},
	}}
	s, err := NewStore(StoreConfig{Store: store})
	require.NoError(t, err)

	msgs, err := s.Load(context.Background(), rc(), "sess-1", LoadOptions{Compress: true})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "tool", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "2026-08-24-q3-launch")
	assert.Equal(t, true, msgs[0].Metadata[rem.PartitionMarkerFlag])
}

func TestAssembleAnonymousAndProfile(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	store := &fakeStore{}
	sessions, err := NewStore(StoreConfig{Store: store})
	require.NoError(t, err)
	a, err := NewAssembler(AssemblerConfig{Sessions: sessions, Store: store, Clock: clock})
	require.NoError(t, err)

	// Anonymous: date hint only, no profile lookup.
	msgs, err := a.Assemble(context.Background(), types.RequestContext{TenantID: "acme"},
		[]types.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "Current date: 2026-08-24.", msgs[0].Content)

	// Known user with a summary gets an inline profile.
	store.oneRows = []map[string]interface{}{
		{"email": "sarah@acme.test", "name": "Sarah", "summary": "Data platform lead."},
	}
	msgs, err = a.Assemble(context.Background(), types.RequestContext{TenantID: "acme", UserID: "u-1"},
		[]types.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "User profile (Sarah): Data platform lead.")

	// Known user without a summary gets a LOOKUP hint instead.
	store.oneRows = []map[string]interface{}{
		{"email": "sarah@acme.test", "name": "Sarah", "summary": ""},
	}
	msgs, err = a.Assemble(context.Background(), types.RequestContext{TenantID: "acme", UserID: "u-1"},
		[]types.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "[REM LOOKUP sarah@acme.test]")
}

func TestAssembleIncludesHistory(t *testing.T) {
	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{manyRows: []map[string]interface{}{
		{"id": "session-s-msg-0", "message_type": "user", "content": "earlier", "created_at": base},
	}}
	sessions, err := NewStore(StoreConfig{Store: store})
	require.NoError(t, err)
	a, err := NewAssembler(AssemblerConfig{Sessions: sessions, Store: store})
	require.NoError(t, err)

	msgs, err := a.Assemble(context.Background(),
		types.RequestContext{TenantID: "acme", SessionID: "s"},
		[]types.Message{{Role: "user", Content: "now"}})
	require.NoError(t, err)

	require.Len(t, msgs, 3)
	assert.Equal(t, "earlier", msgs[1].Content)
	assert.Equal(t, "now", msgs[2].Content)
}
