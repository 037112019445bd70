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

// Package rem defines the REM data model and query engine: entities
// addressable by natural key, inline graph edges, the key-store row shape,
// and the five query modes (LOOKUP, FUZZY, SEARCH, SQL, TRAVERSE).
package rem

import (
	"fmt"
	"time"
)

// Kind identifies a first-class entity kind.
type Kind string

const (
	KindResource Kind = "resource"
	KindMessage  Kind = "message"
	KindMoment   Kind = "moment"
	KindUser     Kind = "user"
	KindFile     Kind = "file"
	KindSchema   Kind = "schema"
)

// GraphEdge is a directed, weighted, typed reference from the containing
// entity to a destination identified by natural key (never an internal id).
// Dangling edges are permitted: the target may not exist yet.
type GraphEdge struct {
	// Dst is the destination's natural key.
	Dst string `json:"dst"`

	// RelType is the relationship label (e.g. "references", "builds_on").
	RelType string `json:"rel_type"`

	// Weight is the edge strength in [0,1].
	Weight float64 `json:"weight"`

	// Properties conventionally carries dst_name and dst_entity_type.
	Properties map[string]interface{} `json:"properties,omitempty"`

	// CreatedAt is when the edge was added.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Envelope is the common column set shared by all entity kinds.
// Deletion is soft: rows with DeletedAt set are invisible to queries.
type Envelope struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	UserID    string                 `json:"user_id,omitempty"`
	CreatedAt time.Time              `json:"created_at,omitempty"`
	UpdatedAt time.Time              `json:"updated_at,omitempty"`
	DeletedAt *time.Time             `json:"deleted_at,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Tags      []string               `json:"tags,omitempty"`

	// GraphEdges are inlined with the row so forward traversal needs no join.
	GraphEdges []GraphEdge `json:"graph_edges,omitempty"`
}

// Env returns the envelope; entities embed Envelope so this satisfies Entity.
func (e *Envelope) Env() *Envelope { return e }

// Entity is a row of one of the declared kinds, addressable by natural key.
type Entity interface {
	Kind() Kind

	// NaturalKey is the stable, human-readable key outside callers pass to
	// LOOKUP. It is distinct from the internal id.
	NaturalKey() string

	Env() *Envelope
}

// Resource is chunked document or captured-chat content.
type Resource struct {
	Envelope

	URI     string `json:"uri"`
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`

	Timestamp       *time.Time `json:"timestamp,omitempty"`
	Category        string     `json:"category,omitempty"`
	RelatedEntities []string   `json:"related_entities,omitempty"`
}

func (r *Resource) Kind() Kind { return KindResource }

// NaturalKey is the URI for the first chunk, or uri#ordinal for later chunks.
func (r *Resource) NaturalKey() string {
	if r.Ordinal == 0 {
		return r.URI
	}
	return fmt.Sprintf("%s#%d", r.URI, r.Ordinal)
}

// Message is one turn of a conversation. Messages are append-only during
// live conversation and totally ordered by created_at within a session.
type Message struct {
	Envelope

	SessionID   string `json:"session_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"` // system, user, assistant, tool
}

func (m *Message) Kind() Kind         { return KindMessage }
func (m *Message) NaturalKey() string { return m.ID }

// PartitionMarkerFlag marks a message as a compaction boundary written by
// the moment builder. Carried in metadata so the marker survives reloads.
const PartitionMarkerFlag = "rem_partition_marker"

// IsPartitionMarker reports whether the message is a compaction boundary.
func (m *Message) IsPartitionMarker() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[PartitionMarkerFlag]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Moment is a compressed narrative covering a contiguous slice of a session.
// Moments form a DAG via PreviousMomentKeys and are created exclusively by
// the moment builder.
type Moment struct {
	Envelope

	Name    string `json:"name"`
	Summary string `json:"summary"`

	StartsTS *time.Time `json:"starts_ts,omitempty"`
	EndsTS   *time.Time `json:"ends_ts,omitempty"`

	PresentPersons     []string `json:"present_persons,omitempty"`
	EmotionTags        []string `json:"emotion_tags,omitempty"`
	TopicTags          []string `json:"topic_tags,omitempty"`
	PreviousMomentKeys []string `json:"previous_moment_keys,omitempty"`
	SourceSessionID    string   `json:"source_session_id,omitempty"`
}

func (m *Moment) Kind() Kind         { return KindMoment }
func (m *Moment) NaturalKey() string { return m.Name }

// User is an account identity.
type User struct {
	Envelope

	Email        string   `json:"email"`
	Name         string   `json:"name,omitempty"`
	Tier         string   `json:"tier,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Interests    []string `json:"interests,omitempty"`
	AnonymousIDs []string `json:"anonymous_ids,omitempty"`
}

func (u *User) Kind() Kind         { return KindUser }
func (u *User) NaturalKey() string { return u.Email }

// FileStatus is the processing state of an uploaded file.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

// CanTransition reports whether the pending → processing → completed|failed
// state machine permits the move.
func (s FileStatus) CanTransition(to FileStatus) bool {
	switch s {
	case FilePending:
		return to == FileProcessing
	case FileProcessing:
		return to == FileCompleted || to == FileFailed
	default:
		return false
	}
}

// File is a pointer to an uploaded binary.
type File struct {
	Envelope

	URI              string     `json:"uri"`
	Name             string     `json:"name,omitempty"`
	MimeType         string     `json:"mime_type,omitempty"`
	SizeBytes        int64      `json:"size_bytes,omitempty"`
	ProcessingStatus FileStatus `json:"processing_status,omitempty"`
}

func (f *File) Kind() Kind         { return KindFile }
func (f *File) NaturalKey() string { return f.URI }

// Schema is an agent definition: a structured output contract plus its
// documentation, selected by name at agent-construction time.
type Schema struct {
	Envelope

	Name    string                 `json:"name"`
	Spec    map[string]interface{} `json:"spec,omitempty"`
	Content string                 `json:"content,omitempty"`
}

func (s *Schema) Kind() Kind         { return KindSchema }
func (s *Schema) NaturalKey() string { return s.Name }
