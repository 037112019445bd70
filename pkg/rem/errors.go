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
package rem

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error code. Codes are wire-visible:
// the orchestrator renders them into SSE error events and HTTP bodies.
type Code string

const (
	CodeValidation             Code = "validation_error"
	CodeNotFound               Code = "not_found"
	CodeConflict               Code = "conflict"
	CodeFieldNotFound          Code = "field_not_found"
	CodeEmbeddingFieldNotFound Code = "embedding_field_not_found"
	CodeContentFieldNotFound   Code = "content_field_not_found"
	CodeQueryExecution         Code = "query_execution_error"
	CodeProvider               Code = "provider_error"
	CodeAuth                   Code = "auth_error"
)

// Error is the typed error carried across component boundaries.
// Storage-level errors are normalized to this shape at the adapter; agent
// errors at the orchestrator.
type Error struct {
	Code    Code
	Message string

	// Key is the natural key involved, when relevant (conflicts, lookups).
	Key string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable reports whether the caller can fix the request and retry.
func (e *Error) Recoverable() bool {
	switch e.Code {
	case CodeValidation, CodeNotFound, CodeFieldNotFound,
		CodeEmbeddingFieldNotFound, CodeContentFieldNotFound:
		return true
	default:
		return false
	}
}

// NewValidationError reports malformed input: unknown table, unknown field,
// unknown query mode, out-of-range parameter.
func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a missing entity. Empty-result queries are not
// errors; this is for id- or key-addressed fetches that must resolve.
func NewNotFoundError(key string, format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Key: key, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError reports a unique-constraint violation on upsert,
// surfacing the conflicting natural key.
func NewConflictError(key string, err error) *Error {
	return &Error{Code: CodeConflict, Key: key, Message: "unique constraint violated", Err: err}
}

// NewFieldNotFoundError reports that a field does not exist on a table.
func NewFieldNotFoundError(table, field string) *Error {
	return &Error{
		Code:    CodeFieldNotFound,
		Message: fmt.Sprintf("field %q does not exist on table %q", field, table),
	}
}

// NewEmbeddingFieldNotFoundError reports a SEARCH against a field that is
// not marked embeddable.
func NewEmbeddingFieldNotFoundError(table, field string) *Error {
	return &Error{
		Code:    CodeEmbeddingFieldNotFound,
		Message: fmt.Sprintf("field %q on table %q is not embeddable", field, table),
	}
}

// NewContentFieldNotFoundError reports that a table exposes no default
// content field for SEARCH.
func NewContentFieldNotFoundError(table string) *Error {
	return &Error{
		Code:    CodeContentFieldNotFound,
		Message: fmt.Sprintf("table %q has no default content field", table),
	}
}

// NewQueryExecutionError wraps an unexpected storage failure, preserving
// the original message for diagnostics.
func NewQueryExecutionError(err error) *Error {
	return &Error{Code: CodeQueryExecution, Message: "query execution failed", Err: err}
}

// NewProviderError wraps a failed LLM or embedding RPC.
func NewProviderError(provider string, err error) *Error {
	return &Error{Code: CodeProvider, Message: fmt.Sprintf("provider %s failed", provider), Err: err}
}

// NewAuthError reports a missing or invalid session.
func NewAuthError(hint string) *Error {
	return &Error{Code: CodeAuth, Message: hint}
}

// CodeOf extracts the code from any error in the chain, or empty.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err carries CodeValidation.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsConflict reports whether err carries CodeConflict.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }
