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
package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogTracer exports completed spans and metrics to a zap logger.
// Useful for development and single-process deployments where a full
// tracing backend is not configured.
type LogTracer struct {
	logger *zap.Logger
}

// NewLogTracer creates a tracer that writes spans to the given logger.
func NewLogTracer(logger *zap.Logger) *LogTracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTracer{logger: logger}
}

// StartSpan creates a new span linked to any parent found in the context.
func (t *LogTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		TraceID:    uuid.New().String(),
		SpanID:     uuid.New().String(),
		Name:       name,
		StartTime:  time.Now(),
		Attributes: make(map[string]interface{}),
	}

	for _, opt := range opts {
		opt(span)
	}

	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}

	return ContextWithSpan(ctx, span), span
}

// EndSpan finalizes the span and logs it at debug level, or warn on error status.
func (t *LogTracer) EndSpan(span *Span) {
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	fields := []zap.Field{
		zap.String("trace_id", span.TraceID),
		zap.String("span_id", span.SpanID),
		zap.Duration("duration", span.Duration),
		zap.Any("attributes", span.Attributes),
	}
	if span.Status.Code == StatusError {
		t.logger.Warn("span failed: "+span.Name, append(fields, zap.String("error", span.Status.Message))...)
		return
	}
	t.logger.Debug("span: "+span.Name, fields...)
}

// RecordMetric logs the metric at debug level.
func (t *LogTracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.logger.Debug("metric: "+name, zap.Float64("value", value), zap.Any("labels", labels))
}

// RecordEvent logs the event at debug level.
func (t *LogTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	t.logger.Debug("event: "+name, zap.Any("attributes", attributes))
}

// Flush syncs the underlying logger.
func (t *LogTracer) Flush(ctx context.Context) error {
	return t.logger.Sync()
}
