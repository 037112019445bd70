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
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/rem/pkg/observability"
	"github.com/teradata-labs/rem/pkg/types"
)

// AssemblerConfig configures a context assembler.
type AssemblerConfig struct {
	Sessions *Store
	Store    EntityStore

	// Clock overrides time.Now for the date hint. Tests set it.
	Clock func() time.Time

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Assembler constructs the full prompt for a turn: a system hint with the
// current date and the caller's profile, the compressed session history,
// then the incoming turns. It is the single point where user identity is
// resolved; a missing user id means anonymous scope, never a synthetic id.
type Assembler struct {
	sessions *Store
	store    EntityStore
	clock    func() time.Time
	tracer   observability.Tracer
	logger   *zap.Logger
}

// NewAssembler creates a context assembler.
func NewAssembler(cfg AssemblerConfig) (*Assembler, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("entity store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Assembler{
		sessions: cfg.Sessions,
		store:    cfg.Store,
		clock:    cfg.Clock,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger,
	}, nil
}

// Assemble builds the message list for the model.
func (a *Assembler) Assemble(ctx context.Context, rc types.RequestContext, newTurns []types.Message) ([]types.Message, error) {
	ctx, span := a.tracer.StartSpan(ctx, "session.assemble")
	defer a.tracer.EndSpan(span)

	rc = rc.Normalized()
	hint := a.systemHint(ctx, rc)

	var history []types.Message
	if rc.SessionID != "" {
		var err error
		history, err = a.sessions.Load(ctx, rc, rc.SessionID, LoadOptions{Compress: true})
		if err != nil {
			a.tracer.RecordError(span, err)
			return nil, err
		}
	}

	out := make([]types.Message, 0, 1+len(history)+len(newTurns))
	out = append(out, types.Message{Role: "system", Content: hint})
	out = append(out, history...)
	out = append(out, newTurns...)

	span.SetAttribute("history", len(history))
	span.SetAttribute("new_turns", len(newTurns))
	return out, nil
}

// systemHint is the date line plus the user profile, a LOOKUP hint when
// the profile has no summary yet, or nothing for anonymous callers.
func (a *Assembler) systemHint(ctx context.Context, rc types.RequestContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current date: %s.", a.clock().UTC().Format("2006-01-02"))

	if rc.UserID == "" {
		return b.String()
	}

	row, err := a.store.FetchOne(ctx,
		`SELECT email, name, summary FROM users
		  WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`,
		rc.TenantID, rc.UserID)
	if err != nil {
		a.logger.Debug("user profile unavailable",
			zap.String("user_id", rc.UserID), zap.Error(err))
		return b.String()
	}

	name := stringValue(row["name"])
	summary := stringValue(row["summary"])
	email := stringValue(row["email"])

	switch {
	case summary != "":
		fmt.Fprintf(&b, "\nUser profile (%s): %s", displayName(name, email), summary)
	case email != "":
		fmt.Fprintf(&b, "\nUser profile: [REM LOOKUP %s]", email)
	}
	return b.String()
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	return email
}
