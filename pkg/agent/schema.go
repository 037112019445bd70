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

// Package agent builds and runs typed, tool-bearing agents on top of the
// memory substrate: the iteration loop, the schema-driven factory, the
// query planner, and the moment extractor.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"
)

// Schema is an agent definition loaded from YAML. Description becomes the
// system prompt; Properties is the JSON-Schema output contract; the
// x-rem extension block binds tools and runtime overrides.
type Schema struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Properties  map[string]interface{} `yaml:"properties"`
	Required    []string               `yaml:"required"`

	Extensions SchemaExtensions `yaml:"x-rem"`
}

// SchemaExtensions is the x-rem block: runtime bindings the JSON-Schema
// vocabulary has no place for.
type SchemaExtensions struct {
	Tools         []string `yaml:"tools"`
	Model         string   `yaml:"model"`
	Temperature   *float64 `yaml:"temperature"`
	MaxIterations int      `yaml:"max_iterations"`
}

// HasContract reports whether the schema declares a structured output.
func (s *Schema) HasContract() bool { return len(s.Properties) > 0 }

// ContractSchema renders the output contract as a full JSON Schema document.
func (s *Schema) ContractSchema() map[string]interface{} {
	doc := map[string]interface{}{
		"type":       "object",
		"properties": s.Properties,
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	return doc
}

// SchemaLoaderConfig configures a file-backed schema loader.
type SchemaLoaderConfig struct {
	// Dir holds one <name>.yaml per schema.
	Dir string

	// Watch invalidates cached schemas when their files change.
	Watch bool

	Logger *zap.Logger
}

// SchemaLoader loads agent schemas from a directory with a load-once
// cache. With Watch enabled, edits to a schema file evict its cache
// entry so the next load re-reads it.
type SchemaLoader struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Schema

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSchemaLoader creates a schema loader over cfg.Dir.
func NewSchemaLoader(cfg SchemaLoaderConfig) (*SchemaLoader, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("schema directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema path %s is not a directory", cfg.Dir)
	}

	l := &SchemaLoader{
		dir:    cfg.Dir,
		logger: cfg.Logger,
		cache:  make(map[string]*Schema),
		done:   make(chan struct{}),
	}

	if cfg.Watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create schema watcher: %w", err)
		}
		if err := watcher.Add(cfg.Dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch schema directory: %w", err)
		}
		l.watcher = watcher
		go l.watch()
	}

	return l, nil
}

// Close stops the watcher, if any.
func (l *SchemaLoader) Close() error {
	close(l.done)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func (l *SchemaLoader) watch() {
	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := schemaNameFromFile(ev.Name)
			if name == "" {
				continue
			}
			l.mu.Lock()
			delete(l.cache, name)
			l.mu.Unlock()
			l.logger.Debug("schema cache invalidated",
				zap.String("schema", name), zap.String("op", ev.Op.String()))
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("schema watcher error", zap.Error(err))
		}
	}
}

func schemaNameFromFile(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ".yaml" && ext != ".yml" {
		return ""
	}
	return strings.TrimSuffix(base, ext)
}

// Load returns the schema by name, reading and caching it on first use.
// A miss suggests the closest available names.
func (l *SchemaLoader) Load(name string) (*Schema, error) {
	if name == "" {
		return nil, fmt.Errorf("schema name is required")
	}

	l.mu.RLock()
	cached, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	schema, err := l.read(name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[name] = schema
	l.mu.Unlock()
	return schema, nil
}

func (l *SchemaLoader) read(name string) (*Schema, error) {
	var data []byte
	var err error
	for _, ext := range []string{".yaml", ".yml"} {
		data, err = os.ReadFile(filepath.Join(l.dir, name+ext))
		if err == nil {
			break
		}
	}
	if err != nil {
		available := l.Available()
		if suggestion := closestName(name, available); suggestion != "" {
			return nil, fmt.Errorf("schema %q not found; did you mean %q?", name, suggestion)
		}
		return nil, fmt.Errorf("schema %q not found (available: %s)", name, strings.Join(available, ", "))
	}

	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema %q: %w", name, err)
	}
	if schema.Name == "" {
		schema.Name = name
	}
	if schema.Description == "" {
		return nil, fmt.Errorf("schema %q has no description (system prompt)", name)
	}
	return &schema, nil
}

// Available lists the schema names present on disk, sorted.
func (l *SchemaLoader) Available() []string {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name := schemaNameFromFile(e.Name()); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func closestName(name string, available []string) string {
	matches := fuzzy.Find(name, available)
	if len(matches) == 0 {
		return ""
	}
	return available[matches[0].Index]
}
