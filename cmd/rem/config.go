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
package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/rem/internal/log"
)

// Config is the merged file/env/flag configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Schemas    SchemasConfig    `mapstructure:"schemas"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LLMConfig struct {
	AnthropicAPIKey string  `mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string  `mapstructure:"openai_api_key"`
	DefaultModel    string  `mapstructure:"default_model"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
}

type EmbeddingConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
}

type SchemasConfig struct {
	Dir     string `mapstructure:"dir"`
	Default string `mapstructure:"default"`
	Watch   bool   `mapstructure:"watch"`
}

type CompactionConfig struct {
	Cron          string  `mapstructure:"cron"`
	LagMessages   int     `mapstructure:"lag_messages"`
	LagPercentage float64 `mapstructure:"lag_percentage"`
	MinimumBatch  int     `mapstructure:"minimum_batch"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads the config file (if any) and environment, with flag
// bindings layered by the root command.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("rem")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.rem")
		viper.AddConfigPath("/etc/rem")
	}

	viper.SetEnvPrefix("REM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("database.url", "postgres://localhost:5432/rem")
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("llm.default_model", "anthropic:claude-sonnet-4-5")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("schemas.dir", "./schemas")
	viper.SetDefault("schemas.default", "assistant")
	viper.SetDefault("compaction.cron", "@every 1m")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// newLogger builds the process logger from the logging config and installs
// it as the package-wide default.
func newLogger(cfg LoggingConfig) (*zap.Logger, error) {
	logger, err := log.New(cfg.Level, cfg.Format)
	if err != nil {
		return nil, err
	}
	log.SetLogger(logger)
	return logger, nil
}
