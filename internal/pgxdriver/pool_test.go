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
package pgxdriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildDSNPrecedence(t *testing.T) {
	cfg := Config{
		DSN:  "postgres://u:p@h:5432/db",
		Host: "ignored",
	}
	assert.Equal(t, "postgres://u:p@h:5432/db", BuildDSN(cfg))
}

func TestBuildDSNFromFields(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Database: "rem",
		User:     "rem_app",
		Password: "s3cret",
	}
	dsn := BuildDSN(cfg)
	assert.Contains(t, dsn, "host='db.internal'")
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, "dbname='rem'")
	assert.Contains(t, dsn, "sslmode='require'")
	assert.Contains(t, dsn, "user='rem_app'")
	assert.Contains(t, dsn, "password='s3cret'")
}

func TestBuildDSNQuotesSpecialCharacters(t *testing.T) {
	cfg := Config{
		Host:     "localhost",
		Database: "rem",
		Password: `pa'ss\word`,
	}
	dsn := BuildDSN(cfg)
	assert.Contains(t, dsn, `password='pa\'ss\\word'`)
}

func TestBuildDSNIncomplete(t *testing.T) {
	assert.Empty(t, BuildDSN(Config{Host: "localhost"}))
	assert.Empty(t, BuildDSN(Config{Database: "rem"}))
	assert.Empty(t, BuildDSN(Config{}))
}
