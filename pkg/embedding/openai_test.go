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
package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedRequestAndOrder(t *testing.T) {
	var gotAuth string
	var gotReq embeddingRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		// Return vectors out of order; the client must reorder by index.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0.4, 0.5}},
				{"index": 0, "embedding": []float32{0.1, 0.2}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", Endpoint: srv.URL})
	vectors, err := c.Embed(context.Background(), []string{"alpha", "beta"}, "")
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, DefaultModel, gotReq.Model)
	assert.Equal(t, []string{"alpha", "beta"}, gotReq.Input)

	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, []float32{0.4, 0.5}, vectors[1])
}

func TestEmbedAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "rate limit exceeded", "type": "rate_limit_error"},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", Endpoint: srv.URL})
	_, err := c.Embed(context.Background(), []string{"alpha"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
	assert.Contains(t, err.Error(), "429")
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 0, "embedding": []float32{0.1}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", Endpoint: srv.URL})
	_, err := c.Embed(context.Background(), []string{"alpha", "beta"}, "")
	assert.Error(t, err)
}

func TestEmbedEmptyInput(t *testing.T) {
	c := NewClient(Config{APIKey: "sk-test"})
	vectors, err := c.Embed(context.Background(), nil, "")
	assert.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestDimensions(t *testing.T) {
	c := NewClient(Config{APIKey: "sk-test"})
	assert.Equal(t, 1536, c.Dimensions(""))
	assert.Equal(t, 3072, c.Dimensions("text-embedding-3-large"))
	assert.Equal(t, 0, c.Dimensions("unknown-model"))
}
