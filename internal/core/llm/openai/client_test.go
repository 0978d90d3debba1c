package openai

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zraffens/HackUTA-backend/internal/core/llm"
	"github.com/Zraffens/HackUTA-backend/internal/core/ocr"
)

func testPage() ocr.Page {
	return ocr.Page{Index: 1, Image: image.NewGray(image.Rect(0, 0, 4, 4))}
}

func newTestClient(url, key string) *Client {
	return NewClient(Config{
		APIKey:  key,
		BaseURL: url,
		Model:   "vision-test",
		Retry:   llm.RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTranscribe_SendsImageAndPrompt(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"`+"```markdown\\n# Title\\n```"+`"}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL+"/", "sk-test")
	out, err := c.Transcribe(context.Background(), testPage())
	require.NoError(t, err)
	assert.Equal(t, "```markdown\n# Title\n```", out)
	assert.Equal(t, "vision-test", c.Model())

	assert.Equal(t, "vision-test", got["model"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 1)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, llm.TranscriptionPrompt, parts[0].(map[string]any)["text"])
	imageURL := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(imageURL, "data:image/png;base64,"))
}

func TestTranscribe_MissingKeyIsUnavailable(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, "").Transcribe(context.Background(), testPage())
	assert.ErrorIs(t, err, llm.ErrModelUnavailable)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestTranscribe_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantHits int32
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"message":"nope"}}`, 1},
		{"server errors exhaust retries", http.StatusServiceUnavailable, `overloaded`, 3},
		{"no choices", http.StatusOK, `{"choices":[]}`, 1},
		{"not json", http.StatusOK, `<html>`, 1},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":"   "}}]}`, 1},
		{"null content", http.StatusOK, `{"choices":[{"message":{"content":null}}]}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL, "sk-test").Transcribe(context.Background(), testPage())
			assert.ErrorIs(t, err, llm.ErrModelError)
			assert.Equal(t, tt.wantHits, atomic.LoadInt32(&hits))
		})
	}
}

func TestTranscribe_RetriesRateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, "sk-test").Transcribe(context.Background(), testPage())
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
