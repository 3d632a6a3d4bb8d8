package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"llm-gateway/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

func TestLangSmithTracer(t *testing.T) {
	var mu sync.Mutex
	var got []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		got = append(got, recorded{method: r.Method, path: r.URL.Path, body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	tracer := NewLangSmithTracer(config.TracingConfig{Enabled: true, APIKey: "secret", Project: "gateway", Endpoint: server.URL + "/"})
	ctx := context.Background()

	runID := tracer.StartRun(ctx, "chat", map[string]any{"user_message": "hello"})
	require.NotEmpty(t, runID)
	tracer.EndRun(ctx, runID, map[string]any{"bot_message": "hi", "latency_ms": 12.5}, nil)

	failed := tracer.StartRun(ctx, "chat", map[string]any{"user_message": "boom"})
	tracer.EndRun(ctx, failed, nil, errors.New("provider down"))
	tracer.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 4)

	assert.Equal(t, http.MethodPost, got[0].method)
	assert.Equal(t, "/runs", got[0].path)
	assert.Equal(t, runID, got[0].body["id"])
	assert.Equal(t, "llm", got[0].body["run_type"])
	assert.Equal(t, "gateway", got[0].body["session_name"])

	assert.Equal(t, http.MethodPatch, got[1].method)
	assert.Equal(t, "/runs/"+runID, got[1].path)
	outputs := got[1].body["outputs"].(map[string]any)
	assert.Equal(t, "hi", outputs["bot_message"])

	assert.Equal(t, "provider down", got[3].body["error"])

	// Closed tracers drop runs quietly.
	assert.Empty(t, tracer.StartRun(ctx, "chat", nil))
}

func TestLangSmithTracer_ServerErrorIsSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	tracer := NewLangSmithTracer(config.TracingConfig{APIKey: "k", Endpoint: server.URL})
	id := tracer.StartRun(context.Background(), "chat", nil)
	tracer.EndRun(context.Background(), id, nil, nil)
	tracer.Close()
}

func TestNew(t *testing.T) {
	assert.IsType(t, NoopTracer{}, New(config.TracingConfig{}))
	assert.IsType(t, NoopTracer{}, New(config.TracingConfig{Enabled: true}))

	lt, ok := New(config.TracingConfig{Enabled: true, APIKey: "k", Endpoint: "http://127.0.0.1:1"}).(*LangSmithTracer)
	require.True(t, ok)
	lt.Close()
}
