package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const queueSize = 256

type runRequest struct {
	method string
	path   string
	body   map[string]any
}

// LangSmithTracer posts runs to the LangSmith REST API from a single background
// worker, so a run's create always reaches the API before its update.
type LangSmithTracer struct {
	endpoint string
	apiKey   string
	project  string
	client   *http.Client

	queue   chan runRequest
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewLangSmithTracer(cfg config.TracingConfig) *LangSmithTracer {
	t := &LangSmithTracer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		project:  cfg.Project,
		client:   &http.Client{Timeout: 10 * time.Second},
		queue:    make(chan runRequest, queueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *LangSmithTracer) StartRun(ctx context.Context, name string, inputs map[string]any) string {
	id := uuid.New().String()
	ok := t.enqueue(runRequest{
		method: http.MethodPost,
		path:   "/runs",
		body: map[string]any{
			"id":           id,
			"name":         name,
			"run_type":     "llm",
			"inputs":       inputs,
			"start_time":   time.Now().UTC().Format(time.RFC3339Nano),
			"session_name": t.project,
		},
	})
	if !ok {
		return ""
	}
	return id
}

func (t *LangSmithTracer) EndRun(ctx context.Context, runID string, outputs map[string]any, runErr error) {
	if runID == "" {
		return
	}
	body := map[string]any{
		"outputs":  outputs,
		"end_time": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if runErr != nil {
		body["error"] = runErr.Error()
	}
	t.enqueue(runRequest{method: http.MethodPatch, path: "/runs/" + runID, body: body})
}

func (t *LangSmithTracer) enqueue(req runRequest) bool {
	select {
	case <-t.done:
		return false
	default:
	}
	select {
	case t.queue <- req:
		return true
	default:
		logger.Log.WithField("path", req.path).Warn("LangSmith queue full, dropping run update")
		return false
	}
}

func (t *LangSmithTracer) run() {
	defer close(t.stopped)
	for {
		select {
		case req := <-t.queue:
			t.post(req)
		case <-t.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case req := <-t.queue:
					t.post(req)
				default:
					return
				}
			}
		}
	}
}

func (t *LangSmithTracer) post(r runRequest) {
	if err := t.send(r); err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"method": r.method,
			"path":   r.path,
		}).Warn("LangSmith request failed")
	}
}

func (t *LangSmithTracer) send(r runRequest) error {
	payload, err := json.Marshal(r.body)
	if err != nil {
		return fmt.Errorf("error marshaling run: %w", err)
	}

	req, err := http.NewRequest(r.method, t.endpoint+r.path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("LangSmith returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close stops accepting runs and waits until the queued ones are sent
func (t *LangSmithTracer) Close() {
	t.once.Do(func() { close(t.done) })
	<-t.stopped
}
