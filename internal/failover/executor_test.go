package failover

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaygate/internal/core"
	"relaygate/internal/llmclient"
	"relaygate/internal/metrics"
	"relaygate/internal/providers"
)

type upstream struct {
	server *httptest.Server
	calls  atomic.Int32
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func hang(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
}

func okJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
	}
}

type named struct {
	name string
	up   *upstream
	key  string
}

func catalogOf(entries ...named) *providers.Catalog {
	var list []core.Provider
	creds := map[string]string{}
	for _, e := range entries {
		list = append(list, core.Provider{Name: e.name, Endpoint: e.up.server.URL, Models: map[string]string{"gpt-4": "gpt-4"}})
		if e.key != "" {
			creds[e.name] = e.key
		}
	}
	return providers.NewCatalog([]core.Model{{ID: "gpt-4"}}, list, creds)
}

func chatRequest(stream bool) *core.ChatRequest {
	return &core.ChatRequest{
		Model:    "gpt-4",
		Messages: []core.Message{{Role: core.RoleUser, Content: core.TextContent("hi")}},
		Stream:   stream,
	}
}

func newTestExecutor(timeout time.Duration, logs *bytes.Buffer, reg *prometheus.Registry) *Executor {
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewExecutor(
		llmclient.New(http.DefaultClient, llmclient.Config{}),
		timeout,
		WithLogger(logger),
		WithMetrics(metrics.NewMetrics(reg)),
	)
}

func TestExecute_FailoverOrder(t *testing.T) {
	a := newUpstream(t, hang)
	b := newUpstream(t, okJSON(`{"id":"from-b"}`))
	c := newUpstream(t, okJSON(`{"id":"from-c"}`))

	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	exec := newTestExecutor(100*time.Millisecond, &logs, reg)

	result, err := exec.Execute(context.Background(), catalogOf(
		named{"a", a, "ka"}, named{"b", b, "kb"}, named{"c", c, "kc"},
	), chatRequest(false))
	require.NoError(t, err)

	assert.Equal(t, "b", result.Provider.Name)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.JSONEq(t, `{"id":"from-b"}`, string(result.Body))
	assert.Equal(t, int32(0), c.calls.Load(), "c must never be attempted")

	out := logs.String()
	assert.Contains(t, out, `"msg":"upstream attempt failed"`)
	assert.Contains(t, out, `"provider":"a"`)
	assert.Contains(t, out, "timed out after 100ms")

	count, err := testutil.GatherAndCount(reg, "relaygate_upstream_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestExecute_AllProvidersFail(t *testing.T) {
	a := newUpstream(t, status(http.StatusInternalServerError))
	b := newUpstream(t, status(http.StatusServiceUnavailable))

	var logs bytes.Buffer
	exec := newTestExecutor(time.Second, &logs, prometheus.NewRegistry())

	result, err := exec.Execute(context.Background(), catalogOf(named{"a", a, "ka"}, named{"b", b, "kb"}), chatRequest(false))
	require.Error(t, err)
	assert.Nil(t, result)

	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, core.KindUpstreamExhausted, gwErr.Kind)
	assert.Equal(t, http.StatusBadGateway, gwErr.HTTPStatusCode())
	assert.Equal(t, "all providers failed", gwErr.Message)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)

	assert.Equal(t, int32(1), a.calls.Load(), "no retries against the same provider")
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, 2, strings.Count(logs.String(), "upstream attempt failed"))
}

func TestExecute_MissingCredentialSkipsWithoutNetwork(t *testing.T) {
	a := newUpstream(t, okJSON(`{"id":"from-a"}`))
	b := newUpstream(t, okJSON(`{"id":"from-b"}`))

	var logs bytes.Buffer
	exec := newTestExecutor(time.Second, &logs, prometheus.NewRegistry())

	result, err := exec.Execute(context.Background(), catalogOf(named{"a", a, ""}, named{"b", b, "kb"}), chatRequest(false))
	require.NoError(t, err)

	assert.Equal(t, "b", result.Provider.Name)
	assert.Equal(t, int32(0), a.calls.Load())
	assert.Contains(t, logs.String(), "missing credential")
}

func TestExecute_StreamOutlivesAttemptTimeout(t *testing.T) {
	a := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(250 * time.Millisecond)
		_, _ = io.WriteString(w, "data: {\"id\":\"1\"}\n\ndata: [DONE]\n\n")
	})

	var logs bytes.Buffer
	exec := newTestExecutor(100*time.Millisecond, &logs, prometheus.NewRegistry())

	result, err := exec.Execute(context.Background(), catalogOf(named{"a", a, "ka"}), chatRequest(true))
	require.NoError(t, err)
	require.NotNil(t, result.Stream)
	defer result.Stream.Close()

	body, err := io.ReadAll(result.Stream)
	require.NoError(t, err, "the attempt timer must be disarmed once headers arrive")
	assert.Equal(t, "data: {\"id\":\"1\"}\n\ndata: [DONE]\n\n", string(body))
}

func TestExecute_CallerCancellation(t *testing.T) {
	a := newUpstream(t, hang)
	b := newUpstream(t, okJSON(`{}`))

	var logs bytes.Buffer
	exec := newTestExecutor(5*time.Second, &logs, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := exec.Execute(ctx, catalogOf(named{"a", a, "ka"}, named{"b", b, "kb"}), chatRequest(false))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestExecute_NoCandidates(t *testing.T) {
	var logs bytes.Buffer
	exec := newTestExecutor(time.Second, &logs, prometheus.NewRegistry())

	_, err := exec.Execute(context.Background(), providers.NewCatalog([]core.Model{{ID: "gpt-4"}}, nil, nil), chatRequest(false))

	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, core.KindUnroutable, gwErr.Kind)
}

func TestCandidates(t *testing.T) {
	catalog := providers.NewCatalog(
		[]core.Model{{ID: "m"}},
		[]core.Provider{
			{Name: "primary", Models: map[string]string{"m": "m"}},
			{Name: "other", Models: map[string]string{"x": "x"}},
			{Name: "backup", Models: map[string]string{"m": "m-2"}},
		},
		nil,
	)

	got := Candidates(catalog, "m")
	require.Len(t, got, 2)
	assert.Equal(t, "primary", got[0].Name)
	assert.Equal(t, "backup", got[1].Name)
	assert.Empty(t, Candidates(catalog, "unknown"))
}
