// Package failover runs a chat completion against each provider serving the
// model, in order, until one of them answers.
package failover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relaygate/config"
	"relaygate/internal/core"
	"relaygate/internal/llmclient"
	"relaygate/internal/metrics"
)

// ErrAllProvidersFailed is wrapped by the error returned when every
// candidate failed.
var ErrAllProvidersFailed = errors.New("all providers failed")

var tracer = otel.Tracer("relaygate/internal/failover")

// errAttemptTimeout marks an attempt cut off by the per-attempt timer.
var errAttemptTimeout = errors.New("attempt timed out")

// Doer sends a single upstream attempt.
type Doer interface {
	Do(ctx context.Context, spec *llmclient.CallSpec) (*http.Response, error)
	ReportFailure(provider string)
}

// Result is the winning attempt.
type Result struct {
	Provider   core.Provider
	StatusCode int
	Header     http.Header
	// Body is the complete upstream body in JSON mode.
	Body []byte
	// Stream is the open upstream body in stream mode. Closing it releases
	// the attempt.
	Stream io.ReadCloser
	// Attempts counts the candidates tried, including the winner.
	Attempts int
}

// Executor tries candidates in order. It is safe for concurrent use.
type Executor struct {
	client  Doer
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetrics records attempts in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor bounding each attempt by timeout.
// A non-positive timeout means config.DefaultAttemptTimeout.
func NewExecutor(client Doer, timeout time.Duration, opts ...Option) *Executor {
	if timeout <= 0 {
		timeout = config.DefaultAttemptTimeout
	}
	e := &Executor{client: client, timeout: timeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Candidates returns the providers to try for model: the primary provider,
// then every other provider serving it in table order, each once.
func Candidates(catalog core.Catalog, model string) []core.Provider {
	resolved := catalog.ResolveProviders(model)
	out := make([]core.Provider, 0, len(resolved))
	seen := make(map[string]bool, len(resolved))
	for _, p := range resolved {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out
}

// Execute sends req to each candidate until one returns 2xx. Nothing is
// written to the caller here, so every failure is still recoverable.
//
// When all candidates fail the error is a *core.GatewayError of kind
// UpstreamExhausted wrapping ErrAllProvidersFailed. When ctx ends first,
// ctx.Err() is returned instead.
func (e *Executor) Execute(ctx context.Context, catalog core.Catalog, req *core.ChatRequest) (*Result, error) {
	candidates := Candidates(catalog, req.Model)
	if len(candidates) == 0 {
		return nil, core.NewUnroutableError(req.Model)
	}

	requestID := core.GetRequestID(ctx)
	var failures []error
	for i, provider := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		spanCtx, span := tracer.Start(ctx, "upstream.attempt", trace.WithAttributes(
			attribute.String("relaygate.provider", provider.Name),
			attribute.Int("relaygate.attempt", i+1),
		))
		result, err := e.attempt(spanCtx, catalog, provider, req, requestID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, reason(err, e.timeout))
		}
		span.End()
		if err == nil {
			e.metrics.RecordAttempt(provider.Name, metrics.OutcomeSuccess, time.Since(start))
			result.Attempts = i + 1
			if i > 0 {
				e.logger.Info("failover succeeded",
					"request_id", requestID,
					"provider", provider.Name,
					"model", req.Model,
					"attempt", i+1,
				)
			}
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		e.metrics.RecordAttempt(provider.Name, outcome(err), time.Since(start))
		e.logger.Warn("upstream attempt failed",
			"request_id", requestID,
			"provider", provider.Name,
			"model", req.Model,
			"attempt", i+1,
			"reason", reason(err, e.timeout),
		)
		failures = append(failures, fmt.Errorf("%s: %w", provider.Name, err))
	}

	return nil, core.NewUpstreamExhaustedError(
		fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(failures...)),
	)
}

func (e *Executor) attempt(ctx context.Context, catalog core.Catalog, provider core.Provider, req *core.ChatRequest, requestID string) (*Result, error) {
	credential, _ := catalog.Credential(provider.Name)
	spec, err := llmclient.Build(provider, credential, req, requestID)
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(e.timeout, func() { cancel(errAttemptTimeout) })

	resp, err := e.client.Do(attemptCtx, spec)
	if err != nil {
		timer.Stop()
		cancel(nil)
		if e.timedOut(attemptCtx, provider) {
			return nil, errAttemptTimeout
		}
		return nil, err
	}

	result := &Result{Provider: provider, StatusCode: resp.StatusCode, Header: resp.Header}

	if spec.ResponseType == llmclient.ResponseStream {
		// Headers are in: the attempt has won. The timer must not cut the
		// stream short, but the caller's context still governs it.
		if !timer.Stop() {
			_ = resp.Body.Close()
			cancel(nil)
			e.client.ReportFailure(provider.Name)
			return nil, errAttemptTimeout
		}
		result.Stream = &releasingBody{ReadCloser: resp.Body, release: func() { cancel(nil) }}
		return result, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	timer.Stop()
	cancel(nil)
	if readErr != nil {
		if e.timedOut(attemptCtx, provider) {
			return nil, errAttemptTimeout
		}
		if ctx.Err() == nil {
			e.client.ReportFailure(provider.Name)
		}
		return nil, fmt.Errorf("failed to read response: %w", readErr)
	}
	result.Body = body
	return result, nil
}

// timedOut reports whether the attempt was cut off by its own timer, and
// counts that against the provider.
func (e *Executor) timedOut(attemptCtx context.Context, provider core.Provider) bool {
	if !errors.Is(context.Cause(attemptCtx), errAttemptTimeout) {
		return false
	}
	e.client.ReportFailure(provider.Name)
	return true
}

// releasingBody cancels the attempt context once the relay is done with it.
type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

func outcome(err error) string {
	var gwErr *core.GatewayError
	switch {
	case errors.Is(err, errAttemptTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, llmclient.ErrMissingCredential):
		return metrics.OutcomeMissingCredential
	case errors.Is(err, llmclient.ErrCircuitOpen):
		return metrics.OutcomeCircuitOpen
	case errors.As(err, &gwErr) && gwErr.StatusCode != 0:
		return metrics.OutcomeStatus
	default:
		return metrics.OutcomeTransport
	}
}

func reason(err error, timeout time.Duration) string {
	if errors.Is(err, errAttemptTimeout) {
		return fmt.Sprintf("timed out after %s", timeout)
	}
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	return err.Error()
}
