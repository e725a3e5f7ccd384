// Package gateway sequences one chat-completion request through validation,
// sanitization, policy checks, provider failover and the response relay.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relaygate/internal/core"
	"relaygate/internal/failover"
	"relaygate/internal/metrics"
	"relaygate/internal/policy"
	"relaygate/internal/providers"
	"relaygate/internal/relay"
	"relaygate/internal/sanitize"
	"relaygate/internal/validation"
)

var tracer = otel.Tracer("relaygate/internal/gateway")

// Executor runs the failover loop.
type Executor interface {
	Execute(ctx context.Context, catalog core.Catalog, req *core.ChatRequest) (*failover.Result, error)
}

// Config wires a Gateway. Catalog returns the snapshot a request works
// against; it is called once per request.
type Config struct {
	Catalog   func() core.Catalog
	Validator *validation.Validator
	Sanitizer *sanitize.Sanitizer
	Images    *policy.ImagePolicy
	Executor  Executor
	Relay     *relay.Relay
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Gateway handles chat-completion requests. It is safe for concurrent use.
type Gateway struct {
	cfg Config
}

// New creates a Gateway. Nil validator, sanitizer, relay and logger get defaults.
func New(cfg Config) *Gateway {
	if cfg.Validator == nil {
		cfg.Validator = validation.New()
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = sanitize.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Relay == nil {
		cfg.Relay = relay.New(cfg.Logger)
	}
	return &Gateway{cfg: cfg}
}

// ChatCompletion runs body through the pipeline and writes the response to w.
//
// A non-nil error is always a *core.GatewayError and means nothing has been
// written yet; the caller renders it. Once relaying starts, problems are
// reported in-band or only logged and the return value is nil.
func (g *Gateway) ChatCompletion(ctx context.Context, w http.ResponseWriter, body []byte) error {
	ctx, span := tracer.Start(ctx, "gateway.chat_completion")
	defer span.End()

	r := &run{g: g, ctx: ctx, span: span, state: StateReceived}
	catalog := g.cfg.Catalog()

	req, err := g.cfg.Validator.Validate(body)
	if err != nil {
		return r.fail(err)
	}
	r.advance(StateValidated)
	span.SetAttributes(attribute.String("relaygate.model", req.Model), attribute.Bool("relaygate.stream", req.Stream))

	req = g.cfg.Sanitizer.Request(req)
	r.advance(StateSanitized)

	model, err := catalog.LookupModel(req.Model)
	if err != nil {
		if errors.Is(err, providers.ErrModelNotFound) {
			return r.fail(core.NewUnroutableError(req.Model))
		}
		return r.fail(err)
	}
	if err := policy.Authorize(model, core.GetCallerIdentity(ctx)); err != nil {
		return r.fail(err)
	}
	r.advance(StateAccessChecked)

	if g.cfg.Images != nil {
		if err := g.cfg.Images.Check(catalog, req); err != nil {
			return r.fail(err)
		}
	}
	r.advance(StateImageChecked)

	if len(failover.Candidates(catalog, req.Model)) == 0 {
		return r.fail(core.NewUnroutableError(req.Model))
	}
	r.advance(StateProviderResolved)

	result, err := g.cfg.Executor.Execute(ctx, catalog, req)
	if err != nil {
		if ctx.Err() != nil {
			r.finish(StateDisconnected)
			return nil
		}
		return r.fail(err)
	}
	span.SetAttributes(attribute.String("relaygate.provider", result.Provider.Name))
	r.advance(StateRelaying)

	if result.Stream != nil {
		err = g.cfg.Relay.Stream(ctx, w, result.Stream)
	} else {
		err = g.cfg.Relay.JSON(w, result.StatusCode, result.Body)
	}
	switch {
	case err == nil:
		r.finish(StateCompleted)
	case errors.Is(err, relay.ErrClientDisconnected):
		r.finish(StateDisconnected)
	default:
		span.RecordError(err)
		r.finish(StateFailed)
	}
	return nil
}

// run tracks one request's progress through the state machine.
type run struct {
	g     *Gateway
	ctx   context.Context
	span  trace.Span
	state State
}

func (r *run) advance(next State) {
	r.g.cfg.Logger.Debug("request state",
		"request_id", core.GetRequestID(r.ctx),
		"from", r.state.String(),
		"to", next.String(),
	)
	r.state = next
}

func (r *run) finish(terminal State) {
	r.advance(terminal)
	r.g.cfg.Metrics.RecordRequest(terminal.String())
}

func (r *run) fail(err error) error {
	var gwErr *core.GatewayError
	if !errors.As(err, &gwErr) {
		gwErr = core.NewInternalError("internal error", err)
	}
	failedAt := r.state
	r.finish(StateFailed)

	r.span.RecordError(gwErr)
	r.span.SetStatus(codes.Error, gwErr.Message)

	level := slog.LevelInfo
	if gwErr.HTTPStatusCode() >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	r.g.cfg.Logger.Log(r.ctx, level, "request failed",
		"request_id", core.GetRequestID(r.ctx),
		"after", failedAt.String(),
		"kind", string(gwErr.Kind),
		"status", gwErr.HTTPStatusCode(),
		"error", gwErr.Message,
	)
	return gwErr
}
