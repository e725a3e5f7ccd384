// Package relay writes the winning upstream response to the caller, either
// as one JSON body or as a reshaped server-sent event stream.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"relaygate/internal/core"
)

// ErrClientDisconnected means the caller went away mid-stream. It is not a
// failure of the gateway or the provider.
var ErrClientDisconnected = errors.New("client disconnected")

// ErrUpstreamInterrupted means the provider's stream broke after relaying began.
var ErrUpstreamInterrupted = errors.New("upstream stream interrupted")

const readChunkSize = 32 << 10

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
	frameEnd   = []byte("\n\n")

	interruptedFrame = []byte(`data: {"error":{"type":"upstream_error","message":"upstream stream interrupted"}}` + "\n\n")
)

// Relay writes upstream responses. It holds no per-response state.
type Relay struct {
	logger *slog.Logger
}

// New creates a Relay. A nil logger means slog.Default().
func New(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{logger: logger}
}

// JSON writes a complete upstream body with content nulled next to
// function or tool calls.
func (r *Relay) JSON(w http.ResponseWriter, status int, body []byte) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(NormalizeBody(body)); err != nil {
		return fmt.Errorf("%w: %w", ErrClientDisconnected, err)
	}
	return nil
}

// Stream copies upstream SSE frames to w until [DONE], upstream EOF, an
// upstream error or a caller disconnect. body is always closed.
//
// It returns nil when the stream ended normally, ErrClientDisconnected when
// the caller left, and ErrUpstreamInterrupted after writing an in-band error
// frame.
func (r *Relay) Stream(ctx context.Context, w http.ResponseWriter, body io.ReadCloser) error {
	defer body.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &streamWriter{w: w, rc: http.NewResponseController(w)}
	if err := s.flush(); err != nil {
		return r.disconnected(ctx, err)
	}

	var framer LineFramer
	defer framer.Reset()
	chunk := make([]byte, readChunkSize)

	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			_, frameErr := framer.Write(chunk[:n])
			for {
				line, ok := framer.Next()
				if !ok {
					break
				}
				done, err := r.forward(ctx, s, line)
				if err != nil {
					return r.disconnected(ctx, err)
				}
				if done {
					return nil
				}
			}
			if frameErr != nil {
				readErr = frameErr
			}
		}

		if readErr == nil {
			continue
		}
		if ctx.Err() != nil {
			return r.disconnected(ctx, ctx.Err())
		}
		if errors.Is(readErr, io.EOF) {
			if rest := framer.Rest(); len(rest) > 0 {
				if _, err := r.forward(ctx, s, rest); err != nil {
					return r.disconnected(ctx, err)
				}
			}
			return nil
		}

		r.logger.Warn("upstream stream interrupted",
			"request_id", core.GetRequestID(ctx),
			"error", readErr,
			"buffered", framer.Buffered(),
		)
		if err := s.write(interruptedFrame); err != nil {
			return r.disconnected(ctx, err)
		}
		return fmt.Errorf("%w: %w", ErrUpstreamInterrupted, readErr)
	}
}

// forward handles one upstream line. done is true after [DONE].
func (r *Relay) forward(ctx context.Context, s *streamWriter, line []byte) (done bool, err error) {
	if len(line) == 0 {
		return false, nil
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		r.logger.Debug("dropping non-data stream line", "request_id", core.GetRequestID(ctx), "line", string(line))
		return false, nil
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(payload, doneMarker) {
		return true, s.frame(doneMarker)
	}

	frames, err := NormalizeChunk(payload)
	if err != nil {
		r.logger.Warn("skipping unparsable stream frame",
			"request_id", core.GetRequestID(ctx),
			"error", err,
			"payload", truncate(payload, 256),
		)
		return false, nil
	}
	for _, f := range frames {
		if err := s.frame(f); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (r *Relay) disconnected(ctx context.Context, cause error) error {
	r.logger.Debug("client disconnected during stream", "request_id", core.GetRequestID(ctx), "cause", cause)
	return fmt.Errorf("%w: %w", ErrClientDisconnected, cause)
}

// streamWriter writes SSE frames and flushes each one.
type streamWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *streamWriter) frame(payload []byte) error {
	buf := make([]byte, 0, len("data: ")+len(payload)+len(frameEnd))
	buf = append(buf, "data: "...)
	buf = append(buf, payload...)
	buf = append(buf, frameEnd...)
	return s.write(buf)
}

func (s *streamWriter) write(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	return s.flush()
}

func (s *streamWriter) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
