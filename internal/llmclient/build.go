// Package llmclient builds outbound chat-completion calls and sends them to
// upstream providers, one attempt at a time, behind a per-provider circuit
// breaker.
package llmclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"relaygate/internal/core"
)

// ErrMissingCredential means the provider has no secret configured. The
// candidate fails without a network call.
var ErrMissingCredential = errors.New("missing credential")

// ResponseType selects how the upstream answer is consumed.
type ResponseType int

const (
	// ResponseJSON is a single JSON body.
	ResponseJSON ResponseType = iota
	// ResponseStream is a server-sent event stream.
	ResponseStream
)

func (t ResponseType) String() string {
	if t == ResponseStream {
		return "stream"
	}
	return "json"
}

// CallSpec is one outbound attempt, fully resolved.
type CallSpec struct {
	Provider     string
	Method       string
	URL          string
	Header       http.Header
	Body         []byte
	ResponseType ResponseType
}

// Build derives the outbound call for provider. The request's model is
// replaced by the provider's id; every other field, including the
// unmodeled ones in req.Extra, is copied as is. req is
// not modified.
func Build(provider core.Provider, credential string, req *core.ChatRequest, requestID string) (*CallSpec, error) {
	if credential == "" {
		return nil, fmt.Errorf("provider %s: %w", provider.Name, ErrMissingCredential)
	}

	outbound := *req
	outbound.Model = provider.ModelID(req.Model)
	body, err := json.Marshal(&outbound)
	if err == nil && len(req.Extra) > 0 {
		body, err = withExtra(body, req.Extra)
	}
	if err != nil {
		return nil, core.NewInternalError("failed to marshal upstream request", err)
	}

	header := make(http.Header, 4)
	header.Set("Authorization", "Bearer "+credential)
	header.Set("Content-Type", "application/json")
	if req.Stream {
		header.Set("Accept", "text/event-stream")
	} else {
		header.Set("Accept", "application/json")
	}
	if requestID != "" {
		header.Set("X-Request-ID", requestID)
	}

	responseType := ResponseJSON
	if req.Stream {
		responseType = ResponseStream
	}

	return &CallSpec{
		Provider:     provider.Name,
		Method:       http.MethodPost,
		URL:          provider.Endpoint,
		Header:       header,
		Body:         body,
		ResponseType: responseType,
	}, nil
}

// withExtra adds the passthrough fields to a marshaled request. Modeled
// fields win over an Extra entry of the same name.
func withExtra(body []byte, extra map[string]json.RawMessage) ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(extra)+8)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	for key, raw := range extra {
		if _, ok := fields[key]; !ok {
			fields[key] = raw
		}
	}
	return json.Marshal(fields)
}

// String identifies a spec in logs without its credential.
func (s *CallSpec) String() string {
	return fmt.Sprintf("%s %s (%s, %s)", s.Method, s.URL, s.Provider, s.ResponseType)
}
