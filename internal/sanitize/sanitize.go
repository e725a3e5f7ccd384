// Package sanitize strips markup from the user-controlled text of a validated
// chat request.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"relaygate/internal/core"
)

// maxPasses bounds the strip/unescape loop. Escaped markup surfaces one layer
// per pass, so real inputs settle in two or three.
const maxPasses = 8

// Sanitizer removes HTML and script content from request strings.
// It is safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New returns a Sanitizer that allows no markup at all.
func New() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Request returns a sanitized deep copy of req. Only text content, user and
// function names and descriptions are rewritten; null content, array lengths
// and everything else are kept as they are.
func (s *Sanitizer) Request(req *core.ChatRequest) *core.ChatRequest {
	out := req.Clone()

	for i := range out.Messages {
		content := &out.Messages[i].Content
		switch content.Kind {
		case core.ContentText:
			content.Text = s.String(content.Text)
		case core.ContentParts:
			for j := range content.Parts {
				if content.Parts[j].Type == core.PartTypeText {
					content.Parts[j].Text = s.String(content.Parts[j].Text)
				}
			}
		case core.ContentNull:
		}
	}

	if out.User != nil {
		user := s.String(*out.User)
		out.User = &user
	}
	for i := range out.Functions {
		s.definition(&out.Functions[i])
	}
	for i := range out.Tools {
		s.definition(&out.Tools[i].Function)
	}
	return out
}

func (s *Sanitizer) definition(fn *core.FunctionDefinition) {
	fn.Name = s.String(fn.Name)
	if fn.Description != nil {
		desc := s.String(*fn.Description)
		fn.Description = &desc
	}
}

// String strips markup from v and trims surrounding whitespace. The result
// is a fixed point: String(String(v)) == String(v).
func (s *Sanitizer) String(v string) string {
	current := strings.TrimSpace(v)
	if !strings.ContainsAny(current, "<>&") {
		return current
	}
	for pass := 0; pass < maxPasses; pass++ {
		next := s.pass(current)
		if next == current {
			return current
		}
		current = next
	}
	if s.pass(current) == current {
		return current
	}
	// Input still unwrapping escape layers after maxPasses loses its
	// markup characters.
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '<' || r == '>' || r == '&' {
			return -1
		}
		return r
	}, current))
}

// pass runs one strip/unescape round. bluemonday escapes the text it keeps;
// unescaping lets plain characters like "&" survive unchanged.
func (s *Sanitizer) pass(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}
