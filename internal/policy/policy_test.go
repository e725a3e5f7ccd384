package policy

import (
	"errors"
	"net/http"
	"testing"

	"relaygate/config"
	"relaygate/internal/core"
	"relaygate/internal/providers"
)

func TestAuthorize(t *testing.T) {
	premium := core.Model{ID: "gpt-4", Premium: true}
	standard := core.Model{ID: "gpt-3.5-turbo"}

	tests := []struct {
		name    string
		model   core.Model
		caller  *core.CallerIdentity
		allowed bool
	}{
		{"standard model, anonymous", standard, nil, true},
		{"standard model, regular caller", standard, &core.CallerIdentity{ID: "u1"}, true},
		{"premium model, anonymous", premium, nil, false},
		{"premium model, regular caller", premium, &core.CallerIdentity{ID: "u1"}, false},
		{"premium model, premium caller", premium, &core.CallerIdentity{ID: "u2", Premium: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.model, tt.caller)
			if tt.allowed {
				if err != nil {
					t.Fatalf("expected allow, got %v", err)
				}
				return
			}
			var gwErr *core.GatewayError
			if !errors.As(err, &gwErr) {
				t.Fatalf("expected *core.GatewayError, got %v", err)
			}
			if gwErr.Kind != core.KindPolicy || gwErr.HTTPStatusCode() != http.StatusForbidden {
				t.Errorf("got kind %v status %d", gwErr.Kind, gwErr.HTTPStatusCode())
			}
			if gwErr.Message != PremiumRequiredReason {
				t.Errorf("Message = %q", gwErr.Message)
			}
		})
	}
}

func imageRequest(model string) *core.ChatRequest {
	return &core.ChatRequest{
		Model: model,
		Messages: []core.Message{{
			Role: core.RoleUser,
			Content: core.PartsContent(
				core.ContentPart{Type: core.PartTypeText, Text: "what is this"},
				core.ContentPart{Type: core.PartTypeImageURL, ImageURL: &core.ImageURL{URL: "https://x.test/a.png"}},
			),
		}},
	}
}

func TestImagePolicy_Check(t *testing.T) {
	catalog := providers.NewCatalog(
		[]core.Model{{ID: "vision"}, {ID: "text-only"}, {ID: "custom"}, {ID: "orphan"}},
		[]core.Provider{
			{Name: "primary", Models: map[string]string{"vision": "gpt-4o", "text-only": "gpt-3.5-turbo", "custom": "my-vlm"}},
			{Name: "secondary", Models: map[string]string{"text-only": "gpt-4o"}},
		},
		nil,
	)

	tests := []struct {
		name    string
		cfg     config.ImagesConfig
		req     *core.ChatRequest
		allowed bool
	}{
		{"no images", config.ImagesConfig{}, &core.ChatRequest{Model: "text-only", Messages: []core.Message{{Role: "user", Content: core.TextContent("hi")}}}, true},
		{"translated id on the vision list", config.ImagesConfig{}, imageRequest("vision"), true},
		{"primary provider decides", config.ImagesConfig{}, imageRequest("text-only"), false},
		{"configured extra model", config.ImagesConfig{Models: []string{"my-vlm"}}, imageRequest("custom"), true},
		{"unconfigured custom model", config.ImagesConfig{}, imageRequest("custom"), false},
		{"assume all supported", config.ImagesConfig{AssumeAllSupported: true}, imageRequest("text-only"), true},
		{"unresolved model falls back to public id", config.ImagesConfig{}, imageRequest("orphan"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewImagePolicy(tt.cfg).Check(catalog, tt.req)
			if tt.allowed {
				if err != nil {
					t.Fatalf("expected allow, got %v", err)
				}
				return
			}
			var gwErr *core.GatewayError
			if !errors.As(err, &gwErr) {
				t.Fatalf("expected *core.GatewayError, got %v", err)
			}
			if gwErr.HTTPStatusCode() != http.StatusBadRequest {
				t.Errorf("image denial must be a 400, got %d", gwErr.HTTPStatusCode())
			}
		})
	}
}
