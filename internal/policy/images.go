package policy

import (
	"relaygate/config"
	"relaygate/internal/core"
)

// visionModels lists provider model ids known to accept image_url parts.
var visionModels = []string{
	"gpt-4o",
	"gpt-4o-2024-05-13",
	"gpt-4o-2024-08-06",
	"gpt-4o-2024-11-20",
	"gpt-4o-mini",
	"gpt-4o-mini-2024-07-18",
	"gpt-4-turbo",
	"gpt-4-turbo-2024-04-09",
	"gpt-4-vision-preview",
	"gpt-4-1106-vision-preview",
	"gpt-4.1",
	"gpt-4.1-mini",
	"gpt-4.1-nano",
	"claude-3-opus-20240229",
	"claude-3-sonnet-20240229",
	"claude-3-haiku-20240307",
	"claude-3-5-sonnet-20240620",
	"claude-3-5-sonnet-20241022",
	"gemini-1.5-pro",
	"gemini-1.5-flash",
	"gemini-2.0-flash",
	"grok-2-vision-1212",
	"llama-3.2-11b-vision-preview",
	"llama-3.2-90b-vision-preview",
}

// ImagePolicy rejects image content for models that cannot take it.
type ImagePolicy struct {
	assumeAll bool
	models    map[string]struct{}
}

// NewImagePolicy combines the built-in vision list with images.models.
func NewImagePolicy(cfg config.ImagesConfig) *ImagePolicy {
	p := &ImagePolicy{
		assumeAll: cfg.AssumeAllSupported,
		models:    make(map[string]struct{}, len(visionModels)+len(cfg.Models)),
	}
	for _, id := range visionModels {
		p.models[id] = struct{}{}
	}
	for _, id := range cfg.Models {
		p.models[id] = struct{}{}
	}
	return p
}

// Supports reports whether the provider-specific model id accepts images.
func (p *ImagePolicy) Supports(providerModelID string) bool {
	if p.assumeAll {
		return true
	}
	_, ok := p.models[providerModelID]
	return ok
}

// Check denies requests carrying image_url parts when the model cannot take
// them. The model is judged by the id its primary provider knows it as.
func (p *ImagePolicy) Check(catalog core.Catalog, req *core.ChatRequest) error {
	if !req.HasImageContent() {
		return nil
	}
	id := req.Model
	if candidates := catalog.ResolveProviders(req.Model); len(candidates) > 0 {
		id = catalog.TranslateModelID(candidates[0], req.Model)
	}
	if p.Supports(id) {
		return nil
	}
	return core.NewImageUnsupportedError(req.Model)
}
