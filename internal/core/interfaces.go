// Package core defines the core interfaces and types for the gateway.
package core

// Catalog is the read-only view of the model and provider tables that a
// single request works against. Implementations must not change underneath a
// caller once handed out.
type Catalog interface {
	// LookupModel returns the model entry, or an error wrapping a not-found
	// sentinel when the id is not in the table.
	LookupModel(id string) (Model, error)

	// ResolveProviders returns every provider serving modelID in table order.
	// The first element is the primary provider.
	ResolveProviders(modelID string) []Provider

	// TranslateModelID returns the provider-specific id for modelID.
	TranslateModelID(provider Provider, modelID string) string

	// Credential returns the secret configured for the named provider.
	Credential(provider string) (string, bool)

	// ListModels returns all models sorted by id.
	ListModels() []Model
}
