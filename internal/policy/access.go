// Package policy decides whether a caller may use a model with the content
// it sent, before any upstream call is made.
package policy

import "relaygate/internal/core"

// PremiumRequiredReason is the denial reason for premium models.
const PremiumRequiredReason = "premium access required"

// Authorize allows the request unless the model is premium and the caller is
// absent or not premium. A denial is a *core.GatewayError mapping to 403.
func Authorize(model core.Model, caller *core.CallerIdentity) error {
	if !model.Premium {
		return nil
	}
	if caller == nil || !caller.Premium {
		return core.NewPolicyError(PremiumRequiredReason)
	}
	return nil
}
