// ABOUTME: Admin API request payloads
// ABOUTME: Input types decoded from admin surface requests

package models

// RefreshRequest is the optional body of POST /admin/token/refresh.
type RefreshRequest struct {
	// Propagate controls pushing the refreshed pair to external config
	// stores. Defaults to true when the body is omitted.
	Propagate *bool `json:"propagate,omitempty"`
	// Redeploy asks the external platform to redeploy the service after
	// propagation, so sibling processes pick up the new variables.
	Redeploy bool `json:"redeploy,omitempty"`
}

// ShouldPropagate resolves the propagation flag, defaulting to true when
// the request omitted it.
func (r RefreshRequest) ShouldPropagate() bool {
	if r.Propagate == nil {
		return true
	}
	return *r.Propagate
}

// ExchangeRequest is the body of POST /admin/oauth/exchange.
type ExchangeRequest struct {
	Code string `json:"code"`
}
