package stripe

import "github.com/andreiandoo/epas-sub028/provider"

// Register Stripe with the processor registry
func init() {
	provider.Register("stripe", NewProcessor)
}
