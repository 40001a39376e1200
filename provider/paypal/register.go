package paypal

import "github.com/andreiandoo/epas-sub028/provider"

// Register PayPal with the processor registry
func init() {
	provider.Register("paypal", NewProcessor)
}
