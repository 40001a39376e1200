package revolut

import "github.com/andreiandoo/epas-sub028/provider"

// Register Revolut with the processor registry
func init() {
	provider.Register("revolut", NewProcessor)
}
