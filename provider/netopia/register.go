package netopia

import "github.com/andreiandoo/epas-sub028/provider"

// Register Netopia with the processor registry
func init() {
	provider.Register("netopia", NewProcessor)
}
