package noda

import "github.com/andreiandoo/epas-sub028/provider"

// Register Noda with the processor registry
func init() {
	provider.Register("noda", NewProcessor)
}
