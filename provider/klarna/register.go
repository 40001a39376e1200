package klarna

import "github.com/andreiandoo/epas-sub028/provider"

// Register Klarna with the processor registry
func init() {
	provider.Register("klarna", NewProcessor)
}
