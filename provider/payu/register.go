package payu

import "github.com/andreiandoo/epas-sub028/provider"

// Register PayU with the processor registry
func init() {
	provider.Register("payu", NewProcessor)
}
