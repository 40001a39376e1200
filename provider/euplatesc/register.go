package euplatesc

import "github.com/andreiandoo/epas-sub028/provider"

// Register EuPlatesc with the processor registry
func init() {
	provider.Register("euplatesc", NewProcessor)
}
