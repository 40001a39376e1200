package sms

import "github.com/andreiandoo/epas-sub028/provider"

// Register the SMS relay with the processor registry
func init() {
	provider.Register("sms", NewProcessor)
}
