// Package provider defines the uniform contract over external payment
// gateways and the shared plumbing every adapter builds on.
//
// Each gateway lives in its own subpackage (stripe, paypal, netopia,
// euplatesc, payu, klarna, revolut, noda, sms) and registers a constructor
// with the default registry from init. Callers obtain an adapter through
// the Factory using a tenant's active gateway configuration:
//
//	factory := provider.NewFactory()
//	p, err := factory.Make(cfg)
//	result, err := p.CreatePayment(ctx, req)
//
// Inbound webhooks are handed to the same adapter's ProcessCallback, which
// verifies authenticity before normalizing the payload into a
// CallbackResult. A callback whose signature cannot be verified must never
// be applied.
package provider
