// Package paygate is a multi-tenant payment gateway abstraction service.
//
// Each tenant stores credentials for one or more payment processors
// (Stripe, PayPal, Netopia, EuPlatesc, PayU, Klarna, Revolut, Noda, SMS
// relay) and exposes them through a uniform API: create a payment, receive
// and verify the gateway's webhook, query status, and refund. Gateway
// adapters live under provider/, register themselves by name, and are
// constructed per request from the tenant's stored configuration.
//
// The HTTP surface is assembled in router/ on top of chi; cmd/ holds the
// server entry point.
package paygate
