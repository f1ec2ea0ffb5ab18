// Package authcore is the authentication and session core of a
// multi-channel (email + telephone) identity service. It orchestrates
// password login, one-time-code verification over both channels,
// email/SMS two-factor gating, OAuth federation, and password reset,
// and it owns the access/refresh token lifecycle.
//
// The package is transport-light: flows take and return plain values,
// sessions are written as http-only cookies through [session.Manager],
// and everything that touches the outside world (the record store,
// email and SMS delivery, OAuth token exchange) is an injected
// interface. Build an [Engine] with [New]:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithStore(st).
//		WithMailer(mailer).
//		WithSMSVerifier(sms).
//		Build()
//
// See examples/http-minimal for a runnable wiring.
package authcore
