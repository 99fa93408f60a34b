// Package middleware provides HTTP middleware components for the geosuggest server.
//
// Available middleware:
//   - RequestID: assigns or propagates an X-Request-ID and stores it in the context
//   - ClientID: resolves the client address used for admission control
//   - Recovery: turns handler panics into a sanitized 500
//   - CORS: answers preflight requests and sets allow headers
//   - Logging: one access log line per request
//
// Usage:
//
//	handler = middleware.Chain(mux,
//		middleware.RequestID,
//		middleware.ClientID(cfg.TrustProxy),
//		middleware.Recovery(log),
//		middleware.Logging(log),
//	)
package middleware
