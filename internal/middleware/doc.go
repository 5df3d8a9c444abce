// Package middleware provides the HTTP middleware of avalimit.
//
//   - RateLimit: admission control backed by a ratelimit.Limiter
//   - Logging: structured access logging
//   - Recovery: panic recovery with stack trace logging
//   - RequestID: unique request identifier injection
//
// Middleware functions follow the standard Go pattern:
//
//	handler := middleware.Recovery(logger)(
//	    middleware.RequestID()(
//	        middleware.RateLimit(limiter, logger)(yourHandler),
//	    ),
//	)
package middleware
