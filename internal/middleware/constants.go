package middleware

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"
)

// Rate limit headers, set on every limited response.
const (
	HeaderLimitMinute     = "X-RateLimit-Limit-Minute"
	HeaderRemainingMinute = "X-RateLimit-Remaining-Minute"
	HeaderResetMinute     = "X-RateLimit-Reset-Minute"
	HeaderLimitHour       = "X-RateLimit-Limit-Hour"
	HeaderRemainingHour   = "X-RateLimit-Remaining-Hour"
	HeaderResetHour       = "X-RateLimit-Reset-Hour"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// Response detail and message strings.
const (
	detailRateLimited   = "Rate limit exceeded"
	messageRateLimited  = "Too many requests. Please try again later."
	detailUnavailable   = "Rate limiting unavailable"
	messageUnavailable  = "Rate limiting is temporarily unavailable. Please try again later."
	detailInternalError = "Internal server error"
)

// ErrInternalServerError is the body written after a recovered panic.
const ErrInternalServerError = `{"detail":"Internal server error"}`
