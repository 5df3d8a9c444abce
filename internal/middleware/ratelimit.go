package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vyrodovalexey/avalimit/internal/observability"
	"github.com/vyrodovalexey/avalimit/internal/ratelimit"
	"github.com/vyrodovalexey/avalimit/internal/util"
)

// errorResponse is the JSON body of every response the middleware writes
// itself.
type errorResponse struct {
	Detail     string `json:"detail"`
	Message    string `json:"message,omitempty"`
	RetryAfter *int64 `json:"retry_after,omitempty"`
}

// RateLimit returns a middleware that admits requests through limiter.
//
// Exempt paths pass untouched. Admitted requests get the X-RateLimit-*
// headers unless the decision was made without counting. Rejections get
// 429, or 503 when the Counter Store is down in fail-closed mode.
func RateLimit(limiter *ratelimit.Limiter, logger observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.IsExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// Check only fails on a configuration defect such as
			// ratelimit.ErrPolicyNotFound.
			result, err := limiter.Check(r)
			if err != nil {
				logger.WithContext(r.Context()).Error("rate limit evaluation failed",
					observability.String("path", r.URL.Path),
					observability.Error(err),
				)
				writeError(w, http.StatusInternalServerError, errorResponse{Detail: detailInternalError})
				return
			}

			switch {
			case result.Allowed:
				if result.Source != ratelimit.SourceBypass {
					setRateLimitHeaders(w.Header(), result)
				}
				next.ServeHTTP(w, r)

			case result.Source == ratelimit.SourceBypass:
				retryAfter := result.RetryAfter()
				logger.WithContext(r.Context()).Debug("request rejected while rate limiting is unavailable",
					observability.Error(util.WrapError(util.ErrLimiterOffline, "policy "+result.Policy)),
					observability.Int64("retry_after", retryAfter),
				)
				w.Header().Set(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))
				writeError(w, http.StatusServiceUnavailable, errorResponse{
					Detail:     detailUnavailable,
					Message:    messageUnavailable,
					RetryAfter: &retryAfter,
				})

			default:
				retryAfter := result.RetryAfter()
				logger.WithContext(r.Context()).Debug("request rate limited",
					observability.Error(util.NewRateLimitError(result.Policy, exceededLimit(result), retryAfter)),
				)
				setRateLimitHeaders(w.Header(), result)
				w.Header().Set(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))
				writeError(w, http.StatusTooManyRequests, errorResponse{
					Detail:     detailRateLimited,
					Message:    messageRateLimited,
					RetryAfter: &retryAfter,
				})
			}
		})
	}
}

// PassThrough returns a middleware that does nothing. It stands in for
// RateLimit when rate limiting is disabled.
func PassThrough() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

func setRateLimitHeaders(h http.Header, result ratelimit.Result) {
	h.Set(HeaderLimitMinute, strconv.FormatUint(result.MinuteLimit, 10))
	h.Set(HeaderRemainingMinute, strconv.FormatUint(result.RemainingMinute(), 10))
	h.Set(HeaderResetMinute, strconv.FormatInt(result.ResetMinute, 10))
	h.Set(HeaderLimitHour, strconv.FormatUint(result.HourLimit, 10))
	h.Set(HeaderRemainingHour, strconv.FormatUint(result.RemainingHour(), 10))
	h.Set(HeaderResetHour, strconv.FormatInt(result.ResetHour, 10))
}

// exceededLimit returns the threshold that caused a rejection.
func exceededLimit(result ratelimit.Result) uint64 {
	if result.MinuteCount > result.MinuteLimit {
		return result.MinuteLimit
	}
	return result.HourLimit
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
