package guardpost

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/guardpost/go-guardpost/authenticator"
	"github.com/guardpost/go-guardpost/csrf"
)

// Stage is one ordered pipeline check. Run returns nil to pass through or a
// Rejection that stops the pipeline; headers written to the pipeline header
// set appear on the response whether or not a later stage rejects.
type Stage struct {
	Name string
	Run  func(r *http.Request, sc *SecurityContext, pipeline http.Header) *Rejection
}

// buildStages assembles the fixed check order. Unconfigured checks are
// omitted but the relative order of the rest never changes: size before
// rate limiting before API key before auth before CSRF before input
// validation before custom validation, so the cheapest checks fail first
// and an unauthenticated flood cannot bypass throttling.
func (e *Endpoint) buildStages() []Stage {
	stages := make([]Stage, 0, 8)

	if e.maxRequestBytes > 0 {
		stages = append(stages, e.sizeStage())
	}
	if len(e.corsAllowedOrigins) > 0 {
		stages = append(stages, e.corsStage())
	}
	if e.limiter != nil {
		stages = append(stages, e.rateLimitStage())
	}
	if len(e.apiKeys) > 0 {
		stages = append(stages, e.apiKeyStage())
	}
	if e.authn != nil {
		stages = append(stages, e.authStage())
	}
	if e.csrfStore != nil {
		stages = append(stages, e.csrfStage())
	}
	if e.inputSchema != nil {
		stages = append(stages, e.schemaStage())
	}
	if e.customValidation != nil {
		stages = append(stages, e.customStage())
	}

	return stages
}

// sizeStage rejects on the declared Content-Length before anything reads
// the body. The MaxBytesReader wrap in Secure backstops clients that lie.
func (e *Endpoint) sizeStage() Stage {
	return Stage{
		Name: "size",
		Run: func(r *http.Request, _ *SecurityContext, _ http.Header) *Rejection {
			if r.ContentLength > e.maxRequestBytes {
				return Reject(http.StatusRequestEntityTooLarge, "Request body too large").
					WithDetails(map[string]any{
						"maxBytes":      e.maxRequestBytes,
						"receivedBytes": r.ContentLength,
					})
			}
			return nil
		},
	}
}

func (e *Endpoint) corsStage() Stage {
	return Stage{
		Name: "cors",
		Run: func(r *http.Request, _ *SecurityContext, pipeline http.Header) *Rejection {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(e.corsAllowedOrigins, origin) {
				pipeline.Set("Access-Control-Allow-Origin", origin)
				pipeline.Set("Access-Control-Allow-Credentials", "true")
				pipeline.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				return (&Rejection{Status: http.StatusNoContent, Header: http.Header{}}).
					WithHeader("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS").
					WithHeader("Access-Control-Allow-Headers", "Content-Type, Authorization, "+e.apiKeyHeader+", "+csrf.HeaderName)
			}
			return nil
		},
	}
}

func (e *Endpoint) rateLimitStage() Stage {
	return Stage{
		Name: "ratelimit",
		Run: func(r *http.Request, _ *SecurityContext, pipeline http.Header) *Rejection {
			decision := e.limiter.Evaluate(r)

			pipeline.Set(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
			pipeline.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
			pipeline.Set(HeaderRateLimitReset, strconv.FormatInt(decision.ResetTime.Unix(), 10))

			if decision.Allowed {
				return nil
			}

			retryAfter := int(decision.ResetTime.Sub(e.now()).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			return Reject(http.StatusTooManyRequests, "Rate limit exceeded").
				WithDetails(map[string]any{"retryAfterSeconds": retryAfter}).
				WithHeader("Retry-After", strconv.Itoa(retryAfter))
		},
	}
}

func (e *Endpoint) apiKeyStage() Stage {
	return Stage{
		Name: "apikey",
		Run: func(r *http.Request, sc *SecurityContext, _ http.Header) *Rejection {
			key := r.Header.Get(e.apiKeyHeader)
			if key == "" {
				return Reject(http.StatusUnauthorized, "API key required")
			}
			if !matchAPIKey(e.apiKeys, key) {
				// Log a short prefix only, for anomaly tracking.
				// The full key never reaches logs or responses.
				e.logger.Warnf("invalid api key prefix=%s request_id=%s", keyPrefix(key), sc.RequestID)
				return Reject(http.StatusUnauthorized, "Invalid API key")
			}
			sc.APIKeyUsed = key
			return nil
		},
	}
}

func (e *Endpoint) authStage() Stage {
	return Stage{
		Name: "auth",
		Run: func(r *http.Request, sc *SecurityContext, _ http.Header) *Rejection {
			result := e.authn.Authenticate(r.Context(), r.Header.Get("Authorization"), e.authLevel, e.allowedRoles...)

			if result.Err == nil {
				sc.User = result.User
				return nil
			}

			// Keep the identity in the log line even on a denial, so
			// a known user probing a forbidden route is auditable.
			subject := "unknown"
			if result.User != nil {
				subject = result.User.SubjectID
			}
			e.logger.Warnf("authentication denied subject=%s reason=%s request_id=%s",
				subject, result.Reason(), sc.RequestID)

			if authenticator.IsAuthorizationError(result.Err) {
				return Reject(http.StatusForbidden, "Insufficient role").
					WithDetails(map[string]any{"reason": result.Reason()})
			}

			message := "Invalid or expired token"
			if errors.Is(result.Err, authenticator.ErrMissingHeader) {
				message = "Authentication required"
			}
			return Reject(http.StatusUnauthorized, message).
				WithDetails(map[string]any{"reason": result.Reason()}).
				WithHeader("WWW-Authenticate", "Bearer")
		},
	}
}

// csrfStage gates state-mutating methods on the session's live anti-forgery
// token. The session key falls back from authenticated subject to client IP
// to "anonymous", so the auth stage must run first when both are enabled.
func (e *Endpoint) csrfStage() Stage {
	return Stage{
		Name: "csrf",
		Run: func(r *http.Request, sc *SecurityContext, _ http.Header) *Rejection {
			if !isMutating(r.Method) {
				return nil
			}
			if !e.csrfStore.Verify(e.sessionKey(sc), r.Header.Get(csrf.HeaderName)) {
				return Reject(http.StatusForbidden, "Invalid or expired CSRF token")
			}
			return nil
		},
	}
}

func (e *Endpoint) sessionKey(sc *SecurityContext) string {
	if sc.User != nil && sc.User.SubjectID != "" {
		return sc.User.SubjectID
	}
	if sc.ClientIP != "" {
		return sc.ClientIP
	}
	return "anonymous"
}

func (e *Endpoint) schemaStage() Stage {
	return Stage{
		Name: "schema",
		Run: func(r *http.Request, sc *SecurityContext, _ http.Header) *Rejection {
			if !methodHasBody(r.Method) {
				return nil
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					return Reject(http.StatusRequestEntityTooLarge, "Request body too large").
						WithDetails(map[string]any{"maxBytes": tooLarge.Limit})
				}
				return Reject(http.StatusBadRequest, "Could not read request body")
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			result := e.inputSchema.Parse(body)
			if !result.Valid() {
				return Reject(http.StatusBadRequest, "Validation failed").
					WithDetails(map[string]any{"errors": result.Errors})
			}

			sc.ValidatedBody = result.Value
			return nil
		},
	}
}

func (e *Endpoint) customStage() Stage {
	return Stage{
		Name: "custom",
		Run: func(r *http.Request, _ *SecurityContext, _ http.Header) *Rejection {
			if err := e.customValidation(r); err != nil {
				return Reject(http.StatusBadRequest, err.Error())
			}
			return nil
		},
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, entry := range allowed {
		if strings.EqualFold(entry, origin) {
			return true
		}
	}
	return false
}

// matchAPIKey compares the candidate against every configured key by
// SHA-256 digest, so comparison cost does not depend on where the inputs
// diverge or on key length, and the full set is always scanned.
func matchAPIKey(valid []string, candidate string) bool {
	candidateSum := sha256.Sum256([]byte(candidate))
	matched := false
	for _, key := range valid {
		keySum := sha256.Sum256([]byte(key))
		if subtle.ConstantTimeCompare(keySum[:], candidateSum[:]) == 1 {
			matched = true
		}
	}
	return matched
}

func keyPrefix(key string) string {
	const visible = 8
	if len(key) <= visible {
		return key
	}
	return key[:visible] + "..."
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
