package guardpost

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/guardpost/go-guardpost/authenticator"
	"github.com/guardpost/go-guardpost/csrf"
	"github.com/guardpost/go-guardpost/ratelimit"
	"github.com/guardpost/go-guardpost/schema"
)

// Endpoint wraps HTTP handlers in a fixed, ordered defense-in-depth
// pipeline: security headers, body-size limit, CORS, rate limiting, API-key
// check, authentication, CSRF, input validation, custom validation. Each
// configured check short-circuits on first failure with a uniform JSON
// error envelope; the check order never varies regardless of which checks a
// route opts into.
type Endpoint struct {
	authn        *authenticator.Authenticator
	authLevel    authenticator.Level
	allowedRoles []string

	apiKeys      []string
	apiKeyHeader string

	limiter ratelimit.Limiter

	inputSchema schema.Schema

	corsAllowedOrigins []string

	csrfStore *csrf.Store

	maxRequestBytes int64

	customValidation func(r *http.Request) error

	headers  HeaderOptions
	devMode  bool
	clientIP ClientIPExtractor
	logger   Logger
	metrics  Metrics
	tracer   Tracer
	now      func() time.Time
	newReqID func() string

	stages []Stage
}

// New constructs an Endpoint from the supplied options. Defaults are
// permissive where a check is not configured: an Endpoint built with no
// options only attaches security headers and a request ID.
func New(opts ...Option) (*Endpoint, error) {
	e := &Endpoint{
		apiKeyHeader: DefaultAPIKeyHeader,
		headers:      DefaultHeaderOptions(),
		clientIP:     ForwardedClientIP,
		logger:       &DefaultLogger{},
		metrics:      &NoopMetrics{},
		tracer:       &NoopTracer{},
		now:          time.Now,
		newReqID:     uuid.NewString,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	if err := e.validate(); err != nil {
		return nil, fmt.Errorf("invalid endpoint configuration: %w", err)
	}

	e.stages = e.buildStages()
	return e, nil
}

func (e *Endpoint) validate() error {
	if e.authLevel > authenticator.LevelNone && e.authn == nil {
		return fmt.Errorf("auth level %q requires an authenticator (use WithAuthenticator)", e.authLevel)
	}
	if len(e.allowedRoles) > 0 && e.authn == nil {
		return fmt.Errorf("allowed roles require an authenticator (use WithAuthenticator)")
	}
	return nil
}

// Secure wraps next in the pipeline. Every response, including rejections,
// carries the baseline security headers, X-Request-ID and X-Response-Time;
// the handler's own headers survive unless the pipeline set the same key.
func (e *Endpoint) Secure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := e.now()

		span := e.tracer.StartSpan("guardpost.secure")
		defer span.Finish()
		span.SetTag("http.method", r.Method)
		span.SetTag("http.path", r.URL.Path)

		sc, pipeline := e.begin(w, r)

		for _, stage := range e.stages {
			rej := stage.Run(r, sc, pipeline)
			if rej == nil {
				continue
			}
			span.SetTag("guardpost.rejected_stage", stage.Name)
			e.writeRejection(w, r, sc, stage.Name, rej, pipeline, start)
			return
		}

		buf := newResponseBuffer()
		r = r.WithContext(NewContext(r.Context(), sc))

		panicked := e.invoke(next, buf, r, sc)
		if panicked != nil {
			e.metrics.IncCounter("guardpost_handler_panics_total", map[string]string{"path": r.URL.Path})
			rej := Reject(http.StatusInternalServerError, "Internal server error")
			if e.devMode {
				rej = rej.WithDetails(map[string]any{"error": fmt.Sprint(panicked)})
			}
			e.writeRejection(w, r, sc, "handler", rej, pipeline, start)
			return
		}

		pipeline.Set(HeaderResponseTime, responseTime(e.now().Sub(start)))
		buf.flush(w, pipeline)

		e.metrics.ObserveHistogram("guardpost_pipeline_duration_seconds",
			e.now().Sub(start).Seconds(), map[string]string{"path": r.URL.Path})
	})
}

// Check runs the pipeline checks without invoking a handler. On rejection
// the response is fully written and ok is false. On success the pipeline
// headers are applied to w directly, and the returned request carries the
// security context; the caller writes the response itself. Intended for
// framework adapters that manage their own response lifecycle.
func (e *Endpoint) Check(w http.ResponseWriter, r *http.Request) (checked *http.Request, ok bool) {
	start := e.now()

	span := e.tracer.StartSpan("guardpost.check")
	defer span.Finish()
	span.SetTag("http.method", r.Method)
	span.SetTag("http.path", r.URL.Path)

	sc, pipeline := e.begin(w, r)

	for _, stage := range e.stages {
		rej := stage.Run(r, sc, pipeline)
		if rej == nil {
			continue
		}
		span.SetTag("guardpost.rejected_stage", stage.Name)
		e.writeRejection(w, r, sc, stage.Name, rej, pipeline, start)
		return nil, false
	}

	for key, values := range pipeline {
		w.Header()[key] = values
	}
	w.Header().Set(HeaderResponseTime, responseTime(e.now().Sub(start)))

	return r.WithContext(NewContext(r.Context(), sc)), true
}

// begin builds the security context and the pipeline header set, and wraps
// the body in the streamed size cap. The declared Content-Length is checked
// separately by the size stage so a misreported length still cannot stream
// past the limit.
func (e *Endpoint) begin(w http.ResponseWriter, r *http.Request) (*SecurityContext, http.Header) {
	sc := &SecurityContext{
		RequestID: e.newReqID(),
		ClientIP:  e.clientIP(r),
	}

	pipeline := http.Header{}
	e.headers.apply(pipeline)
	pipeline.Set(HeaderRequestID, sc.RequestID)

	if e.maxRequestBytes > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, e.maxRequestBytes)
	}

	return sc, pipeline
}

// invoke runs the handler, containing panics. The returned value is the
// recovered panic, or nil when the handler completed. Handler output is
// buffered so a mid-write panic never leaks a partial body.
func (e *Endpoint) invoke(next http.Handler, buf *responseBuffer, r *http.Request, sc *SecurityContext) (panicked any) {
	defer func() {
		if rec := recover(); rec != nil {
			panicked = rec
			// Message only. The raw error object could carry
			// secrets or stack detail that has no place in logs.
			e.logger.Errorf("handler panic method=%s path=%s message=%v request_id=%s",
				r.Method, r.URL.Path, rec, sc.RequestID)
		}
	}()
	next.ServeHTTP(buf, r)
	return nil
}

func (e *Endpoint) writeRejection(w http.ResponseWriter, r *http.Request, sc *SecurityContext, stage string, rej *Rejection, pipeline http.Header, start time.Time) {
	for key, values := range pipeline {
		w.Header()[key] = values
	}
	for key, values := range rej.Header {
		w.Header()[key] = values
	}
	w.Header().Set(HeaderResponseTime, responseTime(e.now().Sub(start)))

	if rej.Status < http.StatusBadRequest {
		// Not an error, a completed pipeline response (CORS preflight).
		w.WriteHeader(rej.Status)
		return
	}

	e.logger.Warnf("request rejected stage=%s status=%d method=%s path=%s request_id=%s",
		stage, rej.Status, r.Method, r.URL.Path, sc.RequestID)
	e.metrics.IncCounter("guardpost_rejections_total",
		map[string]string{"stage": stage, "status": fmt.Sprint(rej.Status)})

	writeEnvelope(w, rej.Status, rej.Message, rej.Details, e.now())
}

func responseTime(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
