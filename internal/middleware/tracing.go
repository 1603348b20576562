package middleware

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Request headers recorded on spans as-is.
var safeHeaders = []string{
	"content-type",
	"content-length",
	"accept",
	"accept-encoding",
	"user-agent",
	RequestIDHeader,
}

// Request headers that carry credentials. They are recorded as [REDACTED]
// when redaction is on.
var sensitiveHeaders = []string{
	"authorization",
	"x-api-key",
	"cookie",
	"x-forwarded-for",
	"x-real-ip",
}

// TracingMiddleware starts a server span per request, named after the matched
// route template.
func TracingMiddleware(redactSensitive bool) func(http.Handler) http.Handler {
	tracer := otel.Tracer("envvault/http")
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			route := routeTemplate(r)
			ctx, span := tracer.Start(ctx, getSpanName(r.Method, route),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPMethod(r.Method),
					semconv.HTTPRoute(route),
					attribute.String("http.host", r.Host),
					attribute.String("http.remote_addr", remoteAddrAttr(r, redactSensitive)),
				),
			)
			defer span.End()

			// Paths embed sealed registration links and ids; only the
			// template is recorded under redaction.
			if redactSensitive {
				span.SetAttributes(semconv.HTTPTarget(route))
			} else {
				span.SetAttributes(semconv.HTTPTarget(r.URL.RequestURI()))
			}

			addHeadersToSpan(span, r.Header, redactSensitive)

			rw := wrapResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPStatusCode(rw.statusCode))
			if rw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// getSpanName names a span "METHOD /route/template".
func getSpanName(method, route string) string {
	if route == "" {
		return "HTTP " + method
	}
	return method + " " + route
}

func remoteAddrAttr(r *http.Request, redact bool) string {
	if redact {
		return r.RemoteAddr
	}
	return clientAddr(r)
}

func addHeadersToSpan(span trace.Span, headers http.Header, redactSensitive bool) {
	for _, header := range safeHeaders {
		if value := headers.Get(header); value != "" {
			span.SetAttributes(attribute.String("http.request.header."+strings.ToLower(header), value))
		}
	}

	for _, header := range sensitiveHeaders {
		value := headers.Get(header)
		if value == "" {
			continue
		}
		if redactSensitive {
			value = "[REDACTED]"
		}
		span.SetAttributes(attribute.String("http.request.header."+header, value))
	}
}
