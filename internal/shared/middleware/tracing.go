package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	routeMeter       = otel.Meter("tradstry/http")
	routeDuration, _ = routeMeter.Float64Histogram("tradstry.http.route.duration",
		metric.WithDescription("Request duration per matched route"),
		metric.WithUnit("s"),
	)
	routeResponses, _ = routeMeter.Int64Counter("tradstry.http.route.responses",
		metric.WithDescription("Responses per matched route and status class"),
	)
)

// Tracing names the active server span after the matched mux pattern and
// records per-route metrics. It must wrap the ServeMux directly, because the
// mux sets Request.Pattern on the request it is handed.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := wrapped.Status()
		if status == 0 {
			status = http.StatusOK
		}

		span := trace.SpanFromContext(r.Context())
		span.SetName(r.Method + " " + route)
		span.SetAttributes(attribute.String("http.route", route))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		ctx := r.Context()
		routeDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
		))
		routeResponses.Add(ctx, 1, metric.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.status_class", statusClass(status)),
		))
	})
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
