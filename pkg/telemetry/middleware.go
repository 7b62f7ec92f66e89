package telemetry

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jaennil/guide_helper/backend/isochrone"

// untraced paths are polled by infrastructure, not by map clients.
var untraced = map[string]bool{
	"/api/v1/healthz": true,
	"/metrics":        true,
}

// GinMiddleware starts a server span per request. Tile requests carry the
// tile coordinates and whether the cache answered. Only 5xx replies mark
// the span as failed, and a 204 reply marks a request that was cancelled
// or superseded.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)

	return func(c *gin.Context) {
		if untraced[c.Request.URL.Path] {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(c.Request.Method),
				semconv.HTTPRoute(route),
				semconv.URLPath(c.Request.URL.Path),
				semconv.ClientAddress(c.ClientIP()),
			),
		)
		defer span.End()

		span.SetAttributes(tileAttributes(c)...)

		c.Request = c.Request.WithContext(ctx)
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPResponseStatusCode(status),
			attribute.Int("http.response.size", c.Writer.Size()),
		)
		if src := c.Writer.Header().Get("X-Tile-Source"); src != "" {
			span.SetAttributes(attribute.String("tile.source", src))
		}

		switch {
		case status >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, c.Errors.String())
			if err := c.Errors.Last(); err != nil {
				span.RecordError(err)
			}
		case status == http.StatusNoContent && c.Request.Method != http.MethodDelete:
			span.SetAttributes(attribute.Bool("request.cancelled", true))
		}
	}
}

func tileAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, p := range []string{"z", "x", "y"} {
		v, err := strconv.Atoi(c.Param(p))
		if err != nil {
			return nil
		}
		attrs = append(attrs, attribute.Int("tile."+p, v))
	}
	return attrs
}
