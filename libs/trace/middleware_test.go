package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMiddlewareRecordsRouteSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware("library"))
	r.GET("/books/:id", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/books/42", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Name() != "GET /books/:id" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	if spans[0].Status().Code.String() != "Error" {
		t.Fatalf("expected error status for 500, got %s", spans[0].Status().Code)
	}
}

func TestSetupWithoutEndpointStillTraces(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{ServiceName: "notifier", Env: "test", SampleRatio: 1})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	_, span := Start(context.Background(), "notifier", "otp.deliver")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Fatal("expected sampled span at ratio 1")
	}
}

func TestSamplerZeroRatioDropsRoots(t *testing.T) {
	provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler(0)))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	_, span := provider.Tracer("library").Start(context.Background(), "promote")
	defer span.End()
	if span.SpanContext().IsSampled() {
		t.Fatal("expected unsampled root at ratio 0")
	}
}
