package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestMiddleware builds a Middleware backed by a manual metric reader and
// an in-memory span exporter so tests can inspect what was recorded.
func newTestMiddleware(t *testing.T) (func(http.Handler) http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return Middleware(m), reader, exp
}

func serve(mw func(http.Handler) http.Handler, inner http.HandlerFunc, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationIDAndSpan(t *testing.T) {
	mw, _, exp := newTestMiddleware(t)

	var gotCID string
	rec := serve(mw, func(w http.ResponseWriter, r *http.Request) {
		gotCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}, "/v1/sessions", nil)

	if len(gotCID) != 32 {
		t.Errorf("correlation ID = %q, want a 32-char trace ID", gotCID)
	}
	if hdr := rec.Header().Get("X-Correlation-ID"); hdr != gotCID {
		t.Errorf("X-Correlation-ID = %q, want %q", hdr, gotCID)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /v1/sessions" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}

func TestMiddleware_RecordsDurationWithAttributes(t *testing.T) {
	mw, reader, _ := newTestMiddleware(t)

	serve(mw, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, "/v1/sessions/abc/decide", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "questpilot.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatalf("metric data = %T with no points", met.Data)
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	var gotMethod, gotPath string
	for _, kv := range dp.Attributes.ToSlice() {
		switch string(kv.Key) {
		case "method":
			gotMethod = kv.Value.AsString()
		case "path":
			gotPath = kv.Value.AsString()
		}
	}
	if gotMethod != "GET" || gotPath != "/v1/sessions/abc/decide" {
		t.Errorf("attributes method=%q path=%q", gotMethod, gotPath)
	}
}

func TestMiddleware_SpanCarriesStatusCode(t *testing.T) {
	mw, _, exp := newTestMiddleware(t)

	rec := serve(mw, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, "/v1/sessions/missing", nil)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	var got int64
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			got = a.Value.AsInt64()
		}
	}
	if got != 404 {
		t.Errorf("span status code attribute = %d, want 404", got)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	mw, _, _ := newTestMiddleware(t)

	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"
	h := http.Header{}
	h.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")

	var gotCID string
	rec := serve(mw, func(w http.ResponseWriter, r *http.Request) {
		gotCID = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}, "/v1/sessions", h)

	if gotCID != upstream {
		t.Errorf("correlation ID = %q, want upstream trace %q", gotCID, upstream)
	}
	if hdr := rec.Header().Get("X-Correlation-ID"); hdr != upstream {
		t.Errorf("X-Correlation-ID = %q, want %q", hdr, upstream)
	}
}
