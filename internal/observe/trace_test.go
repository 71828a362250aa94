package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider globally for the
// duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	useTestTracer(t)
	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("correlation ID %q, want 32 hex chars", cid)
	}
}

func TestStage(t *testing.T) {
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)

	_, done := Stage(context.Background(), "llm.chat", m.LLMDuration)
	done(nil)
	_, done = Stage(context.Background(), "tts.synthesize", m.TTSDuration)
	done(errors.New("boom"))
	_, done = Stage(context.Background(), "untimed", nil)
	done(nil)

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("successful stage marked as error")
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "boom" {
		t.Errorf("failed stage status = %+v", spans[1].Status)
	}

	rm := collect(t, reader)
	for _, name := range []string{"aria.llm.duration", "aria.tts.duration"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist := met.Data.(metricdata.Histogram[float64])
		if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
			t.Errorf("%s: want one observation, got %+v", name, hist.DataPoints)
		}
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("plain")
	if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
		t.Errorf("log without span has trace_id: %s", buf.String())
	}

	buf.Reset()
	useTestTracer(t)
	ctx, span := StartSpan(context.Background(), "log-test")
	defer span.End()
	Logger(ctx).Info("traced")
	for _, want := range []string{"trace_id=", "span_id="} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Errorf("log output missing %s: %s", want, buf.String())
		}
	}
}
