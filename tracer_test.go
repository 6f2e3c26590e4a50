package guardpost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNoopTracer(t *testing.T) {
	tracer := &NoopTracer{}
	span := tracer.StartSpan("test_span")

	_, ok := span.(*NoopSpan)
	assert.True(t, ok)

	span.Finish()
	span.SetTag("tag", "value")
	span.LogFields("field1", "value1")
}

func TestOpenTelemetryTracer(t *testing.T) {
	tp := noop.NewTracerProvider()
	tracer := NewOpenTelemetryTracer(tp.Tracer("test"))

	span := tracer.StartSpan("test_span")

	_, ok := span.(*OpenTelemetrySpan)
	assert.True(t, ok)

	span.Finish()
	span.SetTag("tag", "value")
	span.LogFields("field1", "value1")
}
