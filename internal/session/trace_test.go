package session

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mattjoyce/voicecmd/internal/dispatch"
	"github.com/mattjoyce/voicecmd/internal/intent"
)

func spanAttr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestSessionSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	out, _ := newSink(gomock.NewController(t))
	c := newController(t, nil, testConfig(), WithTracer(tp.Tracer("test")))

	_, err := c.Run(context.Background(), intent.Invocation{CommandName: "openBible", SessionID: "traced"}, out)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "session openBible", spans[0].Name())
	assert.Equal(t, "traced", spanAttr(spans[0], "voicecmd.session_id").AsString())
	assert.Equal(t, "completed", spanAttr(spans[0], "voicecmd.state").AsString())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestFailedSessionSpanStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	out, _ := newSink(gomock.NewController(t))
	h := dispatch.Func(func(context.Context, *intent.Call) (intent.Outcome, error) {
		panic("broken handler")
	})
	c := newController(t, registryWith(t, "x", h), testConfig(), WithTracer(tp.Tracer("test")))

	_, err := c.Run(context.Background(), intent.Invocation{CommandName: "x"}, out)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, string(CodeHandlerFault), spans[0].Status().Description)
}
