package adapter_test

import (
	"testing"
	"time"

	"github.com/ajitpratap0/strata/pkg/adapter"
	"github.com/ajitpratap0/strata/pkg/persistence"
	"github.com/ajitpratap0/strata/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

// eventsOf waits for the named span to end and returns its event names.
func eventsOf(t *testing.T, recorder *tracetest.SpanRecorder, name string) []string {
	t.Helper()
	var span sdktrace.ReadOnlySpan
	testutil.AssertEventually(t, func() bool {
		for _, s := range recorder.Ended() {
			if s.Name() == name {
				span = s
				return true
			}
		}
		return false
	}, time.Second, name+" never ended")

	var names []string
	for _, e := range span.Events() {
		names = append(names, e.Name)
	}
	return names
}

func TestCacheEventsOnSpans(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, a *adapter.Adapter[model, model], d *stubDriver)
		span string
		want string
	}{
		{
			name: "backfill",
			run: func(t *testing.T, a *adapter.Adapter[model, model], d *stubDriver) {
				ctx, _ := testutil.TestContext(t)
				_, _, err := a.Fetch(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultFetchOptions())
				require.NoError(t, err)
			},
			span: "adapter.retrieve",
			want: "cache.backfill",
		},
		{
			name: "partial read",
			run: func(t *testing.T, a *adapter.Adapter[model, model], d *stubDriver) {
				ctx, _ := testutil.TestContext(t)
				opts := persistence.DefaultFetchOptions().WithMask(persistence.MaskProjection, "name")
				_, _, err := a.Fetch(ctx, d.f.NewPersonKey("p-1"), opts)
				require.NoError(t, err)
			},
			span: "adapter.retrieve",
			want: "cache.backfill_skipped",
		},
		{
			name: "evict",
			run: func(t *testing.T, a *adapter.Adapter[model, model], d *stubDriver) {
				ctx, _ := testutil.TestContext(t)
				_, err := a.Delete(ctx, d.f.NewPersonKey("p-1"), persistence.DefaultDeleteOptions())
				require.NoError(t, err)
			},
			span: "adapter.delete",
			want: "cache.evict",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := recordSpans(t)
			d := newStubDriver(t)
			a := adapter.New[model, model](d, newScriptedCache(t, d))
			seed(t, d, "p-1", "Ada")

			tt.run(t, a, d)
			assert.Contains(t, eventsOf(t, recorder, tt.span), tt.want)
		})
	}
}
