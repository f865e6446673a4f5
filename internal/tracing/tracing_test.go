package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewProviderTLSModes(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "insecure skip verify",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317", TLSInsecure: true},
		},
		{
			name:    "missing CA file",
			cfg:     Config{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: "/path/to/ca.crt"},
			wantErr: true,
		},
		{
			name: "plaintext",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317"},
		},
		{
			name:    "enabled without endpoint",
			cfg:     Config{Enabled: true},
			wantErr: true,
		},
	}

	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, p.IsEnabled())
			assert.NoError(t, p.Stop(context.Background()))
		})
	}
}

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())
	assert.NoError(t, p.Start(context.Background()))
	assert.NoError(t, p.Stop(context.Background()))
}

func TestSpanHelpersRecordErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	_, span := StartSpan(context.Background(), "route", attribute.String("team", "problems_team"))
	EndSpan(span, errors.New("llm unavailable"))

	_, ok := StartSpan(context.Background(), "tool")
	EndSpan(ok, nil)

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "route", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("team", "problems_team"))
	assert.Equal(t, codes.Unset, ended[1].Status().Code)
}
