package observability

import (
	"github.com/smallbiznis/sousou/internal/observability/logger"
	"github.com/smallbiznis/sousou/internal/observability/metrics"
	"github.com/smallbiznis/sousou/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		logger.New,
		metrics.New,
		tracing.NewProvider,
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}
