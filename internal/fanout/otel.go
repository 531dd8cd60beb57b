package fanout

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fleetline/engine/internal/fanout"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
