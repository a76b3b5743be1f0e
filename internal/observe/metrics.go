package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/agalue/voice-companion/internal/fault"
)

const meterName = "github.com/agalue/voice-companion"

// Pipeline stages recorded by RecordStage.
const (
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
	StagePlayback   = "playback"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// Metrics holds the turn-taking instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	StageDuration  metric.Float64Histogram
	Cycles         metric.Int64Counter
	BargeIns       metric.Int64Counter
	ProviderErrors metric.Int64Counter
}

// NewMetrics creates the instruments on mp. A nil mp uses a no-op provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	m := mp.Meter(meterName)
	var (
		met Metrics
		err error
	)
	if met.StageDuration, err = m.Float64Histogram("companion.stage.duration",
		metric.WithDescription("Latency of a pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Cycles, err = m.Int64Counter("companion.cycles",
		metric.WithDescription("Conversation cycles by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("companion.barge_ins",
		metric.WithDescription("Cycles interrupted by the user."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("companion.provider.errors",
		metric.WithDescription("Failed backend calls by stage and kind."),
	); err != nil {
		return nil, err
	}
	return &met, nil
}

// RecordStage records how long a stage took. Failures other than
// cancellation also count as provider errors.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
	if fault.Visible(err) {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("kind", fault.KindOf(err).String()),
		))
	}
}

// RecordCycle counts a finished cycle.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBargeIn counts an interruption.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	if m == nil {
		return
	}
	m.BargeIns.Add(ctx, 1)
}
