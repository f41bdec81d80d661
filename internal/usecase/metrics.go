package usecase

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"shortnotes/internal/domain"
)

const instrumentationName = "shortnotes/internal/usecase"

type controllerMetrics struct {
	started  metric.Int64Counter
	finished metric.Int64Counter
	partials metric.Int64Counter
	commits  metric.Int64Counter
	duration metric.Float64Histogram
}

func newControllerMetrics() controllerMetrics {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	started, err := meter.Int64Counter("shortnotes.sessions.started",
		metric.WithDescription("Recording sessions that reached the recording state"))
	if err != nil {
		started, _ = fallback.Int64Counter("shortnotes.sessions.started")
	}
	finished, err := meter.Int64Counter("shortnotes.sessions.finished",
		metric.WithDescription("Recording sessions that returned to idle, by reason"))
	if err != nil {
		finished, _ = fallback.Int64Counter("shortnotes.sessions.finished")
	}
	partials, err := meter.Int64Counter("shortnotes.partials.applied",
		metric.WithDescription("Partial transcripts folded into a session transcript"))
	if err != nil {
		partials, _ = fallback.Int64Counter("shortnotes.partials.applied")
	}
	commits, err := meter.Int64Counter("shortnotes.silence.commits",
		metric.WithDescription("Silence boundaries that committed pending text"))
	if err != nil {
		commits, _ = fallback.Int64Counter("shortnotes.silence.commits")
	}
	duration, err := meter.Float64Histogram("shortnotes.session.duration",
		metric.WithDescription("Recording session duration"),
		metric.WithUnit("s"))
	if err != nil {
		duration, _ = fallback.Float64Histogram("shortnotes.session.duration")
	}

	return controllerMetrics{
		started:  started,
		finished: finished,
		partials: partials,
		commits:  commits,
		duration: duration,
	}
}

func (m controllerMetrics) sessionStarted(ctx context.Context, locale string) {
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("locale", locale)))
}

func (m controllerMetrics) partialApplied(ctx context.Context, committed bool) {
	m.partials.Add(ctx, 1)
	if committed {
		m.commits.Add(ctx, 1)
	}
}

func (m controllerMetrics) sessionFinished(ctx context.Context, result domain.SessionResult) {
	m.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(result.Reason))))
	m.duration.Record(ctx, result.Elapsed().Seconds())
}
