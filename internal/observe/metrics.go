// Package observe provides the playback engine's observability primitives:
// OpenTelemetry metric instruments and a Prometheus exporter bridge so an
// installation can be watched remotely over /metrics.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all engine metrics.
const meterName = "github.com/Last-Voices-Collective/lastvoices"

// Metrics holds the engine's metric instruments. All fields are safe for
// concurrent use; the underlying OTel types handle their own synchronisation.
type Metrics struct {
	// SessionsStarted counts playback sessions that began streaming audio.
	// Attribute: language.
	SessionsStarted metric.Int64Counter

	// SessionsCompleted counts sessions that finished, by outcome. Attribute:
	// reason ∈ {completed, faded, preempted, underrun, io_error, device_error}.
	SessionsCompleted metric.Int64Counter

	// OverlapDecisions counts overlap resolutions. Attribute:
	// decision ∈ {start, abort, start_after_fade}.
	OverlapDecisions metric.Int64Counter

	// Preemptions counts sessions cancelled while queued behind a fade.
	Preemptions metric.Int64Counter

	// Underruns counts realtime callbacks that found the feed queue empty.
	Underruns metric.Int64Counter

	// FallbackPlays counts random clips triggered by the idle timer.
	FallbackPlays metric.Int64Counter

	// ActiveSessions tracks sessions currently alive (streaming or fading).
	ActiveSessions metric.Int64UpDownCounter
}

// NewMetrics creates a fully initialised Metrics using the given provider.
// Tests should pass a private provider to avoid cross-test pollution.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.SessionsStarted, err = m.Int64Counter("lastvoices.sessions.started",
		metric.WithDescription("Playback sessions that began streaming audio."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCompleted, err = m.Int64Counter("lastvoices.sessions.completed",
		metric.WithDescription("Playback sessions that finished, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.OverlapDecisions, err = m.Int64Counter("lastvoices.overlap.decisions",
		metric.WithDescription("Overlap arbitration decisions."),
	); err != nil {
		return nil, err
	}
	if met.Preemptions, err = m.Int64Counter("lastvoices.overlap.preemptions",
		metric.WithDescription("Sessions cancelled while queued behind a fade."),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("lastvoices.stream.underruns",
		metric.WithDescription("Realtime callbacks that found the feed queue empty."),
	); err != nil {
		return nil, err
	}
	if met.FallbackPlays, err = m.Int64Counter("lastvoices.fallback.plays",
		metric.WithDescription("Random clips triggered by the idle timer."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lastvoices.sessions.active",
		metric.WithDescription("Sessions currently alive."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide Metrics built on the global meter
// provider. Instrument creation errors are impossible with valid names, so
// they are swallowed here; tests use NewMetrics directly.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// The engine records events through the nil-safe helpers below, so a missing
// Metrics (or a failed instrument) degrades to no-op rather than a panic.

func (m *Metrics) RecordStarted(ctx context.Context, language string) {
	if m == nil || m.SessionsStarted == nil {
		return
	}
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("language", language)))
}

// RecordCompletion covers every session exit path.
func (m *Metrics) RecordCompletion(ctx context.Context, language, reason string) {
	if m == nil || m.SessionsCompleted == nil {
		return
	}
	m.SessionsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) RecordDecision(ctx context.Context, decision string) {
	if m == nil || m.OverlapDecisions == nil {
		return
	}
	m.OverlapDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

func (m *Metrics) RecordPreemption(ctx context.Context) {
	if m == nil || m.Preemptions == nil {
		return
	}
	m.Preemptions.Add(ctx, 1)
}

func (m *Metrics) RecordUnderrun(ctx context.Context) {
	if m == nil || m.Underruns == nil {
		return
	}
	m.Underruns.Add(ctx, 1)
}

func (m *Metrics) RecordFallback(ctx context.Context) {
	if m == nil || m.FallbackPlays == nil {
		return
	}
	m.FallbackPlays.Add(ctx, 1)
}

func (m *Metrics) SessionUp(ctx context.Context) {
	if m == nil || m.ActiveSessions == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionDown(ctx context.Context) {
	if m == nil || m.ActiveSessions == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
