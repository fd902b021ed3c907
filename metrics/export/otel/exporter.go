package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/metrics/export/internaldefs"
	"github.com/MrEthical07/goAuthClient/state"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

const (
	authenticatedName = "goauthclient_session_authenticated"
	phaseName         = "goauthclient_session_phase"
)

var phases = []state.Phase{
	state.PhaseInit,
	state.PhaseNoSession,
	state.PhaseValidating,
	state.PhaseHydrated,
	state.PhaseFailed,
}

type metricsSource interface {
	MetricsSnapshot() goAuthClient.MetricsSnapshot
	EventsDropped() uint64
	State() state.State
}

type observedCounter struct {
	id         goAuthClient.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      goAuthClient.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter reports a client's metrics through observable instruments.
// Close unregisters the callback.
type OTelExporter struct {
	source        metricsSource
	registration  metric.Registration
	counters      []observedCounter
	histograms    []observedHistogram
	eventsDropped metric.Int64ObservableCounter
	authenticated metric.Int64ObservableGauge
	phase         metric.Int64ObservableGauge
	bucketLabels  []metric.ObserveOption
	phaseLabels   []metric.ObserveOption
}

func NewOTelExporter(meter metric.Meter, client *goAuthClient.Client) (*OTelExporter, error) {
	if client == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, client)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	for _, le := range internaldefs.HistogramUpperBounds {
		e.bucketLabels = append(e.bucketLabels, metric.WithAttributes(attribute.String("le", strconv.FormatFloat(le, 'g', -1, 64))))
	}
	e.bucketLabels = append(e.bucketLabels, metric.WithAttributes(attribute.String("le", "+Inf")))
	for _, p := range phases {
		e.phaseLabels = append(e.phaseLabels, metric.WithAttributes(attribute.String("phase", string(p))))
	}

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket", metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("create histogram buckets %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count %s: %w", def.Name, err)
		}
		e.histograms = append(e.histograms, observedHistogram{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	var err error
	if e.eventsDropped, err = meter.Int64ObservableCounter(internaldefs.EventsDroppedName, metric.WithDescription(internaldefs.EventsDroppedHelp)); err != nil {
		return nil, fmt.Errorf("create events dropped counter: %w", err)
	}
	if e.authenticated, err = meter.Int64ObservableGauge(authenticatedName, metric.WithDescription("1 while the session record is authenticated.")); err != nil {
		return nil, fmt.Errorf("create authenticated gauge: %w", err)
	}
	if e.phase, err = meter.Int64ObservableGauge(phaseName, metric.WithDescription("1 for the current bootstrap phase, 0 for the others.")); err != nil {
		return nil, fmt.Errorf("create phase gauge: %w", err)
	}
	observables = append(observables, e.eventsDropped, e.authenticated, e.phase)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, label := range e.bucketLabels {
			o.ObserveInt64(h.buckets, int64(cumulative[i]), label)
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.eventsDropped, int64(e.source.EventsDropped()))

	rec := e.source.State()
	o.ObserveInt64(e.authenticated, boolInt(rec.IsAuthenticated))
	for i, p := range phases {
		o.ObserveInt64(e.phase, boolInt(rec.Phase == p), e.phaseLabels[i])
	}
	return nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
