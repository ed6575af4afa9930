// Package usage records validation telemetry: one event per validated
// candidate, fanned out to the configured sinks.
package usage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"defgen/internal/config"
	"defgen/internal/logging"
)

// Sink receives validation events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// Recorder fans events out to its sinks. It always carries a Tracker so
// callers can read aggregate stats whatever sinks are configured.
type Recorder struct {
	tracker *Tracker
	sinks   []Sink
}

// NewRecorder wraps the given sinks. A nil tracker gets an in-memory one.
func NewRecorder(tracker *Tracker, sinks ...Sink) *Recorder {
	if tracker == nil {
		tracker, _ = NewTracker("")
	}
	return &Recorder{tracker: tracker, sinks: sinks}
}

// Open builds a recorder from configuration. Metrics go to reg; a nil reg
// uses the default prometheus registerer.
func Open(cfg config.TelemetryConfig, reg prometheus.Registerer) (*Recorder, error) {
	var sinks []Sink
	fail := func(err error) (*Recorder, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}

	var trackerPath string
	for _, name := range cfg.Sinks {
		switch name {
		case "jsonl":
			s, err := NewJSONLSink(cfg.JSONLPath)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
			trackerPath = filepath.Join(filepath.Dir(cfg.JSONLPath), "usage.json")
		case "sqlite":
			s, err := NewSQLiteSink(cfg.SQLitePath)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		case "prometheus":
			s, err := NewPrometheusSink(reg)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		case "memory":
			// the tracker is always present
		default:
			return fail(fmt.Errorf("unknown telemetry sink %q", name))
		}
	}

	tracker, err := NewTracker(trackerPath)
	if err != nil {
		return fail(err)
	}
	logging.Telemetry("Telemetry sinks ready: %v", cfg.Sinks)
	return NewRecorder(tracker, sinks...), nil
}

// Record sends ev to every sink. A failing sink does not stop the others;
// the failures are returned joined.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	ev = ev.withDefaults()
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	if err := r.tracker.Record(ctx, ev); err != nil {
		errs = append(errs, err)
	}
	for _, s := range r.sinks {
		if err := s.Record(ctx, ev); err != nil {
			logging.Get(logging.CategoryTelemetry).Warn("Sink %T dropped event %s: %v", s, ev.ID, err)
			errs = append(errs, err)
		}
	}
	logging.TelemetryDebug("Recorded event %s term=%q acceptable=%v score=%.3f",
		ev.ID, ev.Term, ev.IsAcceptable, ev.OverallScore)
	return errors.Join(errs...)
}

// Close closes every sink and persists the tracker.
func (r *Recorder) Close() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	errs = append(errs, r.tracker.Close())
	return errors.Join(errs...)
}

// Stats returns the aggregate stats.
func (r *Recorder) Stats() AggregatedStats { return r.tracker.Stats() }

// Recent returns up to n of the latest events.
func (r *Recorder) Recent(n int) []Event { return r.tracker.Recent(n) }
