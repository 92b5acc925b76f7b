// Package metrics exports survey engine lifecycle events as Prometheus
// metrics. The Observer implements api.Observer and can be combined with a
// logging observer through api.NewCompositeObserver.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mpetrov/colloquy/pkg/api"
)

const namespace = "colloquy"

// Observer is an api.Observer backed by Prometheus collectors.
type Observer struct {
	surveysStarted  prometheus.Counter
	surveysFinished prometheus.Counter
	surveysFailed   prometheus.Counter

	phaseChanges prometheus.Counter

	signalsTotal *prometheus.CounterVec

	activityDuration *prometheus.HistogramVec
	activityTotal    *prometheus.CounterVec
}

var _ api.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer for the usual global registry.
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		surveysStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surveys_started_total",
			Help:      "Total number of survey instances started",
		}),
		surveysFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surveys_finished_total",
			Help:      "Total number of survey instances that completed",
		}),
		surveysFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surveys_failed_total",
			Help:      "Total number of survey instances that failed or were cancelled",
		}),
		phaseChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_changes_total",
			Help:      "Total number of survey phase transitions",
		}),
		signalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Total number of answer signals by delivery status",
		}, []string{"status"}), // status: accepted, dropped
		activityDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activity_duration_seconds",
			Help:      "Histogram of activity attempt duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"activity"}),
		activityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_attempts_total",
			Help:      "Total number of activity attempts by outcome",
		}, []string{"activity", "status"}), // status: success, error
	}
	reg.MustRegister(
		o.surveysStarted,
		o.surveysFinished,
		o.surveysFailed,
		o.phaseChanges,
		o.signalsTotal,
		o.activityDuration,
		o.activityTotal,
	)
	return o
}

func (o *Observer) OnSurveyStarted(ctx context.Context, key string) {
	o.surveysStarted.Inc()
}

func (o *Observer) OnPhaseChanged(ctx context.Context, key string, from, to api.Phase) {
	o.phaseChanges.Inc()
}

func (o *Observer) OnActivityStart(ctx context.Context, key, activity string, attempt int) {}

func (o *Observer) OnActivityCompleted(ctx context.Context, key, activity string, attempt int, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	o.activityTotal.WithLabelValues(activity, status).Inc()
	o.activityDuration.WithLabelValues(activity).Observe(duration.Seconds())
}

func (o *Observer) OnSignal(ctx context.Context, key string, slot api.Slot, accepted bool) {
	status := "accepted"
	if !accepted {
		status = "dropped"
	}
	o.signalsTotal.WithLabelValues(status).Inc()
}

func (o *Observer) OnSurveyFinished(ctx context.Context, key string) {
	o.surveysFinished.Inc()
}

func (o *Observer) OnSurveyFailed(ctx context.Context, key string, err error) {
	o.surveysFailed.Inc()
}
