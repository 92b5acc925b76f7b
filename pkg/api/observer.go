package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the survey engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay instance execution. Callbacks fire only
// during live progress, never during replay.
type Observer interface {
	// OnSurveyStarted is called once when an instance is first created.
	OnSurveyStarted(ctx context.Context, key string)

	// OnPhaseChanged is called on every live phase transition.
	OnPhaseChanged(ctx context.Context, key string, from, to Phase)

	// OnActivityStart is called before an activity attempt executes.
	OnActivityStart(ctx context.Context, key, activity string, attempt int)

	// OnActivityCompleted is called after an activity attempt returns, for
	// both successes and failures (err != nil).
	OnActivityCompleted(ctx context.Context, key, activity string, attempt int, err error, duration time.Duration)

	// OnSignal is called when a signal is delivered to an instance.
	// accepted is false for duplicates dropped by the inbox.
	OnSignal(ctx context.Context, key string, slot Slot, accepted bool)

	// OnSurveyFinished is called when an instance reaches PhaseFinished.
	OnSurveyFinished(ctx context.Context, key string)

	// OnSurveyFailed is called when an instance reaches PhaseFailed or
	// PhaseCancelled.
	OnSurveyFailed(ctx context.Context, key string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnSurveyStarted(ctx context.Context, key string)                   {}
func (NoopObserver) OnPhaseChanged(ctx context.Context, key string, from, to Phase)    {}
func (NoopObserver) OnActivityStart(ctx context.Context, key, activity string, n int)  {}
func (NoopObserver) OnActivityCompleted(ctx context.Context, key, activity string, n int, err error, d time.Duration) {
}
func (NoopObserver) OnSignal(ctx context.Context, key string, slot Slot, accepted bool) {}
func (NoopObserver) OnSurveyFinished(ctx context.Context, key string)                   {}
func (NoopObserver) OnSurveyFailed(ctx context.Context, key string, err error)          {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnSurveyStarted(ctx context.Context, key string) {
	for _, o := range c.observers {
		o.OnSurveyStarted(ctx, key)
	}
}

func (c *CompositeObserver) OnPhaseChanged(ctx context.Context, key string, from, to Phase) {
	for _, o := range c.observers {
		o.OnPhaseChanged(ctx, key, from, to)
	}
}

func (c *CompositeObserver) OnActivityStart(ctx context.Context, key, activity string, attempt int) {
	for _, o := range c.observers {
		o.OnActivityStart(ctx, key, activity, attempt)
	}
}

func (c *CompositeObserver) OnActivityCompleted(ctx context.Context, key, activity string, attempt int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityCompleted(ctx, key, activity, attempt, err, d)
	}
}

func (c *CompositeObserver) OnSignal(ctx context.Context, key string, slot Slot, accepted bool) {
	for _, o := range c.observers {
		o.OnSignal(ctx, key, slot, accepted)
	}
}

func (c *CompositeObserver) OnSurveyFinished(ctx context.Context, key string) {
	for _, o := range c.observers {
		o.OnSurveyFinished(ctx, key)
	}
}

func (c *CompositeObserver) OnSurveyFailed(ctx context.Context, key string, err error) {
	for _, o := range c.observers {
		o.OnSurveyFailed(ctx, key, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnSurveyStarted(ctx context.Context, key string) {
	o.Logger.InfoContext(ctx, "survey_started",
		slog.String("instance_key", key),
	)
}

func (o *LoggingObserver) OnPhaseChanged(ctx context.Context, key string, from, to Phase) {
	o.Logger.DebugContext(ctx, "phase_changed",
		slog.String("instance_key", key),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (o *LoggingObserver) OnActivityStart(ctx context.Context, key, activity string, attempt int) {
	o.Logger.DebugContext(ctx, "activity_start",
		slog.String("instance_key", key),
		slog.String("activity", activity),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnActivityCompleted(ctx context.Context, key, activity string, attempt int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "activity_completed",
		slog.String("instance_key", key),
		slog.String("activity", activity),
		slog.Int("attempt", attempt),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnSignal(ctx context.Context, key string, slot Slot, accepted bool) {
	o.Logger.DebugContext(ctx, "signal_delivered",
		slog.String("instance_key", key),
		slog.String("slot", string(slot)),
		slog.Bool("accepted", accepted),
	)
}

func (o *LoggingObserver) OnSurveyFinished(ctx context.Context, key string) {
	o.Logger.InfoContext(ctx, "survey_finished",
		slog.String("instance_key", key),
	)
}

func (o *LoggingObserver) OnSurveyFailed(ctx context.Context, key string, err error) {
	o.Logger.ErrorContext(ctx, "survey_failed",
		slog.String("instance_key", key),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate activity durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	surveysStarted    atomic.Int64
	surveysFinished   atomic.Int64
	surveysFailed     atomic.Int64
	signalsAccepted   atomic.Int64
	activitiesOK      atomic.Int64
	totalActivityTime atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	SurveysStarted  int64
	SurveysFinished int64
	SurveysFailed   int64
	LiveSurveys     int64

	SignalsAccepted     int64
	ActivitiesCompleted int64
	AvgActivityDuration time.Duration
}

func (m *BasicMetrics) OnSurveyStarted(ctx context.Context, key string) {
	m.surveysStarted.Add(1)
}

func (m *BasicMetrics) OnSurveyFinished(ctx context.Context, key string) {
	m.surveysFinished.Add(1)
}

func (m *BasicMetrics) OnSurveyFailed(ctx context.Context, key string, err error) {
	m.surveysFailed.Add(1)
}

func (m *BasicMetrics) OnSignal(ctx context.Context, key string, slot Slot, accepted bool) {
	if accepted {
		m.signalsAccepted.Add(1)
	}
}

func (m *BasicMetrics) OnActivityCompleted(ctx context.Context, key, activity string, attempt int, err error, d time.Duration) {
	// Only count successful attempts for average duration.
	if err == nil {
		m.activitiesOK.Add(1)
		m.totalActivityTime.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.surveysStarted.Load()
	finished := m.surveysFinished.Load()
	failed := m.surveysFailed.Load()
	ok := m.activitiesOK.Load()
	totalNs := m.totalActivityTime.Load()

	var avg time.Duration
	if ok > 0 {
		avg = time.Duration(totalNs / ok)
	}

	return BasicMetricsSnapshot{
		SurveysStarted:      started,
		SurveysFinished:     finished,
		SurveysFailed:       failed,
		LiveSurveys:         started - finished - failed,
		SignalsAccepted:     m.signalsAccepted.Load(),
		ActivitiesCompleted: ok,
		AvgActivityDuration: avg,
	}
}
