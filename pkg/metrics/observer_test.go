package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetrov/colloquy/pkg/api"
)

func TestObserver_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewObserver(reg)
	ctx := context.Background()

	o.OnSurveyStarted(ctx, "u1")
	o.OnSurveyStarted(ctx, "u2")
	o.OnSurveyFinished(ctx, "u1")
	o.OnSurveyFailed(ctx, "u2", errors.New("boom"))
	o.OnPhaseChanged(ctx, "u1", api.PhaseCreated, api.PhaseWelcomeGenerated)
	o.OnPhaseChanged(ctx, "u1", api.PhaseWelcomeGenerated, api.PhaseAwaitingFirstAnswer)

	assert.Equal(t, 2.0, testutil.ToFloat64(o.surveysStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.surveysFinished))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.surveysFailed))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.phaseChanges))
}

func TestObserver_SignalStatusLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewObserver(reg)
	ctx := context.Background()

	o.OnSignal(ctx, "u1", api.SlotFirstAnswer, true)
	o.OnSignal(ctx, "u1", api.SlotNextAnswer, true)
	o.OnSignal(ctx, "u1", api.SlotNextAnswer, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(o.signalsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.signalsTotal.WithLabelValues("dropped")))
}

func TestObserver_ActivityOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewObserver(reg)
	ctx := context.Background()

	o.OnActivityCompleted(ctx, "u1", api.ActivitySendMessage, 1, nil, 30*time.Millisecond)
	o.OnActivityCompleted(ctx, "u1", api.ActivitySendMessage, 2, errors.New("502"), 10*time.Millisecond)
	o.OnActivityCompleted(ctx, "u1", api.ActivityGenerateQuestion, 1, nil, 800*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(o.activityTotal.WithLabelValues(api.ActivitySendMessage, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.activityTotal.WithLabelValues(api.ActivitySendMessage, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.activityTotal.WithLabelValues(api.ActivityGenerateQuestion, "success")))

	// Two send attempts and one generation landed in the histogram.
	require.Equal(t, 2, testutil.CollectAndCount(o.activityDuration))
}

func TestObserver_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewObserver(reg)
	ctx := context.Background()

	o.OnSurveyStarted(ctx, "u1")
	o.OnSignal(ctx, "u1", api.SlotFirstAnswer, true)
	o.OnActivityCompleted(ctx, "u1", api.ActivitySendMessage, 1, nil, time.Millisecond)
	o.OnPhaseChanged(ctx, "u1", api.PhaseCreated, api.PhaseWelcomeGenerated)
	o.OnSurveyFinished(ctx, "u1")
	o.OnSurveyFailed(ctx, "u1", errors.New("boom"))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"colloquy_surveys_started_total",
		"colloquy_surveys_finished_total",
		"colloquy_surveys_failed_total",
		"colloquy_phase_changes_total",
		"colloquy_signals_total",
		"colloquy_activity_duration_seconds",
		"colloquy_activity_attempts_total",
	} {
		assert.True(t, names[want], "missing metric family %s", want)
	}

	// Registering the same collectors twice on one registry must panic via
	// MustRegister; a fresh registry accepts them.
	assert.Panics(t, func() { NewObserver(reg) })
	assert.NotPanics(t, func() { NewObserver(prometheus.NewRegistry()) })
}
