package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrierScore(t *testing.T) {
	tests := []struct {
		p       float64
		outcome bool
		want    float64
	}{
		{0.7, true, 0.09},
		{0.7, false, 0.49},
		{0.6, true, 0.16},
		{0.9, true, 0.01},
		{0.95, true, 0.0025},
		{0.8, true, 0.04},
		{0.0, false, 0.0},
		{1.0, false, 1.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BrierScore(tt.p, tt.outcome), "p=%v outcome=%v", tt.p, tt.outcome)
	}
}

func TestForecastLifecycle(t *testing.T) {
	ctx := context.Background()
	l, _ := setupTestLedger(t)

	_, err := l.Append(ctx, &ForecastOpenPayload{ForecastID: "fc-1", Question: "Will it rain?", Probability: 0.6})
	require.NoError(t, err)
	_, err = l.Append(ctx, &ForecastOpenPayload{ForecastID: "fc-2", Question: "Will it snow?", Probability: 0.2})
	require.NoError(t, err)

	f, _, err := l.Forecast(ctx, "fc-1")
	require.NoError(t, err)
	assert.Equal(t, ForecastOpen, f.Status)

	update, err := f.UpdateProbability(0.7, "run-1")
	require.NoError(t, err)
	_, err = l.Append(ctx, update)
	require.NoError(t, err)

	f, _, err = l.Forecast(ctx, "fc-1")
	require.NoError(t, err)
	assert.Equal(t, 0.7, f.Probability)
	assert.Equal(t, 1, f.Updates)

	resolve, err := f.Resolve(true)
	require.NoError(t, err)
	assert.Equal(t, 0.09, resolve.BrierScore)
	_, err = l.Append(ctx, resolve)
	require.NoError(t, err)

	f, history, err := l.Forecast(ctx, "fc-1")
	require.NoError(t, err)
	assert.Equal(t, ForecastResolved, f.Status)
	require.NotNil(t, f.Outcome)
	assert.True(t, *f.Outcome)
	require.NotNil(t, f.BrierScore)
	assert.Equal(t, 0.09, *f.BrierScore)
	require.Len(t, history, 3)
	assert.Equal(t, EntryTypeForecastOpen, history[0].Type)
	assert.Equal(t, EntryTypeSystemUpdate, history[1].Type)
	assert.Equal(t, EntryTypeForecastResolve, history[2].Type)

	t.Run("resolved forecasts reject further changes", func(t *testing.T) {
		_, err := f.Resolve(false)
		assert.ErrorIs(t, err, ErrForecastClosed)
		_, err = f.UpdateProbability(0.1, "run-2")
		assert.ErrorIs(t, err, ErrForecastClosed)
	})

	t.Run("unknown forecast", func(t *testing.T) {
		_, _, err := l.Forecast(ctx, "nope")
		assert.True(t, IsNotFound(err))
	})

	t.Run("forecasts are ordered by opening", func(t *testing.T) {
		all, err := l.Forecasts(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "fc-1", all[0].ID)
		assert.Equal(t, "fc-2", all[1].ID)
	})
}

func TestApplyForecastEntryIgnoresStaleReferences(t *testing.T) {
	index := map[string]Forecast{}
	p := 0.5

	assert.Equal(t, "", ApplyForecastEntry(index, Entry{Sequence: 0},
		&SystemUpdatePayload{Kind: KindProbabilityUpdate, ForecastID: "ghost", Probability: &p}))
	assert.Equal(t, "", ApplyForecastEntry(index, Entry{Sequence: 1},
		&ForecastResolvePayload{ForecastID: "ghost", Outcome: true, Probability: 0.5, BrierScore: 0.25}))

	assert.Equal(t, "f", ApplyForecastEntry(index, Entry{Sequence: 2},
		&ForecastOpenPayload{ForecastID: "f", Question: "q", Probability: 0.5}))
	assert.Equal(t, "f", ApplyForecastEntry(index, Entry{Sequence: 3},
		&ForecastResolvePayload{ForecastID: "f", Outcome: false, Probability: 0.5, BrierScore: 0.25}))

	// Second resolution is ignored.
	assert.Equal(t, "", ApplyForecastEntry(index, Entry{Sequence: 4},
		&ForecastResolvePayload{ForecastID: "f", Outcome: true, Probability: 0.5, BrierScore: 0.25}))
	assert.False(t, *index["f"].Outcome)
}

func TestMeanBrier(t *testing.T) {
	_, ok := MeanBrier(map[string]Forecast{})
	assert.False(t, ok)

	a, b := 0.09, 0.49
	mean, ok := MeanBrier(map[string]Forecast{
		"a": {ID: "a", BrierScore: &a},
		"b": {ID: "b", OpenedAt: 1, BrierScore: &b},
		"c": {ID: "c", OpenedAt: 2},
	})
	assert.True(t, ok)
	assert.Equal(t, 0.29, mean)
}
