package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skalibog/bandarscope/pkg/models"
)

type fakeRunner struct {
	runs atomic.Int32
}

func (f *fakeRunner) AnalyzeAll(_ context.Context, pairs []string) []*models.Recommendation {
	f.runs.Add(1)
	var out []*models.Recommendation
	for _, p := range pairs {
		pair, err := models.ParsePair(p)
		if err != nil {
			continue
		}
		out = append(out, &models.Recommendation{Pair: pair, Action: models.ActionHold})
	}
	return out
}

func TestRunNowUpdatesLatestAndSinks(t *testing.T) {
	runner := &fakeRunner{}
	var got []*models.Recommendation
	s := New(context.Background(), runner, []string{"eth_idr", "bad", "btcidr"}, func(recs []*models.Recommendation) {
		got = recs
	})

	s.RunNow()

	assert.Equal(t, int32(1), runner.runs.Load())
	assert.Len(t, got, 2)

	latest, at := s.Latest()
	require.Len(t, latest, 2)
	assert.Equal(t, "eth_idr", latest[0].Pair.String())
	assert.Equal(t, "btc_idr", latest[1].Pair.String())
	assert.False(t, at.IsZero())
}

func TestRunNowSkippedAfterCancel(t *testing.T) {
	runner := &fakeRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	New(ctx, runner, []string{"btc_idr"}).RunNow()
	assert.Equal(t, int32(0), runner.runs.Load())
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	s := New(context.Background(), &fakeRunner{}, nil)
	assert.Error(t, s.Register("every minute"))
	assert.NoError(t, s.Register("@every 1m"))
	assert.NoError(t, s.Register("*/5 * * * *"))
}

func TestScheduledRun(t *testing.T) {
	runner := &fakeRunner{}
	s := New(context.Background(), runner, []string{"btc_idr"})
	require.NoError(t, s.Register("@every 1s"))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runner.runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
