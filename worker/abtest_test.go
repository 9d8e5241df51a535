package worker

import (
	"context"
	"testing"
	"time"

	"naviai/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickWinner(t *testing.T) {
	cases := []struct {
		name  string
		stats map[string]VariantStats
		want  string
	}{
		{
			name: "B strictly higher",
			stats: map[string]VariantStats{
				models.VariantA: {Sent: 10, Opened: 2},
				models.VariantB: {Sent: 10, Opened: 5},
			},
			want: models.VariantB,
		},
		{
			name: "tie goes to A",
			stats: map[string]VariantStats{
				models.VariantA: {Sent: 10, Opened: 3},
				models.VariantB: {Sent: 10, Opened: 3},
			},
			want: models.VariantA,
		},
		{
			name:  "no opens at all",
			stats: map[string]VariantStats{},
			want:  models.VariantA,
		},
		{
			name: "A higher",
			stats: map[string]VariantStats{
				models.VariantA: {Sent: 10, Opened: 6},
				models.VariantB: {Sent: 10, Opened: 4},
			},
			want: models.VariantA,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pickWinner(tc.stats))
		})
	}
}

func TestVariantStatsOpenRate(t *testing.T) {
	assert.Zero(t, VariantStats{}.OpenRate())
	assert.Equal(t, 0.5, VariantStats{Sent: 10, Opened: 5}.OpenRate())
}

// runTestPhase drives a two-variant broadcast through the scheduler so the
// winner check starts from real recipient rows.
func runTestPhase(t *testing.T, ms *memStore, disp *fakeDispatcher, now time.Time) *models.Broadcast {
	t.Helper()
	seedAudience(ms, 1, 100)

	scheduledAt := now.Add(-time.Minute)
	b := ms.addBroadcast(models.Broadcast{
		UserID:       1,
		Name:         "subject test",
		AudienceSpec: "tags:customer",
		Channel:      models.ChannelEmail,
		SubjectA:     "Subject A",
		BodyA:        "Body A",
		IsABTest:     true,
		SubjectB:     "Subject B",
		BodyB:        "Body B",
		Status:       models.BroadcastScheduled,
		ScheduledAt:  &scheduledAt,
	})

	scheduler := newTestScheduler(ms, disp, now)
	_, err := scheduler.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.BroadcastAwaitingWinner, ms.broadcast(b.ID).Status)
	return b
}

func TestWinnerCheckSendsWinningVariantToRemainder(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	b := runTestPhase(t, ms, disp, now)

	// B clearly outperforms A during the test window.
	ms.markOpened(b.ID, models.VariantB, 6)
	ms.markOpened(b.ID, models.VariantA, 2)

	after := now.Add(TestPhaseDuration + time.Minute)
	checker := NewWinnerChecker(ms, ms, &memResolver{store: ms}, disp, fakeTracker{}, testLogger())
	checker.Now = func() time.Time { return after }

	sum, err := checker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Succeeded: 1}, sum)

	got := ms.broadcast(b.ID)
	assert.Equal(t, models.BroadcastSent, got.Status)
	assert.Equal(t, models.VariantB, got.WinnerVariant)
	assert.Equal(t, 100, got.TotalRecipients)
	assert.Equal(t, 100, got.SentCount)
	require.NotNil(t, got.CompletedAt)

	// The remainder got variant B content, and nobody was exposed twice.
	perVariant := map[string]int{}
	seen := map[uint]int{}
	for _, r := range ms.recipientsFor(b.ID) {
		perVariant[r.Variant]++
		seen[r.ContactID]++
	}
	assert.Equal(t, 10, perVariant[models.VariantA])
	assert.Equal(t, 90, perVariant[models.VariantB])
	for contactID, count := range seen {
		assert.Equal(t, 1, count, "contact %d exposed more than once", contactID)
	}

	subjects := map[string]int{}
	for _, call := range disp.calls {
		subjects[call.Subject]++
		assert.Contains(t, call.Body, "/track/open/")
	}
	assert.Equal(t, 10, subjects["Subject A"])
	assert.Equal(t, 90, subjects["Subject B"])
}

func TestWinnerCheckTieFallsBackToVariantA(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	b := runTestPhase(t, ms, disp, now)

	// Equal open rates on both splits.
	ms.markOpened(b.ID, models.VariantA, 3)
	ms.markOpened(b.ID, models.VariantB, 3)

	checker := NewWinnerChecker(ms, ms, &memResolver{store: ms}, disp, fakeTracker{}, testLogger())
	checker.Now = func() time.Time { return now.Add(TestPhaseDuration) }

	_, err := checker.Run(context.Background())
	require.NoError(t, err)

	got := ms.broadcast(b.ID)
	assert.Equal(t, models.VariantA, got.WinnerVariant)
	assert.Equal(t, models.BroadcastSent, got.Status)
}

func TestWinnerCheckWaitsForTestPhaseToElapse(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	b := runTestPhase(t, ms, disp, now)

	checker := NewWinnerChecker(ms, ms, &memResolver{store: ms}, disp, fakeTracker{}, testLogger())
	checker.Now = func() time.Time { return now.Add(TestPhaseDuration - time.Minute) }

	sum, err := checker.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Equal(t, models.BroadcastAwaitingWinner, ms.broadcast(b.ID).Status)
}
