package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"naviai/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(ms *memStore, fetcher *fakeFetcher, sink *fakeSink, now time.Time) *Poller {
	p := NewPoller(models.SourceInbox, ms, fetcher, sink, testLogger())
	p.Now = func() time.Time { return now }
	return p
}

func inboxItems(ids ...string) []ExternalItem {
	items := make([]ExternalItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, ExternalItem{
			ExternalID: id,
			OccurredAt: time.Now(),
			Fields:     map[string]string{"subject": "re: " + id},
		})
	}
	return items
}

func TestPollerIngestsOnceDespiteRefetch(t *testing.T) {
	ms := newMemStore()
	fetcher := newFakeFetcher()
	sink := newFakeSink()
	src := ms.addSource(models.PollSource{UserID: 1, Kind: models.SourceInbox, Name: "support"})
	fetcher.items[src.ID] = inboxItems("msg-1", "msg-2")

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	poller := newTestPoller(ms, fetcher, sink, now)

	sum, err := poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Succeeded: 1}, sum)
	assert.Equal(t, 2, sink.count())

	got := ms.source(src.ID)
	require.NotNil(t, got.LastCheckedAt)
	assert.Equal(t, now, *got.LastCheckedAt)

	// The fetcher returns the same window again (crash-and-replay shape);
	// the dedup check absorbs every item.
	later := now.Add(5 * time.Minute)
	poller.Now = func() time.Time { return later }
	sum, err = poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Succeeded: 1}, sum)
	assert.Equal(t, 2, sink.count())
	assert.Equal(t, later, *ms.source(src.ID).LastCheckedAt)

	// The second fetch started from the first run's checkpoint.
	require.Len(t, fetcher.since[src.ID], 2)
	assert.True(t, fetcher.since[src.ID][0].IsZero())
	assert.Equal(t, now, fetcher.since[src.ID][1])
}

func TestPollerHoldsCheckpointWhenIngestFails(t *testing.T) {
	ms := newMemStore()
	fetcher := newFakeFetcher()
	sink := newFakeSink()
	sink.failingID = "msg-2"
	src := ms.addSource(models.PollSource{UserID: 1, Kind: models.SourceInbox, Name: "support"})
	fetcher.items[src.ID] = inboxItems("msg-1", "msg-2", "msg-3")

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	poller := newTestPoller(ms, fetcher, sink, now)

	sum, err := poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Failed: 1}, sum)
	assert.Equal(t, 2, sink.count())
	assert.Nil(t, ms.source(src.ID).LastCheckedAt)

	// Next poll re-fetches the same window; only the missing item lands and
	// the checkpoint finally advances.
	sink.failingID = ""
	sum, err = poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Succeeded: 1}, sum)
	assert.Equal(t, 3, sink.count())
	require.NotNil(t, ms.source(src.ID).LastCheckedAt)
}

func TestPollerDeactivatesSourceOnAuthFailure(t *testing.T) {
	ms := newMemStore()
	fetcher := newFakeFetcher()
	sink := newFakeSink()
	src := ms.addSource(models.PollSource{UserID: 1, Kind: models.SourceInbox, Name: "support"})
	fetcher.errs[src.ID] = fmt.Errorf("LOGIN rejected: %w", ErrSourceAuth)

	poller := newTestPoller(ms, fetcher, sink, time.Now())
	sum, err := poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Failed: 1}, sum)

	got := ms.source(src.ID)
	assert.Equal(t, models.SourceInactive, got.Status)
	assert.Contains(t, got.LastError, "LOGIN rejected")

	// A deactivated source is out of the rotation until reconnected.
	sum, err = poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
}

func TestPollerIsolatesPerSourceFailures(t *testing.T) {
	ms := newMemStore()
	fetcher := newFakeFetcher()
	sink := newFakeSink()
	broken := ms.addSource(models.PollSource{UserID: 1, Kind: models.SourceInbox, Name: "broken"})
	healthy := ms.addSource(models.PollSource{UserID: 1, Kind: models.SourceInbox, Name: "healthy"})
	fetcher.errs[broken.ID] = fmt.Errorf("connection reset")
	fetcher.items[healthy.ID] = inboxItems("msg-1")

	now := time.Now()
	poller := newTestPoller(ms, fetcher, sink, now)
	sum, err := poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 2, Succeeded: 1, Failed: 1}, sum)

	assert.Equal(t, 1, sink.count())
	require.NotNil(t, ms.source(healthy.ID).LastCheckedAt)

	// Transient fetch errors are recorded but do not deactivate the source.
	got := ms.source(broken.ID)
	assert.Equal(t, models.SourceActive, got.Status)
	assert.Equal(t, "connection reset", got.LastError)
	assert.Nil(t, got.LastCheckedAt)
}

func TestPollerSkipsSourceWithExpiredTokenAndNoRefresh(t *testing.T) {
	ms := newMemStore()
	fetcher := newFakeFetcher()
	sink := newFakeSink()
	expiry := time.Now().Add(-time.Hour)
	src := ms.addSource(models.PollSource{
		UserID:      1,
		Kind:        models.SourceInbox,
		Name:        "gmail",
		AccessToken: "stale-token",
		TokenExpiry: &expiry,
	})

	poller := newTestPoller(ms, fetcher, sink, time.Now())
	sum, err := poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Skipped: 1}, sum)
	assert.Zero(t, fetcher.visits)

	got := ms.source(src.ID)
	assert.Equal(t, models.SourceInactive, got.Status)
	assert.Contains(t, got.LastError, "reconnect required")
}

func TestPollerStillPollsWhenRefreshTokenAvailable(t *testing.T) {
	ms := newMemStore()
	fetcher := newFakeFetcher()
	sink := newFakeSink()
	expiry := time.Now().Add(-time.Hour)
	src := ms.addSource(models.PollSource{
		UserID:       1,
		Kind:         models.SourceInbox,
		Name:         "gmail",
		AccessToken:  "stale-token",
		RefreshToken: "refresh-token",
		TokenExpiry:  &expiry,
	})
	fetcher.items[src.ID] = inboxItems("msg-1")

	poller := newTestPoller(ms, fetcher, sink, time.Now())
	sum, err := poller.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Succeeded: 1}, sum)
	assert.Equal(t, models.SourceActive, ms.source(src.ID).Status)
	assert.Equal(t, 1, sink.count())
}
