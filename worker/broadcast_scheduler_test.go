package worker

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"naviai/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAudience(ms *memStore, userID uint, n int) []models.Contact {
	contacts := make([]models.Contact, 0, n)
	for i := 0; i < n; i++ {
		c := ms.addContact(models.Contact{
			UserID:    userID,
			Email:     fmt.Sprintf("contact%03d@example.com", i),
			FirstName: fmt.Sprintf("C%03d", i),
			Tags:      "customer",
		})
		contacts = append(contacts, *c)
	}
	return contacts
}

func newTestScheduler(ms *memStore, disp *fakeDispatcher, now time.Time) *BroadcastScheduler {
	s := NewBroadcastScheduler(ms, ms, &memResolver{store: ms}, disp, fakeTracker{}, testLogger())
	s.Now = func() time.Time { return now }
	return s
}

// staleResolver returns a list captured before send time, the shape the
// scheduler sees when contacts change between scheduling and dispatch.
type staleResolver struct {
	contacts []models.Contact
}

func (r *staleResolver) Resolve(userID uint, spec string) ([]models.Contact, error) {
	return r.contacts, nil
}

func TestSchedulerSendsDueBroadcastAndSkipsLateUnsubscribes(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	contacts := seedAudience(ms, 1, 100)

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	scheduledAt := now.Add(-time.Minute)
	b := ms.addBroadcast(models.Broadcast{
		UserID:       1,
		Name:         "spring promo",
		AudienceSpec: "tags:customer",
		Channel:      models.ChannelEmail,
		SubjectA:     "Hello {{.FirstName}}",
		BodyA:        "Big news",
		Status:       models.BroadcastScheduled,
		ScheduledAt:  &scheduledAt,
	})

	// Five contacts opt out after the audience snapshot was taken. The
	// send-time recheck must silently skip them: neither sent nor failed.
	for i := 0; i < 5; i++ {
		ms.mu.Lock()
		ms.contacts[contacts[i].ID].IsUnsubscribed = true
		ms.mu.Unlock()
	}

	scheduler := newTestScheduler(ms, disp, now)
	scheduler.resolver = &staleResolver{contacts: contacts}
	sum, err := scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Succeeded: 1}, sum)

	got := ms.broadcast(b.ID)
	assert.Equal(t, models.BroadcastSent, got.Status)
	assert.Equal(t, 100, got.TotalRecipients)
	assert.Equal(t, 95, got.SentCount)
	assert.Zero(t, got.FailedCount)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	recipients := ms.recipientsFor(b.ID)
	assert.Len(t, recipients, 95)
	for _, r := range recipients {
		assert.Equal(t, models.VariantA, r.Variant)
		assert.NotEmpty(t, r.MessageID)
		assert.NotNil(t, r.SentAt)
	}
	assert.Equal(t, 95, disp.callCount())
}

func TestSchedulerCountsTransientAndPermanentFailures(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	contacts := seedAudience(ms, 1, 10)
	disp.transient[contacts[0].Email] = true
	disp.permanent[contacts[1].Email] = true

	now := time.Now()
	scheduledAt := now.Add(-time.Second)
	b := ms.addBroadcast(models.Broadcast{
		UserID:       1,
		Name:         "promo",
		AudienceSpec: "tags:customer",
		Channel:      models.ChannelEmail,
		SubjectA:     "Hi",
		BodyA:        "Body",
		Status:       models.BroadcastScheduled,
		ScheduledAt:  &scheduledAt,
	})

	scheduler := newTestScheduler(ms, disp, now)
	_, err := scheduler.Run(context.Background())
	require.NoError(t, err)

	got := ms.broadcast(b.ID)
	assert.Equal(t, models.BroadcastSent, got.Status)
	assert.Equal(t, 10, got.TotalRecipients)
	assert.Equal(t, 8, got.SentCount)
	// Transient failure counts as failed, invalid address is skipped.
	assert.Equal(t, 1, got.FailedCount)
	assert.Len(t, ms.recipientsFor(b.ID), 8)
}

func TestSchedulerDoesNotTouchFutureBroadcasts(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	seedAudience(ms, 1, 3)

	now := time.Now()
	scheduledAt := now.Add(time.Hour)
	b := ms.addBroadcast(models.Broadcast{
		UserID:       1,
		AudienceSpec: "",
		Channel:      models.ChannelEmail,
		SubjectA:     "Later",
		BodyA:        "Body",
		Status:       models.BroadcastScheduled,
		ScheduledAt:  &scheduledAt,
	})

	scheduler := newTestScheduler(ms, disp, now)
	sum, err := scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)
	assert.Equal(t, models.BroadcastScheduled, ms.broadcast(b.ID).Status)
	assert.Zero(t, disp.callCount())
}

func TestClaimBroadcastIsExclusive(t *testing.T) {
	ms := newMemStore()
	scheduledAt := time.Now().Add(-time.Minute)
	b := ms.addBroadcast(models.Broadcast{
		UserID:      1,
		Status:      models.BroadcastScheduled,
		ScheduledAt: &scheduledAt,
	})

	now := time.Now()
	first, err := ms.ClaimBroadcast(b.ID, models.BroadcastScheduled, models.BroadcastSending, now)
	require.NoError(t, err)
	assert.True(t, first)

	// A second invocation racing on the same row loses the check-and-set.
	second, err := ms.ClaimBroadcast(b.ID, models.BroadcastScheduled, models.BroadcastSending, now)
	require.NoError(t, err)
	assert.False(t, second)

	got := ms.broadcast(b.ID)
	assert.Equal(t, models.BroadcastSending, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestSchedulerSendsTestSplitForTwoVariantBroadcast(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	seedAudience(ms, 1, 100)

	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
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
	sum, err := scheduler.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Succeeded: 1}, sum)

	got := ms.broadcast(b.ID)
	assert.Equal(t, models.BroadcastAwaitingWinner, got.Status)
	assert.Equal(t, 20, got.TotalRecipients)
	assert.Equal(t, 20, got.SentCount)
	require.NotNil(t, got.TestPhaseEndsAt)
	assert.Equal(t, now.Add(TestPhaseDuration), *got.TestPhaseEndsAt)
	assert.Nil(t, got.CompletedAt)

	perVariant := map[string]int{}
	for _, r := range ms.recipientsFor(b.ID) {
		perVariant[r.Variant]++
	}
	assert.Equal(t, 10, perVariant[models.VariantA])
	assert.Equal(t, 10, perVariant[models.VariantB])

	// Variant content went to the right split.
	subjects := map[string]int{}
	for _, call := range disp.calls {
		subjects[call.Subject]++
	}
	assert.Equal(t, 10, subjects["Subject A"])
	assert.Equal(t, 10, subjects["Subject B"])
}

func TestSchedulerInjectsTrackingIntoEmailBodies(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	contacts := seedAudience(ms, 1, 3)

	now := time.Now()
	scheduledAt := now.Add(-time.Second)
	b := ms.addBroadcast(models.Broadcast{
		UserID:       1,
		Name:         "promo",
		AudienceSpec: "tags:customer",
		Channel:      models.ChannelEmail,
		SubjectA:     "Hi",
		BodyA:        `<p>Hi</p><a href="https://example.com">shop</a>`,
		Status:       models.BroadcastScheduled,
		ScheduledAt:  &scheduledAt,
	})

	scheduler := newTestScheduler(ms, disp, now)
	_, err := scheduler.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, len(contacts), disp.callCount())
	for _, call := range disp.calls {
		assert.Contains(t, call.Body, "/track/open/")
		assert.Contains(t, call.Body, "/track/unsubscribe/")
	}

	// Every recipient row's message ID appears in exactly the body that was
	// sent to that contact, so opens resolve to the right exposure.
	bodies := make([]string, 0, len(disp.calls))
	for _, call := range disp.calls {
		bodies = append(bodies, call.Body)
	}
	for _, r := range ms.recipientsFor(b.ID) {
		found := false
		for _, body := range bodies {
			if strings.Contains(body, "/track/open/"+r.MessageID+"/") {
				found = true
				break
			}
		}
		assert.True(t, found, "no dispatched body carries tracking for message %s", r.MessageID)
	}
}

func TestSchedulerMinimumSplitForSmallTwoVariantAudience(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	seedAudience(ms, 1, 5)

	now := time.Now()
	scheduledAt := now.Add(-time.Second)
	b := ms.addBroadcast(models.Broadcast{
		UserID:       1,
		Name:         "small test",
		AudienceSpec: "tags:customer",
		Channel:      models.ChannelEmail,
		SubjectA:     "A",
		BodyA:        "Body A",
		IsABTest:     true,
		SubjectB:     "B",
		BodyB:        "Body B",
		Status:       models.BroadcastScheduled,
		ScheduledAt:  &scheduledAt,
	})

	scheduler := newTestScheduler(ms, disp, now)
	_, err := scheduler.Run(context.Background())
	require.NoError(t, err)

	got := ms.broadcast(b.ID)
	assert.Equal(t, models.BroadcastAwaitingWinner, got.Status)

	perVariant := map[string]int{}
	for _, r := range ms.recipientsFor(b.ID) {
		perVariant[r.Variant]++
	}
	assert.Equal(t, 1, perVariant[models.VariantA])
	assert.Equal(t, 1, perVariant[models.VariantB])
}

func TestSchedulerSkipsTestPhaseForSingleContactAudience(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	seedAudience(ms, 1, 1)

	now := time.Now()
	scheduledAt := now.Add(-time.Second)
	b := ms.addBroadcast(models.Broadcast{
		UserID:       1,
		Name:         "tiny test",
		AudienceSpec: "tags:customer",
		Channel:      models.ChannelEmail,
		SubjectA:     "A",
		BodyA:        "Body A",
		IsABTest:     true,
		SubjectB:     "B",
		BodyB:        "Body B",
		Status:       models.BroadcastScheduled,
		ScheduledAt:  &scheduledAt,
	})

	scheduler := newTestScheduler(ms, disp, now)
	_, err := scheduler.Run(context.Background())
	require.NoError(t, err)

	// Too small to compare variants: no four-hour park, variant A goes out.
	got := ms.broadcast(b.ID)
	assert.Equal(t, models.BroadcastSent, got.Status)
	assert.Nil(t, got.TestPhaseEndsAt)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, 1, got.SentCount)

	recipients := ms.recipientsFor(b.ID)
	require.Len(t, recipients, 1)
	assert.Equal(t, models.VariantA, recipients[0].Variant)
}

func TestSchedulerCountsRecipientWriteFailureAsFailed(t *testing.T) {
	ms := newMemStore()
	disp := newFakeDispatcher()
	contacts := seedAudience(ms, 1, 10)
	ms.failRecipientContact = contacts[3].ID

	now := time.Now()
	scheduledAt := now.Add(-time.Second)
	b := ms.addBroadcast(models.Broadcast{
		UserID:       1,
		Name:         "promo",
		AudienceSpec: "tags:customer",
		Channel:      models.ChannelEmail,
		SubjectA:     "Hi",
		BodyA:        "Body",
		Status:       models.BroadcastScheduled,
		ScheduledAt:  &scheduledAt,
	})

	scheduler := newTestScheduler(ms, disp, now)
	_, err := scheduler.Run(context.Background())
	require.NoError(t, err)

	// A send without its exposure row is invisible to the winner check, so
	// it must not count as sent.
	got := ms.broadcast(b.ID)
	assert.Equal(t, 10, got.TotalRecipients)
	assert.Equal(t, 9, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.Len(t, ms.recipientsFor(b.ID), 9)
}
