package worker

import (
	"context"
	"fmt"
	"time"

	"naviai/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TestPhaseDuration is how long a two-variant broadcast collects open metrics
// before the winner check resolves it.
const TestPhaseDuration = 4 * time.Hour

// testSplitPercent is the audience share each variant receives during the
// test phase (10% + 10% = 20% total).
const testSplitPercent = 10

// BroadcastScheduler fires one-time scheduled broadcasts at their due time.
// The scheduled -> sending transition is a check-and-set, so overlapping
// invocations cannot double-send a broadcast.
type BroadcastScheduler struct {
	store      BroadcastStore
	contacts   ContactStore
	resolver   AudienceResolver
	dispatcher Dispatcher
	tracker    TrackingDecorator
	logger     *logrus.Entry

	Now func() time.Time
}

func NewBroadcastScheduler(store BroadcastStore, contacts ContactStore, resolver AudienceResolver, dispatcher Dispatcher, tracker TrackingDecorator, logger *logrus.Entry) *BroadcastScheduler {
	return &BroadcastScheduler{
		store:      store,
		contacts:   contacts,
		resolver:   resolver,
		dispatcher: dispatcher,
		tracker:    tracker,
		logger:     logger,
		Now:        time.Now,
	}
}

// Run claims and sends every broadcast whose scheduled time has arrived.
func (s *BroadcastScheduler) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	now := s.Now()

	due, err := s.store.DueBroadcasts(now)
	if err != nil {
		return sum, fmt.Errorf("fetching due broadcasts: %w", err)
	}

	for _, b := range due {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Processed++

		claimed, err := s.store.ClaimBroadcast(b.ID, models.BroadcastScheduled, models.BroadcastSending, now)
		if err != nil {
			s.logger.WithError(err).WithField("broadcast_id", b.ID).Error("failed to claim broadcast")
			sum.Failed++
			continue
		}
		if !claimed {
			// Another invocation already picked it up.
			sum.Skipped++
			continue
		}

		if err := s.sendBroadcast(ctx, b); err != nil {
			s.logger.WithError(err).WithField("broadcast_id", b.ID).Error("broadcast send failed")
			if mErr := s.store.MarkBroadcastFailed(b.ID, err.Error()); mErr != nil {
				s.logger.WithError(mErr).WithField("broadcast_id", b.ID).Error("failed to mark broadcast failed")
			}
			sum.Failed++
			continue
		}
		sum.Succeeded++
	}
	return sum, nil
}

func (s *BroadcastScheduler) sendBroadcast(ctx context.Context, b models.Broadcast) error {
	now := s.Now()

	audience, err := s.resolver.Resolve(b.UserID, b.AudienceSpec)
	if err != nil {
		return fmt.Errorf("resolving audience: %w", err)
	}

	if !b.IsABTest {
		tally := s.dispatchToContacts(ctx, &b, audience, models.VariantA)
		completedAt := s.Now()
		return s.store.FinishBroadcastSend(b.ID, models.BroadcastSent, tally, nil, &completedAt)
	}

	// Two-variant broadcast: a fixed 10%/10% split gets the test exposure
	// now, the remainder waits for the winner check.
	splitSize := len(audience) * testSplitPercent / 100
	if splitSize == 0 {
		if len(audience) < 2 {
			// Nothing to compare against: skip the test phase and send
			// variant A outright.
			tally := s.dispatchToContacts(ctx, &b, audience, models.VariantA)
			completedAt := s.Now()
			return s.store.FinishBroadcastSend(b.ID, models.BroadcastSent, tally, nil, &completedAt)
		}
		splitSize = 1
	}
	variantA := audience[:splitSize]
	variantB := audience[splitSize : 2*splitSize]

	tally := s.dispatchToContacts(ctx, &b, variantA, models.VariantA)
	tally.addTally(s.dispatchToContacts(ctx, &b, variantB, models.VariantB))

	testEndsAt := now.Add(TestPhaseDuration)
	s.logger.WithFields(logrus.Fields{
		"broadcast_id":  b.ID,
		"test_sent":     tally.Sent,
		"test_ends_at":  testEndsAt,
		"audience_size": len(audience),
	}).Info("A/B test split sent")
	return s.store.FinishBroadcastSend(b.ID, models.BroadcastAwaitingWinner, tally, &testEndsAt, nil)
}

// dispatchToContacts sends one variant to the given contacts, recording an
// exposure row per successful send. Unsubscribe status is re-checked
// immediately before every send; an unsubscribed contact is counted in
// neither Sent nor Failed.
func (s *BroadcastScheduler) dispatchToContacts(ctx context.Context, b *models.Broadcast, audience []models.Contact, variant string) SendTally {
	return dispatchVariant(ctx, variantDispatch{
		broadcast:  b,
		variant:    variant,
		audience:   audience,
		store:      s.store,
		contacts:   s.contacts,
		dispatcher: s.dispatcher,
		tracker:    s.tracker,
		logger:     s.logger,
		now:        s.Now,
	})
}

type variantDispatch struct {
	broadcast  *models.Broadcast
	variant    string
	audience   []models.Contact
	store      BroadcastStore
	contacts   ContactStore
	dispatcher Dispatcher
	tracker    TrackingDecorator
	logger     *logrus.Entry
	now        func() time.Time
}

// dispatchVariant is shared between the scheduler's main path and the winner
// check's remainder path; both must apply the same unsubscribe and counting
// rules.
func dispatchVariant(ctx context.Context, d variantDispatch) SendTally {
	var tally SendTally
	subject, body := variantContent(d.broadcast, d.variant)

	for i := range d.audience {
		contact := &d.audience[i]
		tally.Recipients++

		// A contact who unsubscribed between scheduling and send time is
		// silently skipped.
		unsubscribed, err := d.contacts.IsUnsubscribed(contact.ID)
		if err != nil {
			d.logger.WithError(err).WithField("contact_id", contact.ID).Error("unsubscribe check failed")
			tally.Failed++
			continue
		}
		if unsubscribed || contact.IsUnsubscribed {
			tally.Skipped++
			continue
		}

		address := contact.Email
		if d.broadcast.Channel == models.ChannelSMS {
			address = contact.Phone
		}
		if address == "" {
			tally.Skipped++
			continue
		}

		// The message ID is minted before the send so the tracking links
		// baked into the body match the recipient row written below.
		messageID := uuid.New().String()
		renderedBody := renderTemplate(body, contact)
		if d.broadcast.Channel == models.ChannelEmail && d.tracker != nil {
			renderedBody = d.tracker.Decorate(renderedBody, messageID, contact.ID)
		}

		res := d.dispatcher.Dispatch(ctx, d.broadcast.Channel, address,
			renderTemplate(subject, contact), renderedBody)
		if !res.Success {
			if res.Permanent {
				tally.Skipped++
			} else {
				tally.Failed++
			}
			continue
		}

		sentAt := d.now()
		recipient := models.BroadcastRecipient{
			BroadcastID: d.broadcast.ID,
			ContactID:   contact.ID,
			Variant:     d.variant,
			MessageID:   messageID,
			SentAt:      &sentAt,
		}
		if err := d.store.CreateRecipient(&recipient); err != nil {
			// Without the exposure row the winner check cannot see this
			// contact; count the send as failed so the tally reflects it.
			d.logger.WithError(err).WithField("contact_id", contact.ID).Error("failed to record recipient")
			tally.Failed++
			continue
		}
		tally.Sent++
	}
	return tally
}

// variantContent returns the subject and body for the given variant.
func variantContent(b *models.Broadcast, variant string) (string, string) {
	if variant == models.VariantB {
		return b.SubjectB, b.BodyB
	}
	return b.SubjectA, b.BodyA
}

func (t *SendTally) addTally(other SendTally) {
	t.Recipients += other.Recipients
	t.Sent += other.Sent
	t.Failed += other.Failed
	t.Skipped += other.Skipped
}
