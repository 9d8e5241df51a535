package worker

import (
	"context"
	"fmt"
	"time"

	"naviai/models"

	"github.com/sirupsen/logrus"
)

// WinnerChecker resolves two-variant broadcasts whose test phase has elapsed:
// it picks the variant with the higher open rate (ties go to A), then sends
// the winning content to the rest of the audience.
type WinnerChecker struct {
	store      BroadcastStore
	contacts   ContactStore
	resolver   AudienceResolver
	dispatcher Dispatcher
	tracker    TrackingDecorator
	logger     *logrus.Entry

	Now func() time.Time
}

func NewWinnerChecker(store BroadcastStore, contacts ContactStore, resolver AudienceResolver, dispatcher Dispatcher, tracker TrackingDecorator, logger *logrus.Entry) *WinnerChecker {
	return &WinnerChecker{
		store:      store,
		contacts:   contacts,
		resolver:   resolver,
		dispatcher: dispatcher,
		tracker:    tracker,
		logger:     logger,
		Now:        time.Now,
	}
}

// Run resolves every broadcast whose winner window has elapsed.
func (w *WinnerChecker) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	now := w.Now()

	due, err := w.store.DueWinnerChecks(now)
	if err != nil {
		return sum, fmt.Errorf("fetching due winner checks: %w", err)
	}

	for _, b := range due {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Processed++

		claimed, err := w.store.ClaimBroadcast(b.ID, models.BroadcastAwaitingWinner, models.BroadcastSending, now)
		if err != nil {
			w.logger.WithError(err).WithField("broadcast_id", b.ID).Error("failed to claim broadcast")
			sum.Failed++
			continue
		}
		if !claimed {
			sum.Skipped++
			continue
		}

		if err := w.resolveAndSendRemainder(ctx, b); err != nil {
			w.logger.WithError(err).WithField("broadcast_id", b.ID).Error("winner resolution failed")
			if mErr := w.store.MarkBroadcastFailed(b.ID, err.Error()); mErr != nil {
				w.logger.WithError(mErr).WithField("broadcast_id", b.ID).Error("failed to mark broadcast failed")
			}
			sum.Failed++
			continue
		}
		sum.Succeeded++
	}
	return sum, nil
}

func (w *WinnerChecker) resolveAndSendRemainder(ctx context.Context, b models.Broadcast) error {
	stats, err := w.store.VariantOpenStats(b.ID)
	if err != nil {
		return fmt.Errorf("reading variant stats: %w", err)
	}

	winner := pickWinner(stats)
	if err := w.store.SetWinner(b.ID, winner); err != nil {
		return fmt.Errorf("recording winner: %w", err)
	}
	w.logger.WithFields(logrus.Fields{
		"broadcast_id": b.ID,
		"winner":       winner,
		"open_rate_a":  stats[models.VariantA].OpenRate(),
		"open_rate_b":  stats[models.VariantB].OpenRate(),
	}).Info("A/B winner resolved")

	audience, err := w.resolver.Resolve(b.UserID, b.AudienceSpec)
	if err != nil {
		return fmt.Errorf("resolving audience: %w", err)
	}

	already, err := w.store.RecipientContactIDs(b.ID)
	if err != nil {
		return fmt.Errorf("reading existing recipients: %w", err)
	}

	var remainder []models.Contact
	for _, c := range audience {
		if !already[c.ID] {
			remainder = append(remainder, c)
		}
	}

	tally := dispatchVariant(ctx, variantDispatch{
		broadcast:  &b,
		variant:    winner,
		audience:   remainder,
		store:      w.store,
		contacts:   w.contacts,
		dispatcher: w.dispatcher,
		tracker:    w.tracker,
		logger:     w.logger,
		now:        w.Now,
	})

	completedAt := w.Now()
	return w.store.FinishBroadcastSend(b.ID, models.BroadcastSent, tally, nil, &completedAt)
}

// pickWinner returns the variant with the higher open rate. Equal rates pick
// variant A; this tie-break is deliberate and relied upon by callers.
func pickWinner(stats map[string]VariantStats) string {
	if stats[models.VariantB].OpenRate() > stats[models.VariantA].OpenRate() {
		return models.VariantB
	}
	return models.VariantA
}
