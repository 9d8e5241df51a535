package worker

import (
	"context"
	"fmt"
	"time"

	"naviai/models"

	"github.com/sirupsen/logrus"
)

// AutomationEngine advances due enrollments by at most one step per
// invocation. It is stateless between runs; all progress lives in the
// enrollment rows, and every advance is a conditional update so overlapping
// invocations cannot double-execute a step.
type AutomationEngine struct {
	store      EnrollmentStore
	contacts   ContactStore
	dispatcher Dispatcher
	logger     *logrus.Entry

	// Now is swappable for tests.
	Now func() time.Time
}

func NewAutomationEngine(store EnrollmentStore, contacts ContactStore, dispatcher Dispatcher, logger *logrus.Entry) *AutomationEngine {
	return &AutomationEngine{
		store:      store,
		contacts:   contacts,
		dispatcher: dispatcher,
		logger:     logger,
		Now:        time.Now,
	}
}

// Run processes every due enrollment once. Per-enrollment failures are logged
// and tallied but never abort the batch; only a failure to read the due set
// is a job-level error.
func (e *AutomationEngine) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	now := e.Now()

	due, err := e.store.DueEnrollments(now)
	if err != nil {
		return sum, fmt.Errorf("fetching due enrollments: %w", err)
	}

	for _, enrollment := range due {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Processed++
		sum.add(e.processEnrollment(ctx, enrollment, now))
	}
	return sum, nil
}

func (e *AutomationEngine) processEnrollment(ctx context.Context, en models.Enrollment, now time.Time) Summary {
	log := e.logger.WithFields(logrus.Fields{
		"enrollment_id": en.ID,
		"sequence_id":   en.SequenceID,
		"contact_id":    en.ContactID,
	})

	contact, err := e.contacts.ContactByID(en.ContactID)
	if err != nil {
		log.WithError(err).Error("failed to load contact")
		return Summary{Failed: 1}
	}

	// Unsubscribe always takes precedence over pending steps, silently.
	if contact.IsUnsubscribed {
		ok, err := e.store.CancelEnrollment(en.ID, en.CurrentStepOrder, "contact unsubscribed", now)
		if err != nil {
			log.WithError(err).Error("failed to cancel enrollment")
			return Summary{Failed: 1}
		}
		if !ok {
			return Summary{Skipped: 1}
		}
		log.Info("enrollment canceled: contact unsubscribed")
		return Summary{Succeeded: 1}
	}

	step, err := e.store.NextStep(en.SequenceID, en.CurrentStepOrder)
	if err != nil {
		log.WithError(err).Error("failed to load next step")
		return Summary{Failed: 1}
	}
	if step == nil {
		ok, err := e.store.CompleteEnrollment(en.ID, en.CurrentStepOrder, now)
		if err != nil {
			log.WithError(err).Error("failed to complete enrollment")
			return Summary{Failed: 1}
		}
		if !ok {
			return Summary{Skipped: 1}
		}
		log.Info("enrollment completed")
		return Summary{Succeeded: 1}
	}

	switch step.StepType {
	case models.StepWait:
		nextAt := now.Add(time.Duration(step.WaitDays) * 24 * time.Hour)
		ok, err := e.store.AdvanceStep(en.ID, en.CurrentStepOrder, step.StepOrder, nextAt)
		if err != nil {
			log.WithError(err).Error("failed to advance wait step")
			return Summary{Failed: 1}
		}
		if !ok {
			return Summary{Skipped: 1}
		}
		return Summary{Succeeded: 1}

	case models.StepSendEmail, models.StepSendSMS:
		return e.executeSendStep(ctx, en, step, contact, now, log)

	default:
		// Unknown types cannot exist past authoring-time validation; if one
		// slips through, cancel rather than spin forever.
		log.WithField("step_type", step.StepType).Error("unknown step type")
		ok, err := e.store.CancelEnrollment(en.ID, en.CurrentStepOrder, "unknown step type "+step.StepType, now)
		if err != nil || !ok {
			return Summary{Failed: 1}
		}
		return Summary{Failed: 1}
	}
}

func (e *AutomationEngine) executeSendStep(ctx context.Context, en models.Enrollment, step *models.AutomationStep, contact *models.Contact, now time.Time, log *logrus.Entry) Summary {
	channel := models.ChannelEmail
	address := contact.Email
	if step.StepType == models.StepSendSMS {
		channel = models.ChannelSMS
		address = contact.Phone
	}

	if address == "" {
		// Permanent recipient failure: nothing to retry against.
		ok, err := e.store.CancelEnrollment(en.ID, en.CurrentStepOrder, "contact has no "+channel+" address", now)
		if err != nil {
			log.WithError(err).Error("failed to cancel enrollment")
			return Summary{Failed: 1}
		}
		if !ok {
			return Summary{Skipped: 1}
		}
		return Summary{Skipped: 1}
	}

	subject := renderTemplate(step.Subject, contact)
	body := renderTemplate(step.Body, contact)

	res := e.dispatcher.Dispatch(ctx, channel, address, subject, body)
	if !res.Success {
		return e.recordDispatchFailure(en, res, now, log)
	}

	// Immediately eligible for the following step on the next cycle.
	ok, err := e.store.AdvanceStep(en.ID, en.CurrentStepOrder, step.StepOrder, now)
	if err != nil {
		log.WithError(err).Error("failed to advance send step")
		return Summary{Failed: 1}
	}
	if !ok {
		// Another invocation already handled this row.
		return Summary{Skipped: 1}
	}
	log.WithFields(logrus.Fields{"step_order": step.StepOrder, "channel": channel}).Info("step dispatched")
	return Summary{Succeeded: 1}
}

func (e *AutomationEngine) recordDispatchFailure(en models.Enrollment, res DispatchResult, now time.Time, log *logrus.Entry) Summary {
	errMsg := "dispatch failed"
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	if res.Permanent {
		ok, err := e.store.CancelEnrollment(en.ID, en.CurrentStepOrder, errMsg, now)
		if err != nil {
			log.WithError(err).Error("failed to cancel enrollment")
			return Summary{Failed: 1}
		}
		if !ok {
			return Summary{Skipped: 1}
		}
		log.WithField("error", errMsg).Info("enrollment canceled: permanent recipient failure")
		return Summary{Skipped: 1}
	}

	attempts := en.FailCount + 1
	if attempts >= MaxDispatchAttempts {
		ok, err := e.store.CancelEnrollment(en.ID, en.CurrentStepOrder, "dispatch retries exhausted: "+errMsg, now)
		if err != nil {
			log.WithError(err).Error("failed to cancel enrollment")
		}
		if ok {
			log.WithField("attempts", attempts).Warn("enrollment canceled: dispatch retries exhausted")
		}
		return Summary{Failed: 1}
	}

	retryAt := now.Add(retryDelay(attempts))
	ok, err := e.store.RecordStepFailure(en.ID, en.CurrentStepOrder, errMsg, retryAt)
	if err != nil {
		log.WithError(err).Error("failed to record step failure")
	}
	if ok {
		log.WithFields(logrus.Fields{"attempt": attempts, "retry_at": retryAt}).Warn("dispatch failed, will retry")
	}
	return Summary{Failed: 1}
}
