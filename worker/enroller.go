package worker

import (
	"fmt"

	"naviai/models"

	"github.com/sirupsen/logrus"
)

// Enroller reacts to triggering events by creating enrollments. V1 has one
// trigger: a new lead being added.
type Enroller struct {
	store  EnrollerStore
	logger *logrus.Entry
}

func NewEnroller(store EnrollerStore, logger *logrus.Entry) *Enroller {
	return &Enroller{store: store, logger: logger}
}

// EnrollNewLead enrolls the contact into every active sequence of the tenant
// triggered by new_lead_added. Re-triggering never creates a second active
// enrollment for the same sequence and contact; completed or canceled
// enrollments do not block re-enrollment.
func (e *Enroller) EnrollNewLead(userID, contactID uint) (int, error) {
	sequences, err := e.store.ActiveSequencesByTrigger(userID, models.TriggerNewLeadAdded)
	if err != nil {
		return 0, fmt.Errorf("fetching triggered sequences: %w", err)
	}

	enrolled := 0
	for _, seq := range sequences {
		exists, err := e.store.HasActiveEnrollment(seq.ID, contactID)
		if err != nil {
			e.logger.WithError(err).WithField("sequence_id", seq.ID).Error("failed to check existing enrollment")
			continue
		}
		if exists {
			continue
		}

		enrollment := models.Enrollment{
			SequenceID:       seq.ID,
			ContactID:        contactID,
			UserID:           userID,
			CurrentStepOrder: models.StepOrderNone,
			NextStepAt:       nil, // due immediately
			Status:           models.EnrollmentActive,
		}
		if err := e.store.CreateEnrollment(&enrollment); err != nil {
			e.logger.WithError(err).WithField("sequence_id", seq.ID).Error("failed to create enrollment")
			continue
		}
		enrolled++
		e.logger.WithFields(logrus.Fields{
			"sequence_id": seq.ID,
			"contact_id":  contactID,
		}).Info("contact enrolled")
	}
	return enrolled, nil
}
