package store

import (
	"errors"
	"time"

	"naviai/models"
	"naviai/worker"

	"gorm.io/gorm"
)

// GormStore implements the worker store interfaces on top of GORM. Every
// state transition the engine relies on is a conditional UPDATE whose WHERE
// clause re-checks the state the caller read; RowsAffected == 0 means the row
// moved underneath us and the caller must treat it as a lost race.
type GormStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// ──────────────────────────────────────────────────
// EnrollmentStore
// ──────────────────────────────────────────────────

func (s *GormStore) DueEnrollments(now time.Time) ([]models.Enrollment, error) {
	var rows []models.Enrollment
	err := s.db.
		Where("status = ? AND (next_step_at IS NULL OR next_step_at <= ?)", models.EnrollmentActive, now).
		Order("id").
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) NextStep(sequenceID uint, afterOrder int) (*models.AutomationStep, error) {
	var step models.AutomationStep
	err := s.db.
		Where("sequence_id = ? AND step_order > ?", sequenceID, afterOrder).
		Order("step_order ASC").
		First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (s *GormStore) AdvanceStep(id uint, expectedOrder, newOrder int, nextAt time.Time) (bool, error) {
	res := s.db.Model(&models.Enrollment{}).
		Where("id = ? AND status = ? AND current_step_order = ?", id, models.EnrollmentActive, expectedOrder).
		Updates(map[string]interface{}{
			"current_step_order": newOrder,
			"next_step_at":       nextAt,
			"fail_count":         0,
			"last_error":         "",
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) CompleteEnrollment(id uint, expectedOrder int, now time.Time) (bool, error) {
	res := s.db.Model(&models.Enrollment{}).
		Where("id = ? AND status = ? AND current_step_order = ?", id, models.EnrollmentActive, expectedOrder).
		Updates(map[string]interface{}{
			"status":       models.EnrollmentCompleted,
			"completed_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) CancelEnrollment(id uint, expectedOrder int, reason string, now time.Time) (bool, error) {
	res := s.db.Model(&models.Enrollment{}).
		Where("id = ? AND status = ? AND current_step_order = ?", id, models.EnrollmentActive, expectedOrder).
		Updates(map[string]interface{}{
			"status":       models.EnrollmentCanceled,
			"last_error":   reason,
			"completed_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) RecordStepFailure(id uint, expectedOrder int, errMsg string, retryAt time.Time) (bool, error) {
	res := s.db.Model(&models.Enrollment{}).
		Where("id = ? AND status = ? AND current_step_order = ?", id, models.EnrollmentActive, expectedOrder).
		Updates(map[string]interface{}{
			"fail_count":   gorm.Expr("fail_count + ?", 1),
			"last_error":   errMsg,
			"next_step_at": retryAt,
		})
	return res.RowsAffected > 0, res.Error
}

// ──────────────────────────────────────────────────
// EnrollerStore
// ──────────────────────────────────────────────────

func (s *GormStore) ActiveSequencesByTrigger(userID uint, trigger string) ([]models.AutomationSequence, error) {
	var rows []models.AutomationSequence
	err := s.db.
		Where("user_id = ? AND trigger_type = ? AND is_active = ?", userID, trigger, true).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) HasActiveEnrollment(sequenceID, contactID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.Enrollment{}).
		Where("sequence_id = ? AND contact_id = ? AND status = ?", sequenceID, contactID, models.EnrollmentActive).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) CreateEnrollment(e *models.Enrollment) error {
	return s.db.Create(e).Error
}

// ──────────────────────────────────────────────────
// ContactStore
// ──────────────────────────────────────────────────

func (s *GormStore) ContactByID(id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.First(&contact, id).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *GormStore) IsUnsubscribed(contactID uint) (bool, error) {
	var contact models.Contact
	if err := s.db.Select("is_unsubscribed").First(&contact, contactID).Error; err != nil {
		return false, err
	}
	return contact.IsUnsubscribed, nil
}

// ──────────────────────────────────────────────────
// BroadcastStore
// ──────────────────────────────────────────────────

func (s *GormStore) DueBroadcasts(now time.Time) ([]models.Broadcast, error) {
	var rows []models.Broadcast
	err := s.db.
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", models.BroadcastScheduled, now).
		Order("scheduled_at").
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) DueWinnerChecks(now time.Time) ([]models.Broadcast, error) {
	var rows []models.Broadcast
	err := s.db.
		Where("status = ? AND test_phase_ends_at IS NOT NULL AND test_phase_ends_at <= ?", models.BroadcastAwaitingWinner, now).
		Order("test_phase_ends_at").
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) ClaimBroadcast(id uint, from, to string, now time.Time) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if from == models.BroadcastScheduled && to == models.BroadcastSending {
		updates["started_at"] = now
	}
	res := s.db.Model(&models.Broadcast{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) FinishBroadcastSend(id uint, to string, tally worker.SendTally, testEndsAt, completedAt *time.Time) error {
	updates := map[string]interface{}{
		"status":           to,
		"total_recipients": gorm.Expr("total_recipients + ?", tally.Recipients),
		"sent_count":       gorm.Expr("sent_count + ?", tally.Sent),
		"failed_count":     gorm.Expr("failed_count + ?", tally.Failed),
	}
	if testEndsAt != nil {
		updates["test_phase_ends_at"] = *testEndsAt
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	return s.db.Model(&models.Broadcast{}).Where("id = ?", id).Updates(updates).Error
}

func (s *GormStore) MarkBroadcastFailed(id uint, errMsg string) error {
	return s.db.Model(&models.Broadcast{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.BroadcastFailed,
			"last_error": errMsg,
		}).Error
}

func (s *GormStore) SetWinner(id uint, variant string) error {
	return s.db.Model(&models.Broadcast{}).
		Where("id = ?", id).
		Update("winner_variant", variant).Error
}

func (s *GormStore) CreateRecipient(r *models.BroadcastRecipient) error {
	return s.db.Create(r).Error
}

func (s *GormStore) RecipientContactIDs(broadcastID uint) (map[uint]bool, error) {
	var ids []uint
	err := s.db.Model(&models.BroadcastRecipient{}).
		Where("broadcast_id = ?", broadcastID).
		Pluck("contact_id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (s *GormStore) VariantOpenStats(broadcastID uint) (map[string]worker.VariantStats, error) {
	var rows []struct {
		Variant string
		Sent    int
		Opened  int
	}
	err := s.db.Raw(`
        SELECT
            variant,
            COUNT(*) AS sent,
            SUM(CASE WHEN opened_at IS NOT NULL THEN 1 ELSE 0 END) AS opened
        FROM broadcast_recipients
        WHERE broadcast_id = ? AND deleted_at IS NULL
        GROUP BY variant
    `, broadcastID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[string]worker.VariantStats, len(rows))
	for _, r := range rows {
		stats[r.Variant] = worker.VariantStats{Sent: r.Sent, Opened: r.Opened}
	}
	return stats, nil
}

// ──────────────────────────────────────────────────
// SourceStore
// ──────────────────────────────────────────────────

func (s *GormStore) ActiveSources(kind string) ([]models.PollSource, error) {
	var rows []models.PollSource
	err := s.db.
		Where("kind = ? AND status = ?", kind, models.SourceActive).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) AdvanceCheckpoint(sourceID uint, checkedAt time.Time) error {
	return s.db.Model(&models.PollSource{}).
		Where("id = ?", sourceID).
		Updates(map[string]interface{}{
			"last_checked_at": checkedAt,
			"last_error":      "",
		}).Error
}

func (s *GormStore) MarkSourceInactive(sourceID uint, reason string) error {
	return s.db.Model(&models.PollSource{}).
		Where("id = ?", sourceID).
		Updates(map[string]interface{}{
			"status":     models.SourceInactive,
			"last_error": reason,
		}).Error
}

func (s *GormStore) RecordSourceError(sourceID uint, reason string) error {
	return s.db.Model(&models.PollSource{}).
		Where("id = ?", sourceID).
		Update("last_error", reason).Error
}

// ──────────────────────────────────────────────────
// JobRunStore
// ──────────────────────────────────────────────────

func (s *GormStore) CreateJobRun(run *models.JobRun) error {
	return s.db.Create(run).Error
}

func (s *GormStore) FinishJobRun(id uint, status, errMsg string, sum worker.Summary, finishedAt time.Time) error {
	return s.db.Model(&models.JobRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"error":       errMsg,
			"finished_at": finishedAt,
			"processed":   sum.Processed,
			"succeeded":   sum.Succeeded,
			"failed":      sum.Failed,
			"skipped":     sum.Skipped,
		}).Error
}
