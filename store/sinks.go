package store

import (
	"strconv"
	"time"

	"naviai/models"
	"naviai/worker"

	"gorm.io/gorm"
)

// Sinks map fetched external items onto local rows. Each local table carries
// a unique (source_id, external_id) index, so even a concurrent replay of the
// same window cannot produce duplicates: the second insert fails and the
// poller logs it without advancing past the item.

// InboxSink persists fetched inbound emails.
type InboxSink struct {
	db *gorm.DB
}

func NewInboxSink(db *gorm.DB) *InboxSink {
	return &InboxSink{db: db}
}

func (s *InboxSink) Exists(sourceID uint, externalID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.InboxMessage{}).
		Where("source_id = ? AND external_id = ?", sourceID, externalID).
		Count(&count).Error
	return count > 0, err
}

func (s *InboxSink) Ingest(src models.PollSource, item worker.ExternalItem) error {
	msg := models.InboxMessage{
		UserID:      src.UserID,
		SourceID:    src.ID,
		ExternalID:  item.ExternalID,
		FromAddress: item.Fields["from"],
		ToAddress:   item.Fields["to"],
		Subject:     item.Fields["subject"],
		Body:        item.Fields["body"],
		BodyHTML:    item.Fields["body_html"],
		ReceivedAt:  item.OccurredAt,
	}
	return s.db.Create(&msg).Error
}

// ReviewSink persists fetched platform reviews.
type ReviewSink struct {
	db *gorm.DB
}

func NewReviewSink(db *gorm.DB) *ReviewSink {
	return &ReviewSink{db: db}
}

func (s *ReviewSink) Exists(sourceID uint, externalID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.Review{}).
		Where("source_id = ? AND external_id = ?", sourceID, externalID).
		Count(&count).Error
	return count > 0, err
}

func (s *ReviewSink) Ingest(src models.PollSource, item worker.ExternalItem) error {
	rating, _ := strconv.Atoi(item.Fields["rating"])
	review := models.Review{
		UserID:       src.UserID,
		SourceID:     src.ID,
		ExternalID:   item.ExternalID,
		Platform:     src.Platform,
		ReviewerName: item.Fields["reviewer"],
		Rating:       rating,
		Comment:      item.Fields["comment"],
		ReviewedAt:   item.OccurredAt,
	}
	return s.db.Create(&review).Error
}

// RankSink persists keyword rank snapshots together with the domain audit
// extras the fetcher collected.
type RankSink struct {
	db *gorm.DB
}

func NewRankSink(db *gorm.DB) *RankSink {
	return &RankSink{db: db}
}

func (s *RankSink) Exists(sourceID uint, externalID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.RankSnapshot{}).
		Where("source_id = ? AND external_id = ?", sourceID, externalID).
		Count(&count).Error
	return count > 0, err
}

func (s *RankSink) Ingest(src models.PollSource, item worker.ExternalItem) error {
	position, _ := strconv.Atoi(item.Fields["position"])
	snapshot := models.RankSnapshot{
		UserID:          src.UserID,
		SourceID:        src.ID,
		ExternalID:      item.ExternalID,
		Keyword:         item.Fields["keyword"],
		Position:        position,
		CapturedAt:      item.OccurredAt,
		DomainRegistrar: item.Fields["registrar"],
	}
	if raw := item.Fields["domain_expires_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			snapshot.DomainExpiresAt = &t
		}
	}
	return s.db.Create(&snapshot).Error
}
