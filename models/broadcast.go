package models

import (
	"time"

	"gorm.io/gorm"
)

// Broadcast statuses. Scheduled broadcasts move
// scheduled -> sending -> sent, or for two-variant broadcasts
// scheduled -> sending -> awaiting_winner -> sending -> sent.
const (
	BroadcastDraft          = "draft"
	BroadcastScheduled      = "scheduled"
	BroadcastSending        = "sending"
	BroadcastAwaitingWinner = "awaiting_winner"
	BroadcastSent           = "sent"
	BroadcastFailed         = "failed"
)

// Broadcast channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// A/B variants.
const (
	VariantA = "A"
	VariantB = "B"
)

// Broadcast represents a one-time send to a tag-filtered audience, with an
// optional second content variant for A/B testing.
type Broadcast struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name string `gorm:"not null" json:"name"`

	// AudienceSpec is the encoded audience filter: "tags:t1,t2|platform:p".
	AudienceSpec string `gorm:"not null" json:"audience_spec"`
	Channel      string `gorm:"not null;default:'email'" json:"channel"`

	// Variant A content. Subject is ignored for SMS.
	SubjectA string `json:"subject_a"`
	BodyA    string `gorm:"type:text" json:"body_a"`

	// Variant B content; present only when IsABTest is set.
	IsABTest bool   `gorm:"default:false" json:"is_ab_test"`
	SubjectB string `json:"subject_b"`
	BodyB    string `gorm:"type:text" json:"body_b"`

	Status      string     `gorm:"not null;default:'draft';index" json:"status"`
	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// A/B state. TestPhaseEndsAt is set when the test split finishes sending;
	// the winner check acts once it elapses. WinnerVariant is immutable after
	// resolution.
	TestPhaseEndsAt *time.Time `gorm:"index" json:"test_phase_ends_at"`
	WinnerVariant   string     `json:"winner_variant"`

	// Statistics (denormalized for performance)
	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	SentCount       int `gorm:"default:0" json:"sent_count"`
	FailedCount     int `gorm:"default:0" json:"failed_count"`
	OpenCount       int `gorm:"default:0" json:"open_count"`
	ClickCount      int `gorm:"default:0" json:"click_count"`

	LastError string `json:"last_error,omitempty"`

	// Relations
	Recipients []BroadcastRecipient `gorm:"foreignKey:BroadcastID" json:"recipients,omitempty"`
}

// BroadcastRecipient records one exposure of one contact to a broadcast. The
// variant is assigned at send time and never changes afterward; open/click
// timestamps feed the A/B winner resolution.
type BroadcastRecipient struct {
	gorm.Model
	BroadcastID uint `gorm:"not null;index:idx_recipient_broadcast_contact,unique" json:"broadcast_id"`
	ContactID   uint `gorm:"not null;index:idx_recipient_broadcast_contact,unique" json:"contact_id"`

	Variant   string `gorm:"not null;default:'A'" json:"variant"`
	MessageID string `gorm:"not null;uniqueIndex" json:"message_id"`

	SentAt     *time.Time `json:"sent_at"`
	OpenedAt   *time.Time `json:"opened_at"`
	OpenCount  int        `gorm:"default:0" json:"open_count"`
	ClickedAt  *time.Time `json:"clicked_at"`
	ClickCount int        `gorm:"default:0" json:"click_count"`
}
