package models

import (
	"time"

	"gorm.io/gorm"
)

// Poll source kinds.
const (
	SourceInbox  = "inbox"
	SourceReview = "review"
	SourceRank   = "rank"
)

// Poll source statuses. A source is marked inactive on auth failure and stays
// that way until reconnected through the API.
const (
	SourceActive   = "active"
	SourceInactive = "inactive"
)

// PollSource is one registered external source the polling dispatcher walks:
// an IMAP mailbox, a review platform connection, or a tracked domain for rank
// snapshots. LastCheckedAt is the durable checkpoint; it is advanced only
// after the fetched items persisted.
type PollSource struct {
	gorm.Model
	UserID uint   `gorm:"not null;index" json:"user_id"`
	Kind   string `gorm:"not null;index" json:"kind"`
	Name   string `gorm:"not null" json:"name"`

	Status    string `gorm:"not null;default:'active';index" json:"status"`
	LastError string `json:"last_error,omitempty"`

	// Checkpoint
	LastCheckedAt *time.Time `json:"last_checked_at"`

	// IMAP connection settings (inbox sources)
	IMAPHost       string `json:"imap_host,omitempty"`
	IMAPPort       int    `json:"imap_port,omitempty"`
	IMAPUsername   string `json:"imap_username,omitempty"`
	IMAPPassword   string `json:"-"`
	IMAPEncryption string `json:"imap_encryption,omitempty"` // SSL, TLS, STARTTLS
	IMAPMailbox    string `json:"imap_mailbox,omitempty"`

	// HTTP API settings (review and rank sources)
	Endpoint string `json:"endpoint,omitempty"`
	Platform string `json:"platform,omitempty"` // google, facebook, yelp
	Domain   string `json:"domain,omitempty"`   // rank sources: the audited site
	Keywords string `json:"keywords,omitempty"` // rank sources: comma-separated

	// OAuth token state for HTTP sources. Expiry with no refresh token means
	// the source needs a reconnect.
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"token_expiry,omitempty"`
}

// InboxMessage is an ingested inbound email. The (source_id, external_id)
// unique index is the idempotent-ingestion guard: re-polling the same window
// can never create a second row for the same message.
type InboxMessage struct {
	gorm.Model
	UserID   uint `gorm:"not null;index" json:"user_id"`
	SourceID uint `gorm:"not null;index:idx_inbox_source_external,unique" json:"source_id"`

	ExternalID string `gorm:"not null;index:idx_inbox_source_external,unique" json:"external_id"`

	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Subject     string    `json:"subject"`
	Body        string    `gorm:"type:text" json:"body"`
	BodyHTML    string    `gorm:"type:text" json:"body_html"`
	ReceivedAt  time.Time `json:"received_at"`
	IsRead      bool      `gorm:"default:false" json:"is_read"`
}

// Review is an ingested platform review, deduplicated the same way.
type Review struct {
	gorm.Model
	UserID   uint `gorm:"not null;index" json:"user_id"`
	SourceID uint `gorm:"not null;index:idx_review_source_external,unique" json:"source_id"`

	ExternalID string `gorm:"not null;index:idx_review_source_external,unique" json:"external_id"`

	Platform     string    `json:"platform"`
	ReviewerName string    `json:"reviewer_name"`
	Rating       int       `json:"rating"`
	Comment      string    `gorm:"type:text" json:"comment"`
	ReviewedAt   time.Time `json:"reviewed_at"`

	ReplyText string     `gorm:"type:text" json:"reply_text"`
	RepliedAt *time.Time `json:"replied_at"`
}

// RankSnapshot is one keyword position measurement for a rank source.
// ExternalID is keyword plus capture date, so one snapshot per keyword per day.
type RankSnapshot struct {
	gorm.Model
	UserID   uint `gorm:"not null;index" json:"user_id"`
	SourceID uint `gorm:"not null;index:idx_rank_source_external,unique" json:"source_id"`

	ExternalID string `gorm:"not null;index:idx_rank_source_external,unique" json:"external_id"`

	Keyword    string    `gorm:"not null;index" json:"keyword"`
	Position   int       `json:"position"`
	CapturedAt time.Time `json:"captured_at"`

	// Domain audit extras recorded alongside the snapshot.
	DomainRegistrar string     `json:"domain_registrar,omitempty"`
	DomainExpiresAt *time.Time `json:"domain_expires_at,omitempty"`
}
