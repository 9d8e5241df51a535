package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Contact represents a single contact/lead belonging to a tenant.
type Contact struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email     string `gorm:"not null;index" json:"email"`
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`

	// Tags is a comma-separated tag list, matched as an OR-filter by the
	// audience resolver.
	Tags string `gorm:"index" json:"tags"`

	// Status
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`

	Source string `json:"source"` // manual, csv, api, website
}

// TagList splits the stored tag string into trimmed, non-empty tags.
func (c *Contact) TagList() []string {
	var tags []string
	for _, t := range strings.Split(c.Tags, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// HasAnyTag reports whether the contact carries at least one of the given tags.
func (c *Contact) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	own := c.TagList()
	for _, want := range tags {
		for _, t := range own {
			if strings.EqualFold(t, want) {
				return true
			}
		}
	}
	return false
}

// Unsubscribe records an opt-out event for auditing. The authoritative flag
// lives on the contact row; these rows keep the who/when/why.
type Unsubscribe struct {
	gorm.Model
	UserID    uint   `gorm:"not null;index" json:"user_id"`
	ContactID uint   `gorm:"not null;index" json:"contact_id"`
	Email     string `gorm:"not null;index" json:"email"`

	BroadcastID *uint  `json:"broadcast_id,omitempty"`
	Reason      string `json:"reason"`
	IPAddress   string `json:"ip_address"`
	UserAgent   string `json:"user_agent"`

	UnsubscribedAt time.Time `json:"unsubscribed_at"`
}
