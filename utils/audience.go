package utils

import (
	"strings"

	"naviai/models"

	"gorm.io/gorm"
)

// AudienceSpec is the decoded form of the "tags:t1,t2|platform:p" filter
// string. Tags are OR-matched: any tag match qualifies a contact. Platform is
// an optional qualifier used only by review-request campaigns.
type AudienceSpec struct {
	Tags     []string
	Platform string
}

// ParseAudienceSpec decodes an audience filter string. Unknown segments are
// ignored; an empty spec matches every contact.
func ParseAudienceSpec(spec string) AudienceSpec {
	var parsed AudienceSpec
	for _, segment := range strings.Split(spec, "|") {
		segment = strings.TrimSpace(segment)
		switch {
		case strings.HasPrefix(segment, "tags:"):
			for _, tag := range strings.Split(strings.TrimPrefix(segment, "tags:"), ",") {
				tag = strings.TrimSpace(tag)
				if tag != "" {
					parsed.Tags = append(parsed.Tags, tag)
				}
			}
		case strings.HasPrefix(segment, "platform:"):
			parsed.Platform = strings.TrimSpace(strings.TrimPrefix(segment, "platform:"))
		}
	}
	return parsed
}

// ContactResolver resolves audience specs to concrete recipient lists,
// excluding unsubscribed contacts by default.
type ContactResolver struct {
	DB *gorm.DB
}

func NewContactResolver(db *gorm.DB) *ContactResolver {
	return &ContactResolver{DB: db}
}

func (r *ContactResolver) Resolve(userID uint, spec string) ([]models.Contact, error) {
	parsed := ParseAudienceSpec(spec)

	var contacts []models.Contact
	err := r.DB.
		Where("user_id = ? AND is_unsubscribed = ? AND is_bounced = ?", userID, false, false).
		Order("id").
		Find(&contacts).Error
	if err != nil {
		return nil, err
	}

	if len(parsed.Tags) == 0 {
		return contacts, nil
	}

	var matched []models.Contact
	for _, c := range contacts {
		if c.HasAnyTag(parsed.Tags) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}
