package controller

import (
	"fmt"
	"log"
	"net/url"
	"time"

	"naviai/models"
	"naviai/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// transparent 1x1 GIF served to open-tracking pixels
var trackingPixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x21, 0xF9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3B,
}

type TrackingController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTrackingController(db *gorm.DB, logger *log.Logger) *TrackingController {
	return &TrackingController{
		DB:     db,
		Logger: logger,
	}
}

// HandleOpenTracking records an email open and serves the pixel. The pixel is
// served even on bad tokens or unknown message IDs so broken links never show
// up in recipients' mail clients.
func (tc *TrackingController) HandleOpenTracking(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")

	if utils.VerifyTrackingToken(messageID, token) {
		tc.recordOpen(messageID)
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Send(trackingPixelGIF)
}

func (tc *TrackingController) recordOpen(messageID string) {
	var recipient models.BroadcastRecipient
	if err := tc.DB.Where("message_id = ?", messageID).First(&recipient).Error; err != nil {
		return
	}

	updates := map[string]interface{}{
		"open_count": gorm.Expr("open_count + 1"),
	}
	if recipient.OpenedAt == nil {
		updates["opened_at"] = time.Now()
	}
	if err := tc.DB.Model(&recipient).Updates(updates).Error; err != nil {
		tc.Logger.Printf("failed to record open for %s: %v", messageID, err)
		return
	}

	// Unique opens only; repeat opens of the same message don't inflate the
	// broadcast counter or the A/B stats.
	if recipient.OpenedAt == nil {
		tc.DB.Model(&models.Broadcast{}).
			Where("id = ?", recipient.BroadcastID).
			Update("open_count", gorm.Expr("open_count + 1"))
	}
}

// HandleClickTracking records a link click and redirects to the original URL.
// A click implies an open, so an unseen open is recorded too.
func (tc *TrackingController) HandleClickTracking(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")
	target := c.Query("url")

	if target == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Missing target URL", nil)
	}
	decoded, err := url.QueryUnescape(target)
	if err != nil {
		decoded = target
	}

	if !utils.VerifyTrackingToken(messageID, token) {
		return c.Redirect(decoded, fiber.StatusFound)
	}

	var recipient models.BroadcastRecipient
	if err := tc.DB.Where("message_id = ?", messageID).First(&recipient).Error; err == nil {
		updates := map[string]interface{}{
			"click_count": gorm.Expr("click_count + 1"),
		}
		if recipient.ClickedAt == nil {
			updates["clicked_at"] = time.Now()
		}
		if recipient.OpenedAt == nil {
			updates["opened_at"] = time.Now()
		}
		if err := tc.DB.Model(&recipient).Updates(updates).Error; err != nil {
			tc.Logger.Printf("failed to record click for %s: %v", messageID, err)
		} else {
			if recipient.ClickedAt == nil {
				tc.DB.Model(&models.Broadcast{}).
					Where("id = ?", recipient.BroadcastID).
					Update("click_count", gorm.Expr("click_count + 1"))
			}
			if recipient.OpenedAt == nil {
				tc.DB.Model(&models.Broadcast{}).
					Where("id = ?", recipient.BroadcastID).
					Update("open_count", gorm.Expr("open_count + 1"))
			}
		}
	}

	return c.Redirect(decoded, fiber.StatusFound)
}

// HandleUnsubscribe processes the one-click unsubscribe link. Public, token
// guarded; idempotent for already-unsubscribed contacts.
func (tc *TrackingController) HandleUnsubscribe(c *fiber.Ctx) error {
	contactID := c.Params("contactID")
	token := c.Params("token")

	if !utils.VerifyTrackingToken(contactID, token) {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Invalid unsubscribe link", nil)
	}

	var contact models.Contact
	if err := tc.DB.First(&contact, contactID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process unsubscribe", err)
	}

	if !contact.IsUnsubscribed {
		tx := tc.DB.Begin()

		if err := tx.Model(&contact).Update("is_unsubscribed", true).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process unsubscribe", err)
		}

		record := models.Unsubscribe{
			UserID:         contact.UserID,
			ContactID:      contact.ID,
			Email:          contact.Email,
			Reason:         "link",
			IPAddress:      c.IP(),
			UserAgent:      c.Get("User-Agent"),
			UnsubscribedAt: time.Now(),
		}
		if broadcastID := c.Query("broadcast"); broadcastID != "" {
			id := utils.ParseUint(broadcastID)
			if id != 0 {
				record.BroadcastID = &id
			}
		}
		if err := tx.Create(&record).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record unsubscribe", err)
		}

		tx.Commit()
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.SendString(fmt.Sprintf(
		"<html><body><h2>You have been unsubscribed</h2><p>%s will no longer receive messages.</p></body></html>",
		contact.Email,
	))
}
