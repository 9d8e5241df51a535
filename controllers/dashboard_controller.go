package controller

import (
	"log"

	"naviai/models"
	"naviai/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type DashboardController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewDashboardController(db *gorm.DB, logger *log.Logger) *DashboardController {
	return &DashboardController{
		DB:     db,
		Logger: logger,
	}
}

// GetDashboardStats returns tenant-wide counters for the dashboard header
func (dc *DashboardController) GetDashboardStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var stats struct {
		Contacts          int64 `json:"contacts"`
		ActiveSequences   int64 `json:"active_sequences"`
		ActiveEnrollments int64 `json:"active_enrollments"`
		BroadcastsSent    int64 `json:"broadcasts_sent"`
		UnreadMessages    int64 `json:"unread_messages"`
		Reviews           int64 `json:"reviews"`
	}

	dc.DB.Model(&models.Contact{}).Where("user_id = ?", user.ID).Count(&stats.Contacts)
	dc.DB.Model(&models.AutomationSequence{}).Where("user_id = ? AND is_active = true", user.ID).Count(&stats.ActiveSequences)
	dc.DB.Model(&models.Enrollment{}).Where("user_id = ? AND status = ?", user.ID, models.EnrollmentActive).Count(&stats.ActiveEnrollments)
	dc.DB.Model(&models.Broadcast{}).Where("user_id = ? AND status = ?", user.ID, models.BroadcastSent).Count(&stats.BroadcastsSent)
	dc.DB.Model(&models.InboxMessage{}).Where("user_id = ? AND is_read = false", user.ID).Count(&stats.UnreadMessages)
	dc.DB.Model(&models.Review{}).Where("user_id = ?", user.ID).Count(&stats.Reviews)

	return c.JSON(utils.SuccessResponse(stats))
}

// GetEngagementOverTime returns daily send/open/click counts for the last 30
// days of broadcast activity
func (dc *DashboardController) GetEngagementOverTime(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	type dayRow struct {
		Day     string `json:"day"`
		Sent    int    `json:"sent"`
		Opened  int    `json:"opened"`
		Clicked int    `json:"clicked"`
	}

	var rows []dayRow
	err := dc.DB.Raw(`
		SELECT DATE(r.sent_at) AS day,
		       COUNT(*) AS sent,
		       COUNT(r.opened_at) AS opened,
		       COUNT(r.clicked_at) AS clicked
		FROM broadcast_recipients r
		JOIN broadcasts b ON b.id = r.broadcast_id
		WHERE b.user_id = ?
		  AND r.sent_at >= CURRENT_DATE - INTERVAL '30 days'
		  AND r.deleted_at IS NULL
		GROUP BY DATE(r.sent_at)
		ORDER BY day`, user.ID).Scan(&rows).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch engagement metrics", err)
	}

	return c.JSON(utils.SuccessResponse(rows))
}

// GetRecentBroadcasts returns the five most recent broadcasts with outcomes
func (dc *DashboardController) GetRecentBroadcasts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var broadcasts []models.Broadcast
	if err := dc.DB.Where("user_id = ?", user.ID).
		Order("id DESC").
		Limit(5).
		Find(&broadcasts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch broadcasts", err)
	}

	return c.JSON(utils.SuccessResponse(broadcasts))
}
