package controller

import (
	"log"
	"strconv"
	"time"

	"naviai/models"
	"naviai/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SourceController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSourceController(db *gorm.DB, logger *log.Logger) *SourceController {
	return &SourceController{
		DB:     db,
		Logger: logger,
	}
}

type sourceInput struct {
	Name string `json:"name" validate:"required,max=200"`

	IMAPHost       string `json:"imap_host" validate:"omitempty,max=255"`
	IMAPPort       int    `json:"imap_port" validate:"omitempty,min=1,max=65535"`
	IMAPUsername   string `json:"imap_username" validate:"omitempty,max=255"`
	IMAPPassword   string `json:"imap_password" validate:"omitempty,max=255"`
	IMAPEncryption string `json:"imap_encryption" validate:"omitempty,oneof=SSL TLS STARTTLS NONE"`
	IMAPMailbox    string `json:"imap_mailbox" validate:"omitempty,max=255"`

	Endpoint string `json:"endpoint" validate:"omitempty,url"`
	Platform string `json:"platform" validate:"omitempty,oneof=google facebook yelp"`
	Domain   string `json:"domain" validate:"omitempty,max=255"`
	Keywords string `json:"keywords" validate:"omitempty,max=1000"`

	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenExpiry  *time.Time `json:"token_expiry"`
}

func validateSourceKind(kind string, in sourceInput) error {
	switch kind {
	case models.SourceInbox:
		if in.IMAPHost == "" || in.IMAPUsername == "" || in.IMAPPassword == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Inbox sources require imap_host, imap_username and imap_password")
		}
	case models.SourceReview:
		if in.Endpoint == "" || in.Platform == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Review sources require endpoint and platform")
		}
	case models.SourceRank:
		if in.Endpoint == "" || in.Domain == "" || in.Keywords == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Rank sources require endpoint, domain and keywords")
		}
	default:
		return fiber.NewError(fiber.StatusBadRequest, "Unknown source kind")
	}
	return nil
}

// CreateSource registers a new poll source. Sources start active with no
// checkpoint, so the first poll fetches without a lower bound.
func (sc *SourceController) CreateSource(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Kind string `json:"kind" validate:"required,oneof=inbox review rank"`
		sourceInput
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if err := validateSourceKind(input.Kind, input.sourceInput); err != nil {
		fe := err.(*fiber.Error)
		return utils.ErrorResponse(c, fe.Code, fe.Message, nil)
	}

	port := input.IMAPPort
	if input.Kind == models.SourceInbox && port == 0 {
		port = 993
	}

	source := models.PollSource{
		UserID: user.ID,
		Kind:   input.Kind,
		Name:   input.Name,
		Status: models.SourceActive,

		IMAPHost:       input.IMAPHost,
		IMAPPort:       port,
		IMAPUsername:   input.IMAPUsername,
		IMAPPassword:   input.IMAPPassword,
		IMAPEncryption: input.IMAPEncryption,
		IMAPMailbox:    input.IMAPMailbox,

		Endpoint: input.Endpoint,
		Platform: input.Platform,
		Domain:   input.Domain,
		Keywords: input.Keywords,

		AccessToken:  input.AccessToken,
		RefreshToken: input.RefreshToken,
		TokenExpiry:  input.TokenExpiry,
	}

	if err := sc.DB.Create(&source).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create source", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(source))
}

// GetSources returns all poll sources for the user
func (sc *SourceController) GetSources(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := sc.DB.Where("user_id = ?", user.ID)
	if kind := c.Query("kind"); kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var sources []models.PollSource
	if err := query.Order("id").Find(&sources).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sources", err)
	}

	return c.JSON(utils.SuccessResponse(sources))
}

// GetSource returns a single poll source
func (sc *SourceController) GetSource(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sourceID := c.Params("id")

	var source models.PollSource
	if err := sc.DB.Where("id = ? AND user_id = ?", sourceID, user.ID).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Source not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch source", err)
	}

	return c.JSON(utils.SuccessResponse(source))
}

// ReconnectSource replaces a source's credentials and reactivates it after an
// auth failure. The checkpoint is preserved so the next poll resumes where
// the last successful one stopped.
func (sc *SourceController) ReconnectSource(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sourceID := c.Params("id")

	var input struct {
		IMAPPassword string     `json:"imap_password"`
		AccessToken  string     `json:"access_token"`
		RefreshToken string     `json:"refresh_token"`
		TokenExpiry  *time.Time `json:"token_expiry"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	var source models.PollSource
	if err := sc.DB.Where("id = ? AND user_id = ?", sourceID, user.ID).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Source not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch source", err)
	}

	updates := map[string]interface{}{
		"status":     models.SourceActive,
		"last_error": "",
	}
	if input.IMAPPassword != "" {
		updates["imap_password"] = input.IMAPPassword
	}
	if input.AccessToken != "" {
		updates["access_token"] = input.AccessToken
	}
	if input.RefreshToken != "" {
		updates["refresh_token"] = input.RefreshToken
	}
	if input.TokenExpiry != nil {
		updates["token_expiry"] = input.TokenExpiry
	}

	if err := sc.DB.Model(&source).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reconnect source", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Source reconnected",
	}))
}

// DeleteSource removes a poll source. Ingested items stay.
func (sc *SourceController) DeleteSource(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sourceID := c.Params("id")

	result := sc.DB.Where("id = ? AND user_id = ?", sourceID, user.ID).Delete(&models.PollSource{})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete source", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Source not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Source deleted successfully",
	}))
}

// GetInboxMessages returns paginated ingested inbound mail
func (sc *SourceController) GetInboxMessages(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := sc.DB.Where("user_id = ?", user.ID)
	if sourceID := c.Query("source_id"); sourceID != "" {
		query = query.Where("source_id = ?", sourceID)
	}
	if c.Query("unread") == "true" {
		query = query.Where("is_read = false")
	}

	var messages []models.InboxMessage
	if err := query.Offset(offset).Limit(limit).Order("received_at DESC").Find(&messages).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch messages", err)
	}

	var total int64
	query.Model(&models.InboxMessage{}).Count(&total)

	return c.JSON(utils.PaginatedResponse{
		Data:  messages,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// MarkMessageRead flags one inbox message as read
func (sc *SourceController) MarkMessageRead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	messageID := c.Params("id")

	result := sc.DB.Model(&models.InboxMessage{}).
		Where("id = ? AND user_id = ?", messageID, user.ID).
		Update("is_read", true)
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update message", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Message not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Marked as read",
	}))
}

// GetReviews returns paginated ingested reviews
func (sc *SourceController) GetReviews(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := sc.DB.Where("user_id = ?", user.ID)
	if platform := c.Query("platform"); platform != "" {
		query = query.Where("platform = ?", platform)
	}
	if rating := c.Query("max_rating"); rating != "" {
		query = query.Where("rating <= ?", rating)
	}

	var reviews []models.Review
	if err := query.Offset(offset).Limit(limit).Order("reviewed_at DESC").Find(&reviews).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch reviews", err)
	}

	var total int64
	query.Model(&models.Review{}).Count(&total)

	return c.JSON(utils.PaginatedResponse{
		Data:  reviews,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// ReplyToReview records a reply draft against an ingested review
func (sc *SourceController) ReplyToReview(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	reviewID := c.Params("id")

	var input struct {
		ReplyText string `json:"reply_text" validate:"required,max=5000"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	now := time.Now()
	result := sc.DB.Model(&models.Review{}).
		Where("id = ? AND user_id = ?", reviewID, user.ID).
		Updates(map[string]interface{}{
			"reply_text": input.ReplyText,
			"replied_at": now,
		})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save reply", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Review not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message":    "Reply saved",
		"replied_at": now,
	}))
}

// GetRankSnapshots returns keyword rank history, newest first
func (sc *SourceController) GetRankSnapshots(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := sc.DB.Where("user_id = ?", user.ID)
	if keyword := c.Query("keyword"); keyword != "" {
		query = query.Where("keyword = ?", keyword)
	}
	if sourceID := c.Query("source_id"); sourceID != "" {
		query = query.Where("source_id = ?", sourceID)
	}

	limit, _ := strconv.Atoi(c.Query("limit", "90"))
	if limit > 365 {
		limit = 365
	}

	var snapshots []models.RankSnapshot
	if err := query.Limit(limit).Order("captured_at DESC").Find(&snapshots).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch snapshots", err)
	}

	return c.JSON(utils.SuccessResponse(snapshots))
}
