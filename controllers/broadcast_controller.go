package controller

import (
	"log"
	"strconv"
	"time"

	"naviai/models"
	"naviai/utils"
	"naviai/worker"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type BroadcastController struct {
	DB         *gorm.DB
	Logger     *log.Logger
	Dispatcher worker.Dispatcher
	Generator  worker.ContentGenerator
}

func NewBroadcastController(db *gorm.DB, logger *log.Logger, dispatcher worker.Dispatcher, generator worker.ContentGenerator) *BroadcastController {
	return &BroadcastController{
		DB:         db,
		Logger:     logger,
		Dispatcher: dispatcher,
		Generator:  generator,
	}
}

// CreateBroadcast creates a draft broadcast. Scheduling is a separate call so
// content can be reviewed (or A/B variants added) first.
func (bc *BroadcastController) CreateBroadcast(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name         string `json:"name" validate:"required,max=200"`
		AudienceSpec string `json:"audience_spec" validate:"omitempty,max=500"`
		Channel      string `json:"channel" validate:"omitempty,oneof=email sms"`
		SubjectA     string `json:"subject_a" validate:"omitempty,max=500"`
		BodyA        string `json:"body_a" validate:"required"`
		IsABTest     bool   `json:"is_ab_test"`
		SubjectB     string `json:"subject_b" validate:"omitempty,max=500"`
		BodyB        string `json:"body_b"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if input.Channel == "" {
		input.Channel = models.ChannelEmail
	}
	if input.Channel == models.ChannelEmail && input.SubjectA == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Email broadcasts require subject_a", nil)
	}
	if input.IsABTest {
		if input.BodyB == "" {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "A/B broadcasts require body_b", nil)
		}
		if input.Channel == models.ChannelEmail && input.SubjectB == "" {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Email A/B broadcasts require subject_b", nil)
		}
	}

	broadcast := models.Broadcast{
		UserID:       user.ID,
		Name:         input.Name,
		AudienceSpec: input.AudienceSpec,
		Channel:      input.Channel,
		SubjectA:     input.SubjectA,
		BodyA:        input.BodyA,
		IsABTest:     input.IsABTest,
		SubjectB:     input.SubjectB,
		BodyB:        input.BodyB,
		Status:       models.BroadcastDraft,
	}

	if err := bc.DB.Create(&broadcast).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create broadcast", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(broadcast))
}

// GetBroadcasts returns paginated broadcasts
func (bc *BroadcastController) GetBroadcasts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := bc.DB.Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var broadcasts []models.Broadcast
	if err := query.Offset(offset).Limit(limit).Order("id DESC").Find(&broadcasts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch broadcasts", err)
	}

	var total int64
	query.Model(&models.Broadcast{}).Count(&total)

	return c.JSON(utils.PaginatedResponse{
		Data:  broadcasts,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetBroadcast returns a single broadcast with per-variant engagement stats
func (bc *BroadcastController) GetBroadcast(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	broadcastID := c.Params("id")

	var broadcast models.Broadcast
	if err := bc.DB.Where("id = ? AND user_id = ?", broadcastID, user.ID).First(&broadcast).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Broadcast not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch broadcast", err)
	}

	type variantRow struct {
		Variant string `json:"variant"`
		Sent    int    `json:"sent"`
		Opened  int    `json:"opened"`
		Clicked int    `json:"clicked"`
	}
	var variants []variantRow
	bc.DB.Raw(`
		SELECT variant,
		       COUNT(*) AS sent,
		       COUNT(opened_at) AS opened,
		       COUNT(clicked_at) AS clicked
		FROM broadcast_recipients
		WHERE broadcast_id = ? AND deleted_at IS NULL
		GROUP BY variant
		ORDER BY variant`, broadcast.ID).Scan(&variants)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"broadcast": broadcast,
		"variants":  variants,
	}))
}

// UpdateBroadcast updates a draft broadcast's content and audience
func (bc *BroadcastController) UpdateBroadcast(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	broadcastID := c.Params("id")

	var input struct {
		Name         string `json:"name" validate:"omitempty,max=200"`
		AudienceSpec string `json:"audience_spec" validate:"omitempty,max=500"`
		SubjectA     string `json:"subject_a" validate:"omitempty,max=500"`
		BodyA        string `json:"body_a"`
		IsABTest     *bool  `json:"is_ab_test"`
		SubjectB     string `json:"subject_b" validate:"omitempty,max=500"`
		BodyB        string `json:"body_b"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var broadcast models.Broadcast
	if err := bc.DB.Where("id = ? AND user_id = ?", broadcastID, user.ID).First(&broadcast).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Broadcast not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch broadcast", err)
	}

	if broadcast.Status != models.BroadcastDraft {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only draft broadcasts can be edited", nil)
	}

	if input.Name != "" {
		broadcast.Name = input.Name
	}
	if input.AudienceSpec != "" {
		broadcast.AudienceSpec = input.AudienceSpec
	}
	if input.SubjectA != "" {
		broadcast.SubjectA = input.SubjectA
	}
	if input.BodyA != "" {
		broadcast.BodyA = input.BodyA
	}
	if input.IsABTest != nil {
		broadcast.IsABTest = *input.IsABTest
	}
	if input.SubjectB != "" {
		broadcast.SubjectB = input.SubjectB
	}
	if input.BodyB != "" {
		broadcast.BodyB = input.BodyB
	}

	if broadcast.IsABTest && broadcast.BodyB == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "A/B broadcasts require body_b", nil)
	}

	if err := bc.DB.Save(&broadcast).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update broadcast", err)
	}

	return c.JSON(utils.SuccessResponse(broadcast))
}

// ScheduleBroadcast moves a draft to scheduled at the given time. The
// scheduler picks it up once scheduled_at passes.
func (bc *BroadcastController) ScheduleBroadcast(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	broadcastID := c.Params("id")

	var input struct {
		ScheduledAt time.Time `json:"scheduled_at"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	scheduledAt := input.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}

	result := bc.DB.Model(&models.Broadcast{}).
		Where("id = ? AND user_id = ? AND status = ?", broadcastID, user.ID, models.BroadcastDraft).
		Updates(map[string]interface{}{
			"status":       models.BroadcastScheduled,
			"scheduled_at": scheduledAt,
		})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to schedule broadcast", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Broadcast is not in draft state", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message":      "Broadcast scheduled",
		"scheduled_at": scheduledAt,
	}))
}

// UnscheduleBroadcast moves a scheduled broadcast back to draft. Once the
// scheduler has claimed it this returns a conflict.
func (bc *BroadcastController) UnscheduleBroadcast(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	broadcastID := c.Params("id")

	result := bc.DB.Model(&models.Broadcast{}).
		Where("id = ? AND user_id = ? AND status = ?", broadcastID, user.ID, models.BroadcastScheduled).
		Updates(map[string]interface{}{
			"status":       models.BroadcastDraft,
			"scheduled_at": nil,
		})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to unschedule broadcast", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Broadcast is not scheduled", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Broadcast moved back to draft",
	}))
}

// DeleteBroadcast deletes a broadcast that is not mid-send
func (bc *BroadcastController) DeleteBroadcast(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	broadcastID := c.Params("id")

	tx := bc.DB.Begin()

	result := tx.Where("id = ? AND user_id = ? AND status NOT IN ?", broadcastID, user.ID,
		[]string{models.BroadcastSending, models.BroadcastAwaitingWinner}).
		Delete(&models.Broadcast{})
	if result.Error != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete broadcast", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusConflict, "Broadcast not found or currently sending", nil)
	}

	if err := tx.Where("broadcast_id = ?", broadcastID).Delete(&models.BroadcastRecipient{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete recipients", err)
	}

	tx.Commit()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Broadcast deleted successfully",
	}))
}

// TestSend sends the broadcast content to a single address without touching
// recipient records or counters. Rate limited per user and broadcast.
func (bc *BroadcastController) TestSend(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	broadcastID := c.Params("id")

	var input struct {
		Address string `json:"address" validate:"required"`
		Variant string `json:"variant" validate:"omitempty,oneof=A B"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var broadcast models.Broadcast
	if err := bc.DB.Where("id = ? AND user_id = ?", broadcastID, user.ID).First(&broadcast).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Broadcast not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch broadcast", err)
	}

	subject, body := broadcast.SubjectA, broadcast.BodyA
	if input.Variant == models.VariantB {
		if !broadcast.IsABTest {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Broadcast has no variant B", nil)
		}
		subject, body = broadcast.SubjectB, broadcast.BodyB
	}

	result := bc.Dispatcher.Dispatch(c.Context(), broadcast.Channel, input.Address, subject, body)
	if !result.Success {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Test send failed", result.Err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message":    "Test message sent",
		"message_id": result.MessageID,
	}))
}

// GenerateContent drafts broadcast copy from a free-form prompt
func (bc *BroadcastController) GenerateContent(c *fiber.Ctx) error {
	var input struct {
		Prompt string `json:"prompt" validate:"required,max=2000"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	content, err := bc.Generator.Generate(c.Context(), input.Prompt)
	if err != nil {
		bc.Logger.Printf("content generation failed: %v", err)
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Content generation failed", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"content": content,
	}))
}
