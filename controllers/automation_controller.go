package controller

import (
	"log"
	"strconv"

	"naviai/models"
	"naviai/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AutomationController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewAutomationController(db *gorm.DB, logger *log.Logger) *AutomationController {
	return &AutomationController{
		DB:     db,
		Logger: logger,
	}
}

type stepInput struct {
	StepType string `json:"step_type" validate:"required,oneof=send_email send_sms wait"`
	Subject  string `json:"subject" validate:"omitempty,max=500"`
	Body     string `json:"body"`
	WaitDays int    `json:"wait_days"`
}

// buildSteps validates the step list as a whole and assigns contiguous
// zero-based orders. Back-to-back waits are rejected because they collapse
// into a single longer wait.
func buildSteps(sequenceID uint, inputs []stepInput) ([]models.AutomationStep, error) {
	steps := make([]models.AutomationStep, 0, len(inputs))
	prevWasWait := false

	for i, in := range inputs {
		step := models.AutomationStep{
			SequenceID: sequenceID,
			StepOrder:  i,
			StepType:   in.StepType,
			Subject:    in.Subject,
			Body:       in.Body,
			WaitDays:   in.WaitDays,
		}
		if err := step.Validate(); err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "step "+strconv.Itoa(i)+": "+err.Error())
		}
		if step.StepType == models.StepWait {
			if prevWasWait {
				return nil, fiber.NewError(fiber.StatusBadRequest, "step "+strconv.Itoa(i)+": consecutive wait steps are not allowed")
			}
			prevWasWait = true
		} else {
			prevWasWait = false
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// CreateSequence creates a sequence with its full step list. Sequences are
// created inactive; activation is an explicit call.
func (ac *AutomationController) CreateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name        string      `json:"name" validate:"required,max=200"`
		TriggerType string      `json:"trigger_type" validate:"omitempty,oneof=new_lead_added"`
		Steps       []stepInput `json:"steps" validate:"required,min=1,dive"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if input.TriggerType == "" {
		input.TriggerType = models.TriggerNewLeadAdded
	}

	sequence := models.AutomationSequence{
		UserID:      user.ID,
		Name:        input.Name,
		TriggerType: input.TriggerType,
		IsActive:    false,
	}

	tx := ac.DB.Begin()

	if err := tx.Create(&sequence).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}

	steps, err := buildSteps(sequence.ID, input.Steps)
	if err != nil {
		tx.Rollback()
		if fe, ok := err.(*fiber.Error); ok {
			return utils.ErrorResponse(c, fe.Code, fe.Message, nil)
		}
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid steps", err)
	}

	if err := tx.Create(&steps).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create steps", err)
	}

	tx.Commit()

	sequence.Steps = steps
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sequence))
}

// GetSequences returns all sequences with enrollment counts
func (ac *AutomationController) GetSequences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequences []models.AutomationSequence
	if err := ac.DB.Where("user_id = ?", user.ID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		Order("id DESC").
		Find(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequences", err)
	}

	return c.JSON(utils.SuccessResponse(sequences))
}

// GetSequence returns a single sequence with its steps and enrollment stats
func (ac *AutomationController) GetSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var sequence models.AutomationSequence
	if err := ac.DB.Where("id = ? AND user_id = ?", sequenceID, user.ID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		First(&sequence).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequence", err)
	}

	var stats struct {
		Active    int64 `json:"active"`
		Completed int64 `json:"completed"`
		Canceled  int64 `json:"canceled"`
	}
	ac.DB.Model(&models.Enrollment{}).Where("sequence_id = ? AND status = ?", sequence.ID, models.EnrollmentActive).Count(&stats.Active)
	ac.DB.Model(&models.Enrollment{}).Where("sequence_id = ? AND status = ?", sequence.ID, models.EnrollmentCompleted).Count(&stats.Completed)
	ac.DB.Model(&models.Enrollment{}).Where("sequence_id = ? AND status = ?", sequence.ID, models.EnrollmentCanceled).Count(&stats.Canceled)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"sequence":    sequence,
		"enrollments": stats,
	}))
}

// UpdateSequence updates the name and, while no enrollment is active, the
// step list. Editing steps under active enrollments would shift orders out
// from under the engine's cursor.
func (ac *AutomationController) UpdateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var input struct {
		Name  string      `json:"name" validate:"omitempty,max=200"`
		Steps []stepInput `json:"steps" validate:"omitempty,min=1,dive"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var sequence models.AutomationSequence
	if err := ac.DB.Where("id = ? AND user_id = ?", sequenceID, user.ID).First(&sequence).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequence", err)
	}

	if input.Name != "" {
		sequence.Name = input.Name
	}

	tx := ac.DB.Begin()

	if len(input.Steps) > 0 {
		var active int64
		if err := tx.Model(&models.Enrollment{}).
			Where("sequence_id = ? AND status = ?", sequence.ID, models.EnrollmentActive).
			Count(&active).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check enrollments", err)
		}
		if active > 0 {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusConflict, "Cannot edit steps while enrollments are active", nil)
		}

		if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.AutomationStep{}).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to replace steps", err)
		}

		steps, err := buildSteps(sequence.ID, input.Steps)
		if err != nil {
			tx.Rollback()
			if fe, ok := err.(*fiber.Error); ok {
				return utils.ErrorResponse(c, fe.Code, fe.Message, nil)
			}
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid steps", err)
		}
		if err := tx.Create(&steps).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create steps", err)
		}
	}

	if err := tx.Save(&sequence).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", err)
	}

	tx.Commit()

	return c.JSON(utils.SuccessResponse(sequence))
}

// ActivateSequence switches the trigger on. Only sequences with at least one
// step can be activated.
func (ac *AutomationController) ActivateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	var sequence models.AutomationSequence
	if err := ac.DB.Where("id = ? AND user_id = ?", sequenceID, user.ID).First(&sequence).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequence", err)
	}

	var stepCount int64
	ac.DB.Model(&models.AutomationStep{}).Where("sequence_id = ?", sequence.ID).Count(&stepCount)
	if stepCount == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Cannot activate a sequence without steps", nil)
	}

	if err := ac.DB.Model(&sequence).Update("is_active", true).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to activate sequence", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Sequence activated",
	}))
}

// DeactivateSequence switches the trigger off. Existing enrollments keep
// progressing; only new enrollments stop.
func (ac *AutomationController) DeactivateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	result := ac.DB.Model(&models.AutomationSequence{}).
		Where("id = ? AND user_id = ?", sequenceID, user.ID).
		Update("is_active", false)
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to deactivate sequence", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Sequence deactivated",
	}))
}

// DeleteSequence deletes a sequence, its steps and its enrollments
func (ac *AutomationController) DeleteSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	tx := ac.DB.Begin()

	if err := tx.Where("sequence_id = ?", sequenceID).Delete(&models.AutomationStep{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete steps", err)
	}
	if err := tx.Where("sequence_id = ?", sequenceID).Delete(&models.Enrollment{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete enrollments", err)
	}

	result := tx.Where("id = ? AND user_id = ?", sequenceID, user.ID).Delete(&models.AutomationSequence{})
	if result.Error != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sequence", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	tx.Commit()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Sequence deleted successfully",
	}))
}

// GetEnrollments returns paginated enrollments for a sequence
func (ac *AutomationController) GetEnrollments(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sequenceID := c.Params("id")

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := ac.DB.Where("sequence_id = ? AND user_id = ?", sequenceID, user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var enrollments []models.Enrollment
	if err := query.Offset(offset).Limit(limit).Order("id DESC").Find(&enrollments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch enrollments", err)
	}

	var total int64
	query.Model(&models.Enrollment{}).Count(&total)

	return c.JSON(utils.PaginatedResponse{
		Data:  enrollments,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// CancelEnrollment cancels one active enrollment by hand
func (ac *AutomationController) CancelEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	enrollmentID := c.Params("enrollmentID")

	result := ac.DB.Model(&models.Enrollment{}).
		Where("id = ? AND user_id = ? AND status = ?", enrollmentID, user.ID, models.EnrollmentActive).
		Updates(map[string]interface{}{
			"status":     models.EnrollmentCanceled,
			"last_error": "canceled manually",
		})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel enrollment", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Active enrollment not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Enrollment canceled",
	}))
}
