package controller

import (
	"log"
	"strconv"
	"strings"
	"time"

	"naviai/models"
	"naviai/utils"
	"naviai/worker"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ContactController struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Enroller *worker.Enroller
}

func NewContactController(db *gorm.DB, logger *log.Logger, enroller *worker.Enroller) *ContactController {
	return &ContactController{
		DB:       db,
		Logger:   logger,
		Enroller: enroller,
	}
}

// CreateContact creates a new contact and fires the new-lead trigger,
// enrolling the contact into every matching active sequence.
func (cc *ContactController) CreateContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Email     string `json:"email" validate:"required,email"`
		Phone     string `json:"phone" validate:"omitempty,max=20"`
		FirstName string `json:"first_name" validate:"omitempty,max=100"`
		LastName  string `json:"last_name" validate:"omitempty,max=100"`
		Company   string `json:"company" validate:"omitempty,max=200"`
		Tags      string `json:"tags" validate:"omitempty,max=500"`
		Source    string `json:"source" validate:"omitempty,oneof=manual csv api website"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))

	var existing models.Contact
	if err := cc.DB.Where("email = ? AND user_id = ?", email, user.ID).First(&existing).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Contact with this email already exists", nil)
	}

	contact := models.Contact{
		UserID:    user.ID,
		Email:     email,
		Phone:     input.Phone,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Company:   input.Company,
		Tags:      input.Tags,
		Source:    input.Source,
	}

	if err := cc.DB.Create(&contact).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create contact", err)
	}

	enrolled, err := cc.Enroller.EnrollNewLead(user.ID, contact.ID)
	if err != nil {
		// The contact is created; enrollment problems surface in the response
		// but do not fail the request.
		cc.Logger.Printf("enrollment after contact create failed: %v", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"contact":  contact,
		"enrolled": enrolled,
	}))
}

// GetContacts returns paginated contacts with filters
func (cc *ContactController) GetContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := cc.DB.Where("user_id = ?", user.ID)

	if email := c.Query("email"); email != "" {
		query = query.Where("email LIKE ?", "%"+email+"%")
	}
	if tag := c.Query("tag"); tag != "" {
		query = query.Where("tags LIKE ?", "%"+tag+"%")
	}
	switch c.Query("status") {
	case "active":
		query = query.Where("is_unsubscribed = false AND is_bounced = false")
	case "unsubscribed":
		query = query.Where("is_unsubscribed = true")
	case "bounced":
		query = query.Where("is_bounced = true")
	}

	var contacts []models.Contact
	if err := query.Offset(offset).Limit(limit).Order("id DESC").Find(&contacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contacts", err)
	}

	var total int64
	query.Model(&models.Contact{}).Count(&total)

	return c.JSON(utils.PaginatedResponse{
		Data:  contacts,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetContact returns a single contact by ID
func (cc *ContactController) GetContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	contactID := c.Params("id")

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND user_id = ?", contactID, user.ID).First(&contact).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contact", err)
	}

	return c.JSON(utils.SuccessResponse(contact))
}

// UpdateContact updates contact details
func (cc *ContactController) UpdateContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	contactID := c.Params("id")

	var input struct {
		Email     string  `json:"email" validate:"omitempty,email"`
		Phone     string  `json:"phone" validate:"omitempty,max=20"`
		FirstName string  `json:"first_name" validate:"omitempty,max=100"`
		LastName  string  `json:"last_name" validate:"omitempty,max=100"`
		Company   string  `json:"company" validate:"omitempty,max=200"`
		Tags      *string `json:"tags"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND user_id = ?", contactID, user.ID).First(&contact).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contact", err)
	}

	if input.Email != "" && !strings.EqualFold(input.Email, contact.Email) {
		var existing models.Contact
		if err := cc.DB.Where("email = ? AND user_id = ?", strings.ToLower(input.Email), user.ID).First(&existing).Error; err == nil {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Contact with this email already exists", nil)
		}
		contact.Email = strings.ToLower(input.Email)
	}
	if input.Phone != "" {
		contact.Phone = input.Phone
	}
	if input.FirstName != "" {
		contact.FirstName = input.FirstName
	}
	if input.LastName != "" {
		contact.LastName = input.LastName
	}
	if input.Company != "" {
		contact.Company = input.Company
	}
	if input.Tags != nil {
		contact.Tags = *input.Tags
	}

	if err := cc.DB.Save(&contact).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update contact", err)
	}

	return c.JSON(utils.SuccessResponse(contact))
}

// DeleteContact deletes a contact and cancels its active enrollments
func (cc *ContactController) DeleteContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	contactID := c.Params("id")

	tx := cc.DB.Begin()

	if err := tx.Model(&models.Enrollment{}).
		Where("contact_id = ? AND user_id = ? AND status = ?", contactID, user.ID, models.EnrollmentActive).
		Updates(map[string]interface{}{
			"status":     models.EnrollmentCanceled,
			"last_error": "contact deleted",
		}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel enrollments", err)
	}

	result := tx.Where("id = ? AND user_id = ?", contactID, user.ID).Delete(&models.Contact{})
	if result.Error != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete contact", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
	}

	tx.Commit()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Contact deleted successfully",
	}))
}

// UnsubscribeContact marks a contact as unsubscribed on behalf of the tenant.
// Active enrollments are left alone; the engine cancels them lazily on their
// next due check.
func (cc *ContactController) UnsubscribeContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	contactID := c.Params("id")

	var input struct {
		Reason string `json:"reason" validate:"omitempty,max=500"`
	}
	if err := c.BodyParser(&input); err != nil && len(c.Body()) > 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND user_id = ?", contactID, user.ID).First(&contact).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contact", err)
	}

	if contact.IsUnsubscribed {
		return c.JSON(utils.SuccessResponse(fiber.Map{
			"message": "Contact is already unsubscribed",
		}))
	}

	tx := cc.DB.Begin()

	if err := tx.Model(&contact).Update("is_unsubscribed", true).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to unsubscribe contact", err)
	}

	record := models.Unsubscribe{
		UserID:         user.ID,
		ContactID:      contact.ID,
		Email:          contact.Email,
		Reason:         input.Reason,
		IPAddress:      c.IP(),
		UserAgent:      c.Get("User-Agent"),
		UnsubscribedAt: time.Now(),
	}
	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record unsubscribe", err)
	}

	tx.Commit()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Contact unsubscribed successfully",
	}))
}
