package controller

import (
	"log"
	"strconv"

	"naviai/models"
	"naviai/utils"
	"naviai/worker"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// CronController exposes the registered jobs over HTTP so an external cron
// service can drive them. Guarded by the cron-secret middleware, not JWT.
type CronController struct {
	DB     *gorm.DB
	Runner *worker.Runner
	Logger *log.Logger
}

func NewCronController(db *gorm.DB, runner *worker.Runner, logger *log.Logger) *CronController {
	return &CronController{
		DB:     db,
		Runner: runner,
		Logger: logger,
	}
}

// TriggerJob runs one registered job synchronously and returns its summary
func (cr *CronController) TriggerJob(c *fiber.Ctx) error {
	name := c.Params("name")

	sum, err := cr.Runner.Invoke(c.Context(), name)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Job failed", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"job":       name,
		"processed": sum.Processed,
		"succeeded": sum.Succeeded,
		"failed":    sum.Failed,
		"skipped":   sum.Skipped,
	}))
}

// GetJobRuns returns recent job run records, newest first
func (cr *CronController) GetJobRuns(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit > 200 {
		limit = 200
	}

	query := cr.DB.Order("id DESC").Limit(limit)
	if name := c.Query("job"); name != "" {
		query = query.Where("job_name = ?", name)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var runs []models.JobRun
	if err := query.Find(&runs).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch job runs", err)
	}

	return c.JSON(utils.SuccessResponse(runs))
}
