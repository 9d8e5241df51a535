package routes

import (
	"log"
	"os"

	controller "naviai/controllers"
	"naviai/middleware"
	"naviai/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

// Deps carries the collaborators the route handlers need beyond the database.
type Deps struct {
	Enroller   *worker.Enroller
	Dispatcher worker.Dispatcher
	Generator  worker.ContentGenerator
	Runner     *worker.Runner
}

func SetupAuthRoutes(app *fiber.App) {
	authLogger := log.New(os.Stdout, "AUTH: ", log.Ldate|log.Ltime|log.Lshortfile)

	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Post("/logout", controller.Logout)
	protectedAuth.Get("/me", controller.GetCurrentUser)

	authLogger.Println("Authentication routes initialized successfully")
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, deps Deps) {
	contactController := controller.NewContactController(db, log.New(os.Stdout, "CONTACT: ", log.LstdFlags), deps.Enroller)
	automationController := controller.NewAutomationController(db, log.New(os.Stdout, "AUTOMATION: ", log.LstdFlags))
	broadcastController := controller.NewBroadcastController(db, log.New(os.Stdout, "BROADCAST: ", log.LstdFlags), deps.Dispatcher, deps.Generator)
	sourceController := controller.NewSourceController(db, log.New(os.Stdout, "SOURCE: ", log.LstdFlags))
	dashboardController := controller.NewDashboardController(db, log.New(os.Stdout, "DASHBOARD: ", log.LstdFlags))
	trackingController := controller.NewTrackingController(db, log.New(os.Stdout, "TRACKING: ", log.LstdFlags))
	cronController := controller.NewCronController(db, deps.Runner, log.New(os.Stdout, "CRON: ", log.LstdFlags))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Dashboard routes
	dashboard := api.Group("/dashboard")
	dashboard.Get("/stats", dashboardController.GetDashboardStats)
	dashboard.Get("/engagement", dashboardController.GetEngagementOverTime)
	dashboard.Get("/recent-broadcasts", dashboardController.GetRecentBroadcasts)

	// Contact routes
	contact := api.Group("/contacts")
	contact.Post("/", contactController.CreateContact)
	contact.Get("/", contactController.GetContacts)
	contact.Get("/:id", contactController.GetContact)
	contact.Put("/:id", contactController.UpdateContact)
	contact.Delete("/:id", contactController.DeleteContact)
	contact.Post("/:id/unsubscribe", contactController.UnsubscribeContact)

	// Automation sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", automationController.CreateSequence)
	sequence.Get("/", automationController.GetSequences)
	sequence.Get("/:id", automationController.GetSequence)
	sequence.Put("/:id", automationController.UpdateSequence)
	sequence.Post("/:id/activate", automationController.ActivateSequence)
	sequence.Post("/:id/deactivate", automationController.DeactivateSequence)
	sequence.Delete("/:id", automationController.DeleteSequence)
	sequence.Get("/:id/enrollments", automationController.GetEnrollments)
	sequence.Post("/:id/enrollments/:enrollmentID/cancel", automationController.CancelEnrollment)

	// Broadcast routes
	broadcast := api.Group("/broadcasts")
	broadcast.Post("/", broadcastController.CreateBroadcast)
	broadcast.Get("/", broadcastController.GetBroadcasts)
	broadcast.Get("/:id", broadcastController.GetBroadcast)
	broadcast.Put("/:id", broadcastController.UpdateBroadcast)
	broadcast.Post("/:id/schedule", broadcastController.ScheduleBroadcast)
	broadcast.Post("/:id/unschedule", broadcastController.UnscheduleBroadcast)
	broadcast.Delete("/:id", broadcastController.DeleteBroadcast)
	broadcast.Post("/generate", broadcastController.GenerateContent)

	// Test sends are rate limited per user and broadcast
	broadcast.Post("/:id/test", middleware.TestSendRateLimiter(), broadcastController.TestSend)

	// Poll source routes
	source := api.Group("/sources")
	source.Post("/", sourceController.CreateSource)
	source.Get("/", sourceController.GetSources)
	source.Get("/:id", sourceController.GetSource)
	source.Post("/:id/reconnect", sourceController.ReconnectSource)
	source.Delete("/:id", sourceController.DeleteSource)

	// Ingested data routes
	api.Get("/inbox", sourceController.GetInboxMessages)
	api.Post("/inbox/:id/read", sourceController.MarkMessageRead)
	api.Get("/reviews", sourceController.GetReviews)
	api.Post("/reviews/:id/reply", sourceController.ReplyToReview)
	api.Get("/ranks", sourceController.GetRankSnapshots)

	// WebSocket route for broadcast progress
	app.Get("/api/v1/broadcasts/progress", websocket.New(controller.HandleBroadcastProgressWS(db)))

	// Public tracking endpoints (token guarded, no JWT)
	app.Get("/track/open/:messageID/:token", trackingController.HandleOpenTracking)
	app.Get("/track/click/:messageID/:token", trackingController.HandleClickTracking)
	app.Get("/track/unsubscribe/:contactID/:token", trackingController.HandleUnsubscribe)

	// Job trigger endpoints for external cron, guarded by the shared secret
	jobs := app.Group("/jobs", middleware.CronAuth())
	jobs.Post("/:name/run", cronController.TriggerJob)
	jobs.Get("/runs", cronController.GetJobRuns)
}

func SetupRoutes(app *fiber.App, db *gorm.DB, deps Deps) {
	SetupAuthRoutes(app)
	SetupAPIRoutes(app, db, deps)
}
