package routes

import (
	controller "dripflow/controllers"
	"dripflow/middleware"
	"dripflow/services"
	"dripflow/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// Options configures the API routes.
type Options struct {
	RunRateLimit   int
	RateLimitStore fiber.Storage // nil uses in-memory storage
}

func SetupRoutes(app *fiber.App, service *services.SequenceService, opts Options) {
	httpLogger := utils.Component("http")

	sequenceController := controller.NewSequenceController(service, httpLogger)
	emailController := controller.NewEmailController(service, httpLogger)
	leadController := controller.NewLeadController(service, httpLogger)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	api := app.Group("/api", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence routes
	sequences := api.Group("/sequences")
	sequences.Post("/", sequenceController.CreateSequence)
	sequences.Get("/", sequenceController.GetSequences)
	sequences.Get("/:id", sequenceController.GetSequence)
	sequences.Put("/:id", sequenceController.UpdateSequence)
	sequences.Delete("/:id", sequenceController.DeleteSequence)
	sequences.Post("/:id/run",
		middleware.RunRateLimiter(opts.RunRateLimit, opts.RateLimitStore),
		sequenceController.RunSequence,
	)

	// Email routes
	emails := api.Group("/emails")
	emails.Post("/schedule", emailController.ScheduleEmail)
	emails.Get("/", emailController.GetEmails)
	emails.Get("/:id", emailController.GetEmail)

	// Lead routes
	leads := api.Group("/leads")
	leads.Post("/:id/unsubscribe", leadController.Unsubscribe)

	httpLogger.Info("API routes initialized successfully")
}
