package controller

import (
	"dripflow/services"
	"dripflow/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type EmailController struct {
	Service *services.SequenceService
	Logger  *logrus.Entry
}

func NewEmailController(service *services.SequenceService, logger *logrus.Entry) *EmailController {
	return &EmailController{
		Service: service,
		Logger:  logger,
	}
}

// ScheduleEmail schedules a one-off email `delay` seconds from now
func (ec *EmailController) ScheduleEmail(c *fiber.Ctx) error {
	var input services.OneOffEmailInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	email, err := ec.Service.ScheduleOneOffEmail(c.UserContext(), input)
	if err != nil {
		return ec.fail(c, "Failed to schedule email", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Email scheduled successfully",
		"email":   email,
	})
}

// GetEmails returns every scheduled email, earliest first
func (ec *EmailController) GetEmails(c *fiber.Ctx) error {
	emails, err := ec.Service.ListEmails(c.UserContext())
	if err != nil {
		return ec.fail(c, "Failed to fetch emails", err)
	}
	return c.JSON(emails)
}

func (ec *EmailController) GetEmail(c *fiber.Ctx) error {
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid email ID", err)
	}

	email, err := ec.Service.GetEmail(c.UserContext(), id)
	if err != nil {
		return ec.fail(c, "Failed to fetch email", err)
	}
	return c.JSON(email)
}

func (ec *EmailController) fail(c *fiber.Ctx, message string, err error) error {
	status := utils.StatusForError(err)
	if status >= fiber.StatusInternalServerError {
		ec.Logger.WithError(err).WithField("path", c.Path()).Error(message)
	}
	return utils.ErrorResponse(c, status, message, err)
}
