package controller

import (
	"dripflow/services"
	"dripflow/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type LeadController struct {
	Service *services.SequenceService
	Logger  *logrus.Entry
}

func NewLeadController(service *services.SequenceService, logger *logrus.Entry) *LeadController {
	return &LeadController{
		Service: service,
		Logger:  logger,
	}
}

// Unsubscribe stops all pending and future emails to a lead
func (lc *LeadController) Unsubscribe(c *fiber.Ctx) error {
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead ID", err)
	}

	lead, err := lc.Service.UnsubscribeLead(c.UserContext(), id)
	if err != nil {
		status := utils.StatusForError(err)
		if status >= fiber.StatusInternalServerError {
			lc.Logger.WithError(err).Error("Failed to unsubscribe lead")
		}
		return utils.ErrorResponse(c, status, "Failed to unsubscribe lead", err)
	}

	return c.JSON(fiber.Map{
		"message": "Lead unsubscribed successfully",
		"lead":    lead,
	})
}
