package controller

import (
	"dripflow/services"
	"dripflow/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type SequenceController struct {
	Service *services.SequenceService
	Logger  *logrus.Entry
}

func NewSequenceController(service *services.SequenceService, logger *logrus.Entry) *SequenceController {
	return &SequenceController{
		Service: service,
		Logger:  logger,
	}
}

// CreateSequence creates a sequence from a flowchart of nodes and edges
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input services.CreateSequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	sequence, err := sc.Service.CreateSequence(c.UserContext(), input)
	if err != nil {
		return sc.fail(c, "Failed to create sequence", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Sequence created successfully",
		"sequence": sequence,
	})
}

// GetSequences returns all sequences, newest first
func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	sequences, err := sc.Service.ListSequences(c.UserContext())
	if err != nil {
		return sc.fail(c, "Failed to fetch sequences", err)
	}
	return c.JSON(sequences)
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", err)
	}

	sequence, err := sc.Service.GetSequence(c.UserContext(), id)
	if err != nil {
		return sc.fail(c, "Failed to fetch sequence", err)
	}
	return c.JSON(sequence)
}

func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", err)
	}

	var patch services.UpdateSequenceInput
	if err := c.BodyParser(&patch); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	sequence, err := sc.Service.UpdateSequence(c.UserContext(), id, patch)
	if err != nil {
		return sc.fail(c, "Failed to update sequence", err)
	}

	return c.JSON(fiber.Map{
		"message":  "Sequence updated successfully",
		"sequence": sequence,
	})
}

func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", err)
	}

	if err := sc.Service.DeleteSequence(c.UserContext(), id); err != nil {
		return sc.fail(c, "Failed to delete sequence", err)
	}

	return c.JSON(fiber.Map{
		"message": "Sequence deleted successfully",
	})
}

// RunSequence enrolls a lead and schedules the sequence's emails
func (sc *SequenceController) RunSequence(c *fiber.Ctx) error {
	id, err := utils.ParseUint(c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid sequence ID", err)
	}

	var input services.RunSequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	result, err := sc.Service.RunSequence(c.UserContext(), id, input)
	if err != nil {
		return sc.fail(c, "Failed to run sequence", err)
	}

	return c.JSON(fiber.Map{
		"message": "Sequence started successfully for lead",
		"lead":    result.Lead,
		"emails":  result.Jobs,
	})
}

func (sc *SequenceController) fail(c *fiber.Ctx, message string, err error) error {
	status := utils.StatusForError(err)
	if status >= fiber.StatusInternalServerError {
		sc.Logger.WithError(err).WithField("path", c.Path()).Error(message)
	}
	return utils.ErrorResponse(c, status, message, err)
}
