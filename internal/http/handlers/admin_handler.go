package handlers

import (
	"github.com/StayLitCodes/Vaultix/internal/http/dto"
	"github.com/StayLitCodes/Vaultix/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AdminHandler struct {
	checker *services.ConsistencyChecker
	log     *zap.Logger
}

func NewAdminHandler(checker *services.ConsistencyChecker, log *zap.Logger) *AdminHandler {
	return &AdminHandler{checker: checker, log: log}
}

// ConsistencyCheck runs an on-demand reconciliation sweep. With no ids
// in the body it sweeps recently updated escrows.
func (h *AdminHandler) ConsistencyCheck(c *fiber.Ctx) error {
	var req dto.ConsistencyCheckRequest
	_ = c.BodyParser(&req)

	ids := make([]uuid.UUID, 0, len(req.EscrowIDs))
	for _, s := range req.EscrowIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id: " + s})
		}
		ids = append(ids, id)
	}

	result, err := h.checker.Check(c.Context(), ids)
	if err != nil {
		h.log.Error("consistency check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: result})
}
