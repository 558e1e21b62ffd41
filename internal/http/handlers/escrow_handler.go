package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/StayLitCodes/Vaultix/internal/escrowerr"
	"github.com/StayLitCodes/Vaultix/internal/http/dto"
	"github.com/StayLitCodes/Vaultix/internal/middleware"
	"github.com/StayLitCodes/Vaultix/internal/repositories"
	"github.com/StayLitCodes/Vaultix/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

// serviceError maps the error taxonomy onto HTTP statuses: not found
// 404, invalid state 409, forbidden 403, settlement failure 502.
func (h *EscrowHandler) serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, escrowerr.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "escrow not found"})
	case errors.Is(err, escrowerr.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, escrowerr.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, escrowerr.ErrSettlementFailed):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	h.log.Error("escrow operation failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "title is required"})
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid amount"})
	}

	input := services.CreateEscrowInput{
		Title:       req.Title,
		Description: req.Description,
		Amount:      amount,
		Asset:       req.Asset,
		Type:        req.Type,
		ExpiresAt:   req.ExpiresAt,
	}
	for _, p := range req.Parties {
		userID, err := uuid.Parse(p.UserID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid party user_id"})
		}
		input.Parties = append(input.Parties, services.PartyInput{UserID: userID, Role: p.Role})
	}
	for _, cond := range req.Conditions {
		if cond.Description == "" {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "condition description is required"})
		}
		input.Conditions = append(input.Conditions, services.ConditionInput{Description: cond.Description, Type: cond.Type})
	}

	actorID := middleware.GetUserID(c)
	ip := c.IP()
	escrow, err := h.escrowService.Create(c.Context(), input, actorID, &ip)
	if err != nil {
		if errors.Is(err, escrowerr.ErrInvalidState) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		return h.serviceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	userID := middleware.GetUserID(c)
	isParty, err := h.escrowService.IsUserParty(c.Context(), id, userID)
	if err != nil {
		return h.serviceError(c, err)
	}
	if !isParty {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "escrow not found"})
	}

	escrow, err := h.escrowService.Get(c.Context(), id)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) ListEscrows(c *fiber.Ctx) error {
	filter := repositories.EscrowFilter{
		UserID: middleware.GetUserID(c),
		SortBy: c.Query("sort_by", "created_at"),
		Asc:    c.Query("order") == "asc",
		Limit:  20,
		Offset: 0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("type"); v != "" {
		filter.Type = &v
	}
	if v := c.Query("role"); v != "" {
		filter.Role = &v
	}
	if v := c.Query("search"); v != "" {
		filter.Search = &v
	}

	escrows, total, err := h.escrowService.List(c.Context(), filter)
	if err != nil {
		h.log.Error("list escrows failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.ListResponse{OK: true, Data: escrows, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *EscrowHandler) Overview(c *fiber.Ctx) error {
	filter := repositories.OverviewFilter{
		Role:     c.Query("role", "any"),
		SortBy:   c.Query("sort_by", "created_at"),
		Asc:      c.Query("order") == "asc",
		Page:     1,
		PageSize: 20,
	}

	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Page = n
		}
	}
	if v := c.Query("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.PageSize = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("token"); v != "" {
		filter.Token = &v
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = &t
		}
	}

	rows, total, err := h.escrowService.Overview(c.Context(), middleware.GetUserID(c), filter)
	if err != nil {
		h.log.Error("escrow overview failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.ListResponse{OK: true, Data: rows, Total: total, Limit: filter.PageSize, Offset: (filter.Page - 1) * filter.PageSize})
}

func (h *EscrowHandler) UpdateEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.UpdateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	ip := c.IP()
	escrow, err := h.escrowService.Update(c.Context(), id, services.UpdateEscrowInput{
		Title:       req.Title,
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
	}, middleware.GetUserID(c), &ip)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) FundEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	escrow, err := h.escrowService.Fund(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) CancelEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.CancelEscrowRequest
	_ = c.BodyParser(&req)

	ip := c.IP()
	escrow, err := h.escrowService.Cancel(c.Context(), id, req.Reason, middleware.GetUserID(c), &ip)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) ReleaseEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	escrow, err := h.escrowService.Release(c.Context(), id, middleware.GetUserID(c), true)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) DisputeEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.DisputeEscrowRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "reason is required"})
	}

	escrow, err := h.escrowService.Dispute(c.Context(), id, req.Reason, middleware.GetUserID(c))
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) ResolveDispute(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil || req.Outcome == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "outcome is required (release, refund)"})
	}

	escrow, err := h.escrowService.ResolveDispute(c.Context(), id, req.Outcome, middleware.GetUserID(c))
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) GetEscrowEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow id"})
	}

	userID := middleware.GetUserID(c)
	isParty, err := h.escrowService.IsUserParty(c.Context(), id, userID)
	if err != nil {
		return h.serviceError(c, err)
	}
	if !isParty {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "escrow not found"})
	}

	limit, offset := 100, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	events, err := h.escrowService.GetEvents(c.Context(), id, limit, offset)
	if err != nil {
		h.log.Error("get escrow events failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: events})
}

func (h *EscrowHandler) ConfirmCondition(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid condition id"})
	}

	condition, err := h.escrowService.ConfirmCondition(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, escrowerr.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "condition not found"})
		}
		return h.serviceError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: condition})
}
