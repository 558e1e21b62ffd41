package handlers

import (
	"crypto/subtle"

	"github.com/StayLitCodes/Vaultix/internal/auth"
	"github.com/StayLitCodes/Vaultix/internal/config"
	"github.com/StayLitCodes/Vaultix/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthHandler issues user tokens to trusted upstream services. User
// identity itself is managed elsewhere; this service only needs a
// verified user id per request.
type AuthHandler struct {
	cfg *config.Config
	log *zap.Logger
}

func NewAuthHandler(cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, log: log}
}

func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req dto.IssueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	if h.cfg.ServiceAuthSecret == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "token issuance is disabled"})
	}
	if subtle.ConstantTimeCompare([]byte(req.ServiceSecret), []byte(h.cfg.ServiceAuthSecret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid service secret"})
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid user_id"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, userID, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.AuthResponse{Token: token, UserID: userID.String()})
}
