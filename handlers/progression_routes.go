// handlers/progression_routes.go
package handlers

import (
	"errors"
	"strings"
	"time"

	"challenge-platform/middleware"
	"challenge-platform/models"
	"challenge-platform/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handlers groups the engine services exposed over HTTP.
type Handlers struct {
	Progression  *services.ProgressionService
	Rewards      *services.RewardService
	Certificates *services.CertificateService
	Logger       *zap.Logger
}

func SetupProgressionRoutes(app *fiber.App, h *Handlers) {
	// The gateway forwards /api/v1/challenges/s/user/progress -> /user/progress
	secured := app.Group("/", middleware.UserContextMiddleware(h.Logger))

	secured.Get("/user/progress", h.getProgress)
	secured.Get("/user/progress/stream", h.streamProgress)
	secured.Post("/user/login", h.recordLogin)

	secured.Post("/challenges/:id/start", h.startChallenge)
	secured.Post("/challenges/:id/like", h.likeChallenge)
	secured.Post("/challenges/:id/share", h.shareChallenge)

	secured.Get("/rewards", h.listRewards)
	secured.Post("/rewards/:name/redeem", h.redeemReward)

	secured.Get("/user/certificates", h.listCertificates)
	secured.Post("/user/certificates/:tier/unlock", h.unlockCertificate)

	admin := app.Group("/s/admin", middleware.UserContextMiddleware(h.Logger), middleware.RequireRole("admin"))
	admin.Post("/users/:user_id/ban", h.banUser)
}

func (h *Handlers) getProgress(c *fiber.Ctx) error {
	view, err := h.Progression.GetProgress(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(view)
}

func (h *Handlers) recordLogin(c *fiber.Ctx) error {
	view, err := h.Progression.RecordLogin(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(view)
}

func (h *Handlers) startChallenge(c *fiber.Ctx) error {
	view, err := h.Progression.StartChallenge(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(view)
}

func (h *Handlers) likeChallenge(c *fiber.Ctx) error {
	result, err := h.Progression.LikeChallenge(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(result)
}

func (h *Handlers) shareChallenge(c *fiber.Ctx) error {
	var req struct {
		Caption string `json:"caption"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "code": "invalid_input"})
		}
	}
	result, err := h.Progression.ShareChallenge(c.UserContext(), middleware.UserID(c), c.Params("id"), strings.TrimSpace(req.Caption))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(result)
}

func (h *Handlers) listRewards(c *fiber.Ctx) error {
	entries, err := h.Rewards.Catalog(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"rewards": entries})
}

func (h *Handlers) redeemReward(c *fiber.Ctx) error {
	var params services.RedeemParams
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&params); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "code": "invalid_input"})
		}
	}
	result, err := h.Rewards.Redeem(c.UserContext(), middleware.UserID(c), models.RewardName(c.Params("name")), params)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(result)
}

func (h *Handlers) listCertificates(c *fiber.Ctx) error {
	statuses, err := h.Certificates.Statuses(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{"certificates": statuses})
}

func (h *Handlers) unlockCertificate(c *fiber.Ctx) error {
	var req struct {
		PaymentToken string `json:"payment_token"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body", "code": "invalid_input"})
		}
	}
	result, err := h.Certificates.Unlock(c.UserContext(), middleware.UserID(c), c.Params("tier"), req.PaymentToken)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *Handlers) banUser(c *fiber.Ctx) error {
	var req struct {
		Until time.Time `json:"until"`
	}
	if err := c.BodyParser(&req); err != nil || req.Until.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "until is required (RFC 3339)", "code": "invalid_input"})
	}
	userID := c.Params("user_id")
	view, err := h.Progression.ResetForBan(c.UserContext(), userID, req.Until)
	if err != nil {
		return h.writeError(c, err)
	}
	h.Logger.Info("🔨 user banned by admin",
		zap.String("user_id", userID),
		zap.String("admin_id", middleware.UserID(c)),
		zap.Time("until", req.Until),
	)
	return c.JSON(view)
}

var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrNotFound, fiber.StatusNotFound, "not_found"},
	{services.ErrInvalidInput, fiber.StatusBadRequest, "invalid_input"},
	{services.ErrBanned, fiber.StatusForbidden, "banned"},
	{services.ErrTrackMismatch, fiber.StatusForbidden, "track_mismatch"},
	{services.ErrInsufficientPoints, fiber.StatusPaymentRequired, "insufficient_points"},
	{services.ErrAlreadyCompleted, fiber.StatusConflict, "already_completed"},
	{services.ErrAlreadyHighlighted, fiber.StatusConflict, "already_highlighted"},
	{services.ErrNotAtRisk, fiber.StatusUnprocessableEntity, "not_at_risk"},
	{services.ErrInvalidPaymentMethod, fiber.StatusPaymentRequired, "invalid_payment_method"},
	{services.ErrConcurrentModification, fiber.StatusServiceUnavailable, "concurrent_modification"},
}

// writeError maps engine errors to a status and machine-readable code. Anything unrecognised
// is a 500 and is logged.
func (h *Handlers) writeError(c *fiber.Ctx, err error) error {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return c.Status(e.status).JSON(fiber.Map{"error": err.Error(), "code": e.code})
		}
	}
	h.Logger.Error("request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
		"code":  "internal",
	})
}
