package handler

import (
	"net/http"
	"strconv"

	"spark/internal/domain"
	"spark/internal/middleware"
	"spark/internal/repository"
	"spark/internal/service"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	sweeper *service.Sweeper
	pricing *service.Pricing
	audit   repository.AuditStore
}

func NewAdminHandler(sweeper *service.Sweeper, pricing *service.Pricing, audit repository.AuditStore) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, pricing: pricing, audit: audit}
}

// Sweep runs a full repair pass plus stale-request expiry.
func (h *AdminHandler) Sweep(c *gin.Context) {
	rep, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		writeError(c, "sweep", err)
		return
	}
	audit(c, h.audit, middleware.GetUserID(c), "admin_sweep", "sweep", "", map[string]interface{}{
		"users":   rep.Users,
		"matches": rep.Matches,
		"expired": rep.Expired,
	})
	c.JSON(http.StatusOK, rep)
}

func (h *AdminHandler) RepairUser(c *gin.Context) {
	id, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	rep, err := h.sweeper.Repair(c.Request.Context(), id)
	if err != nil {
		writeError(c, "repair", err)
		return
	}
	audit(c, h.audit, middleware.GetUserID(c), "admin_repair", "user", strconv.FormatUint(uint64(id), 10), map[string]interface{}{
		"stale_likers":   rep.StaleLikers,
		"missing_likers": rep.MissingLikers,
		"matches":        rep.Matches,
	})
	c.JSON(http.StatusOK, rep)
}

// AuditLog lists recent audit entries, optionally filtered by action.
func (h *AdminHandler) AuditLog(c *gin.Context) {
	limit, offset := pageParams(c)
	list, err := h.audit.List(c.Request.Context(), c.Query("action"), limit, offset)
	if err != nil {
		writeError(c, "list audit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": list})
}

func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.pricing.Settings(c.Request.Context())
	if err != nil {
		writeError(c, "get settings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// SetConnectionPrice changes the ticket price used by later purchases.
func (h *AdminHandler) SetConnectionPrice(c *gin.Context) {
	var req struct {
		PriceCents int64 `json:"price_cents" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	old := h.pricing.ConnectionPriceCents(c.Request.Context())
	if err := h.pricing.SetConnectionPrice(c.Request.Context(), req.PriceCents); err != nil {
		writeError(c, "set price", err)
		return
	}
	audit(c, h.audit, middleware.GetUserID(c), "admin_set_price", "setting", domain.SettingConnectionPrice, map[string]interface{}{
		"old": old,
		"new": req.PriceCents,
	})
	c.JSON(http.StatusOK, gin.H{"price_cents": req.PriceCents})
}
