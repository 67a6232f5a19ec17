package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"spark/config"
	"spark/internal/domain"
	"spark/internal/middleware"
	"spark/internal/repository"
	"spark/internal/service"
	"spark/pkg/payment"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	rec     *service.Reconciler
	gateway payment.Verifier
	cfg     *config.PaymentConfig
	audit   repository.AuditStore
}

func NewPaymentHandler(rec *service.Reconciler, gateway payment.Verifier, cfg *config.PaymentConfig, audit repository.AuditStore) *PaymentHandler {
	return &PaymentHandler{rec: rec, gateway: gateway, cfg: cfg, audit: audit}
}

// Webhook receives gateway callbacks. Only successful payments reach the
// reconciler; everything else is acknowledged and dropped so the gateway
// stops retrying.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if h.cfg.WebhookSecret != "" && !h.verifySignature(body, c.GetHeader("X-Webhook-Signature")) {
		audit(c, h.audit, 0, "payment_webhook_rejected", "payment", "", map[string]interface{}{"reason": "signature"})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	var p service.PaymentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if p.Reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference required"})
		return
	}
	if !strings.EqualFold(p.Status, domain.PaymentStatusSuccess) {
		log.Printf("[PAYMENT] webhook %s ignored: status %q", p.Reference, p.Status)
		audit(c, h.audit, p.PayerID, "payment_webhook_ignored", "payment", p.Reference, map[string]interface{}{"status": p.Status})
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	tx, err := h.rec.Reconcile(c.Request.Context(), p)
	if err != nil {
		if code := domain.ErrorCode(err); code != "" {
			log.Printf("[PAYMENT] webhook %s rejected: %v", p.Reference, err)
			audit(c, h.audit, p.PayerID, "payment_webhook_rejected", "payment", p.Reference, map[string]interface{}{"reason": code})
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		writeError(c, "reconcile", err)
		return
	}
	audit(c, h.audit, tx.UserID, "payment_reconciled", "transaction", p.Reference, map[string]interface{}{
		"amount_cents": tx.AmountCents,
		"kind":         tx.Kind,
		"source":       "webhook",
	})
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Verify is the client-initiated path: the gateway is asked about the
// reference and a successful payment is credited to the caller, provided the
// gateway names the caller as payer.
func (h *PaymentHandler) Verify(c *gin.Context) {
	var req struct {
		Reference string `json:"reference" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := h.gateway.Verify(c.Request.Context(), req.Reference)
	if errors.Is(err, payment.ErrUnknownReference) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	if err != nil {
		log.Printf("[PAYMENT] verify %s: %v", req.Reference, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
		return
	}
	callerID := middleware.GetUserID(c)
	tx, err := h.rec.ReconcileFor(c.Request.Context(), callerID, service.PaymentPayload{
		Reference:   v.Reference,
		AmountCents: v.AmountCents,
		PayerEmail:  v.PayerEmail,
		Status:      v.Status,
	})
	if err != nil {
		if domain.IsCode(err, domain.CodePayerMismatch) || domain.IsCode(err, domain.CodeReferenceUsed) {
			audit(c, h.audit, callerID, "payment_verify_refused", "payment", v.Reference, map[string]interface{}{"reason": domain.ErrorCode(err)})
		}
		writeError(c, "verify payment", err)
		return
	}
	audit(c, h.audit, tx.UserID, "payment_reconciled", "transaction", v.Reference, map[string]interface{}{
		"amount_cents": tx.AmountCents,
		"kind":         tx.Kind,
		"source":       "verify",
	})
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// Purchase buys connection tickets from the caller's balance.
func (h *PaymentHandler) Purchase(c *gin.Context) {
	var req struct {
		Quantity  int    `json:"quantity" binding:"required,min=1"`
		Reference string `json:"reference"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := h.rec.PurchaseConnections(c.Request.Context(), middleware.GetUserID(c), req.Quantity, req.Reference)
	if err != nil {
		writeError(c, "purchase", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

func (h *PaymentHandler) Transactions(c *gin.Context) {
	limit, offset := pageParams(c)
	list, err := h.rec.Transactions(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		writeError(c, "list transactions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

func (h *PaymentHandler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}
