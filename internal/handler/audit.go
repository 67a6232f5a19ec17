package handler

import (
	"encoding/json"
	"log"

	"spark/internal/models"
	"spark/internal/repository"

	"github.com/gin-gonic/gin"
)

// audit writes an audit entry for the request; failures are only logged.
func audit(c *gin.Context, store repository.AuditStore, userID uint, action, resource, resourceID string, meta map[string]interface{}) {
	if store == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IP:         c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	}
	if userID != 0 {
		entry.UserID = &userID
	}
	if meta != nil {
		b, _ := json.Marshal(meta)
		entry.Metadata = string(b)
	}
	if err := store.Create(c.Request.Context(), entry); err != nil {
		log.Printf("[AUDIT] %s %s/%s: %v", action, resource, resourceID, err)
	}
}
