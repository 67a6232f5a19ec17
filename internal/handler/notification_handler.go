package handler

import (
	"errors"
	"net/http"
	"strings"

	"spark/internal/middleware"
	"spark/internal/repository"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	repo  repository.NotificationStore
	users repository.UserStore
}

func NewNotificationHandler(repo repository.NotificationStore, users repository.UserStore) *NotificationHandler {
	return &NotificationHandler{repo: repo, users: users}
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, offset := pageParams(c)
	list, err := h.repo.ListByUserID(c.Request.Context(), userID, limit, offset)
	if err != nil {
		writeError(c, "list notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.repo.MarkRead(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		writeError(c, "mark read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetDeviceToken stores the caller's push token; an empty token disables push.
func (h *NotificationHandler) SetDeviceToken(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.users.SetDeviceToken(c.Request.Context(), middleware.GetUserID(c), strings.TrimSpace(req.Token))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		writeError(c, "set device token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
