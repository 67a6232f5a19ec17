package handler

import (
	"context"
	"net/http"

	"spark/internal/domain"
	"spark/internal/middleware"
	"spark/internal/service"

	"github.com/gin-gonic/gin"
)

type ConnectionHandler struct {
	conns *service.ConnectionService
}

func NewConnectionHandler(conns *service.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{conns: conns}
}

func (h *ConnectionHandler) Request(c *gin.Context) {
	target, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	pending, err := h.conns.Request(c.Request.Context(), middleware.GetUserID(c), target)
	if err != nil {
		writeError(c, "request", err)
		return
	}
	c.JSON(http.StatusCreated, pending)
}

func (h *ConnectionHandler) Accept(c *gin.Context) {
	h.transition(c, "accept", h.conns.Accept)
}

func (h *ConnectionHandler) Reject(c *gin.Context) {
	h.transition(c, "reject", h.conns.Reject)
}

// Expire is called with the requester as caller and the target in the path.
func (h *ConnectionHandler) Expire(c *gin.Context) {
	h.transition(c, "expire", h.conns.Expire)
}

func (h *ConnectionHandler) Cancel(c *gin.Context) {
	h.transition(c, "cancel", h.conns.Cancel)
}

func (h *ConnectionHandler) Block(c *gin.Context) {
	h.transition(c, "block", h.conns.Block)
}

func (h *ConnectionHandler) Unblock(c *gin.Context) {
	h.transition(c, "unblock", h.conns.Unblock)
}

func (h *ConnectionHandler) transition(c *gin.Context, op string, fn func(context.Context, uint, uint) error) {
	other, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), middleware.GetUserID(c), other); err != nil {
		writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *ConnectionHandler) Requesters(c *gin.Context) {
	list, err := h.conns.Requesters(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, "requesters", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requesters": list})
}

func (h *ConnectionHandler) Connections(c *gin.Context) {
	list, err := h.conns.Connections(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, "connections", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": list})
}

func (h *ConnectionHandler) CanSendRequest(c *gin.Context) {
	st, err := h.conns.CanSendRequest(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, "can send request", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *ConnectionHandler) Relationships(c *gin.Context) {
	rel, err := h.conns.Relationships(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		writeError(c, "relationships", err)
		return
	}
	c.JSON(http.StatusOK, rel)
}

// Dispatch runs a lifecycle action received on the events socket.
func (h *ConnectionHandler) Dispatch(ctx context.Context, callerID uint, action string, targetID uint) (interface{}, error) {
	if targetID == 0 {
		return nil, domain.NewError(domain.CodeInvalidInput, "user_id is required")
	}
	switch action {
	case "request":
		return h.conns.Request(ctx, callerID, targetID)
	case "accept":
		return nil, h.conns.Accept(ctx, callerID, targetID)
	case "reject":
		return nil, h.conns.Reject(ctx, callerID, targetID)
	case "cancel":
		return nil, h.conns.Cancel(ctx, callerID, targetID)
	case "expire":
		return nil, h.conns.Expire(ctx, callerID, targetID)
	case "block":
		return nil, h.conns.Block(ctx, callerID, targetID)
	case "unblock":
		return nil, h.conns.Unblock(ctx, callerID, targetID)
	}
	return nil, domain.NewError(domain.CodeInvalidInput, "unknown action "+action)
}
