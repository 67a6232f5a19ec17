package handler

import (
	"net/http"

	"spark/internal/middleware"
	"spark/internal/service"

	"github.com/gin-gonic/gin"
)

type LikeHandler struct {
	likes *service.LikeService
}

func NewLikeHandler(likes *service.LikeService) *LikeHandler {
	return &LikeHandler{likes: likes}
}

// SetLikes replaces the caller's likes and dislikes.
func (h *LikeHandler) SetLikes(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req struct {
		Likes    []uint `json:"likes"`
		Dislikes []uint `json:"dislikes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.likes.SetLikes(c.Request.Context(), userID, req.Likes, req.Dislikes)
	if err != nil {
		writeError(c, "set likes", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
