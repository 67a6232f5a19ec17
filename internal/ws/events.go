package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"spark/config"
	"spark/internal/auth"
	"spark/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 4096
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Action is an inbound frame asking for a lifecycle transition.
type Action struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	UserID uint   `json:"user_id"`
}

// ActionFunc runs action for the socket's authenticated user.
type ActionFunc func(ctx context.Context, callerID uint, action string, targetID uint) (interface{}, error)

// UpgradeEventsWS serves the per-user event channel. The token comes from the
// query string; the caller id of inbound actions is always the token's.
func UpgradeEventsWS(cfg *config.JWTConfig, hub *Hub, dispatch ActionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := auth.ParseAccessToken(cfg, c.Query("token"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := NewClient(claims.UserID, claims.Role, sendBuffer)
		hub.Register(client)
		log.Printf("[WS] user %d connected", claims.UserID)

		go writePump(client, conn)
		readPump(c.Request.Context(), client, conn, dispatch)
		client.Close()
		log.Printf("[WS] user %d disconnected", claims.UserID)
	}
}

// writePump copies client.Send to the connection and keeps it alive.
func writePump(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(ctx context.Context, c *Client, conn *websocket.Conn, dispatch ActionFunc) {
	conn.SetReadLimit(maxMessage)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	ctx = context.WithoutCancel(ctx)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.trySend(handleFrame(ctx, c.UserID, data, dispatch))
	}
}

// handleFrame runs one inbound frame and returns the ack or error reply.
func handleFrame(ctx context.Context, callerID uint, data []byte, dispatch ActionFunc) []byte {
	var a Action
	if err := json.Unmarshal(data, &a); err != nil || a.Action == "" {
		return errorFrame("", domain.CodeInvalidInput, "expected {\"action\": ..., \"user_id\": ...}")
	}
	if dispatch == nil {
		return errorFrame(a.ID, domain.CodeInvalidInput, "actions are not accepted on this socket")
	}
	result, err := dispatch(ctx, callerID, a.Action, a.UserID)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return errorFrame(a.ID, de.Code, de.Message)
		}
		log.Printf("[WS] action %s by %d: %v", a.Action, callerID, err)
		return errorFrame(a.ID, "INTERNAL", "internal error")
	}
	out, _ := json.Marshal(map[string]interface{}{
		"type":    "ack",
		"id":      a.ID,
		"action":  a.Action,
		"user_id": a.UserID,
		"result":  result,
	})
	return out
}

func errorFrame(id, code, msg string) []byte {
	out, _ := json.Marshal(map[string]interface{}{
		"type":      "error",
		"id":        id,
		"code":      code,
		"error":     msg,
		"retryable": code == domain.CodeConflict,
	})
	return out
}
