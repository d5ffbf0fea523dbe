package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/quocanhngo/devicegate/internal/stream"
	"github.com/quocanhngo/devicegate/pkg/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, validate origin
	},
}

// WSHandler upgrades dashboard watchers to WebSocket
type WSHandler struct {
	hub        *stream.Hub
	jwtManager *auth.JWTManager
}

func NewWSHandler(hub *stream.Hub, jwtManager *auth.JWTManager) *WSHandler {
	return &WSHandler{hub: hub, jwtManager: jwtManager}
}

// HandleWebSocket upgrades HTTP to WebSocket and feeds the app's access
// events to the dashboard.
// Client connects with: ws://host/ws?token=<jwt_token>
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	// Authenticate via query parameter (WebSocket can't use Authorization header)
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := h.jwtManager.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := stream.NewClient(h.hub, conn, claims.AppID)
	h.hub.Register(client)

	log.Printf("✅ Dashboard watcher connected: app=%s", claims.ClientID)

	go client.WritePump()
	go client.ReadPump()
}
