package handler

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/devicegate/internal/model"
	"github.com/quocanhngo/devicegate/internal/stream"
)

// heartbeatInterval keeps idle SSE streams alive through proxies
const heartbeatInterval = 25 * time.Second

// ListenHandler serves the per-device Server-Sent Events stream
type ListenHandler struct {
	hub *stream.Hub
}

func NewListenHandler(hub *stream.Hub) *ListenHandler {
	return &ListenHandler{hub: hub}
}

// Listen godoc
// @Summary Open a device's control event stream
// @Description Server-Sent Events stream; each data frame is a bare control payload such as "logout"
// @Tags Access
// @Produce text/event-stream
// @Security BasicAuth
// @Param deviceID path string true "Device ID"
// @Success 200 {string} string "event stream"
// @Router /access/device/{deviceID}/listen [get]
func (h *ListenHandler) Listen(c *gin.Context) {
	deviceID := c.Param("deviceID")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Device ID required"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Streaming not supported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	listener := h.hub.Subscribe(deviceID)
	defer h.hub.Unsubscribe(listener)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, open := <-listener.Events():
			if !open {
				return
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
				log.Printf("⚠️  SSE write for device %s: %v", deviceID, err)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			// Comment frame, ignored by the client parser
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
