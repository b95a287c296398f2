// Package httpapi is the HTTP surface: C7's broadcast endpoint plus health
// and diagnostic routes, mounted alongside the WebSocket upgrade handler.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pulsehub/internal/bus"
)

// SubscriberCounter is the slice of *realtime.Registry the broadcast
// endpoint needs for its best-effort local subscriber_count field.
type SubscriberCounter interface {
	SubscriberCount(channel string) int
}

// BroadcastHandler implements C7: POST /api/broadcast.
type BroadcastHandler struct {
	appKey      string
	bus         bus.Bus
	subscribers SubscriberCounter
}

func NewBroadcastHandler(appKey string, b bus.Bus, subscribers SubscriberCounter) *BroadcastHandler {
	return &BroadcastHandler{appKey: appKey, bus: b, subscribers: subscribers}
}

type broadcastRequest struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Broadcast godoc
// @Summary Publish an event to a channel
// @Description Publishes {channel, event, data} to every subscriber of channel across the fleet.
// @Tags broadcast
// @Accept json
// @Produce json
// @Param x-app-key header string true "Application key"
// @Param request body broadcastRequest true "Event to publish"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Failure 502 {object} map[string]interface{}
// @Router /api/broadcast [post]
func (h *BroadcastHandler) Broadcast(c *gin.Context) {
	if !h.authorized(c.GetHeader("x-app-key")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or wrong x-app-key"})
		return
	}

	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if req.Channel == "" || req.Event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel and event are required"})
		return
	}
	if strings.HasPrefix(req.Channel, "pusher_internal:") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel name starts with pusher_internal:"})
		return
	}

	env := bus.Envelope{Channel: req.Channel, Event: req.Event, Data: req.Data}
	payload, err := json.Marshal(env)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed data"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := h.bus.Publish(ctx, bus.Topic(req.Channel), payload); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "bus publish failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":               true,
		"channel":          req.Channel,
		"event":            req.Event,
		"subscriber_count": h.subscribers.SubscriberCount(req.Channel),
	})
}

func (h *BroadcastHandler) authorized(key string) bool {
	if key == "" || h.appKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.appKey)) == 1
}
