package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mirkobrombin/go-lease/v1/events"
)

var upgrader = websocket.Upgrader{}

// watch subscribes to the events of the :name lease for the lifetime of ctx.
// It answers the request itself and returns nil when no bus is configured.
func (s *Server) watch(ctx context.Context, c *gin.Context) (string, chan events.Event) {
	name := c.Param("name")
	if s.bus == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no event bus configured"})
		return name, nil
	}
	ch, err := s.bus.Subscribe(ctx, name)
	if err != nil {
		s.logger.Error("subscribe to lease events failed", zap.String("name", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return name, nil
	}
	return name, ch
}

// watchSSE streams lock and unlock events of a lease as Server-Sent Events.
func (s *Server) watchSSE(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	name, ch := s.watch(ctx, c)
	if ch == nil {
		cancel()
		return
	}
	defer func() {
		cancel()
		_ = s.bus.Unsubscribe(context.Background(), name, ch)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return
			}
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// watchWebSocket streams lock and unlock events of a lease as JSON messages
// over a WebSocket.
func (s *Server) watchWebSocket(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	name, ch := s.watch(ctx, c)
	if ch == nil {
		cancel()
		return
	}
	defer func() {
		cancel()
		_ = s.bus.Unsubscribe(context.Background(), name, ch)
	}()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// the peer never sends anything; a read error means it went away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
