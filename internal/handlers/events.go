package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/modmail/internal/event"
)

// EventSource subscribes to lifecycle events.
type EventSource interface {
	Subscribe(buffer int) (string, <-chan event.Event, func())
}

// EventsHandler streams thread lifecycle events as server-sent events.
type EventsHandler struct {
	source EventSource
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(source EventSource) *EventsHandler {
	return &EventsHandler{source: source}
}

// Register registers the event stream route.
func (h *EventsHandler) Register(e *echo.Echo) {
	e.GET("/events", h.StreamEvents)
}

// StreamEvents streams events until the client disconnects. The optional
// recipient_id query parameter narrows the stream to one recipient.
func (h *EventsHandler) StreamEvents(c echo.Context) error {
	if h.source == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event hub not configured")
	}
	recipientID := strings.TrimSpace(c.QueryParam("recipient_id"))

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	writer := bufio.NewWriter(c.Response().Writer)
	flusher.Flush()

	_, stream, cancel := h.source.Subscribe(0)
	defer cancel()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case evt, ok := <-stream:
			if !ok {
				return nil
			}
			if recipientID != "" && evt.RecipientID != recipientID {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := writer.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", evt.Type, string(data))); err != nil {
				return nil // client disconnected
			}
			writer.Flush()
			flusher.Flush()
		}
	}
}
