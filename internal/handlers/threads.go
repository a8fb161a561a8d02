package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/modmail/internal/store"
	"github.com/memohai/modmail/internal/thread"
)

// ThreadLister lists the live thread registry.
type ThreadLister interface {
	Threads() []thread.Snapshot
}

// LogReader reads the thread history of a recipient.
type LogReader interface {
	ThreadLogs(ctx context.Context, recipientID string) ([]store.ThreadLog, error)
}

// ThreadsHandler exposes a read-only view of open threads and past thread logs.
type ThreadsHandler struct {
	threads ThreadLister
	logs    LogReader
}

func NewThreadsHandler(threads ThreadLister, logs LogReader) *ThreadsHandler {
	return &ThreadsHandler{threads: threads, logs: logs}
}

func (h *ThreadsHandler) Register(e *echo.Echo) {
	group := e.Group("/threads")
	group.GET("", h.List)
	group.GET("/:recipient_id", h.Get)
	group.GET("/:recipient_id/logs", h.Logs)
}

type threadsResponse struct {
	Count   int               `json:"count"`
	Threads []thread.Snapshot `json:"threads"`
}

func (h *ThreadsHandler) List(c echo.Context) error {
	if h.threads == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "thread registry not configured")
	}
	items := h.threads.Threads()
	if state := strings.TrimSpace(c.QueryParam("state")); state != "" {
		filtered := make([]thread.Snapshot, 0, len(items))
		for _, item := range items {
			if item.State == state {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	return c.JSON(http.StatusOK, threadsResponse{Count: len(items), Threads: items})
}

func (h *ThreadsHandler) Get(c echo.Context) error {
	if h.threads == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "thread registry not configured")
	}
	recipientID := strings.TrimSpace(c.Param("recipient_id"))
	if recipientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient id is required")
	}
	for _, item := range h.threads.Threads() {
		if item.RecipientID == recipientID {
			return c.JSON(http.StatusOK, item)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "thread not found")
}

type threadLogEntry struct {
	ID           string     `json:"id"`
	ChannelID    string     `json:"channel_id"`
	CreatorID    string     `json:"creator_id,omitempty"`
	OpenedAt     time.Time  `json:"opened_at"`
	Open         bool       `json:"open"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	CloserID     string     `json:"closer_id,omitempty"`
	CloseMessage string     `json:"close_message,omitempty"`
}

type threadLogsResponse struct {
	RecipientID string           `json:"recipient_id"`
	Count       int              `json:"count"`
	Logs        []threadLogEntry `json:"logs"`
}

// Logs lists a recipient's thread history, newest first.
func (h *ThreadsHandler) Logs(c echo.Context) error {
	if h.logs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "thread log store not configured")
	}
	recipientID := strings.TrimSpace(c.Param("recipient_id"))
	if recipientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient id is required")
	}
	logs, err := h.logs.ThreadLogs(c.Request().Context(), recipientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	entries := make([]threadLogEntry, 0, len(logs))
	for _, l := range logs {
		entry := threadLogEntry{
			ID:           l.ID,
			ChannelID:    l.ChannelID,
			CreatorID:    l.CreatorID,
			OpenedAt:     l.OpenedAt,
			Open:         l.Open(),
			CloserID:     l.CloserID,
			CloseMessage: l.CloseMessage,
		}
		if !entry.Open {
			closedAt := l.ClosedAt
			entry.ClosedAt = &closedAt
		}
		entries = append(entries, entry)
	}
	return c.JSON(http.StatusOK, threadLogsResponse{RecipientID: recipientID, Count: len(entries), Logs: entries})
}
