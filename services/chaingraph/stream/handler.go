// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// DefaultKeepAlive is the SSE comment interval that keeps idle
	// proxies from closing the stream.
	DefaultKeepAlive = 15 * time.Second

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves hub updates over HTTP.
type Handler struct {
	hub       *Hub
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewHandler creates a handler for h. A keepAlive of zero uses
// DefaultKeepAlive.
func NewHandler(h *Hub, keepAlive time.Duration, logger *slog.Logger) *Handler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: h, keepAlive: keepAlive, logger: logger.With(slog.String("component", "stream"))}
}

// subscribe parses the optional types filter and registers a subscriber,
// writing an error response on failure.
func (h *Handler) subscribe(c *gin.Context) (*Subscription, bool) {
	kinds, err := ParseKinds(c.Query("types"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_REQUEST"})
		return nil, false
	}
	sub, err := h.hub.Subscribe(kinds...)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": "UNAVAILABLE"})
		return nil, false
	}
	return sub, true
}

// SSE streams updates as Server-Sent Events.
//
// Each update is written with the sequence number as the event id and
// the event kind as the event name. Comment lines are sent every
// keep-alive interval while idle.
func (h *Handler) SSE(c *gin.Context) {
	sub, ok := h.subscribe(c)
	if !ok {
		return
	}
	defer sub.Close()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	w.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			if err := writeEvent(w, u); err != nil {
				h.logger.Debug("sse client gone", slog.String("error", err.Error()))
				return
			}
			w.Flush()
			recordDelivered(ctx, "sse")
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

func writeEvent(w io.Writer, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", u.Seq, u.Kind, data); err != nil {
		return fmt.Errorf("write update: %w", err)
	}
	return nil
}

// WebSocket streams updates as JSON text frames.
//
// Client frames are read and discarded; the read loop exists to process
// pongs and notice disconnects.
func (h *Handler) WebSocket(c *gin.Context) {
	sub, ok := h.subscribe(c)
	if !ok {
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) {
					h.logger.Debug("websocket read ended", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-done:
			return
		case u, ok := <-sub.Updates():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(u); err != nil {
				h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
			recordDelivered(ctx, "websocket")
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
