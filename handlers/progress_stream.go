// handlers/progress_stream.go
package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"challenge-platform/middleware"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	// progressStreamInterval is how often the stream polls for changes.
	progressStreamInterval = 2 * time.Second
	// progressStreamLifetime closes the stream; EventSource clients reconnect after retry ms.
	progressStreamLifetime = 10 * time.Minute
)

// streamProgress pushes the caller's progress as server-sent events whenever it changes.
func (h *Handlers) streamProgress(c *fiber.Ctx) error {
	userID := middleware.UserID(c)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(progressStreamInterval)
		defer ticker.Stop()
		expired := time.NewTimer(progressStreamLifetime)
		defer expired.Stop()

		fmt.Fprintf(w, "retry: %d\n\n", progressStreamInterval.Milliseconds())

		var last []byte
		send := func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			view, err := h.Progression.GetProgress(ctx, userID)
			cancel()
			if err != nil {
				h.Logger.Warn("progress stream read failed", zap.String("user_id", userID), zap.Error(err))
				_, _ = w.WriteString(":\n\n")
				return w.Flush() == nil
			}
			payload, _ := json.Marshal(view)
			if bytes.Equal(payload, last) {
				// keepalive doubles as a disconnect probe
				_, _ = w.WriteString(":\n\n")
			} else {
				last = payload
				fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
			}
			return w.Flush() == nil
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ticker.C:
				if !send() {
					return
				}
			case <-expired.C:
				return
			case <-c.Context().Done():
				return
			}
		}
	})
	return nil
}
