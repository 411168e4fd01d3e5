package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthCheck reports that the API process is up.
func HealthCheck(e echo.Context) error {
	return e.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "instaverse-api",
	})
}

// NotifierStatus is what the notifier health check reports on.
type NotifierStatus interface {
	Connected() bool
}

// ConnectionCounter reports how many streams are registered.
type ConnectionCounter interface {
	Len() int
}

// NotifierHealthCheck reports queue connectivity and live stream count. A
// disconnected queue reports "degraded" with a 200.
func NotifierHealthCheck(queue NotifierStatus, conns ConnectionCounter, started time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := "healthy"
		if !queue.Connected() {
			status = "degraded"
		}
		return c.JSON(http.StatusOK, echo.Map{
			"status":         status,
			"service":        "instaverse-notifier",
			"queueConnected": queue.Connected(),
			"connections":    conns.Len(),
			"uptimeSeconds":  int(time.Since(started).Seconds()),
		})
	}
}
