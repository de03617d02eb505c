// Package apierr defines the JSON error payload returned by the API.
// Conflict responses carry the authoritative current state of the entity so
// clients can refresh and retry without a second round trip.
package apierr

import (
	"github.com/labstack/echo/v4"
)

type Payload struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Current interface{} `json:"current,omitempty"`
}

// JSON writes an error payload with the given HTTP status.
func JSON(c echo.Context, status int, code, message string, current interface{}) error {
	return c.JSON(status, Payload{Code: code, Message: message, Current: current})
}
