package gateway

import (
	"errors"

	"github.com/Froom3010/Froom/internal/presence"
)

// mapError turns a presence failure into the code and message sent to the
// browser. Store details stay in the server log.
func mapError(err error) (code, message string) {
	var validation *presence.ValidationError
	if errors.As(err, &validation) {
		return "VALIDATION_ERROR", validation.Message
	}
	var authErr *presence.AuthError
	if errors.As(err, &authErr) {
		return "AUTH_ERROR", "Practice password is incorrect"
	}
	var storeErr *presence.StoreError
	if errors.As(err, &storeErr) {
		return "STORE_ERROR", "Could not reach the practice store, please try again"
	}
	return "SERVER_ERROR", "Server error"
}
