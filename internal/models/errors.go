package models

import "errors"

var ErrNotFound = errors.New("requested resource not found")
var ErrForbidden = errors.New("user does not have permission to access this resource")

// ErrInvalidState indicates the delivery is not in a status that allows the
// requested transition.
var ErrInvalidState = errors.New("delivery is not in the expected status")

// ErrAlreadyRated is returned when a participant rates the same delivery twice.
var ErrAlreadyRated = errors.New("delivery already rated by this user")

// ErrStatusConflict is returned by conditional updates that matched no row
// because another request changed the delivery first.
var ErrStatusConflict = errors.New("delivery status changed concurrently")

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}
