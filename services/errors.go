package services

import (
	"errors"
	"net/http"

	"pos-service/providers"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidLineItem        = errors.New("invalid line item")
	ErrNotFound               = errors.New("not found")
	ErrNotPayable             = errors.New("order has not been paid")
	ErrInvalidTransition      = errors.New("invalid order status transition")
	ErrGatewayUnavailable     = providers.ErrGatewayUnavailable
	ErrPaymentSetupIncomplete = errors.New("payment setup incomplete")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrSimulationDisabled     = errors.New("payment simulation disabled")
	ErrAmountMismatch         = errors.New("paid amount does not match order total")
	ErrCorruptOrder           = errors.New("order items do not match order")
)

// ServiceError is a typed error with an HTTP status code.
type ServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }

func newError(status int, message string, err error) error {
	return &ServiceError{StatusCode: status, Message: message, Err: err}
}

func validationError(message string) error {
	return newError(http.StatusBadRequest, message, ErrValidation)
}

func notFoundError(message string) error {
	return newError(http.StatusNotFound, message, ErrNotFound)
}

func internalError(message string, err error) error {
	return newError(http.StatusInternalServerError, message, err)
}

// StatusCode returns the HTTP status for err, defaulting to 500.
func StatusCode(err error) int {
	var se *ServiceError
	if errors.As(err, &se) && se.StatusCode != 0 {
		return se.StatusCode
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidLineItem):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotPayable), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrPaymentSetupIncomplete):
		return http.StatusBadGateway
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrSimulationDisabled):
		return http.StatusForbidden
	case errors.Is(err, ErrAmountMismatch):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
