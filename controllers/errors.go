package controllers

import (
	"errors"
	"net/http"

	"github.com/HSouheill/barrim_settlement/models"
	"github.com/HSouheill/barrim_settlement/security"
	"github.com/HSouheill/barrim_settlement/services"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// CustomValidator is a custom validator for Echo
type CustomValidator struct {
	validator *validator.Validate
}

func NewCustomValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate validates the request body
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// bindAndValidate binds the body into req and runs struct validation; when it
// reports false the error response has already been written.
func bindAndValidate(c echo.Context, req interface{}) (bool, error) {
	if !security.IsJSONContentType(c.Request().Header.Get(echo.HeaderContentType)) {
		return false, c.JSON(http.StatusUnsupportedMediaType, models.Response{
			Status:  http.StatusUnsupportedMediaType,
			Message: "Request body must be JSON",
		})
	}
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
			Data:    err.Error(),
		})
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, models.Response{
			Status:  http.StatusBadRequest,
			Message: "Validation failed",
			Data:    err.Error(),
		})
	}
	return true, nil
}

// respondError maps a service error onto the response envelope
func respondError(c echo.Context, err error, action string) error {
	status, message := http.StatusInternalServerError, "Failed to "+action

	var (
		validationErr *services.ValidationError
		notFoundErr   *services.NotFoundError
		conflictErr   *services.ConflictError
		externalErr   *services.ExternalPaymentError
	)
	switch {
	case errors.As(err, &validationErr):
		status, message = http.StatusBadRequest, validationErr.Error()
	case errors.As(err, &notFoundErr):
		status, message = http.StatusNotFound, notFoundErr.Error()
	case errors.As(err, &conflictErr):
		status, message = http.StatusConflict, conflictErr.Error()
	case errors.Is(err, services.ErrCycleInProgress):
		status, message = http.StatusConflict, err.Error()
	case errors.As(err, &externalErr):
		status, message = http.StatusBadGateway, "Payment processor unavailable"
	}

	entry := log.WithFields(log.Fields{
		"path":   c.Request().URL.Path,
		"status": status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Errorf("failed to %s", action)
	} else {
		entry.Infof("rejected request to %s", action)
	}

	return c.JSON(status, models.Response{
		Status:  status,
		Message: message,
	})
}
