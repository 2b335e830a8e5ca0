package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/novabank/transaction-engine/internal/apperr"
)

var validate = validator.New()

// FieldError is one field-level problem in a 400 response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type badRequestResponse struct {
	Message string       `json:"message"`
	Details []FieldError `json:"details"`
}

func validateRequest(obj any) []FieldError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrors []FieldError
	for _, fe := range err.(validator.ValidationErrors) {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   fe.Field(),
			Message: fieldErrorMsg(fe),
			Type:    fe.Tag(),
		})
	}
	return fieldErrors
}

func fieldErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "oneof":
		return "Value must be one of: " + fe.Param()
	case "gt":
		return "Value must be greater than " + fe.Param()
	default:
		return "Invalid value"
	}
}

func respondWithValidationErrors(c *gin.Context, fieldErrors []FieldError) {
	c.JSON(http.StatusBadRequest, badRequestResponse{
		Message: "Invalid request data",
		Details: fieldErrors,
	})
}

func respondWithError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"message": message})
}

// respondWithAppError maps the error taxonomy onto status codes. Business
// rejections carry their specific reason; everything else is a 500 with the
// detail kept out of the response body.
func respondWithAppError(c *gin.Context, err error) {
	var ve *apperr.ValidationError
	var fe *apperr.FraudRejectedError
	switch {
	case errors.As(err, &ve):
		respondWithError(c, http.StatusBadRequest, ve.Msg)
	case errors.Is(err, apperr.ErrInsufficientFunds):
		respondWithError(c, http.StatusUnprocessableEntity, "Insufficient funds")
	case errors.As(err, &fe):
		respondWithError(c, http.StatusUnprocessableEntity, "Rejected by fraud check")
	case errors.Is(err, apperr.ErrNotFound):
		respondWithError(c, http.StatusNotFound, "Not found")
	default:
		respondWithError(c, http.StatusInternalServerError, "Internal error")
	}
}
