package handlers

import (
	"errors"

	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// parseAndValidate decodes the JSON body into req and validates its struct tags.
// It writes the error response itself and reports whether the handler may continue.
func parseAndValidate(c *fiber.Ctx, req interface{}) (bool, error) {
	if err := c.BodyParser(req); err != nil {
		return false, utils.BadRequestResponse(c, "Invalid request body", map[string]string{
			"error": err.Error(),
		})
	}

	if err := validate.Struct(req); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return false, utils.BadRequestResponse(c, "Invalid request body", map[string]string{
				"error": err.Error(),
			})
		}
		details := make(map[string]string, len(fieldErrors))
		for _, fe := range fieldErrors {
			details[fe.Field()] = getValidationErrorMessage(fe)
		}
		return false, utils.ValidationErrorResponse(c, details)
	}
	return true, nil
}

// getValidationErrorMessage returns user-friendly validation error messages
func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min", "gte":
		return "Value is too short or too small"
	case "max", "lte":
		return "Value is too long or too large"
	case "oneof":
		return "Value must be one of the allowed options"
	case "url":
		return "Must be a valid URL"
	default:
		return "Invalid value"
	}
}
