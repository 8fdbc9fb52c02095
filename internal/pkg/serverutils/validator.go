package serverutils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRequest checks the struct's validate tags and turns the first
// failure into a 400.
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fiber.NewError(fiber.StatusBadRequest, describeField(fieldErrs[0]))
	}
	return fiber.NewError(fiber.StatusBadRequest, err.Error())
}

func describeField(fe validator.FieldError) string {
	name := fe.Field()
	switch name {
	case "SessionId":
		name = "Session ID"
	case "DocumentId":
		name = "Document ID"
	case "DocumentName":
		name = "Document name"
	}
	if fe.Tag() == "required" {
		return name + " is required"
	}
	return fmt.Sprintf("%s failed %s validation", name, strings.ToLower(fe.Tag()))
}
