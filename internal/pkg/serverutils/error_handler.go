package serverutils

import (
	"errors"

	"docchat/internal/dto"
	"docchat/internal/repository/contract"

	"github.com/gofiber/fiber/v2"
)

// ErrorHandler renders every error as the {message} envelope clients expect.
func ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		message = fiberErr.Message
	case errors.Is(err, contract.ErrSessionNotFound):
		code = fiber.StatusNotFound
		message = err.Error()
	}

	return ctx.Status(code).JSON(dto.ErrorResponse{Message: message})
}
