package serverutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"docchat/internal/dto"
	"docchat/internal/repository/contract"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name string
		req  interface{}
		want string
	}{
		{"valid", dto.ChatMessageRequest{SessionId: "s", Question: "q"}, ""},
		{"missing session", dto.ChatMessageRequest{Question: "q"}, "Session ID is required"},
		{"missing question", dto.ChatMessageRequest{SessionId: "s"}, "Question is required"},
		{"missing document", &dto.CreateSessionRequest{DocumentId: "d"}, "Document name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var fe *fiber.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, fiber.StatusBadRequest, fe.Code)
			assert.Equal(t, tt.want, fe.Message)
		})
	}
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"fiber error", fiber.NewError(fiber.StatusBadRequest, "Question is required"), 400, "Question is required"},
		{"not found", fmt.Errorf("%w: abc", contract.ErrSessionNotFound), 404, "chat session not found: abc"},
		{"anything else", errors.New("disk on fire"), 500, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
			app.Get("/", func(c *fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.code, resp.StatusCode)
			raw, _ := io.ReadAll(resp.Body)
			var body dto.ErrorResponse
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, tt.message, body.Message)
		})
	}
}
