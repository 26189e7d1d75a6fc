package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-desk/internal/api/dto"
	"github.com/spec-kit/support-desk/internal/service"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

// AttachmentsHandler stages uploads ahead of message creation.
type AttachmentsHandler struct {
	attachments *service.AttachmentService
}

func NewAttachmentsHandler(attachments *service.AttachmentService) *AttachmentsHandler {
	return &AttachmentsHandler{attachments: attachments}
}

// Stage handles POST /api/v1/attachments (multipart "file").
func (h *AttachmentsHandler) Stage(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	header, ok := formFile(c)
	if !ok {
		return apperrors.NewValidationError("file is required", map[string]any{"field": "file"})
	}
	url, err := stageFormFile(c, h.attachments, actor, header)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.AttachmentResponse{URL: url}})
}
