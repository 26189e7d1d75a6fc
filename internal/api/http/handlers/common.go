package handlers

import (
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/service"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

const defaultPageSize = 50

func currentActor(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

func invalidPayload() error {
	return apperrors.NewValidationError("invalid payload", nil)
}

func parseBoolQuery(c *fiber.Ctx, key string, defaultVal bool) bool {
	if val := c.Query(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func parseIntQuery(c *fiber.Ctx, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultVal
}

// stageFormFile uploads the multipart "file" field and returns its URL.
func stageFormFile(c *fiber.Ctx, attachments *service.AttachmentService, actor domain.Actor, header *multipart.FileHeader) (string, error) {
	if header.Size > attachments.MaxBytes() {
		return "", apperrors.NewPayloadTooLarge(attachments.MaxBytes())
	}
	file, err := header.Open()
	if err != nil {
		return "", invalidPayload()
	}
	defer file.Close()

	// one byte over the limit is enough to reject oversized streams
	data, err := io.ReadAll(io.LimitReader(file, attachments.MaxBytes()+1))
	if err != nil {
		return "", invalidPayload()
	}
	return attachments.StageAttachment(c.UserContext(), actor, service.StageAttachmentInput{
		Data:         data,
		DeclaredSize: header.Size,
		FileName:     header.Filename,
	})
}

// formFile returns the "file" part when the request is multipart.
func formFile(c *fiber.Ctx) (*multipart.FileHeader, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, false
	}
	files := form.File["file"]
	if len(files) == 0 {
		return nil, false
	}
	return files[0], true
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm)
}

// withStagedAttachment lets the client retry with an already uploaded file.
func withStagedAttachment(err error, url string) error {
	de := apperrors.ToDomainError(err)
	cp := *de
	cp.Details = make(map[string]any, len(de.Details)+1)
	for k, v := range de.Details {
		cp.Details[k] = v
	}
	cp.Details["attachment_url"] = url
	return &cp
}
