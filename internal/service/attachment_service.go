package service

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/storage"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

// DefaultAttachmentMaxBytes is 5 MiB.
const DefaultAttachmentMaxBytes int64 = 5 << 20

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// AttachmentService validates and uploads message images.
type AttachmentService struct {
	storage      storage.ObjectStorage
	maxBytes     int64
	writeTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// StageAttachmentInput is an uploaded file as received by the HTTP layer.
type StageAttachmentInput struct {
	Data         []byte
	DeclaredSize int64
	FileName     string
}

// NewAttachmentService builds the service.
func NewAttachmentService(store storage.ObjectStorage, maxBytes int64, writeTimeout time.Duration, logger *zap.Logger) *AttachmentService {
	if maxBytes <= 0 {
		maxBytes = DefaultAttachmentMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentService{
		storage:      store,
		maxBytes:     maxBytes,
		writeTimeout: writeTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// MaxBytes returns the upload size limit.
func (s *AttachmentService) MaxBytes() int64 {
	return s.maxBytes
}

// StageAttachment uploads an image and returns its public URL once storage confirms.
func (s *AttachmentService) StageAttachment(ctx context.Context, actor domain.Actor, input StageAttachmentInput) (string, error) {
	if !auth.Authorize(actor, auth.OpStageUpload, auth.Resource{}) {
		return "", apperrors.NewUnauthorized("authentication required")
	}
	if input.DeclaredSize > s.maxBytes || int64(len(input.Data)) > s.maxBytes {
		return "", apperrors.NewPayloadTooLarge(s.maxBytes)
	}
	if len(input.Data) == 0 {
		return "", apperrors.NewValidationError("attachment is empty", map[string]any{"field": "file"})
	}

	contentType := http.DetectContentType(input.Data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", apperrors.NewValidationError("only image attachments are accepted",
			map[string]any{"field": "file", "content_type": contentType})
	}

	key := s.objectKey(actor.ID, contentType, input.FileName)

	wctx, cancel := withWriteTimeout(ctx, s.writeTimeout)
	defer cancel()
	url, err := s.storage.Upload(wctx, key, contentType, input.Data)
	if err != nil {
		s.logger.Warn("attachment upload failed", zap.String("key", key), zap.Error(err))
		return "", apperrors.NewTransientError(err)
	}
	return url, nil
}

// OwnsURL reports whether url was produced by the configured storage.
func (s *AttachmentService) OwnsURL(url string) bool {
	return s.storage.Owns(url)
}

func (s *AttachmentService) objectKey(actorID, contentType, fileName string) string {
	ext, ok := imageExtensions[contentType]
	if !ok {
		ext = strings.ToLower(filepath.Ext(fileName))
	}
	return fmt.Sprintf("attachments/%s/%d-%s%s", actorID, s.now().UnixNano(), uuid.NewString(), ext)
}
