package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

func TestWithStagedAttachmentKeepsCodeAndAddsURL(t *testing.T) {
	const url = "http://localhost:8080/files/attachments/1700000000000-photo.png"

	original := apperrors.NewValidationError("bad", map[string]any{"field": "body"})
	err := withStagedAttachment(original, url)

	var de *apperrors.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, apperrors.CodeValidation, de.Code)
	assert.Equal(t, url, de.Details["attachment_url"])
	assert.Equal(t, "body", de.Details["field"])

	var orig *apperrors.DomainError
	require.True(t, errors.As(original, &orig))
	assert.NotContains(t, orig.Details, "attachment_url")

	transient := withStagedAttachment(apperrors.NewTransientError(context.DeadlineExceeded), url)
	assert.True(t, apperrors.ToDomainError(transient).Retryable)
	assert.ErrorIs(t, transient, context.DeadlineExceeded)
}
