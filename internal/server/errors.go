package server

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/cratedig/cratedig/internal/domain"
	"github.com/cratedig/cratedig/internal/export"
	"github.com/cratedig/cratedig/internal/playlist"
	"github.com/cratedig/cratedig/internal/scanner"
	"github.com/cratedig/cratedig/internal/store"
	"github.com/cratedig/cratedig/internal/task"
)

// errorBody is the wire form of every failure:
// {"error":{"code","message","details"}}.
type errorBody struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
	Details any         `json:"details"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// fail writes the envelope with the status the code maps to.
func fail(c *gin.Context, code domain.Code, message string, details any) {
	c.JSON(code.HTTPStatus(), errorResponse{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// failErr classifies a component error into the envelope.
func failErr(c *gin.Context, err error) {
	fail(c, classify(err), err.Error(), nil)
}

// classify maps component sentinel errors onto the wire taxonomy.
func classify(err error) domain.Code {
	switch {
	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, playlist.ErrPresetNotFound),
		errors.Is(err, export.ErrExportNotFound):
		return domain.CodeNotFound
	case errors.Is(err, task.ErrBusy):
		return domain.CodeBusy
	case errors.Is(err, playlist.ErrPresetBuiltin):
		return domain.CodeConflict
	case errors.Is(err, playlist.ErrInvalidPreset),
		errors.Is(err, export.ErrInvalidFilename),
		errors.Is(err, export.ErrTrackMismatch),
		errors.Is(err, scanner.ErrRootNotFound),
		errors.Is(err, scanner.ErrBadPattern),
		errors.Is(err, scanner.ErrTooDeep):
		return domain.CodeInvalidArgument
	case errors.Is(err, export.ErrUnsupportedFormat):
		return domain.CodeUnsupportedFormat
	default:
		return domain.CodeInternal
	}
}
