package analysis

import (
	"context"
	"errors"

	"github.com/cratedig/cratedig/internal/domain"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorruptFile       = errors.New("corrupt file")
	ErrTimeout           = errors.New("analysis timed out")
	ErrInternal          = errors.New("internal analysis error")
)

// ClassifyErr maps an extractor error onto the wire error code.
func ClassifyErr(err error) domain.Code {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return domain.CodeUnsupportedFormat
	case errors.Is(err, ErrCorruptFile):
		return domain.CodeCorruptFile
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.CodeTimeout
	default:
		return domain.CodeInternal
	}
}
