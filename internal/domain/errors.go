package domain

import "net/http"

// Code classifies every failure surfaced across component boundaries.
type Code string

const (
	CodeInvalidArgument   Code = "invalid_argument"
	CodeNotFound          Code = "not_found"
	CodeConflict          Code = "conflict"
	CodeBusy              Code = "busy"
	CodeUnsupportedFormat Code = "unsupported_format"
	CodeCorruptFile       Code = "corrupt_file"
	CodeTimeout           Code = "timeout"
	CodeIOError           Code = "io_error"
	CodeInternal          Code = "internal"
)

// HTTPStatus maps an error code to its HTTP status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeBusy:
		return http.StatusTooManyRequests
	case CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case CodeCorruptFile:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeIOError, CodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// FileError is one entry in a task's bounded error list.
type FileError struct {
	Path    string `json:"path"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}
