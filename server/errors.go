package server

import (
	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/query"
)

// Error codes returned in response envelopes.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeBadRequest = "BAD_REQUEST"
	CodeConflict   = "CONFLICT"
	CodeNotReady   = "NOT_READY"
	CodeInternal   = "INTERNAL"
)

// toErrorBody maps an error to the envelope taxonomy. Anything not
// matching a sentinel is INTERNAL.
func toErrorBody(err error) *ErrorBody {
	code := CodeInternal
	switch {
	case errors.Is(err, errors.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, errors.ErrBadRequest), errors.Is(err, query.ErrBadFilter), errors.Is(err, errors.ErrValidation):
		code = CodeBadRequest
	case errors.Is(err, errors.ErrConflict):
		code = CodeConflict
	case errors.Is(err, errors.ErrNotReady):
		code = CodeNotReady
	}
	return &ErrorBody{Code: code, Message: err.Error()}
}
