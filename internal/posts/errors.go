package posts

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrValidation      = errors.New("validation error")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("post not found")
	ErrRetrieval       = errors.New("post store failure")
	ErrSubmitPending   = errors.New("submit with the same idempotency key is in progress")
)

const (
	ImageOpUpload = "upload"
	ImageOpDelete = "delete"
)

// ImageError describes a failed blob operation. It never fails the post operation it belongs to.
type ImageError struct {
	Op   string
	Path string
	Err  error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image %s [%s]: %s", e.Op, e.Path, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func retrievalErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRetrieval, op, err)
}
