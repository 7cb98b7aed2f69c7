package order

import "errors"

var (
	ErrNotFound          = errors.New("order: not found")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrInvalidArgument   = errors.New("order: invalid argument")
	ErrForbidden         = errors.New("order: forbidden")
)
